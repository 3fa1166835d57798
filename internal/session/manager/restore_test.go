package manager

import (
	"context"

	"go.uber.org/mock/gomock"

	"avanza/internal/session/listener"
	"avanza/internal/session/models"
	"avanza/internal/session/refresher"
	"avanza/internal/session/storage"
	dErrors "avanza/pkg/domainerrors"
)

func (s *ManagerSuite) persistTokens() {
	s.Require().NoError(s.store.SaveTokens(storage.TokenPair{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}))
}

func (s *ManagerSuite) TestRestoreWithNothingPersisted() {
	restored, err := s.manager.Restore(context.Background())
	s.NoError(err)
	s.Nil(restored)
	s.Nil(s.manager.Current())
}

func (s *ManagerSuite) TestRestoreRebuildsSession() {
	s.persistTokens()

	profile := s.adminSession()
	profile.AccessToken = ""
	profile.RefreshToken = ""
	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(profile, nil)

	restored, err := s.manager.Restore(context.Background())
	s.Require().NoError(err)
	s.Require().NotNil(restored)

	// The persisted credentials are reattached to the fetched profile.
	s.Equal("access-1", restored.AccessToken)
	s.Equal("refresh-1", restored.RefreshToken)
	s.Equal("sub-admin", restored.SubjectID)

	s.Equal(refresher.StateScheduled, s.manager.Refresher().State())
	s.Equal(1, s.bus.SubscriberCount(listener.KindProfile, "sub-admin"))
	_, cached := s.cache.Get("sub-admin")
	s.True(cached)
}

func (s *ManagerSuite) TestRestoreFallsBackToMembership() {
	s.persistTokens()

	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(nil, dErrors.New(dErrors.CodeNetworkError, "identity provider unreachable"))
	s.mockClient.EXPECT().
		GetMembership(gomock.Any(), "access-1").
		Return(&models.Session{
			SubjectID: "sub-admin",
			Principal: &models.Principal{
				DisplayName: "Ada Admin",
				Email:       "admin@acme.example",
				Role:        models.RoleEmployee,
			},
		}, nil)

	restored, err := s.manager.Restore(context.Background())
	s.Require().NoError(err)
	s.Require().NotNil(restored)

	// The fallback session is deliberately restricted: lowest-privilege
	// role, no organization scope.
	s.Equal(models.RoleEmployee, restored.Principal.Role)
	s.Nil(restored.Organization)
	s.Equal("access-1", restored.AccessToken)
}

func (s *ManagerSuite) TestRestoreMembershipFallbackAlsoFails() {
	s.persistTokens()

	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(nil, dErrors.New(dErrors.CodeNetworkError, "identity provider unreachable"))
	s.mockClient.EXPECT().
		GetMembership(gomock.Any(), "access-1").
		Return(nil, dErrors.New(dErrors.CodeNetworkError, "identity provider unreachable"))

	restored, err := s.manager.Restore(context.Background())
	s.Nil(restored)
	s.True(dErrors.Retryable(err))

	// Transient outage: the persisted tokens survive for a later attempt.
	pair, storeErr := s.store.LoadTokens()
	s.NoError(storeErr)
	s.Equal("access-1", pair.AccessToken)
}

func (s *ManagerSuite) TestRestoreRejectedTokenClearsState() {
	s.persistTokens()

	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(nil, dErrors.New(dErrors.CodeUnauthorized, "provider rejected credentials"))

	restored, err := s.manager.Restore(context.Background())
	s.Nil(restored)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// Stale state must not survive an outright rejection.
	_, storeErr := s.store.LoadTokens()
	s.Error(storeErr)
	s.Nil(s.manager.Current())
}
