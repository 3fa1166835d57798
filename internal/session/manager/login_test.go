package manager

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"avanza/internal/session/device"
	"avanza/internal/session/listener"
	"avanza/internal/session/refresher"
	"avanza/internal/session/storage"
	dErrors "avanza/pkg/domainerrors"
)

func (s *ManagerSuite) TestLoginEstablishesSession() {
	session := s.adminSession()
	s.login(session)

	current := s.manager.Current()
	s.Require().NotNil(current)
	s.Equal("sub-admin", current.SubjectID)
	s.True(s.manager.IsSessionValid())

	// Cached under the subject id.
	cached, ok := s.cache.Get("sub-admin")
	s.Require().True(ok)
	s.Equal("access-1", cached.AccessToken)

	// Token pair and snapshot persisted.
	pair, err := s.store.LoadTokens()
	s.Require().NoError(err)
	s.Equal(storage.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, pair)
	persisted, err := s.store.LoadSession()
	s.Require().NoError(err)
	s.Equal("sub-admin", persisted.SubjectID)

	// Scheduler armed, listener subscribed.
	s.Equal(refresher.StateScheduled, s.manager.Refresher().State())
	s.Equal(1, s.bus.SubscriberCount(listener.KindProfile, "sub-admin"))
	s.Equal(1, s.bus.SubscriberCount(listener.KindOrganization, "org-acme"))
}

func (s *ManagerSuite) TestLoginInvalidCredentials() {
	s.mockClient.EXPECT().
		Login(gomock.Any(), "admin@acme.example", "wrong").
		Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password"))

	session, err := s.manager.Login(context.Background(), "admin@acme.example", "wrong", "")
	s.Nil(session)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))

	// No side effects: nothing cached, nothing persisted, scheduler idle.
	s.Nil(s.manager.Current())
	s.False(s.manager.IsSessionValid())
	s.Equal(0, s.cache.Len())
	_, storeErr := s.store.LoadTokens()
	s.Error(storeErr)
	s.Equal(refresher.StateIdle, s.manager.Refresher().State())

	// The failure is retrievable until cleared.
	s.True(dErrors.HasCode(s.manager.LastError(), dErrors.CodeInvalidCredentials))
	s.manager.ClearError()
	s.NoError(s.manager.LastError())
}

func (s *ManagerSuite) TestLoginNetworkFailureIsRetryableError() {
	s.mockClient.EXPECT().
		Login(gomock.Any(), "admin@acme.example", "password").
		Return(nil, dErrors.New(dErrors.CodeNetworkError, "identity provider unreachable"))

	_, err := s.manager.Login(context.Background(), "admin@acme.example", "password", "")
	s.True(dErrors.Retryable(err))
	s.Nil(s.manager.Current())
}

func (s *ManagerSuite) TestLoginClearsPreviousError() {
	s.mockClient.EXPECT().
		Login(gomock.Any(), "admin@acme.example", "wrong").
		Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password"))
	_, err := s.manager.Login(context.Background(), "admin@acme.example", "wrong", "")
	s.Error(err)
	s.Error(s.manager.LastError())

	s.login(s.adminSession())
	s.NoError(s.manager.LastError())
}

func (s *ManagerSuite) TestLoginEmployeeWithoutOrganization() {
	s.login(s.employeeSession())

	s.True(s.manager.IsSessionValid())
	s.Equal(1, s.bus.SubscriberCount(listener.KindProfile, "sub-employee"))
	s.Equal(0, s.bus.SubscriberCount(listener.KindOrganization, "org-acme"))
}

func (s *ManagerSuite) TestLoginAttachesDeviceMetadata() {
	deviceManager := New(s.mockClient, s.cache, s.store,
		WithAuditPublisher(s.mockAudit),
		WithRefreshInterval(time.Hour),
		WithDeviceService(device.NewService(true)),
	)
	defer deviceManager.Refresher().Stop()

	session := s.adminSession()
	s.mockClient.EXPECT().
		Login(gomock.Any(), session.Principal.Email, "password").
		Return(session, nil)

	const chromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	logged, err := deviceManager.Login(context.Background(), session.Principal.Email, "password", chromeUA)
	s.Require().NoError(err)
	s.Contains(logged.DeviceDisplayName, "Chrome")
	s.NotEmpty(logged.DeviceFingerprintHash)
}
