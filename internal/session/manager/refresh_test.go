package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/mock/gomock"

	"avanza/internal/session/models"
	"avanza/internal/session/refresher"
	dErrors "avanza/pkg/domainerrors"
)

func (s *ManagerSuite) refreshedSession() *models.Session {
	session := s.adminSession()
	session.AccessToken = "access-2"
	session.RefreshToken = "refresh-2"
	session.ExpiresAt = time.Now().Add(10 * time.Minute)
	return session
}

func (s *ManagerSuite) TestRefreshRotatesCredentials() {
	s.login(s.adminSession())

	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		Return(s.refreshedSession(), nil)

	s.Require().NoError(s.manager.RefreshSession(context.Background()))

	current := s.manager.Current()
	s.Require().NotNil(current)
	s.Equal("access-2", current.AccessToken)
	s.Equal("refresh-2", current.RefreshToken)
	s.Equal(refresher.StateScheduled, s.manager.Refresher().State())

	// The rotated pair is persisted and re-cached.
	pair, err := s.store.LoadTokens()
	s.Require().NoError(err)
	s.Equal("access-2", pair.AccessToken)
	cached, ok := s.cache.Get("sub-admin")
	s.Require().True(ok)
	s.Equal("access-2", cached.AccessToken)
}

func (s *ManagerSuite) TestRefreshKeepsOldTokenWhenNotRotated() {
	s.login(s.adminSession())

	rotated := s.refreshedSession()
	rotated.RefreshToken = "" // provider reused the refresh token
	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		Return(rotated, nil)

	s.Require().NoError(s.manager.RefreshSession(context.Background()))
	s.Equal("refresh-1", s.manager.Current().RefreshToken)
}

func (s *ManagerSuite) TestRefreshPreservesDeviceMetadata() {
	session := s.adminSession()
	session.DeviceDisplayName = "Chrome on macOS"
	session.DeviceFingerprintHash = "fingerprint-hash"
	s.login(session)

	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		Return(s.refreshedSession(), nil)

	s.Require().NoError(s.manager.RefreshSession(context.Background()))
	current := s.manager.Current()
	s.Equal("Chrome on macOS", current.DeviceDisplayName)
	s.Equal("fingerprint-hash", current.DeviceFingerprintHash)
}

func (s *ManagerSuite) TestRefreshWithoutSession() {
	err := s.manager.RefreshSession(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ManagerSuite) TestRetryableRefreshFailureKeepsSession() {
	s.login(s.adminSession())

	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		Return(nil, dErrors.New(dErrors.CodeTimeout, "identity provider call timed out"))

	err := s.manager.RefreshSession(context.Background())
	s.True(dErrors.Retryable(err))

	// The session survives and the scheduler stays armed.
	s.NotNil(s.manager.Current())
	s.Equal(refresher.StateScheduled, s.manager.Refresher().State())
	s.Empty(s.forcedLogouts)
}

func (s *ManagerSuite) TestExpiredRefreshTokenForcesLogout() {
	s.login(s.adminSession())

	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		Return(nil, dErrors.New(dErrors.CodeExpiredRefreshToken, "refresh token no longer valid"))

	err := s.manager.RefreshSession(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeExpiredRefreshToken))

	// Full teardown plus the redirect hook, exactly once.
	s.Nil(s.manager.Current())
	s.Equal(0, s.cache.Len())
	s.Equal(refresher.StateLoggedOut, s.manager.Refresher().State())
	s.Require().Len(s.forcedLogouts, 1)
	s.True(dErrors.HasCode(s.forcedLogouts[0], dErrors.CodeExpiredRefreshToken))
	_, storeErr := s.store.LoadTokens()
	s.Error(storeErr, "persisted tokens must be cleared")

	// The cause is preserved for the facade caller.
	s.True(dErrors.HasCode(s.manager.LastError(), dErrors.CodeExpiredRefreshToken))
}

func (s *ManagerSuite) TestLoginAfterForcedLogoutRearmsScheduler() {
	s.login(s.adminSession())

	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		Return(nil, dErrors.New(dErrors.CodeExpiredRefreshToken, "refresh token no longer valid"))

	err := s.manager.RefreshSession(context.Background())
	s.Require().True(dErrors.HasCode(err, dErrors.CodeExpiredRefreshToken))
	s.Require().Len(s.forcedLogouts, 1)
	s.Equal(refresher.StateLoggedOut, s.manager.Refresher().State())

	// Re-authenticating arms the scheduler again; the logged-out state was
	// terminal only for the previous session instance.
	s.login(s.adminSession())
	s.Equal(refresher.StateScheduled, s.manager.Refresher().State())

	// A manual refresh on the new session reaches the provider and rotates
	// the credentials instead of silently keeping the stale token.
	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		Return(s.refreshedSession(), nil)

	s.Require().NoError(s.manager.RefreshSession(context.Background()))
	s.Equal("access-2", s.manager.Current().AccessToken)
	s.Equal(refresher.StateScheduled, s.manager.Refresher().State())
	s.Len(s.forcedLogouts, 1, "the old forced logout must not repeat")
}

func (s *ManagerSuite) TestConcurrentManualRefreshesCollapse() {
	s.login(s.adminSession())

	release := make(chan struct{})
	s.mockClient.EXPECT().
		Refresh(gomock.Any(), "refresh-1").
		DoAndReturn(func(context.Context, string) (*models.Session, error) {
			<-release
			return s.refreshedSession(), nil
		})

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.manager.RefreshSession(context.Background())
		}(i)
	}

	// Let the in-flight provider call finish once all callers are queued.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	s.Equal("access-2", s.manager.Current().AccessToken)
}
