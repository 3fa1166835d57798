package manager

import (
	"context"
	"errors"

	"go.uber.org/mock/gomock"

	"avanza/internal/session/listener"
	"avanza/internal/session/refresher"
)

func (s *ManagerSuite) TestLogoutTearsEverythingDown() {
	s.login(s.adminSession())
	s.mockClient.EXPECT().Logout(gomock.Any(), "access-1")

	s.Require().NoError(s.manager.Logout(context.Background()))

	s.Nil(s.manager.Current())
	s.False(s.manager.IsSessionValid())
	s.Equal(0, s.cache.Len())
	s.Equal(refresher.StateIdle, s.manager.Refresher().State())
	s.Equal(0, s.bus.SubscriberCount(listener.KindProfile, "sub-admin"))
	s.Equal(0, s.bus.SubscriberCount(listener.KindOrganization, "org-acme"))

	_, err := s.store.LoadTokens()
	s.Error(err, "persisted tokens must be cleared")

	// Explicit logout never fires the forced-logout hook.
	s.Empty(s.forcedLogouts)
}

func (s *ManagerSuite) TestLogoutWithoutSessionIsNoop() {
	s.NoError(s.manager.Logout(context.Background()))
	s.Nil(s.manager.Current())
}

func (s *ManagerSuite) TestLogoutIsIdempotent() {
	s.login(s.adminSession())
	s.mockClient.EXPECT().Logout(gomock.Any(), "access-1")

	s.NoError(s.manager.Logout(context.Background()))
	s.NoError(s.manager.Logout(context.Background()))
}

func (s *ManagerSuite) TestLogoutClearsLastError() {
	s.login(s.adminSession())
	s.manager.fail(errors.New("earlier failure"))

	s.mockClient.EXPECT().Logout(gomock.Any(), "access-1")
	s.NoError(s.manager.Logout(context.Background()))
	s.NoError(s.manager.LastError())
}
