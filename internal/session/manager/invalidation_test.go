package manager

import (
	"context"

	"go.uber.org/mock/gomock"

	"avanza/internal/session/listener"
	dErrors "avanza/pkg/domainerrors"
)

// These tests drive the full invalidation path: a row-change event on the
// bus drops the cache entry, reloads the profile, and republishes the merged
// session through the facade.

func (s *ManagerSuite) TestChangeEventReloadsAndRecaches() {
	s.login(s.adminSession())

	renamed := s.adminSession()
	renamed.AccessToken = ""
	renamed.RefreshToken = ""
	renamed.Principal.DisplayName = "Ada Renamed"
	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(renamed, nil)

	s.bus.Publish(listener.ChangeEvent{Kind: listener.KindProfile, Key: "sub-admin"})
	s.manager.Listener().Wait()

	current := s.manager.Current()
	s.Require().NotNil(current)
	s.Equal("Ada Renamed", current.Principal.DisplayName)

	// Credentials the reload cannot know are merged back in.
	s.Equal("access-1", current.AccessToken)
	s.Equal("refresh-1", current.RefreshToken)

	// And the merged session is back in the cache.
	cached, ok := s.cache.Get("sub-admin")
	s.Require().True(ok)
	s.Equal("Ada Renamed", cached.Principal.DisplayName)
}

func (s *ManagerSuite) TestOrganizationChangeEventReloads() {
	s.login(s.adminSession())

	updated := s.adminSession()
	updated.Organization.ActiveAdvanceCount = 9
	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(updated, nil)

	s.bus.Publish(listener.ChangeEvent{Kind: listener.KindOrganization, Key: "org-acme"})
	s.manager.Listener().Wait()

	s.Equal(9, s.manager.Current().Organization.ActiveAdvanceCount)
}

func (s *ManagerSuite) TestFailedReloadKeepsCacheInvalidated() {
	s.login(s.adminSession())

	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(nil, dErrors.New(dErrors.CodeNetworkError, "identity provider unreachable"))

	s.bus.Publish(listener.ChangeEvent{Kind: listener.KindProfile, Key: "sub-admin"})
	s.manager.Listener().Wait()

	// The session object survives; only the cache entry is gone until the
	// next successful reload or refresh.
	s.NotNil(s.manager.Current())
	_, ok := s.cache.Get("sub-admin")
	s.False(ok)
}

func (s *ManagerSuite) TestEventAfterLogoutIsIgnored() {
	s.login(s.adminSession())
	s.mockClient.EXPECT().Logout(gomock.Any(), "access-1")
	s.Require().NoError(s.manager.Logout(context.Background()))

	// No GetProfile expectation: a reload here would fail the test.
	s.bus.Publish(listener.ChangeEvent{Kind: listener.KindProfile, Key: "sub-admin"})
	s.Nil(s.manager.Current())
}
