package manager

import (
	"context"
	"io"
	"log/slog"

	"go.uber.org/mock/gomock"

	"avanza/internal/audit"
	"avanza/internal/session/cache"
	"avanza/internal/session/storage"
	dErrors "avanza/pkg/domainerrors"
)

func (s *ManagerSuite) TestAuthorizeWithValidSession() {
	s.login(s.adminSession())
	s.NoError(s.manager.Authorize())
}

func (s *ManagerSuite) TestAuthorizeWithoutSession() {
	err := s.manager.Authorize()
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ManagerSuite) TestAuthorizeBlockedByPendingPasswordChange() {
	session := s.adminSession()
	session.RequirePasswordChange = true
	s.login(session)

	err := s.manager.Authorize()
	s.True(dErrors.HasCode(err, dErrors.CodePasswordChange))
}

func (s *ManagerSuite) TestChangePasswordClearsFlag() {
	session := s.adminSession()
	session.RequirePasswordChange = true
	s.login(session)

	s.mockClient.EXPECT().
		ChangePassword(gomock.Any(), "access-1", "old-password", "new-password").
		Return(nil)

	updatedProfile := s.adminSession()
	updatedProfile.RequirePasswordChange = false
	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(updatedProfile, nil)

	s.Require().NoError(s.manager.ChangePassword(context.Background(), "old-password", "new-password"))

	s.False(s.manager.Current().RequirePasswordChange)
	s.NoError(s.manager.Authorize())
}

func (s *ManagerSuite) TestChangePasswordWrongCurrentPassword() {
	s.login(s.adminSession())

	s.mockClient.EXPECT().
		ChangePassword(gomock.Any(), "access-1", "wrong", "new-password").
		Return(dErrors.New(dErrors.CodeUnauthorized, "current password incorrect"))

	err := s.manager.ChangePassword(context.Background(), "wrong", "new-password")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ManagerSuite) TestChangePasswordWithoutSession() {
	err := s.manager.ChangePassword(context.Background(), "old", "new")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ManagerSuite) TestChangePasswordSurvivesProfileRefetchFailure() {
	session := s.adminSession()
	session.RequirePasswordChange = true
	s.login(session)

	s.mockClient.EXPECT().
		ChangePassword(gomock.Any(), "access-1", "old-password", "new-password").
		Return(nil)
	s.mockClient.EXPECT().
		GetProfile(gomock.Any(), "access-1").
		Return(nil, dErrors.New(dErrors.CodeNetworkError, "identity provider unreachable"))

	// The rotation itself succeeded; the stale flag clears on the next
	// refresh instead.
	s.NoError(s.manager.ChangePassword(context.Background(), "old-password", "new-password"))
	s.True(s.manager.Current().RequirePasswordChange)
}

func (s *ManagerSuite) TestResetPassword() {
	s.mockClient.EXPECT().
		ResetPassword(gomock.Any(), "admin@acme.example").
		Return(nil)

	s.NoError(s.manager.ResetPassword(context.Background(), "admin@acme.example"))
}

func (s *ManagerSuite) TestResetPasswordIsAudited() {
	publisher := audit.NewPublisher(audit.NewInMemoryStore())
	m := New(s.mockClient, cache.New(), storage.NewInMemoryStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher),
	)
	defer m.Refresher().Stop()

	s.mockClient.EXPECT().
		ResetPassword(gomock.Any(), "admin@acme.example").
		Return(nil)

	s.Require().NoError(m.ResetPassword(context.Background(), "admin@acme.example"))

	events, err := publisher.List(context.Background(), "admin@acme.example")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventPasswordResetReq), events[0].Action)
}

func (s *ManagerSuite) TestResetPasswordFailureEmitsNoAudit() {
	publisher := audit.NewPublisher(audit.NewInMemoryStore())
	m := New(s.mockClient, cache.New(), storage.NewInMemoryStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher),
	)
	defer m.Refresher().Stop()

	s.mockClient.EXPECT().
		ResetPassword(gomock.Any(), "admin@acme.example").
		Return(dErrors.New(dErrors.CodeNetworkError, "identity provider unreachable"))

	s.Error(m.ResetPassword(context.Background(), "admin@acme.example"))

	events, err := publisher.List(context.Background(), "admin@acme.example")
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *ManagerSuite) TestResetPasswordRequiresEmail() {
	err := s.manager.ResetPassword(context.Background(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
