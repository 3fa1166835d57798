// Package provider wraps the identity provider's HTTP endpoints behind a
// typed client. Every failure is translated into a domain error exactly once
// at this boundary; callers branch on codes, never on transport details.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"avanza/internal/platform/metrics"
	"avanza/internal/session/models"
	"avanza/pkg/circuit"
	dErrors "avanza/pkg/domainerrors"
)

// Client exchanges credentials with the remote identity provider.
//
// Error taxonomy:
//   - CodeInvalidCredentials: the provider rejected the email/password pair
//   - CodeExpiredRefreshToken: the refresh token is no longer valid
//   - CodeNetworkError / CodeTimeout: transport failure, retryable next tick
//   - CodeUnauthorized / CodeForbidden: downstream resource rejections
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	breaker *circuit.Breaker
	tracer  trace.Tracer
}

// Option configures a Client instance.
type Option func(*Client)

// WithHTTPClient injects the underlying HTTP client. The client's Timeout is
// the caller-supplied network timeout; on expiry the call is reported as a
// timeout, never as an expired refresh token.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-call network timeout on the underlying client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics wires provider latency metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithBreaker injects a circuit breaker guarding the provider path.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithTracer injects a custom OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// New constructs a Client against the given provider base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
		breaker: circuit.New("identity-provider"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("avanza/provider")
	}
	return c
}

// Login exchanges an email/password pair for a fresh session.
func (c *Client) Login(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "email and password are required")
	}
	var payload models.LoginPayload
	err := c.call(ctx, "login", http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &payload)
	if err != nil {
		return nil, err
	}
	return payload.Normalize(time.Now())
}

// Refresh exchanges a refresh token for a new token pair and session snapshot.
// A provider rejection here signals the terminal expired-refresh-token case.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, dErrors.New(dErrors.CodeExpiredRefreshToken, "no refresh token held")
	}
	var payload models.LoginPayload
	err := c.call(ctx, "refresh", http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	}, &payload)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) || dErrors.HasCode(err, dErrors.CodeInvalidCredentials) {
			return nil, dErrors.Wrap(err, dErrors.CodeExpiredRefreshToken, "refresh token no longer valid")
		}
		return nil, err
	}
	return payload.Normalize(time.Now())
}

// Logout invalidates the session at the provider. Best-effort: transport
// failures are logged and swallowed so local teardown is never blocked.
func (c *Client) Logout(ctx context.Context, accessToken string) {
	err := c.call(ctx, "logout", http.MethodPost, "/v1/auth/logout", accessToken, nil, nil)
	if err != nil {
		c.logger.WarnContext(ctx, "provider logout failed, proceeding with local teardown", "error", err)
	}
}

// GetProfile re-hydrates the session's principal and organization fields.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*models.Session, error) {
	var payload models.ProfilePayload
	if err := c.call(ctx, "get_profile", http.MethodGet, "/v1/auth/profile", accessToken, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Normalize(time.Now())
}

// GetMembership fetches the legacy membership record used as a restricted
// fallback when the primary profile lookup fails.
func (c *Client) GetMembership(ctx context.Context, accessToken string) (*models.Session, error) {
	var payload models.MembershipPayload
	if err := c.call(ctx, "get_membership", http.MethodGet, "/v1/auth/membership", accessToken, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Normalize(time.Now())
}

// ChangePassword rotates the actor's credentials. On success the provider
// clears the require_password_change flag on the next profile fetch.
func (c *Client) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	if newPassword == "" {
		return dErrors.New(dErrors.CodeValidation, "new password cannot be empty")
	}
	return c.call(ctx, "change_password", http.MethodPost, "/v1/auth/password", accessToken, map[string]string{
		"current_password": currentPassword,
		"new_password":     newPassword,
	}, nil)
}

// ResetPassword starts the provider's reset flow for the given email.
// Unauthenticated by design.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	return c.call(ctx, "reset_password", http.MethodPost, "/v1/auth/password/reset", "", map[string]string{
		"email": email,
	}, nil)
}

// call performs one JSON round trip against the provider and maps the
// outcome onto the domain error taxonomy.
func (c *Client) call(ctx context.Context, operation, method, path, bearer string, body any, out any) error {
	ctx, span := c.tracer.Start(ctx, "provider."+operation,
		trace.WithAttributes(attribute.String("provider.operation", operation)))
	start := time.Now()
	err := c.do(ctx, operation, method, path, bearer, body, out)
	if c.metrics != nil {
		c.metrics.ObserveProviderLatency(operation, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return err
}

func (c *Client) do(ctx context.Context, operation, method, path, bearer string, body any, out any) error {
	if !c.breaker.Allow() {
		// Open circuit: fail fast with a retryable error so scheduler
		// semantics are preserved; one probe per cooldown re-tests the path.
		c.logger.DebugContext(ctx, "identity provider circuit open, failing fast", "operation", operation)
		return dErrors.New(dErrors.CodeNetworkError, "identity provider circuit open")
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode provider request")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build provider request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordBreaker(ctx, false)
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "identity provider call timed out")
		}
		return dErrors.Wrap(err, dErrors.CodeNetworkError, "identity provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.recordBreaker(ctx, false)
		return dErrors.New(dErrors.CodeNetworkError, fmt.Sprintf("identity provider returned %d", resp.StatusCode))
	}
	c.recordBreaker(ctx, true)

	switch {
	case resp.StatusCode == http.StatusUnauthorized && operation == "login":
		return dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
	case resp.StatusCode == http.StatusUnauthorized:
		return dErrors.New(dErrors.CodeUnauthorized, "provider rejected credentials")
	case resp.StatusCode == http.StatusForbidden:
		return dErrors.New(dErrors.CodeForbidden, "provider denied access")
	case resp.StatusCode == http.StatusNotFound:
		return dErrors.New(dErrors.CodeNotFound, "provider record not found")
	case resp.StatusCode >= 400:
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("identity provider rejected request with %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode provider response")
	}
	return nil
}

func (c *Client) recordBreaker(ctx context.Context, success bool) {
	if success {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "identity provider circuit closed", "breaker", c.breaker.Name())
		}
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "identity provider circuit opened", "breaker", c.breaker.Name())
	}
}
