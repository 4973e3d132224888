// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

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
	"strings"
	"time"

	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

// maxResponseBytes bounds every decoded auth response.
const maxResponseBytes = 1 << 20

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type errorEnvelope struct {
	Error   string              `json:"error"`
	Code    string              `json:"code"`
	Details []apperr.FieldError `json:"details"`
}

// AuthAPI calls the public auth endpoints.
//
// Login and Logout retry network errors and 502, 503 and 504 responses up to
// MaxAttempts with linear backoff. Refresh and Register change server state
// on first delivery, so they retry only when the connection was never
// established. Every other failure is returned at once; server error
// envelopes come back as [*apperr.AppError].
type AuthAPI struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewAuthAPI builds an AuthAPI. A nil httpClient uses a client with the
// package request timeout; a nil logger uses slog.Default().
func NewAuthAPI(config Config, httpClient *http.Client, logger *slog.Logger) *AuthAPI {
	config = config.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RefreshTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthAPI{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		httpClient:  httpClient,
		maxAttempts: config.MaxAttempts,
		backoff:     config.Backoff,
		logger:      logger,
	}
}

// Login exchanges credentials for a session.
func (api *AuthAPI) Login(ctx context.Context, input LoginRequest) (*Session, error) {
	var session Session
	if err := api.post(ctx, constants.PathLogin, input, &session, retryTransient); err != nil {
		return nil, err
	}
	return &session, nil
}

// Register creates an account and returns its first session.
func (api *AuthAPI) Register(ctx context.Context, input RegisterRequest) (*Session, error) {
	var session Session
	if err := api.post(ctx, constants.PathRegister, input, &session, retryUndelivered); err != nil {
		return nil, err
	}
	return &session, nil
}

// Refresh rotates refreshToken into a new session.
//
// A refresh lost after it reached the server has already consumed the token,
// and resending it would be reported as reuse. Only dial failures are retried.
func (api *AuthAPI) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var session Session
	if err := api.post(ctx, constants.PathRefresh, refreshRequest{RefreshToken: refreshToken}, &session, retryUndelivered); err != nil {
		return nil, err
	}
	return &session, nil
}

// Logout revokes the session behind refreshToken.
func (api *AuthAPI) Logout(ctx context.Context, refreshToken string) error {
	return api.post(ctx, constants.PathLogout, refreshRequest{RefreshToken: refreshToken}, nil, retryTransient)
}

// retryPolicy selects which failed attempts post repeats.
type retryPolicy int

const (
	// retryTransient repeats network errors and gateway statuses.
	retryTransient retryPolicy = iota

	// retryUndelivered repeats only attempts that never reached the server.
	retryUndelivered
)

// post sends body to path and decodes the data envelope into out.
func (api *AuthAPI) post(ctx context.Context, path string, body, out any, policy retryPolicy) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", path, err)
	}

	var lastErr error
	for attempt := 1; attempt <= api.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, time.Duration(attempt-1)*api.backoff); err != nil {
				return err
			}
		}

		retry, err := api.do(ctx, path, payload, out, policy)
		if err == nil {
			return nil
		}
		if !retry || ctx.Err() != nil {
			return err
		}

		lastErr = err
		api.logger.WarnContext(ctx, "auth_call_retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
	return lastErr
}

// do performs one attempt and reports whether a failure is worth retrying.
func (api *AuthAPI) do(ctx context.Context, path string, payload []byte, out any, policy retryPolicy) (bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, api.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("client: build %s: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := api.httpClient.Do(request)
	if err != nil {
		return policy == retryTransient || isDialError(err), fmt.Errorf("client: %s: %w", path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return policy == retryTransient, fmt.Errorf("client: read %s: %w", path, err)
	}

	switch {
	case response.StatusCode == http.StatusNoContent:
		return false, nil
	case response.StatusCode >= 200 && response.StatusCode < 300:
		if out == nil {
			return false, nil
		}
		if err := decodeData(body, out); err != nil {
			return false, fmt.Errorf("client: decode %s: %w", path, err)
		}
		return false, nil
	default:
		return policy == retryTransient && isTransientStatus(response.StatusCode), decodeError(response.StatusCode, body)
	}
}

func decodeData(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	if len(envelope.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(envelope.Data, out)
}

// decodeError turns an error envelope into an [*apperr.AppError]. Bodies
// that are not envelopes (proxies, load balancers) keep only the status.
func decodeError(status int, body []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Code == "" {
		return &apperr.AppError{
			Code:       codeForStatus(status),
			Message:    http.StatusText(status),
			HTTPStatus: status,
		}
	}
	return &apperr.AppError{
		Code:       envelope.Code,
		Message:    envelope.Error,
		HTTPStatus: status,
		Details:    envelope.Details,
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case status == http.StatusServiceUnavailable:
		return apperr.CodeServiceUnavailable
	case status >= 500:
		return apperr.CodeInternal
	default:
		return http.StatusText(status)
	}
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isDialError reports whether err happened before a connection existed.
func isDialError(err error) bool {
	var opError *net.OpError
	return errors.As(err, &opError) && opError.Op == "dial"
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
