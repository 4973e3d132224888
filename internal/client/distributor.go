// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
)

// Refresher exchanges a refresh token for a new session. [*AuthAPI]
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// TokenDistributionService holds the process' session and hands out valid
// access tokens.
//
// # States
//
//	Empty --SetSession--> Idle --expiring--> Refreshing --ok--> Idle
//	                                          Refreshing --rejected--> Invalid
//	                                          Refreshing --transient--> Idle
//
// Clear returns to Empty from any state. Every SetSession and Clear bumps a
// generation counter; a refresh that completes under an older generation
// is discarded.
type TokenDistributionService struct {
	refresher   Refresher
	coordinator *RefreshCoordinator
	margin      time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	session    *Session
	state      State
	generation uint64
	now        func() time.Time
}

// NewTokenDistributionService creates an empty service.
func NewTokenDistributionService(refresher Refresher, config Config, logger *slog.Logger) *TokenDistributionService {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenDistributionService{
		refresher:   refresher,
		coordinator: NewRefreshCoordinator(config.RefreshTimeout),
		margin:      config.ExpiryMargin,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (service *TokenDistributionService) SetClock(now func() time.Time) {
	service.mu.Lock()
	defer service.mu.Unlock()
	service.now = now
}

// SetSession installs a session obtained from login or register.
func (service *TokenDistributionService) SetSession(session Session) {
	service.mu.Lock()
	defer service.mu.Unlock()

	service.session = &session
	service.state = StateIdle
	service.generation++
}

// Clear drops the session. In-flight refreshes are discarded.
func (service *TokenDistributionService) Clear() {
	service.mu.Lock()
	defer service.mu.Unlock()

	service.session = nil
	service.state = StateEmpty
	service.generation++
}

// State reports the current lifecycle state.
func (service *TokenDistributionService) State() State {
	service.mu.Lock()
	defer service.mu.Unlock()
	return service.state
}

// Session returns a copy of the held session.
func (service *TokenDistributionService) Session() (Session, bool) {
	service.mu.Lock()
	defer service.mu.Unlock()
	if service.session == nil {
		return Session{}, false
	}
	return *service.session, true
}

/*
GetValidAccessToken returns an access token that is not within the expiry
margin, refreshing first when needed.

Returns:
  - string: The bearer token
  - error: ErrNoSession, ErrSessionInvalid, ctx.Err() or a transient refresh error
*/
func (service *TokenDistributionService) GetValidAccessToken(ctx context.Context) (string, error) {
	service.mu.Lock()
	if err := service.unavailableLocked(); err != nil {
		service.mu.Unlock()
		return "", err
	}

	current := service.session.AccessToken
	if service.state != StateRefreshing && service.freshLocked() {
		service.mu.Unlock()
		return current, nil
	}
	generation := service.generation
	service.mu.Unlock()

	return service.refresh(ctx, generation, current)
}

// ForceRefresh replaces staleToken after the server rejected it. When the
// held token already differs from staleToken and is fresh, it is returned
// without a network call.
func (service *TokenDistributionService) ForceRefresh(ctx context.Context, staleToken string) (string, error) {
	service.mu.Lock()
	if err := service.unavailableLocked(); err != nil {
		service.mu.Unlock()
		return "", err
	}

	if service.session.AccessToken != staleToken && service.state != StateRefreshing && service.freshLocked() {
		current := service.session.AccessToken
		service.mu.Unlock()
		return current, nil
	}
	generation := service.generation
	service.mu.Unlock()

	return service.refresh(ctx, generation, staleToken)
}

func (service *TokenDistributionService) refresh(ctx context.Context, generation uint64, stale string) (string, error) {
	session, err := service.coordinator.Do(ctx, strconv.FormatUint(generation, 10), func(callCtx context.Context) (*Session, error) {
		return service.performRefresh(callCtx, generation, stale)
	})
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

// performRefresh is the single in-flight exchange for one generation.
func (service *TokenDistributionService) performRefresh(ctx context.Context, generation uint64, stale string) (*Session, error) {
	service.mu.Lock()
	if service.generation != generation {
		defer service.mu.Unlock()
		return service.supersededLocked()
	}
	if err := service.unavailableLocked(); err != nil {
		service.mu.Unlock()
		return nil, err
	}

	// A flight that finished just before this one already replaced the token.
	if service.session.AccessToken != stale && service.freshLocked() {
		snapshot := *service.session
		service.mu.Unlock()
		return &snapshot, nil
	}

	refreshToken := service.session.RefreshToken
	service.state = StateRefreshing
	service.mu.Unlock()

	next, err := service.refresher.Refresh(ctx, refreshToken)

	service.mu.Lock()
	defer service.mu.Unlock()

	if service.generation != generation {
		return service.supersededLocked()
	}

	if err != nil {
		if isTerminal(err) {
			service.session = nil
			service.state = StateInvalid
			service.generation++
			service.logger.WarnContext(ctx, "session_refresh_rejected", slog.Any("error", err))
			return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
		}

		service.state = StateIdle
		service.logger.WarnContext(ctx, "session_refresh_failed", slog.Any("error", err))
		return nil, err
	}

	service.session = next
	service.state = StateIdle
	service.logger.DebugContext(ctx, "session_refreshed", slog.Time("expires_at", next.ExpiresAt))

	snapshot := *next
	return &snapshot, nil
}

// supersededLocked answers a refresh whose generation was replaced while it
// waited or ran.
func (service *TokenDistributionService) supersededLocked() (*Session, error) {
	if err := service.unavailableLocked(); err != nil {
		return nil, err
	}
	snapshot := *service.session
	return &snapshot, nil
}

func (service *TokenDistributionService) unavailableLocked() error {
	switch {
	case service.state == StateInvalid:
		return ErrSessionInvalid
	case service.session == nil:
		return ErrNoSession
	default:
		return nil
	}
}

func (service *TokenDistributionService) freshLocked() bool {
	return service.now().Add(service.margin).Before(service.session.ExpiresAt)
}

// isTerminal reports whether the server rejected the refresh token itself.
func isTerminal(err error) bool {
	appError := apperr.As(err)
	if appError == nil {
		return false
	}
	switch appError.Code {
	case apperr.CodeInvalidToken, apperr.CodeStaleSecurityStamp, apperr.CodeUnauthorized, apperr.CodeValidation:
		return true
	default:
		return false
	}
}
