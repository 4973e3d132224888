// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package auth implements the token issuance and refresh protocol.

It mints short-lived RS256 access tokens carrying permission claims and
long-lived opaque refresh tokens backed by a shared [TokenStore].

# Session Lineage

A login starts a lineage (FamilyID). Every refresh consumes the presented
record and creates its successor in one atomic step, so two concurrent
refreshes with the same token yield exactly one success. Presenting a
consumed token is treated as theft: the whole lineage is revoked.

# Claims Freshness

Roles and permissions are re-resolved from the [identity.CredentialStore] on
every refresh. A role change reaches a live session at its next refresh; a
security stamp change (password change, logout everywhere) ends it.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/yomira-iam/internal/identity"
	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
	"github.com/taibuivan/yomira-iam/internal/platform/validate"
	"github.com/taibuivan/yomira-iam/pkg/pagination"
	"github.com/taibuivan/yomira-iam/pkg/slice"
	"github.com/taibuivan/yomira-iam/pkg/uuid"
)

// # Collaborators

// TokenSigner mints signed access tokens.
type TokenSigner interface {
	GenerateAccessToken(input sec.AccessTokenInput) (string, time.Time, error)
}

// Observer receives protocol outcomes for metrics.
type Observer interface {
	ObserveLogin(outcome string)
	ObserveRefresh(outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveLogin(string)   {}
func (noopObserver) ObserveRefresh(string) {}

// Options tunes the protocol. Zero durations fall back to the defaults below.
type Options struct {
	AccessTokenTTL            time.Duration
	RefreshTokenTTL           time.Duration
	RememberMeRefreshTokenTTL time.Duration

	// ReuseRevokesLineage revokes every record of a lineage when a consumed
	// refresh token is presented again.
	ReuseRevokesLineage bool

	// RegistrationRoles are granted to self-registered accounts.
	RegistrationRoles []string

	Observer Observer
	Logger   *slog.Logger
	Clock    func() time.Time
}

const (
	defaultAccessTokenTTL            = 15 * time.Minute
	defaultRefreshTokenTTL           = 7 * 24 * time.Hour
	defaultRememberMeRefreshTokenTTL = 30 * 24 * time.Hour
)

// # Payloads

// AuthResponse is returned by register, login and refresh.
type AuthResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	Expiration   time.Time `json:"expiration"`
	Username     string    `json:"username"`
	Roles        []string  `json:"roles"`
}

// RegisterInput carries a self-registration request.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// LoginInput carries a login request.
type LoginInput struct {
	Username   string
	Password   string
	RememberMe bool
}

// ChangePasswordInput carries a password change by the account owner.
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// SessionView describes one active refresh lineage head.
type SessionView struct {
	TokenID    string    `json:"tokenId"`
	RememberMe bool      `json:"rememberMe"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// # Service

// Service orchestrates register, login, refresh and revocation.
type Service struct {
	credentials identity.CredentialStore
	tokens      TokenStore
	signer      TokenSigner
	registry    *permission.Registry
	options     Options
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

// NewService wires the protocol core.
func NewService(
	credentials identity.CredentialStore,
	tokens TokenStore,
	signer TokenSigner,
	registry *permission.Registry,
	options Options,
) *Service {
	if options.AccessTokenTTL <= 0 {
		options.AccessTokenTTL = defaultAccessTokenTTL
	}
	if options.RefreshTokenTTL <= 0 {
		options.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if options.RememberMeRefreshTokenTTL <= 0 {
		options.RememberMeRefreshTokenTTL = defaultRememberMeRefreshTokenTTL
	}

	service := &Service{
		credentials: credentials,
		tokens:      tokens,
		signer:      signer,
		registry:    registry,
		options:     options,
		observer:    options.Observer,
		logger:      options.Logger,
		now:         options.Clock,
	}
	if service.observer == nil {
		service.observer = noopObserver{}
	}
	if service.logger == nil {
		service.logger = slog.Default()
	}
	if service.now == nil {
		service.now = time.Now
	}
	return service
}

/*
Register creates an account and opens its first session.

Description: Input is validated before the credential store is contacted,
including the password confirmation.

Returns:
  - *AuthResponse: The first token pair
  - error: apperr VALIDATION_ERROR or CONFLICT
*/
func (service *Service) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	validator := &validate.Validator{}
	validator.Required(FieldUsername, input.Username).
		MinLen(FieldUsername, input.Username, MinUsernameLength).
		MaxLen(FieldUsername, input.Username, MaxUsernameLength).
		Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email).
		Required(FieldPassword, input.Password).
		MinLen(FieldPassword, input.Password, MinPasswordLength).
		MaxBytes(FieldPassword, input.Password, MaxPasswordLength).
		Equal(FieldConfirmPassword, input.ConfirmPassword, input.Password, "Passwords do not match")

	if err := validator.Err(); err != nil {
		return nil, err
	}

	principal, err := service.credentials.Create(ctx, identity.NewAccount{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
	}, service.options.RegistrationRoles)
	if err != nil {
		return nil, err
	}

	service.logger.InfoContext(ctx, "account_registered", slog.String("user_id", principal.ID))

	return service.openSession(ctx, principal, false)
}

/*
Login verifies credentials and opens a new session lineage.

Returns:
  - *AuthResponse: Access token, refresh token and role snapshot
  - error: apperr INVALID_CREDENTIALS or ACCOUNT_LOCKED
*/
func (service *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	validator := &validate.Validator{}
	validator.Required(FieldUsername, input.Username).
		Required(FieldPassword, input.Password)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	principal, err := service.credentials.Verify(ctx, input.Username, input.Password)
	if err != nil {
		switch {
		case apperr.HasCode(err, apperr.CodeInvalidCredentials):
			service.observer.ObserveLogin(OutcomeInvalidCredentials)
			service.logger.InfoContext(ctx, "login_failed")
		case apperr.HasCode(err, apperr.CodeAccountLocked):
			service.observer.ObserveLogin(OutcomeLocked)
			service.logger.WarnContext(ctx, "login_rejected_account_locked")
		default:
			service.observer.ObserveLogin(OutcomeError)
		}
		return nil, err
	}

	response, err := service.openSession(ctx, principal, input.RememberMe)
	if err != nil {
		service.observer.ObserveLogin(OutcomeError)
		return nil, err
	}

	service.observer.ObserveLogin(OutcomeSuccess)
	return response, nil
}

// openSession starts a new lineage for principal.
func (service *Service) openSession(ctx context.Context, principal *identity.Principal, rememberMe bool) (*AuthResponse, error) {
	issued, err := service.issue(ctx, principal, uuid.New(), rememberMe)
	if err != nil {
		return nil, err
	}

	if err := service.tokens.Put(ctx, issued.record); err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_session_put_failed: %w", err))
	}

	return issued.response, nil
}

/*
Refresh exchanges a refresh token for a new token pair.

Description: The presented record is consumed and replaced atomically. A
malformed, unknown or expired token fails with INVALID_TOKEN and leaves the
store untouched. A record already consumed by rotation is reported as reuse
with INVALID_TOKEN before the account is consulted. Otherwise a stamp changed
since the lineage began fails with STALE_SECURITY_STAMP and revokes the
lineage.
*/
func (service *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	tokenID, secret, ok := parseRefreshToken(refreshToken)
	if !ok {
		service.observer.ObserveRefresh(OutcomeInvalidToken)
		return nil, apperr.InvalidToken("Refresh token is invalid")
	}

	record, err := service.tokens.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			service.observer.ObserveRefresh(OutcomeInvalidToken)
			return nil, apperr.InvalidToken("Refresh token is invalid")
		}
		service.observer.ObserveRefresh(OutcomeError)
		return nil, apperr.Internal(fmt.Errorf("auth_refresh_lookup_failed: %w", err))
	}

	presentedHash := sec.HashToken(secret)
	if !sec.EqualHashes(presentedHash, record.SecretHash) {
		service.observer.ObserveRefresh(OutcomeInvalidToken)
		return nil, apperr.InvalidToken("Refresh token is invalid")
	}

	if !service.now().Before(record.ExpiresAt) {
		service.observer.ObserveRefresh(OutcomeInvalidToken)
		return nil, apperr.InvalidToken("Refresh token has expired")
	}

	logger := service.logger.With(
		slog.String("user_id", record.UserID),
		slog.String("family_id", record.FamilyID),
	)

	// A record consumed by rotation is reuse whatever changed on the account
	// afterwards.
	if record.ReplacedBy != "" {
		return nil, service.rejectReuse(ctx, logger, record)
	}

	principal, err := service.credentials.FindByID(ctx, record.UserID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			service.observer.ObserveRefresh(OutcomeInvalidToken)
			return nil, apperr.InvalidToken("Refresh token is invalid")
		}
		service.observer.ObserveRefresh(OutcomeError)
		return nil, err
	}

	if principal.SecurityStamp != record.SecurityStamp {
		service.revokeLineage(ctx, logger, record.FamilyID)
		service.observer.ObserveRefresh(OutcomeStaleStamp)
		logger.InfoContext(ctx, "refresh_rejected_stale_stamp")
		return nil, apperr.StaleSecurityStamp()
	}

	if record.Revoked {
		return nil, service.rejectReuse(ctx, logger, record)
	}

	issued, err := service.issue(ctx, principal, record.FamilyID, record.RememberMe)
	if err != nil {
		service.observer.ObserveRefresh(OutcomeError)
		return nil, err
	}

	if err := service.tokens.Rotate(ctx, record.TokenID, presentedHash, issued.record); err != nil {
		switch {
		case errors.Is(err, ErrTokenRevoked),
			errors.Is(err, ErrRecordNotFound),
			errors.Is(err, ErrTokenExpired),
			errors.Is(err, ErrTokenMismatch):
			// Another request consumed the record between lookup and rotation.
			service.observer.ObserveRefresh(OutcomeLostRace)
			logger.InfoContext(ctx, "refresh_lost_rotation_race", slog.String("token_id", record.TokenID))
			return nil, apperr.InvalidToken("Refresh token is invalid")
		default:
			service.observer.ObserveRefresh(OutcomeError)
			return nil, apperr.Internal(fmt.Errorf("auth_refresh_rotate_failed: %w", err))
		}
	}

	service.observer.ObserveRefresh(OutcomeSuccess)
	return issued.response, nil
}

// rejectReuse handles a revoked record presented for refresh.
func (service *Service) rejectReuse(ctx context.Context, logger *slog.Logger, record *RefreshTokenRecord) error {
	logger.WarnContext(ctx, "refresh_token_reuse_detected", slog.String("token_id", record.TokenID))
	if service.options.ReuseRevokesLineage {
		service.revokeLineage(ctx, logger, record.FamilyID)
	}
	service.observer.ObserveRefresh(OutcomeReuseDetected)
	return apperr.InvalidToken("Refresh token is invalid")
}

func (service *Service) revokeLineage(ctx context.Context, logger *slog.Logger, familyID string) {
	revoked, err := service.tokens.RevokeFamily(ctx, familyID)
	if err != nil {
		logger.ErrorContext(ctx, "refresh_lineage_revoke_failed", slog.Any("error", err))
		return
	}
	logger.WarnContext(ctx, "refresh_lineage_revoked", slog.Int("revoked", revoked))
}

// issuedSession is a signed access token and the record that backs its
// refresh token, not yet persisted.
type issuedSession struct {
	record   *RefreshTokenRecord
	response *AuthResponse
}

// issue resolves current grants and signs a token pair for principal.
func (service *Service) issue(ctx context.Context, principal *identity.Principal, familyID string, rememberMe bool) (*issuedSession, error) {
	permissions, err := service.resolvePermissions(ctx, principal)
	if err != nil {
		return nil, err
	}

	secret, err := sec.GenerateSecureToken(RefreshSecretLength)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_refresh_secret_failed: %w", err))
	}

	now := service.now()
	refreshTTL := service.options.RefreshTokenTTL
	if rememberMe {
		refreshTTL = service.options.RememberMeRefreshTokenTTL
	}

	record := &RefreshTokenRecord{
		TokenID:       uuid.New(),
		FamilyID:      familyID,
		UserID:        principal.ID,
		JWTID:         uuid.New(),
		SecretHash:    sec.HashToken(secret),
		SecurityStamp: principal.SecurityStamp,
		RememberMe:    rememberMe,
		ExpiresAt:     now.Add(refreshTTL),
		CreatedAt:     now,
	}

	accessToken, expiresAt, err := service.signer.GenerateAccessToken(sec.AccessTokenInput{
		UserID:        principal.ID,
		Username:      principal.Username,
		Roles:         principal.Roles,
		Permissions:   permissions,
		SecurityStamp: principal.SecurityStamp,
		TokenID:       record.JWTID,
		TimeToLive:    service.options.AccessTokenTTL,
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_sign_failed: %w", err))
	}

	roles := principal.Roles
	if roles == nil {
		roles = []string{}
	}

	return &issuedSession{
		record: record,
		response: &AuthResponse{
			Token:        accessToken,
			RefreshToken: composeRefreshToken(record.TokenID, secret),
			Expiration:   expiresAt,
			Username:     principal.Username,
			Roles:        roles,
		},
	}, nil
}

// resolvePermissions maps roles to registered permission names. Grants the
// registry does not know are dropped, never passed through.
func (service *Service) resolvePermissions(ctx context.Context, principal *identity.Principal) ([]string, error) {
	granted, err := service.credentials.RolePermissions(ctx, principal.Roles)
	if err != nil {
		return nil, err
	}

	known, unknown := service.registry.Filter(granted)
	if len(unknown) > 0 {
		service.logger.WarnContext(ctx, "unregistered_permissions_ignored",
			slog.String("user_id", principal.ID),
			slog.Any("permissions", unknown),
		)
	}
	return known, nil
}

/*
Logout revokes the session behind refreshToken.

Description: Idempotent. Unknown, malformed or already revoked tokens succeed
silently; a token whose secret does not match is ignored.
*/
func (service *Service) Logout(ctx context.Context, refreshToken string) error {
	tokenID, secret, ok := parseRefreshToken(refreshToken)
	if !ok {
		return nil
	}

	record, err := service.tokens.GetActive(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return apperr.Internal(fmt.Errorf("auth_logout_lookup_failed: %w", err))
	}

	if !sec.EqualHashes(sec.HashToken(secret), record.SecretHash) {
		return nil
	}

	if err := service.tokens.Revoke(ctx, tokenID); err != nil {
		return apperr.Internal(fmt.Errorf("auth_logout_revoke_failed: %w", err))
	}

	service.logger.InfoContext(ctx, "session_logged_out", slog.String("user_id", record.UserID))
	return nil
}

/*
LogoutEverywhere ends every session of userID.

Description: Rotates the security stamp and revokes every refresh record, so
strict-mode backends also reject the user's outstanding access tokens.
*/
func (service *Service) LogoutEverywhere(ctx context.Context, userID string) (int, error) {
	if _, err := service.credentials.RotateSecurityStamp(ctx, userID); err != nil {
		return 0, err
	}

	revoked, err := service.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("auth_logout_all_failed: %w", err))
	}

	service.logger.InfoContext(ctx, "sessions_revoked", slog.String("user_id", userID), slog.Int("revoked", revoked))
	return revoked, nil
}

/*
ChangePassword replaces the password of userID.

Description: The current password is verified first. On success the store
rotates the security stamp and every refresh record of the user is revoked.
*/
func (service *Service) ChangePassword(ctx context.Context, userID string, input ChangePasswordInput) error {
	validator := &validate.Validator{}
	validator.Required(FieldCurrentPassword, input.CurrentPassword).
		Required(FieldNewPassword, input.NewPassword).
		MinLen(FieldNewPassword, input.NewPassword, MinPasswordLength).
		MaxBytes(FieldNewPassword, input.NewPassword, MaxPasswordLength)
	if err := validator.Err(); err != nil {
		return err
	}

	principal, err := service.credentials.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if _, err := service.credentials.Verify(ctx, principal.Username, input.CurrentPassword); err != nil {
		return err
	}

	if _, err := service.credentials.UpdatePassword(ctx, userID, input.NewPassword); err != nil {
		return err
	}

	revoked, err := service.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return apperr.Internal(fmt.Errorf("auth_change_password_revoke_failed: %w", err))
	}

	service.logger.InfoContext(ctx, "password_changed", slog.String("user_id", userID), slog.Int("sessions_revoked", revoked))
	return nil
}

// GetSecurityStamp returns the current stamp of userID.
func (service *Service) GetSecurityStamp(ctx context.Context, userID string) (string, error) {
	return service.credentials.GetSecurityStamp(ctx, userID)
}

// ValidateStamp fails with STALE_SECURITY_STAMP unless stamp is current.
func (service *Service) ValidateStamp(ctx context.Context, userID, stamp string) error {
	current, err := service.credentials.GetSecurityStamp(ctx, userID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return apperr.StaleSecurityStamp()
		}
		return err
	}
	if !sec.EqualHashes(current, stamp) {
		return apperr.StaleSecurityStamp()
	}
	return nil
}

// ListUsers returns one page of accounts.
func (service *Service) ListUsers(ctx context.Context, page pagination.Params) ([]identity.Principal, int, error) {
	return service.credentials.List(ctx, page)
}

// ListSessions returns the active sessions of userID.
func (service *Service) ListSessions(ctx context.Context, userID string) ([]SessionView, error) {
	records, err := service.tokens.ListActive(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_list_sessions_failed: %w", err))
	}

	return slice.Map(records, func(record RefreshTokenRecord) SessionView {
		return SessionView{
			TokenID:    record.TokenID,
			RememberMe: record.RememberMe,
			CreatedAt:  record.CreatedAt,
			ExpiresAt:  record.ExpiresAt,
		}
	}), nil
}

/*
AssignRole grants role to userID.

Description: The stamp is left alone; the new permissions reach the user's
sessions at their next refresh.
*/
func (service *Service) AssignRole(ctx context.Context, actorID, userID, role string) error {
	if err := validate.RequiredValue(FieldRole, role); err != nil {
		return err
	}
	if err := service.credentials.AssignRole(ctx, userID, role); err != nil {
		return err
	}
	service.logger.InfoContext(ctx, "role_assigned",
		slog.String("actor_id", actorID),
		slog.String("user_id", userID),
		slog.String("role", role),
	)
	return nil
}

// RevokeRole removes role from userID. Takes effect at the next refresh.
func (service *Service) RevokeRole(ctx context.Context, actorID, userID, role string) error {
	if err := validate.RequiredValue(FieldRole, role); err != nil {
		return err
	}
	if err := service.credentials.RevokeRole(ctx, userID, role); err != nil {
		return err
	}
	service.logger.InfoContext(ctx, "role_revoked",
		slog.String("actor_id", actorID),
		slog.String("user_id", userID),
		slog.String("role", role),
	)
	return nil
}
