// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/middleware"
	requestutil "github.com/taibuivan/yomira-iam/internal/platform/request"
	"github.com/taibuivan/yomira-iam/internal/platform/respond"
	"github.com/taibuivan/yomira-iam/internal/platform/validate"
	"github.com/taibuivan/yomira-iam/pkg/pagination"
)

// # Definitions & Constructors

// Handler exposes the auth protocol over HTTP.
//
// # Scope
//
// It expects [middleware.Authenticate] to run before it so that claims are
// already in the request context for the protected routes.
type Handler struct {
	authService *Service
	engine      *permission.Engine
	denials     middleware.DenialObserver
}

// NewHandler constructs a [Handler]. denials may be nil.
func NewHandler(service *Service, engine *permission.Engine, denials middleware.DenialObserver) *Handler {
	return &Handler{authService: service, engine: engine, denials: denials}
}

// Routes returns a [chi.Router] with every auth endpoint.
//
// # Endpoints
//   - POST /register, /login, /refresh, /logout : Public
//   - GET /me, /security-stamp, /sessions      : Authenticated
//   - POST /logout-all, /change-password       : Authenticated
//   - GET /users                               : Users.View
//   - PUT, DELETE /users/{id}/roles/{role}     : Roles.Edit
//   - GET /permissions                         : Roles.View
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Post("/refresh", handler.refresh)
	router.Post("/logout", handler.logout)

	// Authenticated endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/me", handler.me)
		r.Get("/security-stamp", handler.securityStamp)
		r.Get("/sessions", handler.sessions)
		r.Post("/logout-all", handler.logoutAll)
		r.Post("/change-password", handler.changePassword)
	})

	// Permission gated endpoints
	router.With(handler.require(permission.UsersView)).Get("/users", handler.listUsers)
	router.With(handler.require(permission.RolesEdit)).Put("/users/{id}/roles/{role}", handler.assignRole)
	router.With(handler.require(permission.RolesEdit)).Delete("/users/{id}/roles/{role}", handler.revokeRole)
	router.With(handler.require(permission.RolesView)).Get("/permissions", handler.permissions)

	return router
}

func (handler *Handler) require(name string) func(http.Handler) http.Handler {
	return middleware.RequirePermission(handler.engine, name, handler.denials)
}

// # Request Payloads

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// meResponse is the claims view of the caller.
type meResponse struct {
	UserID      string   `json:"userId"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type revokedResponse struct {
	Revoked int `json:"revoked"`
}

/*
Register creates an account and returns its first token pair.

POST /api/auth/register

Response:
  - 201: AuthResponse
  - 400: VALIDATION_ERROR, including mismatched confirmation
  - 409: CONFLICT: Username or email already taken
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest
	if err := requestutil.DecodeJSON(writer, request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	response, err := handler.authService.Register(request.Context(), RegisterInput(input))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, response)
}

/*
Login verifies credentials and starts a session lineage.

POST /api/auth/login

Response:
  - 200: AuthResponse
  - 401: INVALID_CREDENTIALS
  - 423: ACCOUNT_LOCKED
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest
	if err := requestutil.DecodeJSON(writer, request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	response, err := handler.authService.Login(request.Context(), LoginInput(input))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, response)
}

/*
Refresh rotates a refresh token.

POST /api/auth/refresh

Response:
  - 200: AuthResponse
  - 401: INVALID_TOKEN or STALE_SECURITY_STAMP
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	var input refreshRequest
	if err := requestutil.DecodeJSON(writer, request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := validate.RequiredValue(FieldRefreshToken, input.RefreshToken); err != nil {
		respond.Error(writer, request, err)
		return
	}

	response, err := handler.authService.Refresh(request.Context(), input.RefreshToken)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, response)
}

// logout revokes one session. Always 204 for well-formed requests.
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	var input refreshRequest
	if err := requestutil.DecodeJSON(writer, request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.Logout(request.Context(), input.RefreshToken); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) me(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, meResponse{
		UserID:      claims.UserID,
		Username:    claims.Username,
		Roles:       nonNil(claims.Roles),
		Permissions: nonNil(claims.Permissions),
	})
}

/*
SecurityStamp returns the caller's live security stamp.

GET /api/auth/security-stamp

Description: Services that cache tokens compare this value with the stamp
claim to detect server-side invalidation.
*/
func (handler *Handler) securityStamp(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	stamp, err := handler.authService.GetSecurityStamp(request.Context(), claims.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, stamp)
}

func (handler *Handler) sessions(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	sessions, err := handler.authService.ListSessions(request.Context(), claims.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, sessions)
}

func (handler *Handler) logoutAll(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	revoked, err := handler.authService.LogoutEverywhere(request.Context(), claims.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, revokedResponse{Revoked: revoked})
}

/*
ChangePassword replaces the caller's password and ends all their sessions.

POST /api/auth/change-password

Response:
  - 204: Password changed
  - 400: VALIDATION_ERROR
  - 401: INVALID_CREDENTIALS: Current password is wrong
*/
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input changePasswordRequest
	if err := requestutil.DecodeJSON(writer, request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.ChangePassword(request.Context(), claims.UserID, ChangePasswordInput(input)); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) listUsers(writer http.ResponseWriter, request *http.Request) {
	page := pagination.FromRequest(request)

	users, total, err := handler.authService.ListUsers(request.Context(), page)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, users, pagination.NewMeta(page.Page, page.Limit, total))
}

func (handler *Handler) assignRole(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	userID := requestutil.Param(request, FieldUserID)
	if err := (&validate.Validator{}).UUID(FieldUserID, userID).Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.authService.AssignRole(request.Context(), claims.UserID, userID, requestutil.Param(request, FieldRole))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) revokeRole(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	userID := requestutil.Param(request, FieldUserID)
	if err := (&validate.Validator{}).UUID(FieldUserID, userID).Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.authService.RevokeRole(request.Context(), claims.UserID, userID, requestutil.Param(request, FieldRole))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// permissions lists the registry grouped by category.
func (handler *Handler) permissions(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, handler.engine.Registry().Categories())
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
