// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
	"github.com/taibuivan/yomira-iam/internal/platform/ctxutil"
	"github.com/taibuivan/yomira-iam/internal/platform/respond"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
)

// TokenVerifier verifies a bearer access token.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*sec.AuthClaims, error)
}

// StampChecker compares a token's security stamp with the live one.
type StampChecker interface {
	ValidateStamp(ctx context.Context, userID, stamp string) error
}

// DenialObserver is told about every rejected permission check.
type DenialObserver interface {
	ObserveDenied(permission string)
}

// Authenticate verifies the bearer token, if any, and attaches its claims.
//
// # Flow
//  1. No Authorization header: the request proceeds as anonymous.
//  2. Malformed header or invalid token: 401 INVALID_TOKEN.
//  3. With a non-nil checker the token's stamp is compared with the live
//     stamp; a mismatch is 401 STALE_SECURITY_STAMP.
//  4. Claims are attached to the context for downstream handlers.
//
// A nil checker keeps validation a pure function of signature and expiry.
func Authenticate(verifier TokenVerifier, checker StampChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get(constants.HeaderAuthorization)
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			scheme, token, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, constants.BearerScheme) || strings.TrimSpace(token) == "" {
				respond.Error(writer, request, apperr.InvalidToken("Invalid authorization format"))
				return
			}

			claims, err := verifier.VerifyToken(strings.TrimSpace(token))
			if err != nil {
				respond.Error(writer, request, apperr.InvalidToken("Invalid or expired token"))
				return
			}

			if checker != nil {
				if err := checker.ValidateStamp(request.Context(), claims.UserID, claims.SecurityStamp); err != nil {
					respond.Error(writer, request, err)
					return
				}
			}

			ctx := ctxutil.WithAuthUser(request.Context(), claims)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth blocks requests that are not authenticated.
//
// Must be registered in the router AFTER [Authenticate].
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if GetUser(request.Context()) == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequirePermission enforces the policy registered for name. It implies
// [RequireAuth].
//
// The policy is resolved when the route is built, so a route naming an
// unregistered permission panics at startup instead of failing open.
func RequirePermission(engine *permission.Engine, name string, observer DenialObserver) func(http.Handler) http.Handler {
	policy := engine.MustPolicy(name)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := GetUser(request.Context())
			if claims == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			if !policy.Satisfied(claims) {
				if observer != nil {
					observer.ObserveDenied(policy.Name)
				}
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// GetUser retrieves the verified claims, or nil for anonymous requests.
func GetUser(ctx context.Context) *sec.AuthClaims {
	return ctxutil.GetAuthUser(ctx)
}
