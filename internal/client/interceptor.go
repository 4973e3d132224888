// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"io"
	"net/http"

	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

// Interceptor attaches the session's bearer token to outbound requests.
//
// # Flow
//  1. Requests to login, register and refresh pass through untouched.
//  2. Other requests get a valid access token from the distributor.
//  3. A 401 triggers one forced refresh and one replay. A second 401 is
//     returned to the caller as is.
//
// Requests with a body are replayed only when GetBody is set, which
// [http.NewRequest] does for the common in-memory readers. A request that
// cannot be replayed still triggers the refresh; its 401 is returned.
type Interceptor struct {
	base   http.RoundTripper
	tokens *TokenDistributionService
}

var bypassPaths = map[string]struct{}{
	constants.PathLogin:    {},
	constants.PathRegister: {},
	constants.PathRefresh:  {},
}

// NewInterceptor wraps base. A nil base uses [http.DefaultTransport].
func NewInterceptor(base http.RoundTripper, tokens *TokenDistributionService) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Interceptor{base: base, tokens: tokens}
}

// RoundTrip implements [http.RoundTripper].
func (interceptor *Interceptor) RoundTrip(request *http.Request) (*http.Response, error) {
	if _, bypass := bypassPaths[request.URL.Path]; bypass {
		return interceptor.base.RoundTrip(request)
	}

	ctx := request.Context()

	token, err := interceptor.tokens.GetValidAccessToken(ctx)
	if err != nil {
		closeRequestBody(request)
		return nil, err
	}

	response, err := interceptor.base.RoundTrip(withBearer(request, token))
	if err != nil || response.StatusCode != http.StatusUnauthorized {
		return response, err
	}

	replay, ok := rewind(request)
	if !ok {
		// The next request carries the replacement.
		_, _ = interceptor.tokens.ForceRefresh(ctx, token)
		return response, nil
	}

	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()

	fresh, err := interceptor.tokens.ForceRefresh(ctx, token)
	if err != nil {
		closeRequestBody(replay)
		return nil, err
	}

	return interceptor.base.RoundTrip(withBearer(replay, fresh))
}

// withBearer returns a shallow clone of request carrying token. The
// caller's request is never modified.
func withBearer(request *http.Request, token string) *http.Request {
	clone := request.Clone(request.Context())
	clone.Header.Set(constants.HeaderAuthorization, constants.BearerScheme+" "+token)
	return clone
}

// rewind produces a copy of request with a fresh body for a replay.
func rewind(request *http.Request) (*http.Request, bool) {
	if request.Body == nil || request.Body == http.NoBody {
		return request, true
	}
	if request.GetBody == nil {
		return nil, false
	}

	body, err := request.GetBody()
	if err != nil {
		return nil, false
	}
	clone := request.Clone(request.Context())
	clone.Body = body
	return clone, true
}

func closeRequestBody(request *http.Request) {
	if request.Body != nil {
		_ = request.Body.Close()
	}
}
