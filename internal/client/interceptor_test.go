// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-iam/internal/client"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

// protectedServer accepts only the bearer token in valid.
type protectedServer struct {
	valid    atomic.Value
	requests atomic.Int32
	seen     atomic.Value
}

func newProtectedServer(t *testing.T, valid string) (*protectedServer, *httptest.Server) {
	t.Helper()
	state := &protectedServer{}
	state.valid.Store(valid)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state.requests.Add(1)
		state.seen.Store(r.Header.Get(constants.HeaderAuthorization))
		if r.Header.Get(constants.HeaderAuthorization) != "Bearer "+state.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return state, server
}

/*
TestInterceptor_RetriesOnceAfter401 replays the request body with a fresh
token after the server rejects the cached one.
*/
func TestInterceptor_RetriesOnceAfter401(t *testing.T) {
	state, server := newProtectedServer(t, "access-1")
	refresher := newFakeRefresher(false)
	tokens := newDistributor(refresher, 10*time.Minute)

	httpClient := &http.Client{Transport: client.NewInterceptor(nil, tokens)}
	request, err := http.NewRequest(http.MethodPost, server.URL+"/api/orders", strings.NewReader(`{"sku":"a-1"}`))
	require.NoError(t, err)

	response, err := httpClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, `{"sku":"a-1"}`, string(body))
	assert.EqualValues(t, 2, state.requests.Load())
	assert.EqualValues(t, 1, refresher.calls.Load())
	assert.Empty(t, request.Header.Get(constants.HeaderAuthorization))
}

/*
TestInterceptor_RefreshesWhenBodyCannotReplay returns the 401 of a
one-shot body but still replaces the rejected token for later requests.
*/
func TestInterceptor_RefreshesWhenBodyCannotReplay(t *testing.T) {
	state, server := newProtectedServer(t, "access-1")
	refresher := newFakeRefresher(false)
	tokens := newDistributor(refresher, 10*time.Minute)
	httpClient := &http.Client{Transport: client.NewInterceptor(nil, tokens)}

	request, err := http.NewRequest(http.MethodPost, server.URL+"/api/orders", io.NopCloser(strings.NewReader(`{"sku":"a-1"}`)))
	require.NoError(t, err)
	require.Nil(t, request.GetBody)

	response, err := httpClient.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.EqualValues(t, 1, refresher.calls.Load())

	response, err = httpClient.Get(server.URL + "/api/orders")
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "Bearer access-1", state.seen.Load())
	assert.EqualValues(t, 2, state.requests.Load())
	assert.EqualValues(t, 1, refresher.calls.Load())
}

/*
TestInterceptor_SurfacesSecond401 returns the replayed 401 to the caller.
*/
func TestInterceptor_SurfacesSecond401(t *testing.T) {
	state, server := newProtectedServer(t, "never-issued")
	refresher := newFakeRefresher(false)
	tokens := newDistributor(refresher, 10*time.Minute)

	httpClient := &http.Client{Transport: client.NewInterceptor(nil, tokens)}
	response, err := httpClient.Get(server.URL + "/api/orders")
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.EqualValues(t, 2, state.requests.Load())
	assert.EqualValues(t, 1, refresher.calls.Load())
}

/*
TestInterceptor_BypassesAuthEndpoints never attaches a bearer to login.
*/
func TestInterceptor_BypassesAuthEndpoints(t *testing.T) {
	state, server := newProtectedServer(t, "access-0")
	tokens := newDistributor(newFakeRefresher(false), 10*time.Minute)

	httpClient := &http.Client{Transport: client.NewInterceptor(nil, tokens)}
	response, err := httpClient.Post(server.URL+constants.PathLogin, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Empty(t, state.seen.Load())
}

/*
TestInterceptor_NoSession fails before any request is sent.
*/
func TestInterceptor_NoSession(t *testing.T) {
	state, server := newProtectedServer(t, "access-0")
	tokens := client.NewTokenDistributionService(newFakeRefresher(false), client.Config{}, nil)

	request, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/api/orders", nil)
	require.NoError(t, err)

	_, err = (&http.Client{Transport: client.NewInterceptor(nil, tokens)}).Do(request)
	assert.ErrorIs(t, err, client.ErrNoSession)
	assert.Zero(t, state.requests.Load())
}
