// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-iam/internal/auth"
	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
	"github.com/taibuivan/yomira-iam/internal/platform/middleware"
)

type envelope struct {
	Data    json.RawMessage     `json:"data"`
	Error   string              `json:"error"`
	Code    string              `json:"code"`
	Details []apperr.FieldError `json:"details"`
}

type apiHarness struct {
	*harness
	server *httptest.Server
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	return buildAPI(t, false)
}

// buildAPI mounts the handler; strict checks the live stamp per request.
func buildAPI(t *testing.T, strict bool) *apiHarness {
	t.Helper()
	h := newHarness(t, true)

	var checker middleware.StampChecker
	if strict {
		checker = h.service
	}

	router := chi.NewRouter()
	router.Use(middleware.Authenticate(h.signer, checker))
	router.Mount(constants.AuthRoutePrefix, auth.NewHandler(h.service, h.engine, nil).Routes())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiHarness{harness: h, server: server}
}

func (a *apiHarness) call(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, a.server.URL+constants.AuthRoutePrefix+path, reader)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set(constants.HeaderAuthorization, "Bearer "+token)
	}

	response, err := a.server.Client().Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	var decoded envelope
	if response.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(response.Body).Decode(&decoded))
	}
	return response.StatusCode, decoded
}

func (a *apiHarness) loginToken(t *testing.T, username string) auth.AuthResponse {
	t.Helper()
	status, body := a.call(t, http.MethodPost, "/login", "", map[string]any{"username": username, "password": "correct-horse"})
	require.Equal(t, http.StatusOK, status)

	var response auth.AuthResponse
	require.NoError(t, json.Unmarshal(body.Data, &response))
	return response
}

/*
TestHandler_Register covers the created and rejected paths.
*/
func TestHandler_Register(t *testing.T) {
	api := newAPI(t)

	status, body := api.call(t, http.MethodPost, "/register", "", map[string]any{
		"username":        "alice",
		"email":           "alice@example.com",
		"password":        "correct-horse",
		"confirmPassword": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, status)

	var response auth.AuthResponse
	require.NoError(t, json.Unmarshal(body.Data, &response))
	assert.Equal(t, "alice", response.Username)
	assert.NotEmpty(t, response.Token)
	assert.NotEmpty(t, response.RefreshToken)

	status, body = api.call(t, http.MethodPost, "/register", "", map[string]any{
		"username":        "bob",
		"email":           "bob@example.com",
		"password":        "correct-horse",
		"confirmPassword": "different-horse",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeValidation, body.Code)
	require.Len(t, body.Details, 1)
	assert.Equal(t, auth.FieldConfirmPassword, body.Details[0].Field)
}

/*
TestHandler_PermissionGates walks anonymous, member and admin callers
through the Users.View route.
*/
func TestHandler_PermissionGates(t *testing.T) {
	api := newAPI(t)
	api.createUser(t, "root", permission.RoleAdmin)
	api.createUser(t, "alice", permission.RoleMember)

	status, body := api.call(t, http.MethodGet, "/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperr.CodeUnauthorized, body.Code)

	status, body = api.call(t, http.MethodGet, "/users", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperr.CodeInvalidToken, body.Code)

	member := api.loginToken(t, "alice")
	status, body = api.call(t, http.MethodGet, "/users", member.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Insufficient permissions", body.Error)

	admin := api.loginToken(t, "root")
	status, body = api.call(t, http.MethodGet, "/users?limit=1", admin.Token, nil)
	require.Equal(t, http.StatusOK, status)

	var users []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &users))
	assert.Len(t, users, 1)
}

/*
TestHandler_RoleAssignmentRoundTrip grants a role over HTTP and observes
it after the member refreshes.
*/
func TestHandler_RoleAssignmentRoundTrip(t *testing.T) {
	api := newAPI(t)
	api.createUser(t, "root", permission.RoleAdmin)
	alice := api.createUser(t, "alice", permission.RoleMember)

	admin := api.loginToken(t, "root")
	member := api.loginToken(t, "alice")

	status, _ := api.call(t, http.MethodPut, "/users/"+alice.ID+"/roles/"+permission.RoleModerator, admin.Token, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = api.call(t, http.MethodGet, "/users", member.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := api.call(t, http.MethodPost, "/refresh", "", map[string]any{"refreshToken": member.RefreshToken})
	require.Equal(t, http.StatusOK, status)
	var refreshed auth.AuthResponse
	require.NoError(t, json.Unmarshal(body.Data, &refreshed))

	status, _ = api.call(t, http.MethodGet, "/users", refreshed.Token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = api.call(t, http.MethodPut, "/users/"+alice.ID+"/roles/Ghost", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.CodeNotFound, body.Code)

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		status, body = api.call(t, method, "/users/not-a-uuid/roles/"+permission.RoleModerator, admin.Token, nil)
		assert.Equal(t, http.StatusBadRequest, status, method)
		assert.Equal(t, apperr.CodeValidation, body.Code, method)
		require.NotEmpty(t, body.Details, method)
		assert.Equal(t, auth.FieldUserID, body.Details[0].Field, method)
	}
}

/*
TestHandler_SessionEndpoints covers me, security-stamp, sessions and
logout-all for an authenticated caller.
*/
func TestHandler_SessionEndpoints(t *testing.T) {
	api := newAPI(t)
	api.createUser(t, "root", permission.RoleAdmin)
	session := api.loginToken(t, "root")

	status, body := api.call(t, http.MethodGet, "/me", session.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var me struct {
		Username    string   `json:"username"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &me))
	assert.Equal(t, "root", me.Username)
	assert.Contains(t, me.Permissions, permission.RolesEdit)

	status, body = api.call(t, http.MethodGet, "/security-stamp", session.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var stamp string
	require.NoError(t, json.Unmarshal(body.Data, &stamp))
	assert.NotEmpty(t, stamp)

	status, body = api.call(t, http.MethodGet, "/sessions", session.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var sessions []auth.SessionView
	require.NoError(t, json.Unmarshal(body.Data, &sessions))
	assert.Len(t, sessions, 1)

	status, body = api.call(t, http.MethodPost, "/logout-all", session.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"revoked":1}`, string(body.Data))

	status, body = api.call(t, http.MethodPost, "/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperr.CodeStaleSecurityStamp, body.Code)
}

/*
TestHandler_RefreshAndLogout covers validation, logout and replay.
*/
func TestHandler_RefreshAndLogout(t *testing.T) {
	api := newAPI(t)
	api.createUser(t, "alice")
	session := api.loginToken(t, "alice")

	status, body := api.call(t, http.MethodPost, "/refresh", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeValidation, body.Code)

	status, _ = api.call(t, http.MethodPost, "/logout", "", map[string]any{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusNoContent, status)

	status, body = api.call(t, http.MethodPost, "/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperr.CodeInvalidToken, body.Code)
}

/*
TestHandler_Permissions lists the catalog grouped by category.
*/
func TestHandler_Permissions(t *testing.T) {
	api := newAPI(t)
	api.createUser(t, "mod", permission.RoleModerator)
	session := api.loginToken(t, "mod")

	status, body := api.call(t, http.MethodGet, "/permissions", session.Token, nil)
	require.Equal(t, http.StatusOK, status)

	var categories []permission.Category
	require.NoError(t, json.Unmarshal(body.Data, &categories))
	names := make([]string, 0, len(categories))
	for _, category := range categories {
		names = append(names, category.Name)
	}
	assert.ElementsMatch(t, []string{"Users", "Roles", "Settings"}, names)
}

/*
TestHandler_StrictStampValidation rejects an unexpired access token once
its owner has logged out everywhere, and accepts it in the default mode.
*/
func TestHandler_StrictStampValidation(t *testing.T) {
	tests := []struct {
		name       string
		strict     bool
		wantStatus int
	}{
		{"strict", true, http.StatusUnauthorized},
		{"cheap", false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := buildAPI(t, tt.strict)
			api.createUser(t, "alice")
			session := api.loginToken(t, "alice")

			status, _ := api.call(t, http.MethodGet, "/me", session.Token, nil)
			require.Equal(t, http.StatusOK, status)

			status, _ = api.call(t, http.MethodPost, "/logout-all", session.Token, nil)
			require.Equal(t, http.StatusOK, status)

			status, body := api.call(t, http.MethodGet, "/me", session.Token, nil)
			assert.Equal(t, tt.wantStatus, status)
			if tt.strict {
				assert.Equal(t, apperr.CodeStaleSecurityStamp, body.Code)
			}
		})
	}
}
