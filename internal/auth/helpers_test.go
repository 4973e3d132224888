// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-iam/internal/auth"
	"github.com/taibuivan/yomira-iam/internal/identity"
	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
)

var signingKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
})

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu      sync.Mutex
	logins  []string
	refresh []string
}

func (o *recordingObserver) ObserveLogin(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins = append(o.logins, outcome)
}

func (o *recordingObserver) ObserveRefresh(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refresh = append(o.refresh, outcome)
}

func (o *recordingObserver) refreshOutcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.refresh...)
}

type harness struct {
	service     *auth.Service
	credentials *identity.MemoryStore
	tokens      *auth.RedisTokenStore
	signer      *sec.TokenService
	engine      *permission.Engine
	clock       *testClock
	observer    *recordingObserver
}

func newHarness(t *testing.T, reuseRevokesLineage bool) *harness {
	t.Helper()

	registry := permission.MustRegistry(permission.Catalog)
	credentials, err := identity.NewMemoryStore(registry, permission.DefaultRoles, identity.DefaultLockoutPolicy)
	require.NoError(t, err)

	signer, err := sec.NewTokenServiceFromKey(signingKey(), "iam.test")
	require.NoError(t, err)

	clock := &testClock{now: time.Now()}
	tokens, _ := newRedisStore(t)
	tokens.SetClock(clock.Now)

	observer := &recordingObserver{}
	service := auth.NewService(credentials, tokens, signer, registry, auth.Options{
		ReuseRevokesLineage: reuseRevokesLineage,
		RegistrationRoles:   []string{permission.RoleMember},
		Observer:            observer,
		Clock:               clock.Now,
	})

	return &harness{
		service:     service,
		credentials: credentials,
		tokens:      tokens,
		signer:      signer,
		engine:      permission.NewEngine(registry),
		clock:       clock,
		observer:    observer,
	}
}

func (h *harness) createUser(t *testing.T, username string, roles ...string) *identity.Principal {
	t.Helper()
	principal, err := h.credentials.Create(context.Background(), identity.NewAccount{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse",
	}, roles)
	require.NoError(t, err)
	return principal
}

func (h *harness) login(t *testing.T, username string) *auth.AuthResponse {
	t.Helper()
	response, err := h.service.Login(context.Background(), auth.LoginInput{Username: username, Password: "correct-horse"})
	require.NoError(t, err)
	return response
}
