// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-iam/internal/auth"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRedisStore(t *testing.T) (*auth.RedisTokenStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := auth.NewRedisTokenStore(client, time.Minute)
	store.SetClock(func() time.Time { return fixedNow })
	return store, server
}

func newRecord(tokenID, familyID, userID string, ttl time.Duration) *auth.RefreshTokenRecord {
	return &auth.RefreshTokenRecord{
		TokenID:       tokenID,
		FamilyID:      familyID,
		UserID:        userID,
		JWTID:         "jti-" + tokenID,
		SecretHash:    "hash-" + tokenID,
		SecurityStamp: "stamp",
		ExpiresAt:     fixedNow.Add(ttl),
		CreatedAt:     fixedNow,
	}
}

/*
TestRedisTokenStore_PutGet covers storage, TTL and id collisions.
*/
func TestRedisTokenStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)

	record := newRecord("t1", "f1", "u1", time.Hour)
	record.RememberMe = true
	require.NoError(t, store.Put(ctx, record))
	assert.ErrorIs(t, store.Put(ctx, record), auth.ErrRecordExists)

	loaded, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "f1", loaded.FamilyID)
	assert.Equal(t, "u1", loaded.UserID)
	assert.Equal(t, "hash-t1", loaded.SecretHash)
	assert.True(t, loaded.RememberMe)
	assert.False(t, loaded.Revoked)
	assert.True(t, loaded.ExpiresAt.Equal(record.ExpiresAt))

	assert.Equal(t, time.Hour+time.Minute, server.TTL(constants.RedisPrefixRefreshToken+"t1"))

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrRecordNotFound)

	// Index sets live outside the record namespace.
	for _, indexID := range []string{"user:u1", "family:f1"} {
		_, err = store.Get(ctx, indexID)
		assert.ErrorIs(t, err, auth.ErrRecordNotFound, indexID)
	}
}

/*
TestRedisTokenStore_IndexTTLOnlyGrows ensures a shorter record never shortens
the index sets.
*/
func TestRedisTokenStore_IndexTTLOnlyGrows(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)

	require.NoError(t, store.Put(ctx, newRecord("long", "f1", "u1", time.Hour)))
	require.NoError(t, store.Put(ctx, newRecord("short", "f2", "u1", 10*time.Minute)))

	assert.Equal(t, time.Hour+time.Minute, server.TTL(constants.RedisPrefixRefreshUser+"u1"))
	assert.Equal(t, 11*time.Minute, server.TTL(constants.RedisPrefixRefreshFamily+"f2"))
}

/*
TestRedisTokenStore_Rotate checks every precondition of the atomic swap.
*/
func TestRedisTokenStore_Rotate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(store *auth.RedisTokenStore)
		hash    string
		wantErr error
	}{
		{"rotated", func(*auth.RedisTokenStore) {}, "hash-old", nil},
		{"mismatch", func(*auth.RedisTokenStore) {}, "hash-other", auth.ErrTokenMismatch},
		{"revoked", func(store *auth.RedisTokenStore) { require.NoError(t, store.Revoke(ctx, "old")) }, "hash-old", auth.ErrTokenRevoked},
		{"expired", func(store *auth.RedisTokenStore) {
			store.SetClock(func() time.Time { return fixedNow.Add(2 * time.Hour) })
		}, "hash-old", auth.ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newRedisStore(t)
			require.NoError(t, store.Put(ctx, newRecord("old", "f1", "u1", time.Hour)))
			tt.prepare(store)

			err := store.Rotate(ctx, "old", tt.hash, newRecord("new", "f1", "u1", 3*time.Hour))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				_, getErr := store.Get(ctx, "new")
				assert.ErrorIs(t, getErr, auth.ErrRecordNotFound)
				return
			}

			require.NoError(t, err)
			old, err := store.Get(ctx, "old")
			require.NoError(t, err)
			assert.True(t, old.Revoked)
			assert.Equal(t, "new", old.ReplacedBy)

			next, err := store.GetActive(ctx, "new")
			require.NoError(t, err)
			assert.Equal(t, "f1", next.FamilyID)
		})
	}

	t.Run("not_found", func(t *testing.T) {
		store, _ := newRedisStore(t)
		err := store.Rotate(ctx, "ghost", "hash-ghost", newRecord("new", "f1", "u1", time.Hour))
		assert.ErrorIs(t, err, auth.ErrRecordNotFound)
	})
}

/*
TestRedisTokenStore_RotateSingleWinner races many rotations of one record.
*/
func TestRedisTokenStore_RotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	require.NoError(t, store.Put(ctx, newRecord("old", "f1", "u1", time.Hour)))

	const contenders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	for i := range contenders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Rotate(ctx, "old", "hash-old", newRecord(fmt.Sprintf("next-%d", i), "f1", "u1", time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, auth.ErrTokenRevoked):
				revoked++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, revoked)

	active, err := store.ListActive(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

/*
TestRedisTokenStore_RevokeIndexes covers family and user wide revocation.
*/
func TestRedisTokenStore_RevokeIndexes(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)

	require.NoError(t, store.Put(ctx, newRecord("a1", "fa", "u1", time.Hour)))
	require.NoError(t, store.Put(ctx, newRecord("a2", "fa", "u1", time.Hour)))
	require.NoError(t, store.Put(ctx, newRecord("b1", "fb", "u1", time.Hour)))
	require.NoError(t, store.Put(ctx, newRecord("c1", "fc", "u2", time.Hour)))

	revoked, err := store.RevokeFamily(ctx, "fa")
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	revoked, err = store.RevokeFamily(ctx, "fa")
	require.NoError(t, err)
	assert.Zero(t, revoked)

	// A record evicted from Redis is pruned from its index.
	server.Del(constants.RedisPrefixRefreshToken + "b1")
	revoked, err = store.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, revoked)
	assert.Equal(t, []string{"a1", "a2"}, mustMembers(t, server, constants.RedisPrefixRefreshUser+"u1"))

	_, err = store.GetActive(ctx, "a1")
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	active, err := store.GetActive(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u2", active.UserID)

	revoked, err = store.RevokeAllForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, revoked)
}

func mustMembers(t *testing.T, server *miniredis.Miniredis, key string) []string {
	t.Helper()
	members, err := server.Members(key)
	require.NoError(t, err)
	return members
}

/*
TestRedisTokenStore_ListActive returns only live records, newest first.
*/
func TestRedisTokenStore_ListActive(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	older := newRecord("older", "f1", "u1", time.Hour)
	older.CreatedAt = fixedNow.Add(-time.Hour)
	require.NoError(t, store.Put(ctx, older))
	require.NoError(t, store.Put(ctx, newRecord("newer", "f2", "u1", time.Hour)))
	require.NoError(t, store.Put(ctx, newRecord("gone", "f3", "u1", time.Hour)))
	require.NoError(t, store.Revoke(ctx, "gone"))

	active, err := store.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "newer", active[0].TokenID)
	assert.Equal(t, "older", active[1].TokenID)

	empty, err := store.ListActive(ctx, "u9")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
