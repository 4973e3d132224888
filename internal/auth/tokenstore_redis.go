// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

// Hash fields of a refresh record.
const (
	fieldUserID     = "user_id"
	fieldFamilyID   = "family_id"
	fieldJWTID      = "jwt_id"
	fieldSecretHash = "secret_hash"
	fieldStamp      = "stamp"
	fieldRemember   = "remember"
	fieldExpiresAt  = "expires_at"
	fieldCreatedAt  = "created_at"
	fieldRevoked    = "revoked"
	fieldReplacedBy = "replaced_by"
)

// Status codes shared with the rotation script.
const (
	rotateStatusNotFound = 0
	rotateStatusExpired  = 1
	rotateStatusMismatch = 2
	rotateStatusRevoked  = 3
	rotateStatusRotated  = 4
)

// Index sets only ever have their TTL extended so they outlive every member.
const extendIndexLua = `
local function extend_index(key, member, ttl)
  redis.call("SADD", key, member)
  local current = redis.call("PTTL", key)
  if current < ttl then
    redis.call("PEXPIRE", key, ttl)
  end
end
`

// KEYS: record, user index, family index.
// ARGV: ttl ms, token id, field/value pairs...
const putScript = extendIndexLua + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[1])
redis.call("PEXPIRE", KEYS[1], ttl)
extend_index(KEYS[2], ARGV[2], ttl)
extend_index(KEYS[3], ARGV[2], ttl)
return 1
`

// KEYS: old record, new record, user index, family index.
// ARGV: presented secret hash, now ms, new token id, ttl ms, field/value pairs...
const rotateScript = extendIndexLua + `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local state = redis.call("HMGET", KEYS[1], "secret_hash", "revoked", "expires_at")
if state[1] ~= ARGV[1] then
  return 2
end
if state[2] == "1" then
  return 3
end
if tonumber(state[3]) <= tonumber(ARGV[2]) then
  return 1
end
redis.call("HSET", KEYS[1], "revoked", "1", "replaced_by", ARGV[3])
for i = 5, #ARGV, 2 do
  redis.call("HSET", KEYS[2], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[4])
redis.call("PEXPIRE", KEYS[2], ttl)
extend_index(KEYS[3], ARGV[3], ttl)
extend_index(KEYS[4], ARGV[3], ttl)
return 4
`

// KEYS: records to revoke.
const revokeScript = `
local revoked = 0
for i = 1, #KEYS do
  if redis.call("EXISTS", KEYS[i]) == 1 and redis.call("HGET", KEYS[i], "revoked") ~= "1" then
    redis.call("HSET", KEYS[i], "revoked", "1")
    revoked = revoked + 1
  end
end
return revoked
`

// KEYS: index set. ARGV: record key prefix.
// Members whose record already expired are pruned from the index.
const revokeIndexScript = `
local revoked = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 0 then
    redis.call("SREM", KEYS[1], id)
  elseif redis.call("HGET", key, "revoked") ~= "1" then
    redis.call("HSET", key, "revoked", "1")
    revoked = revoked + 1
  end
end
return revoked
`

var (
	putLua         = redis.NewScript(putScript)
	rotateLua      = redis.NewScript(rotateScript)
	revokeLua      = redis.NewScript(revokeScript)
	revokeIndexLua = redis.NewScript(revokeIndexScript)
)

// RedisTokenStore implements [TokenStore] on Redis.
//
// # Layout
//
//	auth:refresh:token:{tokenId}    hash, TTL = remaining validity + clock skew
//	auth:refresh:user:{userId}      set of token ids
//	auth:refresh:family:{familyId}  set of token ids
//
// Revoked records are kept until their TTL so a replayed token is still
// recognised as consumed. Every mutation runs as a single Lua script, so
// the store needs a single primary (standalone or Sentinel), not Cluster.
type RedisTokenStore struct {
	client    redis.UniversalClient
	clockSkew time.Duration
	now       func() time.Time
}

// NewRedisTokenStore creates a store. clockSkew is added to every record TTL.
func NewRedisTokenStore(client redis.UniversalClient, clockSkew time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, clockSkew: clockSkew, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (store *RedisTokenStore) SetClock(now func() time.Time) {
	store.now = now
}

func recordKey(tokenID string) string  { return constants.RedisPrefixRefreshToken + tokenID }
func userKey(userID string) string     { return constants.RedisPrefixRefreshUser + userID }
func familyKey(familyID string) string { return constants.RedisPrefixRefreshFamily + familyID }

// ttlFor returns the storage TTL for a record expiring at expiresAt.
func (store *RedisTokenStore) ttlFor(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(store.now()) + store.clockSkew
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

/*
Put stores a new record together with its user and family index entries.

Returns:
  - error: ErrRecordExists on id collision, or connectivity errors
*/
func (store *RedisTokenStore) Put(ctx context.Context, record *RefreshTokenRecord) error {
	args := []any{store.ttlFor(record.ExpiresAt).Milliseconds(), record.TokenID}
	args = append(args, encodeRecord(record)...)

	created, err := putLua.Run(ctx, store.client,
		[]string{recordKey(record.TokenID), userKey(record.UserID), familyKey(record.FamilyID)},
		args...,
	).Int()
	if err != nil {
		return fmt.Errorf("redis_refresh_put_failed: %w", err)
	}
	if created == 0 {
		return ErrRecordExists
	}
	return nil
}

// Get loads a record regardless of its state.
func (store *RedisTokenStore) Get(ctx context.Context, tokenID string) (*RefreshTokenRecord, error) {
	values, err := store.client.HGetAll(ctx, recordKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis_refresh_get_failed: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrRecordNotFound
	}

	record, err := decodeRecord(tokenID, values)
	if err != nil {
		return nil, fmt.Errorf("redis_refresh_decode_failed: %w", err)
	}
	return record, nil
}

// GetActive loads a record and rejects revoked or expired ones.
func (store *RedisTokenStore) GetActive(ctx context.Context, tokenID string) (*RefreshTokenRecord, error) {
	record, err := store.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if record.Revoked {
		return nil, ErrTokenRevoked
	}
	if !store.now().Before(record.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return record, nil
}

/*
Rotate atomically consumes oldTokenID and stores next.

Description: The script compares the presented secret hash, the revoked flag
and the expiry of the old record before writing anything, so a lost race
observes ErrTokenRevoked and leaves no trace.
*/
func (store *RedisTokenStore) Rotate(ctx context.Context, oldTokenID, secretHash string, next *RefreshTokenRecord) error {
	args := []any{
		secretHash,
		store.now().UnixMilli(),
		next.TokenID,
		store.ttlFor(next.ExpiresAt).Milliseconds(),
	}
	args = append(args, encodeRecord(next)...)

	status, err := rotateLua.Run(ctx, store.client,
		[]string{recordKey(oldTokenID), recordKey(next.TokenID), userKey(next.UserID), familyKey(next.FamilyID)},
		args...,
	).Int()
	if err != nil {
		return fmt.Errorf("redis_refresh_rotate_failed: %w", err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrRecordNotFound
	case rotateStatusExpired:
		return ErrTokenExpired
	case rotateStatusMismatch:
		return ErrTokenMismatch
	case rotateStatusRevoked:
		return ErrTokenRevoked
	default:
		return fmt.Errorf("redis_refresh_rotate_failed: unknown status %d", status)
	}
}

// Revoke marks one record revoked.
func (store *RedisTokenStore) Revoke(ctx context.Context, tokenID string) error {
	if err := revokeLua.Run(ctx, store.client, []string{recordKey(tokenID)}).Err(); err != nil {
		return fmt.Errorf("redis_refresh_revoke_failed: %w", err)
	}
	return nil
}

// RevokeFamily revokes a rotation lineage and returns how many records changed.
func (store *RedisTokenStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	return store.revokeIndex(ctx, familyKey(familyID))
}

// RevokeAllForUser revokes every record owned by userID.
func (store *RedisTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return store.revokeIndex(ctx, userKey(userID))
}

func (store *RedisTokenStore) revokeIndex(ctx context.Context, indexKey string) (int, error) {
	revoked, err := revokeIndexLua.Run(ctx, store.client, []string{indexKey}, constants.RedisPrefixRefreshToken).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis_refresh_revoke_index_failed: %w", err)
	}
	return revoked, nil
}

// ListActive returns the active records of a user, newest first.
func (store *RedisTokenStore) ListActive(ctx context.Context, userID string) ([]RefreshTokenRecord, error) {
	ids, err := store.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis_refresh_list_failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	commands := make([]*redis.MapStringStringCmd, len(ids))
	_, err = store.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			commands[i] = pipe.HGetAll(ctx, recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis_refresh_list_failed: %w", err)
	}

	now := store.now()
	active := make([]RefreshTokenRecord, 0, len(ids))
	for i, command := range commands {
		values := command.Val()
		if len(values) == 0 {
			continue
		}
		record, err := decodeRecord(ids[i], values)
		if err != nil {
			return nil, fmt.Errorf("redis_refresh_decode_failed: %w", err)
		}
		if record.Active(now) {
			active = append(active, *record)
		}
	}

	sortNewestFirst(active)
	return active, nil
}

func encodeRecord(record *RefreshTokenRecord) []any {
	return []any{
		fieldUserID, record.UserID,
		fieldFamilyID, record.FamilyID,
		fieldJWTID, record.JWTID,
		fieldSecretHash, record.SecretHash,
		fieldStamp, record.SecurityStamp,
		fieldRemember, boolFlag(record.RememberMe),
		fieldExpiresAt, record.ExpiresAt.UnixMilli(),
		fieldCreatedAt, record.CreatedAt.UnixMilli(),
		fieldRevoked, boolFlag(record.Revoked),
	}
}

func decodeRecord(tokenID string, values map[string]string) (*RefreshTokenRecord, error) {
	expiresAt, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldExpiresAt, err)
	}
	createdAt, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldCreatedAt, err)
	}

	return &RefreshTokenRecord{
		TokenID:       tokenID,
		FamilyID:      values[fieldFamilyID],
		UserID:        values[fieldUserID],
		JWTID:         values[fieldJWTID],
		SecretHash:    values[fieldSecretHash],
		SecurityStamp: values[fieldStamp],
		RememberMe:    values[fieldRemember] == "1",
		ExpiresAt:     time.UnixMilli(expiresAt),
		Revoked:       values[fieldRevoked] == "1",
		ReplacedBy:    values[fieldReplacedBy],
		CreatedAt:     time.UnixMilli(createdAt),
	}, nil
}

func sortNewestFirst(records []RefreshTokenRecord) {
	slices.SortFunc(records, func(a, b RefreshTokenRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func boolFlag(value bool) string {
	if value {
		return "1"
	}
	return "0"
}
