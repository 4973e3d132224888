// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package identity

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
	"github.com/taibuivan/yomira-iam/pkg/pagination"
	"github.com/taibuivan/yomira-iam/pkg/uuid"
)

type memoryAccount struct {
	principal      Principal
	normalizedName string
	normalizedMail string
	passwordHash   string
	failedAttempts int
	lockedUntil    time.Time
}

// MemoryStore is a process-local [CredentialStore].
//
// # Concurrency
//
// All methods are safe for concurrent use. State is lost on restart, so the
// store is meant for development and tests only.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memoryAccount
	byName   map[string]string
	byEmail  map[string]string
	roles    map[string][]string
	lockout  LockoutPolicy
	now      func() time.Time
}

// NewMemoryStore builds a store whose roles are defined by grants. Every
// granted permission must exist in registry.
func NewMemoryStore(registry *permission.Registry, grants map[string][]string, lockout LockoutPolicy) (*MemoryStore, error) {
	roles := make(map[string][]string, len(grants))
	for role, names := range grants {
		known, unknown := registry.Filter(names)
		if len(unknown) > 0 {
			return nil, fmt.Errorf("identity: role %q grants unregistered permissions %v", role, unknown)
		}
		roles[role] = known
	}

	if lockout.Threshold < 1 {
		lockout = DefaultLockoutPolicy
	}

	return &MemoryStore{
		accounts: make(map[string]*memoryAccount),
		byName:   make(map[string]string),
		byEmail:  make(map[string]string),
		roles:    roles,
		lockout:  lockout,
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (store *MemoryStore) SetClock(now func() time.Time) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.now = now
}

// Create implements [CredentialStore].
func (store *MemoryStore) Create(ctx context.Context, account NewAccount, roles []string) (*Principal, error) {
	normalizedName, err := NormalizeUsername(account.Username)
	if err != nil {
		return nil, apperr.ValidationError("Validation failed", apperr.FieldError{Field: "username", Message: "Contains disallowed characters"})
	}
	normalizedMail := NormalizeEmail(account.Email)

	hash, err := sec.HashPassword(account.Password)
	if err != nil {
		return nil, fmt.Errorf("memory_store_hash_failed: %w", err)
	}
	stamp, err := NewSecurityStamp()
	if err != nil {
		return nil, fmt.Errorf("memory_store_stamp_failed: %w", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if _, taken := store.byName[normalizedName]; taken {
		return nil, apperr.Conflict("Username is already taken")
	}
	if _, taken := store.byEmail[normalizedMail]; taken {
		return nil, apperr.Conflict("Email is already registered")
	}
	for _, role := range roles {
		if _, ok := store.roles[role]; !ok {
			return nil, apperr.NotFound("Role")
		}
	}

	entry := &memoryAccount{
		principal: Principal{
			ID:            uuid.New(),
			Username:      account.Username,
			Email:         account.Email,
			Roles:         sortedCopy(roles),
			SecurityStamp: stamp,
			CreatedAt:     store.now(),
		},
		normalizedName: normalizedName,
		normalizedMail: normalizedMail,
		passwordHash:   hash,
	}

	store.accounts[entry.principal.ID] = entry
	store.byName[normalizedName] = entry.principal.ID
	store.byEmail[normalizedMail] = entry.principal.ID

	return clonePrincipal(entry.principal), nil
}

// Verify implements [CredentialStore].
//
// The password comparison runs without holding the store lock. Counters are
// updated afterwards against the state at that point, so a lock set by a
// concurrent attempt still wins.
func (store *MemoryStore) Verify(ctx context.Context, username, password string) (*Principal, error) {
	normalizedName, err := NormalizeUsername(username)
	if err != nil {
		sec.BurnPasswordCheck(password)
		return nil, apperr.InvalidCredentials()
	}

	store.mu.RLock()
	id, ok := store.byName[normalizedName]
	var hash string
	var locked bool
	if ok {
		entry := store.accounts[id]
		hash = entry.passwordHash
		locked = store.now().Before(entry.lockedUntil)
	}
	store.mu.RUnlock()

	if !ok {
		sec.BurnPasswordCheck(password)
		return nil, apperr.InvalidCredentials()
	}
	if locked {
		return nil, apperr.AccountLocked()
	}

	matched := sec.CheckPasswordHash(password, hash)

	store.mu.Lock()
	defer store.mu.Unlock()

	entry := store.accounts[id]
	now := store.now()
	if now.Before(entry.lockedUntil) {
		return nil, apperr.AccountLocked()
	}

	// A password changed during the comparison invalidates a match.
	if !matched || entry.passwordHash != hash {
		entry.failedAttempts++
		if entry.failedAttempts >= store.lockout.Threshold {
			entry.failedAttempts = 0
			entry.lockedUntil = now.Add(store.lockout.Duration)
			return nil, apperr.AccountLocked()
		}
		return nil, apperr.InvalidCredentials()
	}

	entry.failedAttempts = 0
	entry.lockedUntil = time.Time{}
	return clonePrincipal(entry.principal), nil
}

// FindByID implements [CredentialStore].
func (store *MemoryStore) FindByID(ctx context.Context, userID string) (*Principal, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	entry, ok := store.accounts[userID]
	if !ok {
		return nil, apperr.NotFound("Account")
	}
	return clonePrincipal(entry.principal), nil
}

// GetRoles implements [CredentialStore].
func (store *MemoryStore) GetRoles(ctx context.Context, userID string) ([]string, error) {
	principal, err := store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return principal.Roles, nil
}

// GetSecurityStamp implements [CredentialStore].
func (store *MemoryStore) GetSecurityStamp(ctx context.Context, userID string) (string, error) {
	principal, err := store.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return principal.SecurityStamp, nil
}

// RolePermissions implements [CredentialStore].
func (store *MemoryStore) RolePermissions(ctx context.Context, roles []string) ([]string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var granted []string
	for _, role := range roles {
		granted = append(granted, store.roles[role]...)
	}
	slices.Sort(granted)
	return slices.Compact(granted), nil
}

// UpdatePassword implements [CredentialStore].
func (store *MemoryStore) UpdatePassword(ctx context.Context, userID, newPassword string) (string, error) {
	hash, err := sec.HashPassword(newPassword)
	if err != nil {
		return "", fmt.Errorf("memory_store_hash_failed: %w", err)
	}
	stamp, err := NewSecurityStamp()
	if err != nil {
		return "", fmt.Errorf("memory_store_stamp_failed: %w", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.accounts[userID]
	if !ok {
		return "", apperr.NotFound("Account")
	}
	entry.passwordHash = hash
	entry.principal.SecurityStamp = stamp
	return stamp, nil
}

// RotateSecurityStamp invalidates every token issued to userID without
// touching the password. Used for administrative session kills.
func (store *MemoryStore) RotateSecurityStamp(ctx context.Context, userID string) (string, error) {
	stamp, err := NewSecurityStamp()
	if err != nil {
		return "", fmt.Errorf("memory_store_stamp_failed: %w", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.accounts[userID]
	if !ok {
		return "", apperr.NotFound("Account")
	}
	entry.principal.SecurityStamp = stamp
	return stamp, nil
}

// AssignRole implements [CredentialStore].
func (store *MemoryStore) AssignRole(ctx context.Context, userID, role string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.accounts[userID]
	if !ok {
		return apperr.NotFound("Account")
	}
	if _, ok := store.roles[role]; !ok {
		return apperr.NotFound("Role")
	}
	if !slices.Contains(entry.principal.Roles, role) {
		entry.principal.Roles = sortedCopy(append(entry.principal.Roles, role))
	}
	return nil
}

// RevokeRole implements [CredentialStore].
func (store *MemoryStore) RevokeRole(ctx context.Context, userID, role string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.accounts[userID]
	if !ok {
		return apperr.NotFound("Account")
	}
	entry.principal.Roles = slices.DeleteFunc(entry.principal.Roles, func(r string) bool { return r == role })
	return nil
}

// List implements [CredentialStore]. Accounts are ordered by creation time.
func (store *MemoryStore) List(ctx context.Context, page pagination.Params) ([]Principal, int, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	all := make([]Principal, 0, len(store.accounts))
	for _, entry := range store.accounts {
		all = append(all, *clonePrincipal(entry.principal))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	start, end := page.Bounds(len(all))
	return all[start:end], len(all), nil
}

func clonePrincipal(p Principal) *Principal {
	p.Roles = slices.Clone(p.Roles)
	return &p
}

func sortedCopy(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
