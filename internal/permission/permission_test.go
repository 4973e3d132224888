// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
)

/*
TestCatalog_IsValid makes sure the shipped catalog and default roles load.
*/
func TestCatalog_IsValid(t *testing.T) {
	registry, err := permission.NewRegistry(permission.Catalog)
	require.NoError(t, err)
	assert.Equal(t, len(permission.Catalog), registry.Len())

	for role, grants := range permission.DefaultRoles {
		for _, name := range grants {
			assert.Truef(t, registry.Has(name), "role %s grants unknown %s", role, name)
		}
	}

	categories := registry.Categories()
	require.Len(t, categories, 3)
	assert.Equal(t, "Users", categories[0].Name)
	assert.Len(t, categories[0].Permissions, 4)
}

/*
TestNewRegistry_RejectsBadDeclarations covers the fail-fast rules.
*/
func TestNewRegistry_RejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name         string
		declarations []permission.Permission
	}{
		{"empty_name", []permission.Permission{{Category: "Users", Name: ""}}},
		{"no_action", []permission.Permission{{Category: "Users", Name: "Users."}}},
		{"no_dot", []permission.Permission{{Category: "Users", Name: "UsersView"}}},
		{"nested", []permission.Permission{{Category: "Users", Name: "Users.View.All"}}},
		{"wrong_category", []permission.Permission{{Category: "Roles", Name: "Users.View"}}},
		{"duplicate", []permission.Permission{
			{Category: "Users", Name: "Users.View"},
			{Category: "Users", Name: "Users.View"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := permission.NewRegistry(tt.declarations)
			assert.ErrorIs(t, err, permission.ErrInvalidPermission)
		})
	}
}

/*
TestRegistry_Filter drops unknown names and normalises the result.
*/
func TestRegistry_Filter(t *testing.T) {
	registry := permission.MustRegistry(permission.Catalog)

	known, unknown := registry.Filter([]string{
		permission.UsersView, "Billing.Refund", permission.RolesEdit, permission.UsersView,
	})

	assert.Equal(t, []string{permission.RolesEdit, permission.UsersView}, known)
	assert.Equal(t, []string{"Billing.Refund"}, unknown)
}

/*
TestEngine_Authorize evaluates the claim predicate.
*/
func TestEngine_Authorize(t *testing.T) {
	engine := permission.NewEngine(permission.MustRegistry(permission.Catalog))

	admin := &sec.AuthClaims{UserID: "u1", Permissions: []string{permission.UsersView}}
	member := &sec.AuthClaims{UserID: "u2", Roles: []string{permission.UsersView}}

	tests := []struct {
		name    string
		claims  permission.ClaimSet
		perm    string
		wantErr error
	}{
		{"granted", admin, permission.UsersView, nil},
		{"missing_claim", admin, permission.UsersDelete, permission.ErrForbidden},
		{"role_claim_is_not_permission", member, permission.UsersView, permission.ErrForbidden},
		{"nil_claims", nil, permission.UsersView, permission.ErrForbidden},
		{"unknown_permission", admin, "Users.Impersonate", permission.ErrUnknownPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Authorize(tt.claims, tt.perm)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

/*
TestEngine_MustPolicyPanicsOnUnknown guards route wiring.
*/
func TestEngine_MustPolicyPanicsOnUnknown(t *testing.T) {
	engine := permission.NewEngine(permission.MustRegistry(permission.Catalog))

	assert.NotPanics(t, func() { engine.MustPolicy(permission.RolesEdit) })
	assert.Panics(t, func() { engine.MustPolicy("Roles.Impersonate") })
}
