// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission

import (
	"errors"
	"fmt"

	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

// ErrForbidden is returned when the claim set lacks the required permission.
var ErrForbidden = errors.New("permission: forbidden")

// ClaimSet is anything that can answer claim membership queries.
// [sec.AuthClaims] is the production implementation.
type ClaimSet interface {
	HasClaim(claimType, value string) bool
}

// Policy is the requirement registered for one permission name.
type Policy struct {
	Name       string
	ClaimType  string
	ClaimValue string
}

// Satisfied reports whether claims meet the requirement. A nil claim set never does.
func (p Policy) Satisfied(claims ClaimSet) bool {
	if claims == nil {
		return false
	}
	return claims.HasClaim(p.ClaimType, p.ClaimValue)
}

// Engine evaluates authorization decisions against a fixed policy table.
//
// The table is built once by [NewEngine]; evaluation is a side-effect-free
// map lookup followed by a claim check.
type Engine struct {
	registry *Registry
	policies map[string]Policy
}

// NewEngine registers one policy per permission in the registry.
func NewEngine(registry *Registry) *Engine {
	policies := make(map[string]Policy, registry.Len())
	for _, name := range registry.Names() {
		policies[name] = Policy{
			Name:       name,
			ClaimType:  constants.PermissionClaimType,
			ClaimValue: name,
		}
	}
	return &Engine{registry: registry, policies: policies}
}

// Registry exposes the catalog the engine was built from.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Policy returns the registered policy for name.
func (e *Engine) Policy(name string) (Policy, error) {
	policy, ok := e.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPermission, name)
	}
	return policy, nil
}

// MustPolicy is [Engine.Policy] for route wiring, where an unknown name is a
// programming error that must stop the process at startup.
func (e *Engine) MustPolicy(name string) Policy {
	policy, err := e.Policy(name)
	if err != nil {
		panic(err)
	}
	return policy
}

// Authorize returns nil iff claims hold the permission claim for name.
//
// Unknown names fail closed with [ErrUnknownPermission]; missing claims fail
// with [ErrForbidden].
func (e *Engine) Authorize(claims ClaimSet, name string) error {
	policy, err := e.Policy(name)
	if err != nil {
		return err
	}
	if !policy.Satisfied(claims) {
		return ErrForbidden
	}
	return nil
}
