// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package permission owns the closed catalog of permission identifiers and the
policy engine that evaluates them.

Architecture:

  - Catalog: A declarative, statically compiled list of (category, name) pairs.
  - Registry: Built once at startup from the catalog; membership is closed.
  - Engine: One policy per registered name, requiring a claim of type
    "permission" whose value equals that name.

Evaluation never touches storage. Permission claims are resolved from roles
when a token is issued and travel inside the access token.
*/
package permission

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// # Errors

var (
	// ErrUnknownPermission is returned for names absent from the registry.
	ErrUnknownPermission = errors.New("permission: not registered")

	// ErrInvalidPermission is returned when a declaration is malformed.
	ErrInvalidPermission = errors.New("permission: invalid declaration")
)

// Permission is an immutable catalog entry. Name is globally unique and has
// the dotted "Category.Action" form.
type Permission struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Category groups the permissions that share a prefix.
type Category struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// Registry is the closed set of permissions known to the process.
//
// # Concurrency
//
// A Registry is never mutated after [NewRegistry] returns, so it is safe for
// concurrent use without locking.
type Registry struct {
	ordered []Permission
	byName  map[string]Permission
}

// NewRegistry validates the declarations and builds the registry.
//
// It rejects empty names, names whose prefix differs from their category,
// names without an action part, and duplicates.
func NewRegistry(declarations []Permission) (*Registry, error) {
	registry := &Registry{
		ordered: make([]Permission, 0, len(declarations)),
		byName:  make(map[string]Permission, len(declarations)),
	}

	for _, declared := range declarations {
		category, action, found := strings.Cut(declared.Name, ".")
		if !found || category == "" || action == "" || strings.Contains(action, ".") {
			return nil, fmt.Errorf("%w: %q must be Category.Action", ErrInvalidPermission, declared.Name)
		}
		if category != declared.Category {
			return nil, fmt.Errorf("%w: %q is not in category %q", ErrInvalidPermission, declared.Name, declared.Category)
		}
		if _, exists := registry.byName[declared.Name]; exists {
			return nil, fmt.Errorf("%w: %q declared twice", ErrInvalidPermission, declared.Name)
		}

		registry.byName[declared.Name] = declared
		registry.ordered = append(registry.ordered, declared)
	}

	return registry, nil
}

// MustRegistry is [NewRegistry] for static catalogs. It panics on a bad declaration.
func MustRegistry(declarations []Permission) *Registry {
	registry, err := NewRegistry(declarations)
	if err != nil {
		panic(err)
	}
	return registry
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Lookup returns the catalog entry for name.
func (r *Registry) Lookup(name string) (Permission, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Names returns every registered name in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, p := range r.ordered {
		names[i] = p.Name
	}
	return names
}

// Len returns the number of registered permissions.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Categories groups the catalog by category, preserving declaration order.
func (r *Registry) Categories() []Category {
	var categories []Category
	index := make(map[string]int)

	for _, p := range r.ordered {
		i, ok := index[p.Category]
		if !ok {
			i = len(categories)
			index[p.Category] = i
			categories = append(categories, Category{Name: p.Category})
		}
		categories[i].Permissions = append(categories[i].Permissions, p)
	}

	return categories
}

// Filter keeps the registered names of candidates, sorted and de-duplicated,
// and returns the unknown ones separately so callers can log them.
func (r *Registry) Filter(candidates []string) (known, unknown []string) {
	for _, name := range candidates {
		if r.Has(name) {
			known = append(known, name)
		} else {
			unknown = append(unknown, name)
		}
	}
	slices.Sort(known)
	return slices.Compact(known), unknown
}
