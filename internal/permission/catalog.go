// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission

// # Users

const (
	UsersView   = "Users.View"
	UsersCreate = "Users.Create"
	UsersEdit   = "Users.Edit"
	UsersDelete = "Users.Delete"
)

// # Roles

const (
	RolesView   = "Roles.View"
	RolesCreate = "Roles.Create"
	RolesEdit   = "Roles.Edit"
	RolesDelete = "Roles.Delete"
)

// # Settings

const (
	SettingsView = "Settings.View"
	SettingsEdit = "Settings.Edit"
)

// Catalog is the complete list of permissions the platform enforces.
// Adding a permission means adding a constant above and a line here.
var Catalog = []Permission{
	{Category: "Users", Name: UsersView, Description: "List and inspect user accounts"},
	{Category: "Users", Name: UsersCreate, Description: "Create user accounts"},
	{Category: "Users", Name: UsersEdit, Description: "Edit user accounts"},
	{Category: "Users", Name: UsersDelete, Description: "Delete user accounts"},

	{Category: "Roles", Name: RolesView, Description: "List roles and the permission catalog"},
	{Category: "Roles", Name: RolesCreate, Description: "Create roles"},
	{Category: "Roles", Name: RolesEdit, Description: "Change role memberships and grants"},
	{Category: "Roles", Name: RolesDelete, Description: "Delete roles"},

	{Category: "Settings", Name: SettingsView, Description: "Read platform settings"},
	{Category: "Settings", Name: SettingsEdit, Description: "Change platform settings"},
}

// Built-in role names.
const (
	RoleAdmin     = "Admin"
	RoleModerator = "Moderator"
	RoleMember    = "Member"
)

// DefaultRoles maps the built-in roles to their initial grants. The SQL
// migrations seed the same table.
var DefaultRoles = map[string][]string{
	RoleAdmin: {
		UsersView, UsersCreate, UsersEdit, UsersDelete,
		RolesView, RolesCreate, RolesEdit, RolesDelete,
		SettingsView, SettingsEdit,
	},
	RoleModerator: {UsersView, RolesView, SettingsView},
	RoleMember:    {},
}
