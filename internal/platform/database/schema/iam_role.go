// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

// IAMRoleTable represents the 'iam.role' table
type IAMRoleTable struct {
	Table       string
	Name        string
	Description string
}

// IAMRole is the schema definition for iam.role
var IAMRole = IAMRoleTable{
	Table:       "iam.role",
	Name:        "name",
	Description: "description",
}

// IAMRolePermissionTable represents the 'iam.rolepermission' table
type IAMRolePermissionTable struct {
	Table      string
	Role       string
	Permission string
}

// IAMRolePermission is the schema definition for iam.rolepermission
var IAMRolePermission = IAMRolePermissionTable{
	Table:      "iam.rolepermission",
	Role:       "role",
	Permission: "permission",
}

// IAMAccountRoleTable represents the 'iam.accountrole' table
type IAMAccountRoleTable struct {
	Table     string
	AccountID string
	Role      string
	GrantedAt string
}

// IAMAccountRole is the schema definition for iam.accountrole
var IAMAccountRole = IAMAccountRoleTable{
	Table:     "iam.accountrole",
	AccountID: "accountid",
	Role:      "role",
	GrantedAt: "grantedat",
}
