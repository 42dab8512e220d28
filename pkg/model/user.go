// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package model defines the bun table models persisted by the store.
package model

import (
	"time"

	"github.com/uptrace/bun"
)

// UserRole classifies a user account.
type UserRole string

// User roles.
const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// Valid returns true for a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// CanReadAllContainers reports whether the role may list foreign containers.
func (r UserRole) CanReadAllContainers() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// User owns containers, scaling policies and load tests.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64    `bun:",pk,autoincrement" json:"id"`
	Name         string   `bun:"name,notnull" json:"name"`
	Email        string   `bun:"email,notnull,unique" json:"email"`
	PasswordHash string   `bun:"password_hash,notnull" json:"-"`
	Role         UserRole `bun:"role,notnull,default:'student'" json:"role"`
	Verified     bool     `bun:"is_verified,notnull,default:false" json:"verified"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
}
