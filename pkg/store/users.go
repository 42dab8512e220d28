// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
)

// CreateUser inserts a new account. Duplicate emails map to Conflict.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if _, err := s.db.NewInsert().Model(user).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return errs.NewConflict("an account with this email already exists")
		}
		return err
	}
	return nil
}

// UserByEmail returns the account for an email address.
func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	user := new(model.User)
	if err := s.db.NewSelect().Model(user).Where("email = ?", email).Scan(ctx); err != nil {
		return nil, mapNotFound(err, "user")
	}
	return user, nil
}

// UserByID returns the account for an id.
func (s *Store) UserByID(ctx context.Context, id int64) (*model.User, error) {
	user := new(model.User)
	if err := s.db.NewSelect().Model(user).Where("u.id = ?", id).Scan(ctx); err != nil {
		return nil, mapNotFound(err, "user")
	}
	return user, nil
}
