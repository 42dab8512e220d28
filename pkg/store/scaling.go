// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
)

// CreatePolicy inserts a scaling policy. The unique index on container_id
// backs the one-policy-per-container rule.
func (s *Store) CreatePolicy(ctx context.Context, p *model.ScalingPolicy) error {
	if _, err := s.db.NewInsert().Model(p).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return errs.NewInvalidInput("a policy already exists for this container")
		}
		return err
	}
	return nil
}

// PolicyOwnedBy returns the policy only if it belongs to userID.
func (s *Store) PolicyOwnedBy(ctx context.Context, id, userID int64) (*model.ScalingPolicy, error) {
	p := new(model.ScalingPolicy)
	err := s.db.NewSelect().Model(p).
		Where("sp.id = ?", id).
		Where("sp.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "policy")
	}
	return p, nil
}

// ListPolicies returns a user's policies.
func (s *Store) ListPolicies(ctx context.Context, userID int64) ([]model.ScalingPolicy, error) {
	var out []model.ScalingPolicy
	err := s.db.NewSelect().Model(&out).
		Where("sp.user_id = ?", userID).
		Order("sp.created_at DESC").
		Scan(ctx)
	return out, err
}

// ListEnabledPolicies returns every enabled policy; this is the autoscaler
// tick's work list.
func (s *Store) ListEnabledPolicies(ctx context.Context) ([]model.ScalingPolicy, error) {
	var out []model.ScalingPolicy
	err := s.db.NewSelect().Model(&out).
		Where("sp.enabled").
		Order("sp.id ASC").
		Scan(ctx)
	return out, err
}

// ListEnabledPoliciesOwnedBy returns one user's enabled policies; manual
// evaluation triggers use this.
func (s *Store) ListEnabledPoliciesOwnedBy(ctx context.Context, userID int64) ([]model.ScalingPolicy, error) {
	var out []model.ScalingPolicy
	err := s.db.NewSelect().Model(&out).
		Where("sp.enabled").
		Where("sp.user_id = ?", userID).
		Order("sp.id ASC").
		Scan(ctx)
	return out, err
}

// UpdatePolicy persists all mutable policy columns and stamps updated_at.
func (s *Store) UpdatePolicy(ctx context.Context, p *model.ScalingPolicy) error {
	now := time.Now().UTC()
	p.UpdatedAt = &now
	_, err := s.db.NewUpdate().Model(p).WherePK().Exec(ctx)
	return err
}

// DeletePolicy removes a policy; its events cascade.
func (s *Store) DeletePolicy(ctx context.Context, id int64) error {
	_, err := s.db.NewDelete().Model((*model.ScalingPolicy)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// ListEvents returns the newest scaling events for a user's policies,
// optionally filtered to one container.
func (s *Store) ListEvents(ctx context.Context, userID int64, containerID int64, limit int) ([]model.ScalingEvent, error) {
	var out []model.ScalingEvent
	q := s.db.NewSelect().Model(&out).
		Join("JOIN scaling_policies AS sp ON sp.id = se.policy_id").
		Where("sp.user_id = ?", userID)
	if containerID != 0 {
		q = q.Where("se.container_id = ?", containerID)
	}
	err := q.Order("se.created_at DESC").Limit(limit).Scan(ctx)
	return out, err
}

// ApplyScaleUp atomically inserts the replica row, appends the audit event
// and stamps the policy. Either all three writes land or none do.
func (s *Store) ApplyScaleUp(ctx context.Context, policy *model.ScalingPolicy, replica *model.Container, event *model.ScalingEvent) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		if _, err := tx.NewInsert().Model(replica).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return errs.NewConflict("replica name or port already in use")
			}
			return err
		}
		event.CreatedAt = time.Now().UTC()
		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return err
		}
		return stampPolicy(ctx, tx, policy)
	})
}

// ApplyScaleDown atomically stops the chosen replica, appends the audit
// event and stamps the policy.
func (s *Store) ApplyScaleDown(ctx context.Context, policy *model.ScalingPolicy, replica *model.Container, event *model.ScalingEvent) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		now := time.Now().UTC()
		_, err := tx.NewUpdate().Model((*model.Container)(nil)).
			Set("status = ?", model.ContainerStopped).
			Set("stopped_at = ?", now).
			Where("id = ?", replica.ID).
			Exec(ctx)
		if err != nil {
			return err
		}
		event.CreatedAt = now
		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return err
		}
		return stampPolicy(ctx, tx, policy)
	})
}

func stampPolicy(ctx context.Context, tx bun.IDB, policy *model.ScalingPolicy) error {
	now := time.Now().UTC()
	policy.LastScaledAt = &now
	_, err := tx.NewUpdate().Model((*model.ScalingPolicy)(nil)).
		Set("last_scaled_at = ?", now).
		Where("id = ?", policy.ID).
		Exec(ctx)
	return err
}
