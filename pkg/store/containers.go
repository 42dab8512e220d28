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

const portRangeStart = 3000

// CreateContainer inserts a container row. Duplicate names (per owner) and
// taken ports map to Conflict; port conflicts are retryable by reallocating.
func (s *Store) CreateContainer(ctx context.Context, c *model.Container) error {
	if _, err := s.db.NewInsert().Model(c).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return errs.NewConflict("container name or port already in use")
		}
		return err
	}
	return nil
}

// ContainerByID returns a container regardless of owner. System loops use
// this; request paths go through ContainerOwnedBy.
func (s *Store) ContainerByID(ctx context.Context, id int64) (*model.Container, error) {
	c := new(model.Container)
	if err := s.db.NewSelect().Model(c).Where("c.id = ?", id).Scan(ctx); err != nil {
		return nil, mapNotFound(err, "container")
	}
	return c, nil
}

// ContainerOwnedBy returns the container only if it belongs to userID.
func (s *Store) ContainerOwnedBy(ctx context.Context, id, userID int64) (*model.Container, error) {
	c := new(model.Container)
	err := s.db.NewSelect().Model(c).
		Where("c.id = ?", id).
		Where("c.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "container")
	}
	return c, nil
}

// ListContainers returns a user's containers, newest first.
func (s *Store) ListContainers(ctx context.Context, userID int64) ([]model.Container, error) {
	var out []model.Container
	err := s.db.NewSelect().Model(&out).
		Where("c.user_id = ?", userID).
		Order("c.created_at DESC").
		Scan(ctx)
	return out, err
}

// ListAllContainers returns every container; reserved for teacher/admin
// reads.
func (s *Store) ListAllContainers(ctx context.Context) ([]model.Container, error) {
	var out []model.Container
	err := s.db.NewSelect().Model(&out).Order("c.created_at DESC").Scan(ctx)
	return out, err
}

// ListRunningWithHandles returns running containers the driver knows about.
// The billing harvester samples exactly this set.
func (s *Store) ListRunningWithHandles(ctx context.Context) ([]model.Container, error) {
	var out []model.Container
	err := s.db.NewSelect().Model(&out).
		Where("c.status = ?", model.ContainerRunning).
		Where("c.engine_handle IS NOT NULL").
		Scan(ctx)
	return out, err
}

// UpdateContainer persists all mutable container columns.
func (s *Store) UpdateContainer(ctx context.Context, c *model.Container) error {
	_, err := s.db.NewUpdate().Model(c).WherePK().Exec(ctx)
	return err
}

// DeleteContainer removes a container; replicas go with it through the
// parent_id cascade.
func (s *Store) DeleteContainer(ctx context.Context, id int64) error {
	_, err := s.db.NewDelete().Model((*model.Container)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// CountRunningReplicas counts the running parent plus its running children.
func (s *Store) CountRunningReplicas(ctx context.Context, containerID int64) (int, error) {
	children, err := s.db.NewSelect().Model((*model.Container)(nil)).
		Where("parent_id = ?", containerID).
		Where("status = ?", model.ContainerRunning).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	self, err := s.db.NewSelect().Model((*model.Container)(nil)).
		Where("id = ?", containerID).
		Where("status = ?", model.ContainerRunning).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	return children + self, nil
}

// NewestRunningReplica returns the most recently created running replica of
// a container, the one scale-down retires first.
func (s *Store) NewestRunningReplica(ctx context.Context, containerID int64) (*model.Container, error) {
	replica := new(model.Container)
	err := s.db.NewSelect().Model(replica).
		Where("c.parent_id = ?", containerID).
		Where("c.status = ?", model.ContainerRunning).
		Order("c.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "replica")
	}
	return replica, nil
}

// AllocatePort returns the lowest free port at or above the range start.
// Concurrent allocations can race; the unique index arbitrates and the
// loser retries with a fresh scan.
func (s *Store) AllocatePort(ctx context.Context) (int, error) {
	var taken []int
	err := s.db.NewSelect().Model((*model.Container)(nil)).
		Column("port").
		Where("port IS NOT NULL").
		Order("port ASC").
		Scan(ctx, &taken)
	if err != nil {
		return 0, err
	}
	return lowestFreePort(taken), nil
}

func lowestFreePort(taken []int) int {
	port := portRangeStart
	for _, t := range taken {
		if t < port {
			continue
		}
		if t > port {
			break
		}
		port++
	}
	return port
}
