// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"

	"github.com/intelliscale/scalesim/pkg/model"
)

// CreateLoadTest inserts a test descriptor in the pending state.
func (s *Store) CreateLoadTest(ctx context.Context, t *model.LoadTest) error {
	_, err := s.db.NewInsert().Model(t).Exec(ctx)
	return err
}

// LoadTestByID returns a test regardless of owner; the engine's runner
// uses this.
func (s *Store) LoadTestByID(ctx context.Context, id int64) (*model.LoadTest, error) {
	t := new(model.LoadTest)
	if err := s.db.NewSelect().Model(t).Where("lt.id = ?", id).Scan(ctx); err != nil {
		return nil, mapNotFound(err, "load test")
	}
	return t, nil
}

// LoadTestOwnedBy returns the test only if it belongs to userID.
func (s *Store) LoadTestOwnedBy(ctx context.Context, id, userID int64) (*model.LoadTest, error) {
	t := new(model.LoadTest)
	err := s.db.NewSelect().Model(t).
		Where("lt.id = ?", id).
		Where("lt.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "load test")
	}
	return t, nil
}

// UpdateLoadTest persists the test's counters, aggregates and status.
func (s *Store) UpdateLoadTest(ctx context.Context, t *model.LoadTest) error {
	_, err := s.db.NewUpdate().Model(t).WherePK().Exec(ctx)
	return err
}

// ListLoadTests returns a user's tests, newest first, optionally filtered
// to one container.
func (s *Store) ListLoadTests(ctx context.Context, userID, containerID int64, limit int) ([]model.LoadTest, error) {
	var out []model.LoadTest
	q := s.db.NewSelect().Model(&out).Where("lt.user_id = ?", userID)
	if containerID != 0 {
		q = q.Where("lt.container_id = ?", containerID)
	}
	err := q.Order("lt.created_at DESC").Limit(limit).Scan(ctx)
	return out, err
}

// CountLoadTests returns the total matching the same filter as
// ListLoadTests.
func (s *Store) CountLoadTests(ctx context.Context, userID, containerID int64) (int, error) {
	q := s.db.NewSelect().Model((*model.LoadTest)(nil)).Where("user_id = ?", userID)
	if containerID != 0 {
		q = q.Where("container_id = ?", containerID)
	}
	return q.Count(ctx)
}

// InsertLoadTestMetric appends one immutable snapshot.
func (s *Store) InsertLoadTestMetric(ctx context.Context, m *model.LoadTestMetric) error {
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

// LatestLoadTestMetric returns the newest snapshot of a test, or NotFound
// when none was recorded yet.
func (s *Store) LatestLoadTestMetric(ctx context.Context, testID int64) (*model.LoadTestMetric, error) {
	m := new(model.LoadTestMetric)
	err := s.db.NewSelect().Model(m).
		Where("ltm.load_test_id = ?", testID).
		Order("ltm.timestamp DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "load test metric")
	}
	return m, nil
}

// ListLoadTestMetrics returns every snapshot of a test in order.
func (s *Store) ListLoadTestMetrics(ctx context.Context, testID int64) ([]model.LoadTestMetric, error) {
	var out []model.LoadTestMetric
	err := s.db.NewSelect().Model(&out).
		Where("ltm.load_test_id = ?", testID).
		Order("ltm.timestamp ASC").
		Scan(ctx)
	return out, err
}
