// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"
	"time"

	"github.com/intelliscale/scalesim/pkg/model"
)

// InsertUsage appends one resource usage sample.
func (s *Store) InsertUsage(ctx context.Context, u *model.ResourceUsage) error {
	_, err := s.db.NewInsert().Model(u).Exec(ctx)
	return err
}

// UsageWindow returns a container's samples inside [start, end], oldest
// first.
func (s *Store) UsageWindow(ctx context.Context, containerID int64, start, end time.Time) ([]model.ResourceUsage, error) {
	var out []model.ResourceUsage
	err := s.db.NewSelect().Model(&out).
		Where("ru.container_id = ?", containerID).
		Where("ru.timestamp >= ?", start).
		Where("ru.timestamp <= ?", end).
		Order("ru.timestamp ASC").
		Scan(ctx)
	return out, err
}

// SeedPricing inserts the given rate rows, skipping providers that already
// have one. Safe to run at every startup.
func (s *Store) SeedPricing(ctx context.Context, rates []model.PricingModel) error {
	for i := range rates {
		_, err := s.db.NewInsert().Model(&rates[i]).
			On("CONFLICT (provider_name) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// PricingFor returns one provider's rate table.
func (s *Store) PricingFor(ctx context.Context, provider model.PricingProvider) (*model.PricingModel, error) {
	pm := new(model.PricingModel)
	err := s.db.NewSelect().Model(pm).Where("pm.provider_name = ?", provider).Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "pricing model")
	}
	return pm, nil
}

// ListPricing returns every seeded rate table.
func (s *Store) ListPricing(ctx context.Context) ([]model.PricingModel, error) {
	var out []model.PricingModel
	err := s.db.NewSelect().Model(&out).Order("pm.provider_name ASC").Scan(ctx)
	return out, err
}

// InsertSnapshot stores a precomputed billing breakdown.
func (s *Store) InsertSnapshot(ctx context.Context, snap *model.BillingSnapshot) error {
	_, err := s.db.NewInsert().Model(snap).Exec(ctx)
	return err
}
