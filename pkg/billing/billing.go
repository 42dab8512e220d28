// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package billing harvests per-container resource usage and prices it
// against simulated cloud provider rate tables.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

const defaultInterval = 60 * time.Second

// Store is the persistence surface the engine needs.
type Store interface {
	ListRunningWithHandles(ctx context.Context) ([]model.Container, error)
	InsertUsage(ctx context.Context, u *model.ResourceUsage) error
	UsageWindow(ctx context.Context, containerID int64, start, end time.Time) ([]model.ResourceUsage, error)
	PricingFor(ctx context.Context, provider model.PricingProvider) (*model.PricingModel, error)
	SeedPricing(ctx context.Context, rates []model.PricingModel) error
	InsertSnapshot(ctx context.Context, snap *model.BillingSnapshot) error
	Close() error
}

// OpenStore opens a fresh store session for one tick or request.
type OpenStore func(ctx context.Context) (Store, error)

// StatsSource samples live container stats.
type StatsSource interface {
	Stats(ctx context.Context, handle string) (docker.StatsSample, error)
}

// Engine is the billing harvester plus the cost calculators behind the
// billing API.
type Engine struct {
	open     OpenStore
	driver   StatsSource
	clock    clock.Clock
	interval time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithInterval overrides the harvest interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// New returns an Engine.
func New(open OpenStore, driver StatsSource, opts ...Option) *Engine {
	e := &Engine{
		open:     open,
		driver:   driver,
		clock:    clock.New(),
		interval: defaultInterval,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Seed inserts the default rate tables for providers that have none.
// Idempotent; runs at every process start.
func (e *Engine) Seed(ctx context.Context) error {
	s, err := e.open(ctx)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer s.Close()
	if err := s.SeedPricing(ctx, DefaultPricing()); err != nil {
		return errors.Wrap(err, "seed pricing")
	}
	log.Info("Pricing models seeded")
	return nil
}

// Run harvests usage samples every interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	log.Infof("Billing harvester started, sampling every %s", e.interval)
	ticker := e.clock.Ticker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Billing harvester stopped")
			return
		case <-ticker.C:
			if err := e.Harvest(ctx); err != nil {
				log.Warnf("Billing harvest: %v", err)
			}
		}
	}
}

// Harvest samples every running container with an engine handle once and
// persists one usage row each. Per-container failures are collected, never
// fatal.
func (e *Engine) Harvest(ctx context.Context) error {
	s, err := e.open(ctx)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer s.Close()

	containers, err := s.ListRunningWithHandles(ctx)
	if err != nil {
		return errors.Wrap(err, "list containers")
	}

	var errl *multierror.Error
	now := e.clock.Now().UTC()
	for i := range containers {
		c := &containers[i]
		sample, err := e.driver.Stats(ctx, c.EngineHandle)
		if err != nil {
			errl = multierror.Append(errl, errors.Wrapf(err, "container %d", c.ID))
			continue
		}
		usage := usageFromSample(c, sample, now)
		if err := s.InsertUsage(ctx, usage); err != nil {
			errl = multierror.Append(errl, errors.Wrapf(err, "container %d", c.ID))
		}
	}
	return errl.ErrorOrNil()
}

// usageFromSample converts one stats snapshot into a usage row. Storage is
// approximated from the container's memory limit, as the platform has no
// volume accounting.
func usageFromSample(c *model.Container, sample docker.StatsSample, now time.Time) *model.ResourceUsage {
	return &model.ResourceUsage{
		ContainerID:    c.ID,
		Timestamp:      now,
		CPUPercent:     sample.CPUPercent,
		CPUCoresUsed:   sample.CPUPercent / 100.0,
		MemoryMB:       sample.MemoryUsageMB,
		MemoryGB:       sample.MemoryUsageMB / 1024.0,
		StorageGB:      float64(c.MemoryLimit) / 1024.0,
		NetworkRxBytes: sample.NetworkRxBytes,
		NetworkTxBytes: sample.NetworkTxBytes,
	}
}

// TimeRange bounds one billing window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Hours float64   `json:"hours"`
}

// AverageUsage is the window's mean consumption.
type AverageUsage struct {
	CPUCores  float64 `json:"cpu_cores"`
	MemoryGB  float64 `json:"memory_gb"`
	StorageGB float64 `json:"storage_gb"`
}

// RealTimeBill is the response of a real-time billing calculation.
type RealTimeBill struct {
	ContainerID  int64                 `json:"container_id"`
	TimeRange    TimeRange             `json:"time_range"`
	AverageUsage AverageUsage          `json:"average_usage"`
	Costs        Breakdown             `json:"costs"`
	UsageHistory []model.ResourceUsage `json:"usage_history"`
}

// CalculateRealTime prices a container's recent usage window. NotFound when
// the window holds zero samples.
func (e *Engine) CalculateRealTime(ctx context.Context, containerID int64, hoursBack float64, provider model.PricingProvider) (*RealTimeBill, error) {
	s, err := e.open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	defer s.Close()
	return e.realTime(ctx, s, containerID, hoursBack, provider)
}

func (e *Engine) realTime(ctx context.Context, s Store, containerID int64, hoursBack float64, provider model.PricingProvider) (*RealTimeBill, error) {
	end := e.clock.Now().UTC()
	start := end.Add(-time.Duration(hoursBack * float64(time.Hour)))

	usage, err := s.UsageWindow(ctx, containerID, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "usage window")
	}
	if len(usage) == 0 {
		return nil, errs.NewNotFound("usage data for this time period")
	}

	var sumCores, sumMemGB float64
	for _, u := range usage {
		sumCores += u.CPUCoresUsed
		sumMemGB += u.MemoryGB
	}
	avgCores := sumCores / float64(len(usage))
	avgMemGB := sumMemGB / float64(len(usage))
	storageGB := usage[len(usage)-1].StorageGB

	rates := e.rates(ctx, s, provider)
	return &RealTimeBill{
		ContainerID: containerID,
		TimeRange:   TimeRange{Start: start, End: end, Hours: hoursBack},
		AverageUsage: AverageUsage{
			CPUCores:  round4(avgCores),
			MemoryGB:  round4(avgMemGB),
			StorageGB: round4(storageGB),
		},
		Costs:        Cost(avgCores, avgMemGB, storageGB, hoursBack, provider, rates),
		UsageHistory: usage,
	}, nil
}

// Snapshot prices a window and persists the breakdown.
func (e *Engine) Snapshot(ctx context.Context, containerID int64, start, end time.Time, provider model.PricingProvider) (*model.BillingSnapshot, error) {
	s, err := e.open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	defer s.Close()

	hours := end.Sub(start).Hours()
	bill, err := e.realTime(ctx, s, containerID, hours, provider)
	if err != nil {
		return nil, err
	}
	snap := &model.BillingSnapshot{
		ContainerID: containerID,
		Provider:    provider,
		StartTime:   start,
		EndTime:     end,
		CPUCost:     bill.Costs.CPUCost,
		MemoryCost:  bill.Costs.MemoryCost,
		StorageCost: bill.Costs.StorageCost,
		TotalCost:   bill.Costs.TotalCost,
	}
	if err := s.InsertSnapshot(ctx, snap); err != nil {
		return nil, errors.Wrap(err, "insert snapshot")
	}
	return snap, nil
}

// ScenarioInput is a hypothetical resource configuration to price.
type ScenarioInput struct {
	CPUCores      float64               `json:"cpu_cores"`
	MemoryGB      float64               `json:"memory_gb"`
	StorageGB     float64               `json:"storage_gb"`
	DurationHours float64               `json:"duration_hours"`
	Provider      model.PricingProvider `json:"provider"`
}

// ScenarioLine is one printable row of a scenario breakdown.
type ScenarioLine struct {
	Usage string  `json:"usage"`
	Rate  string  `json:"rate"`
	Cost  float64 `json:"cost"`
}

// ScenarioResult is the response of a scenario simulation.
type ScenarioResult struct {
	Scenario ScenarioInput `json:"scenario"`
	Costs    Breakdown     `json:"costs"`
	CPU      ScenarioLine  `json:"cpu"`
	Memory   ScenarioLine  `json:"memory"`
	Storage  ScenarioLine  `json:"storage"`
}

// SimulateScenario prices a hypothetical configuration. Stateless apart
// from the rate lookup.
func (e *Engine) SimulateScenario(ctx context.Context, in ScenarioInput) (*ScenarioResult, error) {
	s, err := e.open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	defer s.Close()

	rates := e.rates(ctx, s, in.Provider)
	return buildScenario(in, rates), nil
}

func buildScenario(in ScenarioInput, rates Rates) *ScenarioResult {
	costs := Cost(in.CPUCores, in.MemoryGB, in.StorageGB, in.DurationHours, in.Provider, rates)
	return &ScenarioResult{
		Scenario: in,
		Costs:    costs,
		CPU: ScenarioLine{
			Usage: fmt.Sprintf("%g cores x %g hours", in.CPUCores, in.DurationHours),
			Rate:  fmt.Sprintf("$%g/hour per core", rates.CPUPerHour),
			Cost:  costs.CPUCost,
		},
		Memory: ScenarioLine{
			Usage: fmt.Sprintf("%g GB x %g hours", in.MemoryGB, in.DurationHours),
			Rate:  fmt.Sprintf("$%g/hour per GB", rates.MemoryPerGBHour),
			Cost:  costs.MemoryCost,
		},
		Storage: ScenarioLine{
			Usage: fmt.Sprintf("%g GB x %.2f months", in.StorageGB, in.DurationHours/hoursPerMonth),
			Rate:  fmt.Sprintf("$%g/month per GB", rates.StoragePerGBMonth),
			Cost:  costs.StorageCost,
		},
	}
}

// rates reads a provider's stored rate table, falling back to the built-in
// defaults when the row is missing.
func (e *Engine) rates(ctx context.Context, s Store, provider model.PricingProvider) Rates {
	pm, err := s.PricingFor(ctx, provider)
	if err != nil {
		if !errs.IsNotFound(err) {
			log.Warnf("Pricing lookup for %s failed, using defaults: %v", provider, err)
		}
		return defaultRates(provider)
	}
	return Rates{
		CPUPerHour:        pm.CPUPerHour,
		MemoryPerGBHour:   pm.MemoryPerGBHour,
		StoragePerGBMonth: pm.StoragePerGBMonth,
	}
}
