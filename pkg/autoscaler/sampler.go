// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package autoscaler

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/model"
)

// MetricSampler yields one utilization sample per container. Injectable so
// tests pin deterministic values.
type MetricSampler interface {
	Sample(ctx context.Context, c *model.Container) (Metrics, error)
}

// Driver is the subset of the container driver the sampler needs.
type Driver interface {
	Stats(ctx context.Context, handle string) (docker.StatsSample, error)
}

// Simulated metric ranges. Wide enough that demo policies with low
// thresholds fire occasionally without a real workload.
const (
	simCPUMin = 3.0
	simCPUMax = 15.0
	simMemMin = 10.0
	simMemMax = 30.0
)

// driverSampler reads real stats through the driver and synthesizes
// metrics for containers the engine does not know about.
type driverSampler struct {
	driver Driver

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns the default metric sampler.
func NewSampler(driver Driver, seed int64) MetricSampler {
	return &driverSampler{
		driver: driver,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (ds *driverSampler) Sample(ctx context.Context, c *model.Container) (Metrics, error) {
	if c.Simulated() || c.EngineHandle == "" {
		return ds.simulate(), nil
	}
	sample, err := ds.driver.Stats(ctx, c.EngineHandle)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		CPUPercent:    sample.CPUPercent,
		MemoryPercent: sample.MemoryPercent,
	}, nil
}

func (ds *driverSampler) simulate() Metrics {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return Metrics{
		CPUPercent:    round2(simCPUMin + ds.rng.Float64()*(simCPUMax-simCPUMin)),
		MemoryPercent: round2(simMemMin + ds.rng.Float64()*(simMemMax-simMemMin)),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
