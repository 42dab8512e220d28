// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package billing

import (
	"math"

	"github.com/intelliscale/scalesim/pkg/model"
)

// Storage is billed monthly; hours prorate against a fixed-length month.
const hoursPerMonth = 730.0

// Rates is the subset of a pricing model the cost formula consumes.
type Rates struct {
	CPUPerHour        float64
	MemoryPerGBHour   float64
	StoragePerGBMonth float64
}

// Breakdown is one cost calculation, all figures rounded to 4 decimals.
type Breakdown struct {
	CPUCost     float64               `json:"cpu_cost"`
	MemoryCost  float64               `json:"memory_cost"`
	StorageCost float64               `json:"storage_cost"`
	TotalCost   float64               `json:"total_cost"`
	Provider    model.PricingProvider `json:"provider"`
}

// Cost prices a window of resource consumption. CPU and memory are hourly,
// storage prorates against the monthly rate.
func Cost(cpuCores, memoryGB, storageGB, hours float64, provider model.PricingProvider, r Rates) Breakdown {
	cpu := cpuCores * hours * r.CPUPerHour
	mem := memoryGB * hours * r.MemoryPerGBHour
	stor := storageGB * (hours / hoursPerMonth) * r.StoragePerGBMonth
	return Breakdown{
		CPUCost:     round4(cpu),
		MemoryCost:  round4(mem),
		StorageCost: round4(stor),
		TotalCost:   round4(cpu + mem + stor),
		Provider:    provider,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func ptr(v float64) *float64 { return &v }

// DefaultPricing returns the built-in rate table, used both to seed the
// store and as the fallback when a provider row is missing.
func DefaultPricing() []model.PricingModel {
	return []model.PricingModel{
		{
			Provider:             model.ProviderAWS,
			CPUPerHour:           0.05,
			MemoryPerGBHour:      0.01,
			StoragePerGBMonth:    0.08,
			StorageSSDPerGBMonth: ptr(0.08),
			StorageHDDPerGBMonth: ptr(0.045),
		},
		{
			Provider:             model.ProviderGCP,
			CPUPerHour:           0.0335,
			MemoryPerGBHour:      0.0045,
			StoragePerGBMonth:    0.10,
			StorageSSDPerGBMonth: ptr(0.17),
			StorageHDDPerGBMonth: ptr(0.04),
		},
		{
			Provider:             model.ProviderAzure,
			CPUPerHour:           0.048,
			MemoryPerGBHour:      0.0062,
			StoragePerGBMonth:    0.10,
			StorageSSDPerGBMonth: ptr(0.143),
			StorageHDDPerGBMonth: ptr(0.05),
		},
	}
}

func defaultRates(provider model.PricingProvider) Rates {
	for _, pm := range DefaultPricing() {
		if pm.Provider == provider {
			return Rates{
				CPUPerHour:        pm.CPUPerHour,
				MemoryPerGBHour:   pm.MemoryPerGBHour,
				StoragePerGBMonth: pm.StoragePerGBMonth,
			}
		}
	}
	return Rates{}
}
