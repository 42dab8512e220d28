// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

import (
	"time"

	"github.com/uptrace/bun"
)

// PricingProvider enumerates the cloud providers with a seeded rate table.
type PricingProvider string

// Providers.
const (
	ProviderAWS   PricingProvider = "aws"
	ProviderGCP   PricingProvider = "gcp"
	ProviderAzure PricingProvider = "azure"
)

// AllProviders lists every provider, in seeding order.
var AllProviders = []PricingProvider{ProviderAWS, ProviderGCP, ProviderAzure}

// Valid returns true for a known provider.
func (p PricingProvider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return true
	}
	return false
}

// ResourceUsage is one sample of a container's resource time series,
// harvested by the billing loop.
type ResourceUsage struct {
	bun.BaseModel `bun:"table:resource_usage,alias:ru"`

	ID          int64     `bun:",pk,autoincrement" json:"id"`
	ContainerID int64     `bun:"container_id,notnull" json:"container_id"`
	Timestamp   time.Time `bun:"timestamp,notnull" json:"timestamp"`

	CPUPercent   float64 `bun:"cpu_percent,notnull" json:"cpu_percent"`
	CPUCoresUsed float64 `bun:"cpu_cores_used,notnull,default:0" json:"cpu_cores_used"`
	MemoryMB     float64 `bun:"memory_mb,notnull" json:"memory_mb"`
	MemoryGB     float64 `bun:"memory_gb,notnull,default:0" json:"memory_gb"`
	StorageGB    float64 `bun:"storage_gb,notnull,default:0" json:"storage_gb"`

	NetworkRxBytes int64 `bun:"network_rx_bytes,notnull,default:0" json:"network_rx_bytes"`
	NetworkTxBytes int64 `bun:"network_tx_bytes,notnull,default:0" json:"network_tx_bytes"`
}

// PricingModel stores one provider's rate table. CPU and memory are hourly,
// storage is monthly.
type PricingModel struct {
	bun.BaseModel `bun:"table:pricing_models,alias:pm"`

	ID       int64           `bun:",pk,autoincrement" json:"id"`
	Provider PricingProvider `bun:"provider_name,notnull,unique" json:"provider"`

	CPUPerHour        float64 `bun:"cpu_per_hour,notnull" json:"cpu_per_hour"`
	MemoryPerGBHour   float64 `bun:"memory_per_gb_hour,notnull" json:"memory_per_gb_hour"`
	StoragePerGBMonth float64 `bun:"storage_per_gb_month,notnull" json:"storage_per_gb_month"`

	StorageSSDPerGBMonth *float64 `bun:"storage_ssd_per_gb_month" json:"storage_ssd_per_gb_month,omitempty"`
	StorageHDDPerGBMonth *float64 `bun:"storage_hdd_per_gb_month" json:"storage_hdd_per_gb_month,omitempty"`

	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// BillingSnapshot is a precomputed cost breakdown for one container over a
// window under one provider.
type BillingSnapshot struct {
	bun.BaseModel `bun:"table:billing_snapshots,alias:bs"`

	ID          int64           `bun:",pk,autoincrement" json:"id"`
	ContainerID int64           `bun:"container_id,notnull" json:"container_id"`
	Provider    PricingProvider `bun:"provider,notnull" json:"provider"`

	StartTime time.Time `bun:"start_time,notnull" json:"start_time"`
	EndTime   time.Time `bun:"end_time,notnull" json:"end_time"`

	CPUCost     float64 `bun:"cpu_cost,notnull,default:0" json:"cpu_cost"`
	MemoryCost  float64 `bun:"memory_cost,notnull,default:0" json:"memory_cost"`
	StorageCost float64 `bun:"storage_cost,notnull,default:0" json:"storage_cost"`
	TotalCost   float64 `bun:"total_cost,notnull,default:0" json:"total_cost"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
}
