// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

import (
	"time"

	"github.com/uptrace/bun"
)

// ScalingAction is the direction of a scaling decision.
type ScalingAction string

// Scaling actions.
const (
	ScaleUp   ScalingAction = "scale_up"
	ScaleDown ScalingAction = "scale_down"
)

// TriggerMetric names the threshold that tripped a decision. Scale-down
// always fires on both metrics being low.
type TriggerMetric string

// Trigger metrics.
const (
	TriggerCPU     TriggerMetric = "cpu"
	TriggerMemory  TriggerMetric = "memory"
	TriggerBothLow TriggerMetric = "both_low"
)

// ScalingPolicy configures the autoscaler for one container. At most one
// policy exists per container (unique index).
type ScalingPolicy struct {
	bun.BaseModel `bun:"table:scaling_policies,alias:sp"`

	ID          int64 `bun:",pk,autoincrement" json:"id"`
	ContainerID int64 `bun:"container_id,notnull,unique" json:"container_id"`
	UserID      int64 `bun:"user_id,notnull" json:"user_id"`
	Enabled     bool  `bun:"enabled,notnull,default:true" json:"enabled"`

	ScaleUpCPU   float64 `bun:"scale_up_cpu_threshold,notnull,default:80" json:"scale_up_cpu"`
	ScaleUpMem   float64 `bun:"scale_up_memory_threshold,notnull,default:80" json:"scale_up_mem"`
	ScaleDownCPU float64 `bun:"scale_down_cpu_threshold,notnull,default:30" json:"scale_down_cpu"`
	ScaleDownMem float64 `bun:"scale_down_memory_threshold,notnull,default:30" json:"scale_down_mem"`

	MinReplicas int `bun:"min_replicas,notnull,default:1" json:"min_replicas"`
	MaxReplicas int `bun:"max_replicas,notnull,default:8" json:"max_replicas"`

	CooldownSeconds   int `bun:"cooldown_seconds,notnull,default:300" json:"cooldown_seconds"`
	EvaluationSeconds int `bun:"evaluation_seconds,notnull,default:60" json:"evaluation_seconds"`

	CreatedAt    time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    *time.Time `bun:"updated_at" json:"updated_at,omitempty"`
	LastScaledAt *time.Time `bun:"last_scaled_at" json:"last_scaled_at,omitempty"`
}

// CooldownElapsed reports whether the policy may scale again at now.
// A policy that never scaled always passes.
func (p *ScalingPolicy) CooldownElapsed(now time.Time) bool {
	if p.LastScaledAt == nil {
		return true
	}
	return now.Sub(*p.LastScaledAt) >= time.Duration(p.CooldownSeconds)*time.Second
}

// ScalingEvent is one row of the append-only scaling audit log.
type ScalingEvent struct {
	bun.BaseModel `bun:"table:scaling_events,alias:se"`

	ID          int64 `bun:",pk,autoincrement" json:"id"`
	PolicyID    int64 `bun:"policy_id,notnull" json:"policy_id"`
	ContainerID int64 `bun:"container_id,notnull" json:"container_id"`

	Action        ScalingAction `bun:"action,notnull" json:"action"`
	TriggerMetric TriggerMetric `bun:"trigger_metric,notnull" json:"trigger_metric"`
	MetricValue   float64       `bun:"metric_value,notnull" json:"metric_value"`

	ReplicasBefore int `bun:"replica_count_before,notnull" json:"replicas_before"`
	ReplicasAfter  int `bun:"replica_count_after,notnull" json:"replicas_after"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
}
