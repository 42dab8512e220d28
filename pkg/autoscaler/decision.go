// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package autoscaler

import (
	"time"

	"github.com/intelliscale/scalesim/pkg/model"
)

// Metrics is one point-in-time utilization sample used for a decision.
type Metrics struct {
	CPUPercent    float64
	MemoryPercent float64
}

// decision is the outcome of evaluating one policy.
type decision struct {
	action  model.ScalingAction
	trigger model.TriggerMetric
	value   float64
}

// decide applies the policy rules in order: scale up before scale down,
// cpu wins ties on the up path, scale down only when both metrics are low.
// The second return is false for a no-op.
func decide(p *model.ScalingPolicy, m Metrics, replicas int, now time.Time) (decision, bool) {
	if !p.Enabled || !p.CooldownElapsed(now) {
		return decision{}, false
	}

	if replicas < p.MaxReplicas {
		if m.CPUPercent >= p.ScaleUpCPU {
			return decision{action: model.ScaleUp, trigger: model.TriggerCPU, value: m.CPUPercent}, true
		}
		if m.MemoryPercent >= p.ScaleUpMem {
			return decision{action: model.ScaleUp, trigger: model.TriggerMemory, value: m.MemoryPercent}, true
		}
	}

	if replicas > p.MinReplicas && m.CPUPercent < p.ScaleDownCPU && m.MemoryPercent < p.ScaleDownMem {
		value := m.CPUPercent
		if m.MemoryPercent < value {
			value = m.MemoryPercent
		}
		return decision{action: model.ScaleDown, trigger: model.TriggerBothLow, value: value}, true
	}

	return decision{}, false
}
