// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package autoscaler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/intelliscale/scalesim/pkg/model"
)

func testPolicy() *model.ScalingPolicy {
	return &model.ScalingPolicy{
		ID:              1,
		ContainerID:     10,
		Enabled:         true,
		ScaleUpCPU:      80,
		ScaleUpMem:      80,
		ScaleDownCPU:    30,
		ScaleDownMem:    30,
		MinReplicas:     1,
		MaxReplicas:     5,
		CooldownSeconds: 300,
	}
}

func TestDecide(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for name, tc := range map[string]struct {
		mutate   func(*model.ScalingPolicy)
		metrics  Metrics
		replicas int
		want     decision
		wantOK   bool
	}{
		"cpu above threshold scales up": {
			metrics:  Metrics{CPUPercent: 85, MemoryPercent: 40},
			replicas: 2,
			want:     decision{action: model.ScaleUp, trigger: model.TriggerCPU, value: 85},
			wantOK:   true,
		},
		"memory above threshold scales up": {
			metrics:  Metrics{CPUPercent: 40, MemoryPercent: 90},
			replicas: 2,
			want:     decision{action: model.ScaleUp, trigger: model.TriggerMemory, value: 90},
			wantOK:   true,
		},
		"cpu wins when both breach": {
			metrics:  Metrics{CPUPercent: 95, MemoryPercent: 99},
			replicas: 2,
			want:     decision{action: model.ScaleUp, trigger: model.TriggerCPU, value: 95},
			wantOK:   true,
		},
		"threshold is inclusive": {
			metrics:  Metrics{CPUPercent: 80, MemoryPercent: 10},
			replicas: 1,
			want:     decision{action: model.ScaleUp, trigger: model.TriggerCPU, value: 80},
			wantOK:   true,
		},
		"at max replicas no scale up": {
			metrics:  Metrics{CPUPercent: 99, MemoryPercent: 99},
			replicas: 5,
			wantOK:   false,
		},
		"both low scales down": {
			metrics:  Metrics{CPUPercent: 12, MemoryPercent: 18},
			replicas: 3,
			want:     decision{action: model.ScaleDown, trigger: model.TriggerBothLow, value: 12},
			wantOK:   true,
		},
		"scale down value is the lower metric": {
			metrics:  Metrics{CPUPercent: 25, MemoryPercent: 8},
			replicas: 2,
			want:     decision{action: model.ScaleDown, trigger: model.TriggerBothLow, value: 8},
			wantOK:   true,
		},
		"only cpu low holds steady": {
			metrics:  Metrics{CPUPercent: 10, MemoryPercent: 50},
			replicas: 3,
			wantOK:   false,
		},
		"only memory low holds steady": {
			metrics:  Metrics{CPUPercent: 50, MemoryPercent: 10},
			replicas: 3,
			wantOK:   false,
		},
		"at min replicas no scale down": {
			metrics:  Metrics{CPUPercent: 5, MemoryPercent: 5},
			replicas: 1,
			wantOK:   false,
		},
		"mid band holds steady": {
			metrics:  Metrics{CPUPercent: 50, MemoryPercent: 50},
			replicas: 2,
			wantOK:   false,
		},
		"disabled policy never acts": {
			mutate:   func(p *model.ScalingPolicy) { p.Enabled = false },
			metrics:  Metrics{CPUPercent: 99, MemoryPercent: 99},
			replicas: 1,
			wantOK:   false,
		},
		"cooldown suppresses action": {
			mutate: func(p *model.ScalingPolicy) {
				last := now.Add(-100 * time.Second)
				p.LastScaledAt = &last
			},
			metrics:  Metrics{CPUPercent: 99, MemoryPercent: 99},
			replicas: 1,
			wantOK:   false,
		},
		"elapsed cooldown permits action": {
			mutate: func(p *model.ScalingPolicy) {
				last := now.Add(-301 * time.Second)
				p.LastScaledAt = &last
			},
			metrics:  Metrics{CPUPercent: 99, MemoryPercent: 99},
			replicas: 1,
			want:     decision{action: model.ScaleUp, trigger: model.TriggerCPU, value: 99},
			wantOK:   true,
		},
		"min equals max pins replica count": {
			mutate: func(p *model.ScalingPolicy) {
				p.MinReplicas = 1
				p.MaxReplicas = 1
			},
			metrics:  Metrics{CPUPercent: 99, MemoryPercent: 99},
			replicas: 1,
			wantOK:   false,
		},
	} {
		t.Run(name, func(t *testing.T) {
			p := testPolicy()
			if tc.mutate != nil {
				tc.mutate(p)
			}
			got, ok := decide(p, tc.metrics, tc.replicas, now)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
