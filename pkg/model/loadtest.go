// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

import (
	"time"

	"github.com/uptrace/bun"
)

// LoadTestStatus tracks the load-test state machine:
// pending -> running -> {completed | failed | cancelled}.
type LoadTestStatus string

// Load test statuses.
const (
	TestPending   LoadTestStatus = "pending"
	TestRunning   LoadTestStatus = "running"
	TestCompleted LoadTestStatus = "completed"
	TestFailed    LoadTestStatus = "failed"
	TestCancelled LoadTestStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s LoadTestStatus) Terminal() bool {
	switch s {
	case TestCompleted, TestFailed, TestCancelled:
		return true
	}
	return false
}

// LoadTest holds one test's configuration, live counters and final
// aggregates.
type LoadTest struct {
	bun.BaseModel `bun:"table:load_tests,alias:lt"`

	ID          int64 `bun:",pk,autoincrement" json:"id"`
	UserID      int64 `bun:"user_id,notnull" json:"user_id"`
	ContainerID int64 `bun:"container_id,notnull" json:"container_id"`

	TargetURL       string `bun:"target_url,notnull" json:"target_url"`
	TotalRequests   int    `bun:"total_requests,notnull" json:"total_requests"`     // 1..1000
	Concurrency     int    `bun:"concurrency,notnull" json:"concurrency"`           // 1..50
	DurationSeconds int    `bun:"duration_seconds,notnull" json:"duration_seconds"` // 10..300

	Status       LoadTestStatus `bun:"status,notnull,default:'pending'" json:"status"`
	ErrorMessage string         `bun:"error_message,nullzero" json:"error_message,omitempty"`

	RequestsSent      int `bun:"requests_sent,notnull,default:0" json:"requests_sent"`
	RequestsCompleted int `bun:"requests_completed,notnull,default:0" json:"requests_completed"`
	RequestsFailed    int `bun:"requests_failed,notnull,default:0" json:"requests_failed"`

	AvgResponseMs *float64 `bun:"avg_response_time_ms" json:"avg_response_ms,omitempty"`
	MinResponseMs *float64 `bun:"min_response_time_ms" json:"min_response_ms,omitempty"`
	MaxResponseMs *float64 `bun:"max_response_time_ms" json:"max_response_ms,omitempty"`

	PeakCPU    *float64 `bun:"peak_cpu_percent" json:"peak_cpu,omitempty"`
	PeakMemory *float64 `bun:"peak_memory_mb" json:"peak_memory,omitempty"`

	CreatedAt   time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	StartedAt   *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
}

// Progress returns the dispatch progress percentage.
func (t *LoadTest) Progress() float64 {
	if t.TotalRequests == 0 {
		return 0
	}
	return float64(t.RequestsSent) / float64(t.TotalRequests) * 100
}

// LoadTestMetric is one immutable per-interval snapshot of a running test.
// The sampler is the sole writer; counters are cumulative, active is
// instantaneous.
type LoadTestMetric struct {
	bun.BaseModel `bun:"table:load_test_metrics,alias:ltm"`

	ID         int64     `bun:",pk,autoincrement" json:"id"`
	LoadTestID int64     `bun:"load_test_id,notnull" json:"load_test_id"`
	Timestamp  time.Time `bun:"timestamp,notnull" json:"timestamp"`

	CPUPercent float64 `bun:"cpu_percent,notnull" json:"cpu"`
	MemoryMB   float64 `bun:"memory_mb,notnull" json:"memory"`

	RequestsCompleted int `bun:"requests_completed,notnull,default:0" json:"completed"`
	RequestsFailed    int `bun:"requests_failed,notnull,default:0" json:"failed"`
	ActiveRequests    int `bun:"active_requests,notnull,default:0" json:"active"`
}
