// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStats(t *testing.T) {
	for name, tc := range map[string]struct {
		raw      string
		expected StatsSample
	}{
		"nominal": {
			raw: `{"cpu":"0.05%","mem":"45.09MiB / 512MiB","net":"1.2MB / 500kB"}`,
			expected: StatsSample{
				CPUPercent:     0.05,
				MemoryUsageMB:  45.09,
				MemoryLimitMB:  512,
				MemoryPercent:  45.09 / 512 * 100,
				NetworkRxBytes: 1200000,
				NetworkTxBytes: 500000,
			},
		},
		"gib memory": {
			raw: `{"cpu":"12.34%","mem":"1.5GiB / 4GiB","net":"0B / 0B"}`,
			expected: StatsSample{
				CPUPercent:    12.34,
				MemoryUsageMB: 1536,
				MemoryLimitMB: 4096,
				MemoryPercent: 37.5,
			},
		},
		"kib memory": {
			raw: `{"cpu":"1%","mem":"512KiB / 1MiB","net":"10kB / 2GB"}`,
			expected: StatsSample{
				CPUPercent:     1,
				MemoryUsageMB:  0.5,
				MemoryLimitMB:  1,
				MemoryPercent:  50,
				NetworkRxBytes: 10000,
				NetworkTxBytes: 2000000000,
			},
		},
		"ansi escape codes": {
			raw: "\x1b[2J\x1b[H" + `{"cpu":"3.00%","mem":"100MiB / 200MiB","net":"1kB / 1kB"}`,
			expected: StatsSample{
				CPUPercent:     3,
				MemoryUsageMB:  100,
				MemoryLimitMB:  200,
				MemoryPercent:  50,
				NetworkRxBytes: 1000,
				NetworkTxBytes: 1000,
			},
		},
		"multi line keeps last": {
			raw: `{"cpu":"1.00%","mem":"1MiB / 2MiB","net":"0B / 0B"}` + "\n" +
				`{"cpu":"2.00%","mem":"2MiB / 4MiB","net":"0B / 0B"}`,
			expected: StatsSample{
				CPUPercent:    2,
				MemoryUsageMB: 2,
				MemoryLimitMB: 4,
				MemoryPercent: 50,
			},
		},
		"garbage prefix": {
			raw: `ID"ID"{"cpu":"0.10%","mem":"10MiB / 100MiB","net":"0B / 0B"}`,
			expected: StatsSample{
				CPUPercent:    0.1,
				MemoryUsageMB: 10,
				MemoryLimitMB: 100,
				MemoryPercent: 10,
			},
		},
		"empty input": {
			raw:      "",
			expected: StatsSample{},
		},
		"not json": {
			raw:      "CONTAINER CPU % MEM USAGE",
			expected: StatsSample{},
		},
		"malformed numbers": {
			raw:      `{"cpu":"abc%","mem":"xxMiB / yyMiB","net":"-- / --"}`,
			expected: StatsSample{},
		},
		"missing limit": {
			raw: `{"cpu":"5%","mem":"42MiB","net":"1MB / 1MB"}`,
			expected: StatsSample{
				CPUPercent:     5,
				NetworkRxBytes: 1000000,
				NetworkTxBytes: 1000000,
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			sample := ParseStats(tc.raw)
			assert.InDelta(t, tc.expected.CPUPercent, sample.CPUPercent, 1e-9)
			assert.InDelta(t, tc.expected.MemoryUsageMB, sample.MemoryUsageMB, 1e-6)
			assert.InDelta(t, tc.expected.MemoryLimitMB, sample.MemoryLimitMB, 1e-6)
			assert.InDelta(t, tc.expected.MemoryPercent, sample.MemoryPercent, 1e-6)
			assert.Equal(t, tc.expected.NetworkRxBytes, sample.NetworkRxBytes)
			assert.Equal(t, tc.expected.NetworkTxBytes, sample.NetworkTxBytes)
		})
	}
}

// Random unit mixtures must never panic and never produce negative values.
func TestParseStatsRandomUnits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	units := []string{"B", "kB", "KB", "KiB", "kiB", "MB", "MiB", "GB", "GiB"}

	for i := 0; i < 200; i++ {
		mem := fmt.Sprintf("%.2f%s / %.2f%s",
			rng.Float64()*100, units[rng.Intn(len(units))],
			rng.Float64()*100+1, units[rng.Intn(len(units))])
		net := fmt.Sprintf("%.1f%s / %.1f%s",
			rng.Float64()*10, units[rng.Intn(len(units))],
			rng.Float64()*10, units[rng.Intn(len(units))])
		raw := fmt.Sprintf(`{"cpu":"%.2f%%","mem":"%s","net":"%s"}`, rng.Float64()*100, mem, net)

		sample := ParseStats(raw)
		require.GreaterOrEqual(t, sample.CPUPercent, 0.0)
		require.GreaterOrEqual(t, sample.MemoryUsageMB, 0.0)
		require.GreaterOrEqual(t, sample.MemoryLimitMB, 0.0)
		require.GreaterOrEqual(t, sample.NetworkRxBytes, int64(0))
		require.GreaterOrEqual(t, sample.NetworkTxBytes, int64(0))
	}
}

func TestParseSize(t *testing.T) {
	for input, expected := range map[string]float64{
		"1B":      1,
		"1kB":     1000,
		"1KB":     1000,
		"1KiB":    1024,
		"1kiB":    1024,
		"1MB":     1e6,
		"1MiB":    1 << 20,
		"1GB":     1e9,
		"1GiB":    1 << 30,
		"2.5MiB":  2.5 * (1 << 20),
		"500kB":   500000,
		"":        0,
		"12":      0,
		"1.2.3MB": 0,
		"1TB":     0,
	} {
		assert.InDelta(t, expected, parseSize(input), 1e-9, "input %q", input)
	}
}
