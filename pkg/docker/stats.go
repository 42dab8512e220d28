// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// StatsSample is one normalized stats snapshot. Memory is in MiB
// (1 MiB = 1048576 B), network counters in bytes.
type StatsSample struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryUsageMB  float64 `json:"memory_usage_mb"`
	MemoryLimitMB  float64 `json:"memory_limit_mb"`
	MemoryPercent  float64 `json:"memory_percent"`
	NetworkRxBytes int64   `json:"network_rx_bytes"`
	NetworkTxBytes int64   `json:"network_tx_bytes"`
}

var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// ParseStats normalizes one `docker stats --format` snapshot. The CLI
// occasionally prepends terminal escape codes or repeats lines, so the
// parser keeps the last line and slices out the JSON object. Any field that
// fails to parse is left at zero; ParseStats never fails.
func ParseStats(raw string) StatsSample {
	var sample StatsSample

	lines := strings.Split(strings.TrimSpace(raw), "\n")
	last := ""
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			last = trimmed
		}
	}
	clean := ansiEscape.ReplaceAllString(last, "")
	start, end := strings.Index(clean, "{"), strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return sample
	}

	var fields struct {
		CPU string `json:"cpu"`
		Mem string `json:"mem"`
		Net string `json:"net"`
	}
	if err := json.Unmarshal([]byte(clean[start:end+1]), &fields); err != nil {
		return sample
	}

	sample.CPUPercent = parsePercent(fields.CPU)

	if usage, limit, ok := splitPair(fields.Mem); ok {
		sample.MemoryUsageMB = parseSize(usage) / (1 << 20)
		sample.MemoryLimitMB = parseSize(limit) / (1 << 20)
		if sample.MemoryLimitMB > 0 {
			sample.MemoryPercent = sample.MemoryUsageMB / sample.MemoryLimitMB * 100
		}
	}

	if rx, tx, ok := splitPair(fields.Net); ok {
		sample.NetworkRxBytes = int64(parseSize(rx))
		sample.NetworkTxBytes = int64(parseSize(tx))
	}

	return sample
}

// parsePercent parses "12.34%" into 12.34.
func parsePercent(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// splitPair splits "usage / limit" pairs as emitted for MemUsage and NetIO.
func splitPair(s string) (string, string, bool) {
	parts := strings.Split(s, " / ")
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

// sizeUnits maps docker's human-readable suffixes to byte multipliers.
// Binary suffixes are 1024-based, decimal ones 1000-based, matching what
// the CLI prints for memory (MiB) and network IO (kB/MB).
var sizeUnits = []struct {
	suffix     string
	multiplier float64
}{
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"kiB", 1 << 10},
	{"GB", 1e9},
	{"MB", 1e6},
	{"kB", 1e3},
	{"KB", 1e3},
	{"B", 1},
}

// parseSize converts strings like "45.09MiB" or "500kB" to bytes. Unknown
// suffixes and malformed numbers yield 0.
func parseSize(s string) float64 {
	s = strings.TrimSpace(s)
	for _, unit := range sizeUnits {
		if strings.HasSuffix(s, unit.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0
			}
			return v * unit.multiplier
		}
	}
	return 0
}
