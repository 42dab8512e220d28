// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrorKind classifies why the engine is unavailable.
type ErrorKind string

// Error kinds reported by Status.
const (
	ErrNotInstalled     ErrorKind = "not_installed"
	ErrDaemonNotRunning ErrorKind = "daemon_not_running"
	ErrConnectionFailed ErrorKind = "connection_failed"
	ErrUnknown          ErrorKind = "unknown"
)

// Health describes engine availability. Callers check Available before
// mutating operations.
type Health struct {
	Available     bool      `json:"available"`
	CLIInstalled  bool      `json:"cli_installed"`
	EngineRunning bool      `json:"engine_running"`
	Version       string    `json:"version,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Message       string    `json:"message,omitempty"`
}

const statusCacheKey = "status"

// Status probes the CLI and the daemon and returns a health record. Results
// are cached briefly; every failure mode degrades to a descriptive record,
// never an error.
func (d *Driver) Status(ctx context.Context) Health {
	if cached, found := d.cache.Get(statusCacheKey); found {
		return cached.(Health)
	}
	h := d.probe(ctx)
	d.cache.Set(statusCacheKey, h, statusCacheValidity)
	return h
}

func (d *Driver) probe(ctx context.Context) Health {
	stdout, stderr, err := d.run(ctx, "", d.bin, "version", "--format", "{{.Server.Version}}")
	if err == nil {
		version := strings.TrimSpace(stdout)
		return Health{
			Available:     true,
			CLIInstalled:  true,
			EngineRunning: true,
			Version:       version,
			Message:       fmt.Sprintf("docker is available (version %s)", version),
		}
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return Health{
			ErrorKind: ErrNotInstalled,
			Message:   "docker CLI not found in PATH",
		}
	}

	// The CLI ran but could not reach the daemon.
	h := Health{CLIInstalled: true}
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "daemon"):
		h.ErrorKind = ErrDaemonNotRunning
		h.Message = "docker daemon is not running"
	case strings.Contains(msg, "cannot connect") || strings.Contains(msg, "pipe"):
		h.ErrorKind = ErrConnectionFailed
		h.Message = "failed to connect to the docker engine"
	default:
		h.ErrorKind = ErrUnknown
		h.Message = fmt.Sprintf("docker error: %s", strings.TrimSpace(stderr))
	}
	return h
}
