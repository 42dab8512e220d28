// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package monitoring aggregates live container and host utilization for
// the dashboard and exports per-container gauges.
package monitoring

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/model"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

// Store is the persistence surface the service needs.
type Store interface {
	ListContainers(ctx context.Context, userID int64) ([]model.Container, error)
	ListAllContainers(ctx context.Context) ([]model.Container, error)
	ContainerOwnedBy(ctx context.Context, id, userID int64) (*model.Container, error)
	ContainerByID(ctx context.Context, id int64) (*model.Container, error)
	Close() error
}

// OpenStore opens a fresh store session for one request.
type OpenStore func(ctx context.Context) (Store, error)

// StatsSource samples live container stats.
type StatsSource interface {
	Stats(ctx context.Context, handle string) (docker.StatsSample, error)
}

// Service answers monitoring reads.
type Service struct {
	open    OpenStore
	driver  StatsSource
	metrics *Metrics
}

// NewService returns a Service.
func NewService(open OpenStore, driver StatsSource, metrics *Metrics) *Service {
	return &Service{open: open, driver: driver, metrics: metrics}
}

// Metrics returns the gauge registry backing the text export.
func (s *Service) Metrics() *Metrics { return s.metrics }

// ContainerStats is one container's live utilization.
type ContainerStats struct {
	ContainerID   int64                 `json:"container_id"`
	Name          string                `json:"name"`
	Status        model.ContainerStatus `json:"status"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryUsageMB float64               `json:"memory_usage_mb"`
	MemoryLimitMB float64               `json:"memory_limit_mb"`
	NetworkRx     int64                 `json:"network_rx_bytes"`
	NetworkTx     int64                 `json:"network_tx_bytes"`
}

// HostStats is the host's own utilization, sampled alongside containers.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
}

// Overview is the dashboard summary for one user.
type Overview struct {
	TotalContainers   int              `json:"total_containers"`
	RunningContainers int              `json:"running_containers"`
	StoppedContainers int              `json:"stopped_containers"`
	ErrorContainers   int              `json:"error_containers"`
	TotalCPUPercent   float64          `json:"total_cpu_percent"`
	TotalMemoryMB     float64          `json:"total_memory_mb"`
	Containers        []ContainerStats `json:"containers"`
	Host              *HostStats       `json:"host,omitempty"`
}

// Overview aggregates live stats over the containers the user may see.
// Teacher and admin roles see the whole fleet.
func (s *Service) Overview(ctx context.Context, user *model.User) (*Overview, error) {
	containers, err := s.visibleContainers(ctx, user)
	if err != nil {
		return nil, err
	}

	ov := &Overview{}
	for i := range containers {
		c := &containers[i]
		ov.TotalContainers++
		switch c.Status {
		case model.ContainerRunning:
			ov.RunningContainers++
		case model.ContainerStopped:
			ov.StoppedContainers++
		case model.ContainerError:
			ov.ErrorContainers++
		}
		if c.Status != model.ContainerRunning {
			continue
		}
		stats := s.liveStats(ctx, c)
		ov.TotalCPUPercent += stats.CPUPercent
		ov.TotalMemoryMB += stats.MemoryUsageMB
		ov.Containers = append(ov.Containers, stats)
	}
	ov.Host = hostStats(ctx)
	return ov, nil
}

// ListContainerStats returns live stats for every running container the
// user may see.
func (s *Service) ListContainerStats(ctx context.Context, user *model.User) ([]ContainerStats, error) {
	containers, err := s.visibleContainers(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]ContainerStats, 0, len(containers))
	for i := range containers {
		if containers[i].Status != model.ContainerRunning {
			continue
		}
		out = append(out, s.liveStats(ctx, &containers[i]))
	}
	return out, nil
}

// ContainerStats returns one container's live stats, enforcing ownership
// for the student role.
func (s *Service) ContainerStats(ctx context.Context, user *model.User, containerID int64) (*ContainerStats, error) {
	st, err := s.open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	defer st.Close()

	var c *model.Container
	if user.Role.CanReadAllContainers() {
		c, err = st.ContainerByID(ctx, containerID)
	} else {
		c, err = st.ContainerOwnedBy(ctx, containerID, user.ID)
	}
	if err != nil {
		return nil, err
	}
	stats := s.liveStats(ctx, c)
	return &stats, nil
}

func (s *Service) visibleContainers(ctx context.Context, user *model.User) ([]model.Container, error) {
	st, err := s.open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	defer st.Close()

	if user.Role.CanReadAllContainers() {
		return st.ListAllContainers(ctx)
	}
	return st.ListContainers(ctx, user.ID)
}

// liveStats samples the driver and mirrors the sample onto the exported
// gauges. Sampling failures degrade to zeros; the dashboard prefers stale
// zeros over a failed page.
func (s *Service) liveStats(ctx context.Context, c *model.Container) ContainerStats {
	out := ContainerStats{
		ContainerID:   c.ID,
		Name:          c.Name,
		Status:        c.Status,
		MemoryLimitMB: float64(c.MemoryLimit),
	}
	if c.EngineHandle == "" {
		return out
	}
	sample, err := s.driver.Stats(ctx, c.EngineHandle)
	if err != nil {
		log.Debugf("Stats for container %d unavailable: %v", c.ID, err)
		return out
	}
	out.CPUPercent = sample.CPUPercent
	out.MemoryUsageMB = sample.MemoryUsageMB
	if sample.MemoryLimitMB > 0 {
		out.MemoryLimitMB = sample.MemoryLimitMB
	}
	out.NetworkRx = sample.NetworkRxBytes
	out.NetworkTx = sample.NetworkTxBytes
	if s.metrics != nil {
		s.metrics.Observe(c, sample)
	}
	return out
}

// hostStats samples host cpu and memory; nil when the host probe fails.
func hostStats(ctx context.Context) *HostStats {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Debugf("Host memory probe failed: %v", err)
		return nil
	}
	out := &HostStats{
		MemoryPercent: vm.UsedPercent,
		MemoryUsedMB:  float64(vm.Used) / bytesPerMB,
		MemoryTotalMB: float64(vm.Total) / bytesPerMB,
	}
	if percents, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(percents) > 0 {
		out.CPUPercent = percents[0]
	}
	return out
}
