// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package monitoring

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
)

type fakeStore struct {
	containers []model.Container
}

func (f *fakeStore) ListContainers(_ context.Context, userID int64) ([]model.Container, error) {
	var out []model.Container
	for _, c := range f.containers {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAllContainers(context.Context) ([]model.Container, error) {
	return append([]model.Container(nil), f.containers...), nil
}

func (f *fakeStore) ContainerOwnedBy(_ context.Context, id, userID int64) (*model.Container, error) {
	for _, c := range f.containers {
		if c.ID == id && c.UserID == userID {
			cp := c
			return &cp, nil
		}
	}
	return nil, errs.NewNotFound("container")
}

func (f *fakeStore) ContainerByID(_ context.Context, id int64) (*model.Container, error) {
	for _, c := range f.containers {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, errs.NewNotFound("container")
}

func (f *fakeStore) Close() error { return nil }

type fakeStats struct {
	samples map[string]docker.StatsSample
	err     error
}

func (f fakeStats) Stats(_ context.Context, handle string) (docker.StatsSample, error) {
	if f.err != nil {
		return docker.StatsSample{}, f.err
	}
	return f.samples[handle], nil
}

func newService(fs *fakeStore, stats StatsSource) *Service {
	return NewService(
		func(context.Context) (Store, error) { return fs, nil },
		stats,
		NewMetrics(),
	)
}

func student(id int64) *model.User {
	return &model.User{ID: id, Role: model.RoleStudent}
}

func TestOverviewAggregatesOwnContainers(t *testing.T) {
	fs := &fakeStore{containers: []model.Container{
		{ID: 1, UserID: 1, Name: "web", Status: model.ContainerRunning, EngineHandle: "h1", MemoryLimit: 512},
		{ID: 2, UserID: 1, Name: "db", Status: model.ContainerRunning, EngineHandle: "h2", MemoryLimit: 1024},
		{ID: 3, UserID: 1, Name: "old", Status: model.ContainerStopped},
		{ID: 4, UserID: 2, Name: "other", Status: model.ContainerRunning, EngineHandle: "h4"},
	}}
	stats := fakeStats{samples: map[string]docker.StatsSample{
		"h1": {CPUPercent: 10, MemoryUsageMB: 100, MemoryLimitMB: 512},
		"h2": {CPUPercent: 30, MemoryUsageMB: 300, MemoryLimitMB: 1024},
	}}

	svc := newService(fs, stats)
	ov, err := svc.Overview(context.Background(), student(1))
	require.NoError(t, err)

	assert.Equal(t, 3, ov.TotalContainers)
	assert.Equal(t, 2, ov.RunningContainers)
	assert.Equal(t, 1, ov.StoppedContainers)
	assert.Equal(t, 40.0, ov.TotalCPUPercent)
	assert.Equal(t, 400.0, ov.TotalMemoryMB)
	assert.Len(t, ov.Containers, 2)
}

func TestOverviewTeacherSeesAll(t *testing.T) {
	fs := &fakeStore{containers: []model.Container{
		{ID: 1, UserID: 1, Status: model.ContainerRunning, EngineHandle: "h1"},
		{ID: 4, UserID: 2, Status: model.ContainerRunning, EngineHandle: "h4"},
	}}
	svc := newService(fs, fakeStats{samples: map[string]docker.StatsSample{}})

	ov, err := svc.Overview(context.Background(), &model.User{ID: 9, Role: model.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, 2, ov.TotalContainers)
}

func TestOverviewDriverErrorDegradesToZeros(t *testing.T) {
	fs := &fakeStore{containers: []model.Container{
		{ID: 1, UserID: 1, Name: "web", Status: model.ContainerRunning, EngineHandle: "h1", MemoryLimit: 512},
	}}
	svc := newService(fs, fakeStats{err: errs.NewDriverFailure("sampling failed", nil)})

	ov, err := svc.Overview(context.Background(), student(1))
	require.NoError(t, err)
	require.Len(t, ov.Containers, 1)
	assert.Equal(t, 0.0, ov.Containers[0].CPUPercent)
	// The configured limit still shows when sampling fails.
	assert.Equal(t, 512.0, ov.Containers[0].MemoryLimitMB)
}

func TestContainerStatsEnforcesOwnership(t *testing.T) {
	fs := &fakeStore{containers: []model.Container{
		{ID: 4, UserID: 2, Name: "other", Status: model.ContainerRunning, EngineHandle: "h4"},
	}}
	svc := newService(fs, fakeStats{samples: map[string]docker.StatsSample{
		"h4": {CPUPercent: 5},
	}})

	_, err := svc.ContainerStats(context.Background(), student(1), 4)
	assert.True(t, errs.IsNotFound(err))

	got, err := svc.ContainerStats(context.Background(), &model.User{ID: 9, Role: model.RoleAdmin}, 4)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.CPUPercent)
}

func TestMetricsExport(t *testing.T) {
	m := NewMetrics()
	m.Observe(&model.Container{ID: 7, UserID: 1, Name: "web"}, docker.StatsSample{
		CPUPercent:    12.5,
		MemoryUsageMB: 64,
		MemoryLimitMB: 512,
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	assert.Contains(t, text, `container_cpu_usage_percent{container_id="7",container_name="web",user_id="1"} 12.5`)
	assert.Contains(t, text, "container_memory_limit_bytes")

	m.Forget(&model.Container{ID: 7, UserID: 1, Name: "web"})
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ = io.ReadAll(rec.Body)
	assert.False(t, strings.Contains(string(body), `container_id="7"`))
}
