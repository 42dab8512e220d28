// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package loadtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
)

type fakeStore struct {
	mu         sync.Mutex
	tests      map[int64]*model.LoadTest
	containers map[int64]*model.Container
	metrics    []model.LoadTestMetric
	closed     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tests:      map[int64]*model.LoadTest{},
		containers: map[int64]*model.Container{},
	}
}

func (f *fakeStore) LoadTestByID(_ context.Context, id int64) (*model.LoadTest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tests[id]
	if !ok {
		return nil, errs.NewNotFound("load test")
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) UpdateLoadTest(_ context.Context, t *model.LoadTest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tests[t.ID] = &cp
	return nil
}

func (f *fakeStore) InsertLoadTestMetric(_ context.Context, m *model.LoadTestMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, *m)
	return nil
}

func (f *fakeStore) ContainerByID(_ context.Context, id int64) (*model.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, errs.NewNotFound("container")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStore) test(id int64) model.LoadTest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tests[id]
}

func (f *fakeStore) seed(test *model.LoadTest, container *model.Container) {
	f.tests[test.ID] = test
	f.containers[container.ID] = container
}

func newTestEngine(fs *fakeStore) *Engine {
	return New(
		func(context.Context) (Store, error) { return fs, nil },
		nil,
		WithIntervals(20*time.Millisecond, 200*time.Millisecond, time.Second),
	)
}

func waitTerminal(t *testing.T, fs *fakeStore, id int64) model.LoadTest {
	t.Helper()
	require.Eventually(t, func() bool {
		return fs.test(id).Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return fs.test(id)
}

func TestRunCompletesAllRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fs := newFakeStore()
	fs.seed(&model.LoadTest{
		ID: 1, UserID: 1, ContainerID: 10,
		TargetURL:     server.URL,
		TotalRequests: 5, Concurrency: 2, DurationSeconds: 1,
		Status: model.TestPending,
	}, &model.Container{
		ID: 10, UserID: 1, Name: "sim", Status: model.ContainerRunning,
		DeploymentType: model.DeploySimulated, MemoryLimit: 512,
	})

	eng := newTestEngine(fs)
	eng.Start(1)

	final := waitTerminal(t, fs, 1)
	assert.Equal(t, model.TestCompleted, final.Status)
	assert.Equal(t, 5, final.RequestsSent)
	assert.Equal(t, 5, final.RequestsCompleted)
	assert.Equal(t, 0, final.RequestsFailed)
	require.NotNil(t, final.AvgResponseMs)
	require.NotNil(t, final.MinResponseMs)
	require.NotNil(t, final.MaxResponseMs)
	assert.LessOrEqual(t, *final.MinResponseMs, *final.AvgResponseMs)
	assert.LessOrEqual(t, *final.AvgResponseMs, *final.MaxResponseMs)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.False(t, eng.Running(1))

	// Simulated container yields non-zero peaks from the sampler.
	if assert.NotEmpty(t, fs.metrics) {
		require.NotNil(t, final.PeakCPU)
		assert.Greater(t, *final.PeakCPU, 0.0)
	}
}

func TestRunCountsServerErrorsAsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fs := newFakeStore()
	fs.seed(&model.LoadTest{
		ID: 1, UserID: 1, ContainerID: 10,
		TargetURL:     server.URL,
		TotalRequests: 4, Concurrency: 2, DurationSeconds: 1,
		Status: model.TestPending,
	}, &model.Container{
		ID: 10, UserID: 1, Status: model.ContainerRunning,
		DeploymentType: model.DeploySimulated, MemoryLimit: 512,
	})

	eng := newTestEngine(fs)
	eng.Start(1)

	final := waitTerminal(t, fs, 1)
	assert.Equal(t, model.TestCompleted, final.Status)
	assert.Equal(t, 4, final.RequestsFailed)
	assert.Equal(t, 0, final.RequestsCompleted)
	assert.Nil(t, final.AvgResponseMs)
}

func TestRunUnreachableTargetFailsRequests(t *testing.T) {
	fs := newFakeStore()
	fs.seed(&model.LoadTest{
		ID: 1, UserID: 1, ContainerID: 10,
		TargetURL:     "http://127.0.0.1:1", // nothing listens here
		TotalRequests: 3, Concurrency: 1, DurationSeconds: 1,
		Status: model.TestPending,
	}, &model.Container{
		ID: 10, UserID: 1, Status: model.ContainerRunning,
		DeploymentType: model.DeploySimulated, MemoryLimit: 512,
	})

	eng := newTestEngine(fs)
	eng.Start(1)

	final := waitTerminal(t, fs, 1)
	assert.Equal(t, model.TestCompleted, final.Status)
	assert.Equal(t, final.RequestsSent, final.RequestsFailed)
}

func TestCancelStopsDispatch(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer once.Do(func() { close(release) })

	fs := newFakeStore()
	fs.seed(&model.LoadTest{
		ID: 1, UserID: 1, ContainerID: 10,
		TargetURL:     server.URL,
		TotalRequests: 100, Concurrency: 2, DurationSeconds: 60,
		Status: model.TestPending,
	}, &model.Container{
		ID: 10, UserID: 1, Status: model.ContainerRunning,
		DeploymentType: model.DeploySimulated, MemoryLimit: 512,
	})

	eng := newTestEngine(fs)
	eng.Start(1)

	require.Eventually(t, func() bool { return eng.Running(1) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return fs.test(1).Status == model.TestRunning }, time.Second, 5*time.Millisecond)

	assert.True(t, eng.Cancel(1))
	once.Do(func() { close(release) })

	final := waitTerminal(t, fs, 1)
	assert.Equal(t, model.TestCancelled, final.Status)
	assert.Less(t, final.RequestsSent, 100)
	assert.False(t, eng.Running(1))

	// A second cancel is a no-op on a finished test.
	assert.False(t, eng.Cancel(1))
}

func TestDispatchRespectsDurationWithSlowTarget(t *testing.T) {
	// The target never answers; the client gives up at the request timeout.
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	fs := newFakeStore()
	fs.seed(&model.LoadTest{
		ID: 1, UserID: 1, ContainerID: 10,
		TargetURL:     server.URL,
		TotalRequests: 50, Concurrency: 1, DurationSeconds: 1,
		Status: model.TestPending,
	}, &model.Container{
		ID: 10, UserID: 1, Status: model.ContainerRunning,
		DeploymentType: model.DeploySimulated, MemoryLimit: 512,
	})

	drain := 100 * time.Millisecond
	eng := New(
		func(context.Context) (Store, error) { return fs, nil },
		nil,
		WithIntervals(20*time.Millisecond, drain, 2*time.Second),
	)

	start := time.Now()
	eng.Start(1)
	final := waitTerminal(t, fs, 1)
	elapsed := time.Since(start)

	// The first request monopolizes the only slot past the deadline. The
	// blocked acquire must give up at the deadline rather than dispatch a
	// second request after it, and the run must end within duration plus
	// the drain window.
	assert.Equal(t, model.TestCompleted, final.Status)
	assert.Equal(t, 1, final.RequestsSent)
	assert.Less(t, elapsed, time.Second+drain+500*time.Millisecond)
}

func TestRunMissingContainerFailsTest(t *testing.T) {
	fs := newFakeStore()
	fs.tests[1] = &model.LoadTest{
		ID: 1, UserID: 1, ContainerID: 99,
		TargetURL:     "http://localhost:3000",
		TotalRequests: 1, Concurrency: 1, DurationSeconds: 1,
		Status: model.TestPending,
	}

	eng := newTestEngine(fs)
	eng.Start(1)

	final := waitTerminal(t, fs, 1)
	assert.Equal(t, model.TestFailed, final.Status)
	assert.NotEmpty(t, final.ErrorMessage)
}

func TestShutdownCancelsActiveTests(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	fs := newFakeStore()
	fs.seed(&model.LoadTest{
		ID: 1, UserID: 1, ContainerID: 10,
		TargetURL:     server.URL,
		TotalRequests: 100, Concurrency: 1, DurationSeconds: 60,
		Status: model.TestPending,
	}, &model.Container{
		ID: 10, UserID: 1, Status: model.ContainerRunning,
		DeploymentType: model.DeploySimulated, MemoryLimit: 512,
	})

	eng := newTestEngine(fs)
	eng.Start(1)
	require.Eventually(t, func() bool { return fs.test(1).Status == model.TestRunning }, time.Second, 5*time.Millisecond)

	eng.Shutdown()
	assert.True(t, fs.test(1).Status.Terminal())
	assert.Equal(t, model.TestCancelled, fs.test(1).Status)
}

func TestAggregate(t *testing.T) {
	avg, min, max := aggregate([]float64{10, 20, 60})
	assert.InDelta(t, 30.0, avg, 1e-9)
	assert.Equal(t, 10.0, min)
	assert.Equal(t, 60.0, max)
}
