// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package loadtest drives synthetic HTTP traffic against a container and
// records per-interval metric snapshots plus final latency aggregates.
package loadtest

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/model"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

const (
	defaultSampleInterval = 2 * time.Second
	defaultDrainTimeout   = 2 * time.Second
	defaultRequestTimeout = 5 * time.Second
)

// Store is the persistence surface the engine needs per run.
type Store interface {
	LoadTestByID(ctx context.Context, id int64) (*model.LoadTest, error)
	UpdateLoadTest(ctx context.Context, t *model.LoadTest) error
	InsertLoadTestMetric(ctx context.Context, m *model.LoadTestMetric) error
	ContainerByID(ctx context.Context, id int64) (*model.Container, error)
	Close() error
}

// OpenStore opens a fresh store session for one test run.
type OpenStore func(ctx context.Context) (Store, error)

// StatsSource samples live container stats for the metric sampler.
type StatsSource interface {
	Stats(ctx context.Context, handle string) (docker.StatsSample, error)
}

// Engine runs load tests. One runner goroutine plus one sampler goroutine
// exist per active test; the registry maps test ids to their cancel funcs.
type Engine struct {
	open   OpenStore
	driver StatsSource
	clock  clock.Clock
	client *http.Client

	sampleInterval time.Duration
	drainTimeout   time.Duration
	requestTimeout time.Duration

	mu      sync.Mutex
	running map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIntervals compresses the sampler cadence and drain window; tests use
// this to finish in milliseconds.
func WithIntervals(sample, drain, request time.Duration) Option {
	return func(e *Engine) {
		e.sampleInterval = sample
		e.drainTimeout = drain
		e.requestTimeout = request
	}
}

// New returns an Engine.
func New(open OpenStore, driver StatsSource, opts ...Option) *Engine {
	e := &Engine{
		open:           open,
		driver:         driver,
		clock:          clock.New(),
		client:         &http.Client{},
		sampleInterval: defaultSampleInterval,
		drainTimeout:   defaultDrainTimeout,
		requestTimeout: defaultRequestTimeout,
		running:        map[int64]context.CancelFunc{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches the runner for a persisted pending test. The run detaches
// from the caller's context; only Cancel or Shutdown stop it early.
func (e *Engine) Start(testID int64) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.running[testID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.run(ctx, testID)
		e.mu.Lock()
		delete(e.running, testID)
		e.mu.Unlock()
	}()
}

// Running reports whether the test is currently executing.
func (e *Engine) Running(testID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[testID]
	return ok
}

// Cancel signals a running test to stop. Returns false when the test is not
// running.
func (e *Engine) Cancel(testID int64) bool {
	e.mu.Lock()
	cancel, ok := e.running[testID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every active test and waits for the runners to finish.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, cancel := range e.running {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// runState is the shared mutable state of one run. The dispatcher's request
// goroutines and the sampler read and write it concurrently.
type runState struct {
	sent      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64

	mu        sync.Mutex
	latencies []float64 // successes only, ms
	peakCPU   float64
	peakMem   float64
}

func (rs *runState) recordLatency(ms float64) {
	rs.mu.Lock()
	rs.latencies = append(rs.latencies, ms)
	rs.mu.Unlock()
}

func (rs *runState) recordPeaks(cpu, mem float64) {
	rs.mu.Lock()
	if cpu > rs.peakCPU {
		rs.peakCPU = cpu
	}
	if mem > rs.peakMem {
		rs.peakMem = mem
	}
	rs.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, testID int64) {
	s, err := e.open(ctx)
	if err != nil {
		log.Errorf("Load test %d: open store: %v", testID, err)
		return
	}
	defer s.Close()

	test, err := s.LoadTestByID(ctx, testID)
	if err != nil {
		log.Errorf("Load test %d: %v", testID, err)
		return
	}
	container, err := s.ContainerByID(ctx, test.ContainerID)
	if err != nil {
		e.finish(s, test, nil, model.TestFailed, err.Error())
		return
	}

	now := e.clock.Now().UTC()
	test.Status = model.TestRunning
	test.StartedAt = &now
	if err := s.UpdateLoadTest(ctx, test); err != nil {
		log.Errorf("Load test %d: mark running: %v", testID, err)
		return
	}
	log.Infof("Load test %d started: %d requests, concurrency %d, %ds against %s",
		test.ID, test.TotalRequests, test.Concurrency, test.DurationSeconds, test.TargetURL)

	state := &runState{}

	samplerDone := make(chan struct{})
	samplerCtx, stopSampler := context.WithCancel(ctx)
	go func() {
		defer close(samplerDone)
		e.sample(samplerCtx, s, test, container, state)
	}()

	e.dispatch(ctx, test, state)

	stopSampler()
	<-samplerDone

	status := model.TestCompleted
	if ctx.Err() != nil {
		status = model.TestCancelled
	}
	e.finish(s, test, state, status, "")
}

// dispatch fires up to TotalRequests GETs at a steady interval, capped by
// the concurrency semaphore and the wall-clock duration, then drains
// in-flight requests for a bounded window.
func (e *Engine) dispatch(ctx context.Context, test *model.LoadTest, state *runState) {
	duration := time.Duration(test.DurationSeconds) * time.Second
	interval := duration / time.Duration(test.TotalRequests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := e.clock.Now().Add(duration)
	sem := make(chan struct{}, test.Concurrency)

	var inflight sync.WaitGroup
	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()

	// Fire-then-wait: request k leaves at k*interval, so all N dispatches
	// fit strictly inside the wall-clock window.
dispatchLoop:
	for state.sent.Load() < int64(test.TotalRequests) {
		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			break
		}
		// A saturated semaphore blocks dispatch for at most the remaining
		// budget; missed ticks are never batched.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatchLoop
		case <-e.clock.After(remaining):
			break dispatchLoop
		}
		// A slow acquire can land past the deadline.
		if !e.clock.Now().Before(deadline) {
			break
		}

		state.sent.Add(1)
		state.active.Add(1)
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() { <-sem }()
			defer state.active.Add(-1)
			e.fire(ctx, test.TargetURL, state)
		}()

		if state.sent.Load() >= int64(test.TotalRequests) {
			break
		}
		select {
		case <-ctx.Done():
			break dispatchLoop
		case <-ticker.C:
		}
	}

	// Bounded drain; stragglers are abandoned without crediting success.
	drained := make(chan struct{})
	go func() {
		inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-e.clock.After(e.drainTimeout):
		log.Warnf("Load test %d: drain window elapsed with requests still in flight", test.ID)
	}
}

func (e *Engine) fire(ctx context.Context, target string, state *runState) {
	reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		state.failed.Add(1)
		return
	}
	resp, err := e.client.Do(req)
	if err != nil {
		state.failed.Add(1)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		state.failed.Add(1)
		return
	}
	state.completed.Add(1)
	state.recordLatency(float64(time.Since(start).Microseconds()) / 1000)
}

// sample writes one snapshot per interval for the test's lifetime. It is
// the sole writer of persisted progress; driver errors yield a zero-valued
// snapshot instead of failing the test.
func (e *Engine) sample(ctx context.Context, s Store, test *model.LoadTest, container *model.Container, state *runState) {
	ticker := e.clock.Ticker(e.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.snapshot(s, test, container, state)
		}
	}
}

func (e *Engine) snapshot(s Store, test *model.LoadTest, container *model.Container, state *runState) {
	// Detached context: snapshots still land while the run is cancelling.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cpu, mem float64
	switch {
	case container.Simulated() || container.EngineHandle == "":
		cpu, mem = simulatedLoad(container)
	default:
		sample, err := e.driver.Stats(ctx, container.EngineHandle)
		if err != nil {
			log.Debugf("Load test %d: stats sample failed, recording zeros: %v", test.ID, err)
		} else {
			cpu = sample.CPUPercent
			mem = sample.MemoryUsageMB
		}
	}
	state.recordPeaks(cpu, mem)

	m := &model.LoadTestMetric{
		LoadTestID:        test.ID,
		Timestamp:         e.clock.Now().UTC(),
		CPUPercent:        cpu,
		MemoryMB:          mem,
		RequestsCompleted: int(state.completed.Load()),
		RequestsFailed:    int(state.failed.Load()),
		ActiveRequests:    int(state.active.Load()),
	}
	if err := s.InsertLoadTestMetric(ctx, m); err != nil {
		log.Warnf("Load test %d: persist snapshot: %v", test.ID, err)
	}

	test.RequestsSent = int(state.sent.Load())
	test.RequestsCompleted = m.RequestsCompleted
	test.RequestsFailed = m.RequestsFailed
	if err := s.UpdateLoadTest(ctx, test); err != nil {
		log.Warnf("Load test %d: persist progress: %v", test.ID, err)
	}
}

// finish stamps the terminal state exactly once and persists the final
// aggregates.
func (e *Engine) finish(s Store, test *model.LoadTest, state *runState, status model.LoadTestStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if test.Status.Terminal() {
		return
	}
	now := e.clock.Now().UTC()
	test.Status = status
	test.ErrorMessage = errMsg
	test.CompletedAt = &now

	if state != nil {
		test.RequestsSent = int(state.sent.Load())
		test.RequestsCompleted = int(state.completed.Load())
		test.RequestsFailed = int(state.failed.Load())

		state.mu.Lock()
		if len(state.latencies) > 0 {
			avg, min, max := aggregate(state.latencies)
			test.AvgResponseMs = &avg
			test.MinResponseMs = &min
			test.MaxResponseMs = &max
		}
		if state.peakCPU > 0 || state.peakMem > 0 {
			peakCPU, peakMem := state.peakCPU, state.peakMem
			test.PeakCPU = &peakCPU
			test.PeakMemory = &peakMem
		}
		state.mu.Unlock()
	}

	if err := s.UpdateLoadTest(ctx, test); err != nil {
		log.Errorf("Load test %d: persist final state: %v", test.ID, err)
		return
	}
	log.Infof("Load test %d %s: %d sent, %d completed, %d failed",
		test.ID, status, test.RequestsSent, test.RequestsCompleted, test.RequestsFailed)
}

func aggregate(latencies []float64) (avg, min, max float64) {
	min = latencies[0]
	max = latencies[0]
	var sum float64
	for _, l := range latencies {
		sum += l
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	return sum / float64(len(latencies)), min, max
}

// simulatedLoad synthesizes plausible utilization for containers the
// engine does not manage.
func simulatedLoad(c *model.Container) (cpu, memMB float64) {
	cpu = 3 + rand.Float64()*12
	memMB = float64(c.MemoryLimit) * (0.10 + rand.Float64()*0.20)
	return cpu, memMB
}
