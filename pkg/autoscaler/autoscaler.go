// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package autoscaler evaluates scaling policies on a fixed interval and
// spawns or retires replica containers.
package autoscaler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

const defaultInterval = 30 * time.Second

// Store is the persistence surface the engine needs. *store.Store
// satisfies it; tests use an in-memory fake.
type Store interface {
	ListEnabledPolicies(ctx context.Context) ([]model.ScalingPolicy, error)
	ListEnabledPoliciesOwnedBy(ctx context.Context, userID int64) ([]model.ScalingPolicy, error)
	ContainerByID(ctx context.Context, id int64) (*model.Container, error)
	CountRunningReplicas(ctx context.Context, containerID int64) (int, error)
	NewestRunningReplica(ctx context.Context, containerID int64) (*model.Container, error)
	AllocatePort(ctx context.Context) (int, error)
	ApplyScaleUp(ctx context.Context, policy *model.ScalingPolicy, replica *model.Container, event *model.ScalingEvent) error
	ApplyScaleDown(ctx context.Context, policy *model.ScalingPolicy, replica *model.Container, event *model.ScalingEvent) error
	Close() error
}

// OpenStore opens a fresh store session for one tick.
type OpenStore func(ctx context.Context) (Store, error)

// ContainerDriver launches and retires real replica workloads.
type ContainerDriver interface {
	Run(ctx context.Context, opts docker.RunOptions) (string, error)
	Stop(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string) error
}

// Engine is the autoscaler control loop.
type Engine struct {
	open     OpenStore
	sampler  MetricSampler
	driver   ContainerDriver
	clock    clock.Clock
	interval time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock; tests drive a mock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithInterval overrides the evaluation interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// New returns an Engine. driver may be nil when only simulated containers
// exist; real replicas then fail their launch with a driver error.
func New(open OpenStore, sampler MetricSampler, driver ContainerDriver, opts ...Option) *Engine {
	e := &Engine{
		open:     open,
		sampler:  sampler,
		driver:   driver,
		clock:    clock.New(),
		interval: defaultInterval,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run evaluates all enabled policies every interval until ctx is done.
// Tick errors are logged, never fatal.
func (e *Engine) Run(ctx context.Context) {
	log.Infof("Autoscaler started, evaluating every %s", e.interval)
	ticker := e.clock.Ticker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Autoscaler stopped")
			return
		case <-ticker.C:
			if err := e.EvaluateAll(ctx); err != nil {
				log.Warnf("Autoscaler tick: %v", err)
			}
		}
	}
}

// EvaluateAll evaluates every enabled policy once. Per-policy failures are
// collected and returned together; one broken policy never blocks the rest.
func (e *Engine) EvaluateAll(ctx context.Context) error {
	return e.evaluate(ctx, func(ctx context.Context, s Store) ([]model.ScalingPolicy, error) {
		return s.ListEnabledPolicies(ctx)
	})
}

// EvaluateOwner evaluates one user's enabled policies once, outside the
// regular cadence.
func (e *Engine) EvaluateOwner(ctx context.Context, userID int64) error {
	return e.evaluate(ctx, func(ctx context.Context, s Store) ([]model.ScalingPolicy, error) {
		return s.ListEnabledPoliciesOwnedBy(ctx, userID)
	})
}

func (e *Engine) evaluate(ctx context.Context, list func(context.Context, Store) ([]model.ScalingPolicy, error)) error {
	s, err := e.open(ctx)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer s.Close()

	policies, err := list(ctx, s)
	if err != nil {
		return errors.Wrap(err, "list policies")
	}

	var errl *multierror.Error
	for i := range policies {
		if err := e.evaluatePolicy(ctx, s, &policies[i]); err != nil {
			log.Warnf("Policy %d (container %d): %v", policies[i].ID, policies[i].ContainerID, err)
			errl = multierror.Append(errl, errors.Wrapf(err, "policy %d", policies[i].ID))
		}
	}
	return errl.ErrorOrNil()
}

func (e *Engine) evaluatePolicy(ctx context.Context, s Store, policy *model.ScalingPolicy) error {
	parent, err := s.ContainerByID(ctx, policy.ContainerID)
	if err != nil {
		return err
	}
	if parent.Status != model.ContainerRunning {
		return nil
	}

	metrics, err := e.sampler.Sample(ctx, parent)
	if err != nil {
		return errors.Wrap(err, "sample metrics")
	}
	replicas, err := s.CountRunningReplicas(ctx, parent.ID)
	if err != nil {
		return err
	}

	d, ok := decide(policy, metrics, replicas, e.clock.Now().UTC())
	if !ok {
		return nil
	}

	switch d.action {
	case model.ScaleUp:
		return e.scaleUp(ctx, s, policy, parent, replicas, d)
	case model.ScaleDown:
		return e.scaleDown(ctx, s, policy, parent, replicas, d)
	}
	return nil
}

// scaleUp launches one more replica of the parent. The replica inherits the
// parent's image, limits and environment; its name and port derive from the
// current replica count.
func (e *Engine) scaleUp(ctx context.Context, s Store, policy *model.ScalingPolicy, parent *model.Container, replicas int, d decision) error {
	port, err := s.AllocatePort(ctx)
	if err != nil {
		return errors.Wrap(err, "allocate port")
	}

	now := e.clock.Now().UTC()
	replica := &model.Container{
		UserID:         parent.UserID,
		Name:           fmt.Sprintf("%s-replica-%d", parent.Name, replicas),
		Image:          parent.Image,
		Status:         model.ContainerRunning,
		Port:           &port,
		CPULimit:       parent.CPULimit,
		MemoryLimit:    parent.MemoryLimit,
		Env:            parent.Env,
		DeploymentType: parent.DeploymentType,
		ParentID:       &parent.ID,
		StartedAt:      &now,
	}

	if !parent.Simulated() {
		if e.driver == nil {
			return errs.NewDriverUnavailable("no container driver configured")
		}
		handle, err := e.driver.Run(ctx, docker.RunOptions{
			Image:         parent.Image,
			Name:          replica.Name,
			HostPort:      port,
			CPUMillicores: parent.CPULimit,
			MemoryMB:      parent.MemoryLimit,
			Env:           parent.Env,
		})
		if err != nil {
			return err
		}
		replica.EngineHandle = handle
	}

	event := &model.ScalingEvent{
		PolicyID:       policy.ID,
		ContainerID:    parent.ID,
		Action:         model.ScaleUp,
		TriggerMetric:  d.trigger,
		MetricValue:    d.value,
		ReplicasBefore: replicas,
		ReplicasAfter:  replicas + 1,
	}
	if err := s.ApplyScaleUp(ctx, policy, replica, event); err != nil {
		// The replica row never landed; reap the orphaned workload.
		if replica.EngineHandle != "" {
			if rmErr := e.driver.Remove(ctx, replica.EngineHandle); rmErr != nil {
				log.Warnf("Failed to remove orphaned replica %s: %v", replica.Name, rmErr)
			}
		}
		return err
	}

	log.Infof("Scaled up %s: %d -> %d replicas (%s at %.2f%%)",
		parent.Name, replicas, replicas+1, d.trigger, d.value)
	return nil
}

// scaleDown retires the newest running replica. The parent itself is never
// stopped by the autoscaler.
func (e *Engine) scaleDown(ctx context.Context, s Store, policy *model.ScalingPolicy, parent *model.Container, replicas int, d decision) error {
	replica, err := s.NewestRunningReplica(ctx, parent.ID)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil
		}
		return err
	}

	if replica.EngineHandle != "" && e.driver != nil {
		if err := e.driver.Stop(ctx, replica.EngineHandle); err != nil {
			log.Warnf("Failed to stop replica %s, retiring the row anyway: %v", replica.Name, err)
		} else if err := e.driver.Remove(ctx, replica.EngineHandle); err != nil {
			log.Warnf("Failed to remove replica %s: %v", replica.Name, err)
		}
	}

	event := &model.ScalingEvent{
		PolicyID:       policy.ID,
		ContainerID:    parent.ID,
		Action:         model.ScaleDown,
		TriggerMetric:  d.trigger,
		MetricValue:    d.value,
		ReplicasBefore: replicas,
		ReplicasAfter:  replicas - 1,
	}
	if err := s.ApplyScaleDown(ctx, policy, replica, event); err != nil {
		return err
	}

	log.Infof("Scaled down %s: %d -> %d replicas (%s at %.2f%%)",
		parent.Name, replicas, replicas-1, d.trigger, d.value)
	return nil
}
