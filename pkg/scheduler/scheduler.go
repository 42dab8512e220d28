// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package scheduler owns the lifecycle of the perpetual background loops.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/intelliscale/scalesim/pkg/util/log"
)

const stopDeadline = 5 * time.Second

// Loop is one perpetual background task. Run must return when ctx is done.
type Loop interface {
	Run(ctx context.Context)
}

// Scheduler starts the background loops and stops them together.
type Scheduler struct {
	loops []Loop

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Scheduler over the given loops.
func New(loops ...Loop) *Scheduler {
	return &Scheduler{loops: loops}
}

// Start launches every loop. Calling Start twice is a programming error.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, loop := range s.loops {
		loop := loop
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			loop.Run(ctx)
		}()
	}
	log.Infof("Scheduler started %d background loops", len(s.loops))
}

// Stop cancels the loops and waits for them, bounded by a drain deadline.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("Background loops stopped")
	case <-time.After(stopDeadline):
		log.Warn("Background loops did not stop before the deadline")
	}
}
