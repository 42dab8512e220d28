// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoop struct {
	started atomic.Int64
	stopped atomic.Int64
}

func (l *countingLoop) Run(ctx context.Context) {
	l.started.Add(1)
	<-ctx.Done()
	l.stopped.Add(1)
}

func TestStartStop(t *testing.T) {
	a := &countingLoop{}
	b := &countingLoop{}
	s := New(a, b)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return a.started.Load() == 1 && b.started.Load() == 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.Equal(t, int64(1), a.stopped.Load())
	assert.Equal(t, int64(1), b.stopped.Load())
}

func TestStopWithoutStart(t *testing.T) {
	assert.NotPanics(t, func() { New().Stop() })
}
