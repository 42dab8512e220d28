// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

const (
	maxTotalRequests = 1000
	maxConcurrency   = 50
	minDuration      = 10
	maxDuration      = 300

	streamInterval = 2 * time.Second
)

type startLoadTestRequest struct {
	ContainerID     int64  `json:"container_id"`
	TargetURL       string `json:"target_url,omitempty"`
	TotalRequests   int    `json:"total_requests"`
	Concurrency     int    `json:"concurrency"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (req *startLoadTestRequest) validate() error {
	switch {
	case req.TotalRequests < 1 || req.TotalRequests > maxTotalRequests:
		return errs.NewInvalidInput(fmt.Sprintf("total_requests must be in [1, %d]", maxTotalRequests))
	case req.Concurrency < 1 || req.Concurrency > maxConcurrency:
		return errs.NewInvalidInput(fmt.Sprintf("concurrency must be in [1, %d]", maxConcurrency))
	case req.DurationSeconds < minDuration || req.DurationSeconds > maxDuration:
		return errs.NewInvalidInput(fmt.Sprintf("duration_seconds must be in [%d, %d]", minDuration, maxDuration))
	}
	return nil
}

func (s *Server) handleStartLoadTest(w http.ResponseWriter, r *http.Request) {
	var req startLoadTestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	user := userFrom(r.Context())
	st := s.db.Store()
	container, err := st.ContainerOwnedBy(r.Context(), req.ContainerID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if container.Status != model.ContainerRunning {
		writeError(w, errs.NewInvalidInput("container must be running to load test it"))
		return
	}
	target := req.TargetURL
	if target == "" {
		target = container.LocalURL()
		if target == "" {
			writeError(w, errs.NewInvalidInput("container has no port; provide target_url"))
			return
		}
	}

	test := &model.LoadTest{
		UserID:          user.ID,
		ContainerID:     container.ID,
		TargetURL:       target,
		TotalRequests:   req.TotalRequests,
		Concurrency:     req.Concurrency,
		DurationSeconds: req.DurationSeconds,
		Status:          model.TestPending,
	}
	if err := st.CreateLoadTest(r.Context(), test); err != nil {
		writeError(w, err)
		return
	}
	s.loadtests.Start(test.ID)
	log.Infof("Load test %d queued by user %d", test.ID, user.ID)
	writeJSON(w, http.StatusCreated, test)
}

type loadTestStatus struct {
	*model.LoadTest
	Progress float64 `json:"progress"`
}

func (s *Server) handleLoadTestStatus(w http.ResponseWriter, r *http.Request) {
	test, err := s.ownedLoadTest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loadTestStatus{LoadTest: test, Progress: test.Progress()})
}

func (s *Server) handleCancelLoadTest(w http.ResponseWriter, r *http.Request) {
	test, err := s.ownedLoadTest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if test.Status.Terminal() || !s.loadtests.Cancel(test.ID) {
		writeError(w, errs.NewInvalidInput("load test is not running"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleLoadTestHistory(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	containerID := int64(queryInt(r, "container_id", 0))
	limit := queryInt(r, "limit", 20)

	st := s.db.Store()
	tests, err := st.ListLoadTests(r.Context(), user.ID, containerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := st.CountLoadTests(r.Context(), user.ID, containerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tests": tests,
		"total": total,
	})
}

type completeEvent struct {
	Status         model.LoadTestStatus `json:"status"`
	TotalCompleted int                  `json:"total_completed"`
	TotalFailed    int                  `json:"total_failed"`
}

// handleLoadTestStream serves the test's snapshots over Server-Sent
// Events: one "metric" event per snapshot and a final "complete" event
// when the test reaches a terminal state.
func (s *Server) handleLoadTestStream(w http.ResponseWriter, r *http.Request) {
	test, err := s.ownedLoadTest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errs.NewInternal(fmt.Errorf("response writer does not support streaming")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	st := s.db.Store()
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var lastMetricID int64
	for {
		metric, err := st.LatestLoadTestMetric(r.Context(), test.ID)
		if err == nil && metric.ID != lastMetricID {
			lastMetricID = metric.ID
			writeSSE(w, flusher, "metric", metric)
		} else if err != nil && !errs.IsNotFound(err) {
			log.Warnf("Streaming load test %d: %v", test.ID, err)
			return
		}

		current, err := st.LoadTestByID(r.Context(), test.ID)
		if err != nil {
			return
		}
		if current.Status.Terminal() {
			writeSSE(w, flusher, "complete", completeEvent{
				Status:         current.Status,
				TotalCompleted: current.RequestsCompleted,
				TotalFailed:    current.RequestsFailed,
			})
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warnf("Encoding SSE payload: %v", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func (s *Server) ownedLoadTest(r *http.Request) (*model.LoadTest, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return s.db.Store().LoadTestOwnedBy(r.Context(), id, userFrom(r.Context()).ID)
}
