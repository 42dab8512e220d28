// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"net/http"
	"time"

	"github.com/intelliscale/scalesim/pkg/billing"
	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
)

func (s *Server) handlePricingModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.db.Store().ListPricing(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

type realTimeRequest struct {
	ContainerID int64                 `json:"container_id"`
	HoursBack   float64               `json:"hours_back"`
	Provider    model.PricingProvider `json:"provider"`
}

func (s *Server) handleRealTimeBilling(w http.ResponseWriter, r *http.Request) {
	var req realTimeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.HoursBack <= 0 {
		req.HoursBack = 1
	}
	if req.Provider == "" {
		req.Provider = model.ProviderAWS
	}
	if !req.Provider.Valid() {
		writeError(w, errs.NewInvalidInput("unknown provider"))
		return
	}

	// Ownership gate before any cost math.
	user := userFrom(r.Context())
	if _, err := s.db.Store().ContainerOwnedBy(r.Context(), req.ContainerID, user.ID); err != nil {
		writeError(w, err)
		return
	}

	bill, err := s.billing.CalculateRealTime(r.Context(), req.ContainerID, req.HoursBack, req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (s *Server) handleScenarioSimulate(w http.ResponseWriter, r *http.Request) {
	var in billing.ScenarioInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Provider == "" {
		in.Provider = model.ProviderAWS
	}
	if !in.Provider.Valid() {
		writeError(w, errs.NewInvalidInput("unknown provider"))
		return
	}
	if in.CPUCores < 0 || in.MemoryGB < 0 || in.StorageGB < 0 || in.DurationHours <= 0 {
		writeError(w, errs.NewInvalidInput("resource figures must be non-negative and duration positive"))
		return
	}

	result, err := s.billing.SimulateScenario(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUsageHistory(w http.ResponseWriter, r *http.Request) {
	container, err := s.ownedContainer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	hours := queryInt(r, "hours", 24)
	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	usage, err := s.db.Store().UsageWindow(r.Context(), container.ID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"container_id": container.ID,
		"start":        start,
		"end":          end,
		"usage":        usage,
	})
}

// handleBillingContainers lists the caller's containers for billing
// selection.
func (s *Server) handleBillingContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.db.Store().ListContainers(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containers)
}
