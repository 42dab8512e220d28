// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"errors"
	"net/http"

	"github.com/hashicorp/go-multierror"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
)

const defaultEventLimit = 50

type policyRequest struct {
	ContainerID int64 `json:"container_id"`
	Enabled     *bool `json:"enabled,omitempty"`

	ScaleUpCPU   float64 `json:"scale_up_cpu"`
	ScaleUpMem   float64 `json:"scale_up_mem"`
	ScaleDownCPU float64 `json:"scale_down_cpu"`
	ScaleDownMem float64 `json:"scale_down_mem"`

	MinReplicas int `json:"min_replicas"`
	MaxReplicas int `json:"max_replicas"`

	CooldownSeconds   int `json:"cooldown_seconds"`
	EvaluationSeconds int `json:"evaluation_seconds"`
}

func (p *policyRequest) validate() error {
	switch {
	case p.MinReplicas < 1:
		return errs.NewInvalidInput("min_replicas must be at least 1")
	case p.MaxReplicas < p.MinReplicas:
		return errs.NewInvalidInput("max_replicas must be >= min_replicas")
	case p.MaxReplicas > 8:
		return errs.NewInvalidInput("max_replicas must be at most 8")
	case p.ScaleUpCPU <= 0 || p.ScaleUpCPU > 100 || p.ScaleUpMem <= 0 || p.ScaleUpMem > 100:
		return errs.NewInvalidInput("scale-up thresholds must be in (0, 100]")
	case p.ScaleDownCPU < 0 || p.ScaleDownMem < 0:
		return errs.NewInvalidInput("scale-down thresholds must be non-negative")
	case p.ScaleDownCPU >= p.ScaleUpCPU || p.ScaleDownMem >= p.ScaleUpMem:
		return errs.NewInvalidInput("scale-down thresholds must sit below scale-up thresholds")
	case p.CooldownSeconds < 60:
		return errs.NewInvalidInput("cooldown_seconds must be at least 60")
	case p.EvaluationSeconds < 30:
		return errs.NewInvalidInput("evaluation_seconds must be at least 30")
	}
	return nil
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	applyPolicyDefaults(&req)
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	user := userFrom(r.Context())
	st := s.db.Store()
	// Ownership gate: the target container must belong to the caller.
	if _, err := st.ContainerOwnedBy(r.Context(), req.ContainerID, user.ID); err != nil {
		writeError(w, err)
		return
	}

	policy := &model.ScalingPolicy{
		ContainerID:       req.ContainerID,
		UserID:            user.ID,
		Enabled:           true,
		ScaleUpCPU:        req.ScaleUpCPU,
		ScaleUpMem:        req.ScaleUpMem,
		ScaleDownCPU:      req.ScaleDownCPU,
		ScaleDownMem:      req.ScaleDownMem,
		MinReplicas:       req.MinReplicas,
		MaxReplicas:       req.MaxReplicas,
		CooldownSeconds:   req.CooldownSeconds,
		EvaluationSeconds: req.EvaluationSeconds,
	}
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}
	if err := st.CreatePolicy(r.Context(), policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

func applyPolicyDefaults(req *policyRequest) {
	if req.ScaleUpCPU == 0 {
		req.ScaleUpCPU = 80
	}
	if req.ScaleUpMem == 0 {
		req.ScaleUpMem = 80
	}
	if req.ScaleDownCPU == 0 {
		req.ScaleDownCPU = 30
	}
	if req.ScaleDownMem == 0 {
		req.ScaleDownMem = 30
	}
	if req.MinReplicas == 0 {
		req.MinReplicas = 1
	}
	if req.MaxReplicas == 0 {
		req.MaxReplicas = 8
	}
	if req.CooldownSeconds == 0 {
		req.CooldownSeconds = 300
	}
	if req.EvaluationSeconds == 0 {
		req.EvaluationSeconds = 60
	}
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.db.Store().ListPolicies(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.ownedPolicy(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.ownedPolicy(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req policyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	applyPolicyDefaults(&req)
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	policy.ScaleUpCPU = req.ScaleUpCPU
	policy.ScaleUpMem = req.ScaleUpMem
	policy.ScaleDownCPU = req.ScaleDownCPU
	policy.ScaleDownMem = req.ScaleDownMem
	policy.MinReplicas = req.MinReplicas
	policy.MaxReplicas = req.MaxReplicas
	policy.CooldownSeconds = req.CooldownSeconds
	policy.EvaluationSeconds = req.EvaluationSeconds
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}
	if err := s.db.Store().UpdatePolicy(r.Context(), policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleTogglePolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.ownedPolicy(r)
	if err != nil {
		writeError(w, err)
		return
	}
	policy.Enabled = !policy.Enabled
	if err := s.db.Store().UpdatePolicy(r.Context(), policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.ownedPolicy(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.db.Store().DeletePolicy(r.Context(), policy.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var containerID int64
	if raw := r.URL.Query().Get("container_id"); raw != "" {
		containerID = int64(queryInt(r, "container_id", 0))
	}
	limit := queryInt(r, "limit", defaultEventLimit)

	events, err := s.db.Store().ListEvents(r.Context(), userFrom(r.Context()).ID, containerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleEvaluateNow runs one synchronous evaluation pass over the caller's
// enabled policies. A failing policy does not fail the pass; its error is
// reported in the body alongside the success status.
func (s *Server) handleEvaluateNow(w http.ResponseWriter, r *http.Request) {
	if err := s.autoscaler.EvaluateOwner(r.Context(), userFrom(r.Context()).ID); err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			// The pass itself never ran (store open or policy list failed).
			writeError(w, errs.NewInternal(err))
			return
		}
		msgs := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			msgs = append(msgs, e.Error())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "errors": msgs})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) ownedPolicy(r *http.Request) (*model.ScalingPolicy, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return s.db.Store().PolicyOwnedBy(r.Context(), id, userFrom(r.Context()).ID)
}
