// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliscale/scalesim/pkg/autoscaler"
	"github.com/intelliscale/scalesim/pkg/config"
	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
)

func jsonDecode(data []byte, into interface{}) error {
	return json.Unmarshal(data, into)
}

func TestWriteErrorStatusMapping(t *testing.T) {
	for name, tc := range map[string]struct {
		err    error
		status int
	}{
		"not found":          {errs.NewNotFound("container"), http.StatusNotFound},
		"not authorized":     {errs.NewNotAuthorized("wrong role"), http.StatusForbidden},
		"invalid input":      {errs.NewInvalidInput("bad"), http.StatusBadRequest},
		"conflict":           {errs.NewConflict("taken"), http.StatusConflict},
		"driver unavailable": {errs.NewDriverUnavailable("engine down"), http.StatusServiceUnavailable},
		"driver failure":     {errs.NewDriverFailure("pull failed", nil), http.StatusBadRequest},
		"internal":           {errs.NewInternal(assert.AnError), http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
		})
	}
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errs.NewInternal(assert.AnError))
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestPolicyRequestValidate(t *testing.T) {
	valid := policyRequest{
		ScaleUpCPU: 80, ScaleUpMem: 80, ScaleDownCPU: 30, ScaleDownMem: 30,
		MinReplicas: 1, MaxReplicas: 5, CooldownSeconds: 300, EvaluationSeconds: 60,
	}
	assert.NoError(t, valid.validate())

	for name, mutate := range map[string]func(*policyRequest){
		"zero min":             func(p *policyRequest) { p.MinReplicas = 0 },
		"max below min":        func(p *policyRequest) { p.MaxReplicas = 0 },
		"max above cap":        func(p *policyRequest) { p.MaxReplicas = 9 },
		"up threshold > 100":   func(p *policyRequest) { p.ScaleUpCPU = 120 },
		"down above up":        func(p *policyRequest) { p.ScaleDownCPU = 90 },
		"negative down":        func(p *policyRequest) { p.ScaleDownMem = -1 },
		"negative cooldown":    func(p *policyRequest) { p.CooldownSeconds = -1 },
		"cooldown too short":   func(p *policyRequest) { p.CooldownSeconds = 59 },
		"evaluation too short": func(p *policyRequest) { p.EvaluationSeconds = 29 },
	} {
		t.Run(name, func(t *testing.T) {
			p := valid
			mutate(&p)
			err := p.validate()
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
		})
	}
}

// evalFakeStore feeds the autoscaler one policy whose container lookup
// fails, so every pass collects exactly one per-policy error.
type evalFakeStore struct {
	policies []model.ScalingPolicy
}

func (f *evalFakeStore) ListEnabledPolicies(context.Context) ([]model.ScalingPolicy, error) {
	return f.policies, nil
}

func (f *evalFakeStore) ListEnabledPoliciesOwnedBy(context.Context, int64) ([]model.ScalingPolicy, error) {
	return f.policies, nil
}

func (f *evalFakeStore) ContainerByID(context.Context, int64) (*model.Container, error) {
	return nil, errs.NewNotFound("container")
}

func (f *evalFakeStore) CountRunningReplicas(context.Context, int64) (int, error) { return 0, nil }

func (f *evalFakeStore) NewestRunningReplica(context.Context, int64) (*model.Container, error) {
	return nil, errs.NewNotFound("replica")
}

func (f *evalFakeStore) AllocatePort(context.Context) (int, error) { return 0, nil }

func (f *evalFakeStore) ApplyScaleUp(context.Context, *model.ScalingPolicy, *model.Container, *model.ScalingEvent) error {
	return nil
}

func (f *evalFakeStore) ApplyScaleDown(context.Context, *model.ScalingPolicy, *model.Container, *model.ScalingEvent) error {
	return nil
}

func (f *evalFakeStore) Close() error { return nil }

func evaluateNowRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/autoscaling/evaluate-now", nil)
	return req.WithContext(context.WithValue(req.Context(), userKey, &model.User{ID: 1}))
}

func TestEvaluateNowToleratesPolicyFailures(t *testing.T) {
	eng := autoscaler.New(
		func(context.Context) (autoscaler.Store, error) {
			return &evalFakeStore{policies: []model.ScalingPolicy{{ID: 1, ContainerID: 99, UserID: 1}}}, nil
		},
		nil, nil,
	)
	s := &Server{autoscaler: eng}

	rec := httptest.NewRecorder()
	s.handleEvaluateNow(rec, evaluateNowRequest())

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string   `json:"status"`
		Errors []string `json:"errors"`
	}
	require.NoError(t, jsonDecode(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	require.Len(t, body.Errors, 1)
	assert.Contains(t, body.Errors[0], "policy 1")
}

func TestEvaluateNowStoreFailureIsInternal(t *testing.T) {
	eng := autoscaler.New(
		func(context.Context) (autoscaler.Store, error) { return nil, assert.AnError },
		nil, nil,
	)
	s := &Server{autoscaler: eng}

	rec := httptest.NewRecorder()
	s.handleEvaluateNow(rec, evaluateNowRequest())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartLoadTestRequestValidate(t *testing.T) {
	valid := startLoadTestRequest{TotalRequests: 100, Concurrency: 10, DurationSeconds: 30}
	assert.NoError(t, valid.validate())

	for name, req := range map[string]startLoadTestRequest{
		"zero requests":      {TotalRequests: 0, Concurrency: 10, DurationSeconds: 30},
		"too many requests":  {TotalRequests: 1001, Concurrency: 10, DurationSeconds: 30},
		"zero concurrency":   {TotalRequests: 100, Concurrency: 0, DurationSeconds: 30},
		"excess concurrency": {TotalRequests: 100, Concurrency: 51, DurationSeconds: 30},
		"duration too short": {TotalRequests: 100, Concurrency: 10, DurationSeconds: 9},
		"duration too long":  {TotalRequests: 100, Concurrency: 10, DurationSeconds: 301},
	} {
		t.Run(name, func(t *testing.T) {
			err := req.validate()
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := &Server{cfg: &config.C{JWTSecret: "test-secret", TokenExpiry: time.Hour}}

	rec := httptest.NewRecorder()
	s.issueToken(rec, &model.User{ID: 42, Email: "a@b.c"}, http.StatusOK)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tokenResponse
	require.NoError(t, jsonDecode(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)

	userID, err := s.parseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issuer := &Server{cfg: &config.C{JWTSecret: "secret-a", TokenExpiry: time.Hour}}
	rec := httptest.NewRecorder()
	issuer.issueToken(rec, &model.User{ID: 1}, http.StatusOK)

	var resp tokenResponse
	require.NoError(t, jsonDecode(rec.Body.Bytes(), &resp))

	verifier := &Server{cfg: &config.C{JWTSecret: "secret-b"}}
	_, err := verifier.parseToken(resp.Token)
	assert.Error(t, err)
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	s := &Server{cfg: &config.C{JWTSecret: "secret"}}
	handler := s.authenticate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	for name, header := range map[string]string{
		"no header":    "",
		"wrong scheme": "Basic abc",
		"garbage":      "Bearer not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/containers", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	handler := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	// A caller-provided id is preserved.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}

func TestWriteSSEFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSSE(rec, rec, "metric", map[string]int{"completed": 3})
	writeSSE(rec, rec, "complete", completeEvent{Status: model.TestCompleted, TotalCompleted: 3})

	body := rec.Body.String()
	assert.Contains(t, body, "event: metric\ndata: {\"completed\":3}\n\n")
	assert.Contains(t, body, "event: complete\n")
	assert.Contains(t, body, `"status":"completed"`)
	assert.True(t, rec.Flushed)
}

func TestPathID(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/x/7", nil), map[string]string{"id": "7"})
	id, err := pathID(req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	bad := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/x/abc", nil), map[string]string{"id": "abc"})
	_, err = pathID(bad)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=5&bad=zz&neg=-1", nil)
	assert.Equal(t, 5, queryInt(req, "limit", 50))
	assert.Equal(t, 50, queryInt(req, "missing", 50))
	assert.Equal(t, 50, queryInt(req, "bad", 50))
	assert.Equal(t, 50, queryInt(req, "neg", 50))
}
