// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package api exposes the service over HTTP: identity, container
// lifecycle, autoscaling policies, load tests, billing and monitoring.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/intelliscale/scalesim/pkg/autoscaler"
	"github.com/intelliscale/scalesim/pkg/billing"
	"github.com/intelliscale/scalesim/pkg/config"
	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/loadtest"
	"github.com/intelliscale/scalesim/pkg/monitoring"
	"github.com/intelliscale/scalesim/pkg/store"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

// Server wires the HTTP surface to the engines and the store.
type Server struct {
	cfg        *config.C
	db         *store.DB
	driver     *docker.Driver
	autoscaler *autoscaler.Engine
	loadtests  *loadtest.Engine
	billing    *billing.Engine
	monitoring *monitoring.Service

	router *mux.Router
}

// NewServer builds the router and returns a ready Server.
func NewServer(
	cfg *config.C,
	db *store.DB,
	driver *docker.Driver,
	as *autoscaler.Engine,
	lt *loadtest.Engine,
	bl *billing.Engine,
	mon *monitoring.Service,
) *Server {
	s := &Server{
		cfg:        cfg,
		db:         db,
		driver:     driver,
		autoscaler: as,
		loadtests:  lt,
		billing:    bl,
		monitoring: mon,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.Handle("/me", s.authenticate(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	containers := r.PathPrefix("/containers").Subrouter()
	containers.Use(s.authenticate)
	containers.HandleFunc("/deploy", s.handleDeploy).Methods(http.MethodPost)
	containers.HandleFunc("/images", s.handleListImages).Methods(http.MethodGet)
	containers.HandleFunc("/engine/status", s.handleEngineStatus).Methods(http.MethodGet)
	containers.HandleFunc("", s.handleListContainers).Methods(http.MethodGet)
	containers.HandleFunc("/{id:[0-9]+}", s.handleGetContainer).Methods(http.MethodGet)
	containers.HandleFunc("/{id:[0-9]+}", s.handleDeleteContainer).Methods(http.MethodDelete)
	containers.HandleFunc("/{id:[0-9]+}/start", s.handleStartContainer).Methods(http.MethodPost)
	containers.HandleFunc("/{id:[0-9]+}/stop", s.handleStopContainer).Methods(http.MethodPost)
	containers.HandleFunc("/{id:[0-9]+}/logs", s.handleContainerLogs).Methods(http.MethodGet)

	scaling := r.PathPrefix("/autoscaling").Subrouter()
	scaling.Use(s.authenticate)
	scaling.HandleFunc("/policies", s.handleCreatePolicy).Methods(http.MethodPost)
	scaling.HandleFunc("/policies", s.handleListPolicies).Methods(http.MethodGet)
	scaling.HandleFunc("/policies/{id:[0-9]+}", s.handleGetPolicy).Methods(http.MethodGet)
	scaling.HandleFunc("/policies/{id:[0-9]+}", s.handleUpdatePolicy).Methods(http.MethodPut)
	scaling.HandleFunc("/policies/{id:[0-9]+}", s.handleDeletePolicy).Methods(http.MethodDelete)
	scaling.HandleFunc("/policies/{id:[0-9]+}/toggle", s.handleTogglePolicy).Methods(http.MethodPost)
	scaling.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	scaling.HandleFunc("/evaluate-now", s.handleEvaluateNow).Methods(http.MethodPost)

	tests := r.PathPrefix("/loadtest").Subrouter()
	tests.Use(s.authenticate)
	tests.HandleFunc("/start", s.handleStartLoadTest).Methods(http.MethodPost)
	tests.HandleFunc("/history", s.handleLoadTestHistory).Methods(http.MethodGet)
	tests.HandleFunc("/{id:[0-9]+}", s.handleLoadTestStatus).Methods(http.MethodGet)
	tests.HandleFunc("/{id:[0-9]+}", s.handleCancelLoadTest).Methods(http.MethodDelete)
	tests.HandleFunc("/{id:[0-9]+}/metrics/stream", s.handleLoadTestStream).Methods(http.MethodGet)

	bill := r.PathPrefix("/billing").Subrouter()
	bill.Use(s.authenticate)
	bill.HandleFunc("/pricing-models", s.handlePricingModels).Methods(http.MethodGet)
	bill.HandleFunc("/real-time/calculate", s.handleRealTimeBilling).Methods(http.MethodPost)
	bill.HandleFunc("/scenario/simulate", s.handleScenarioSimulate).Methods(http.MethodPost)
	bill.HandleFunc("/usage-history/{id:[0-9]+}", s.handleUsageHistory).Methods(http.MethodGet)
	bill.HandleFunc("/containers", s.handleBillingContainers).Methods(http.MethodGet)

	mon := r.PathPrefix("/monitoring").Subrouter()
	mon.Handle("/metrics", s.monitoring.Metrics().Handler()).Methods(http.MethodGet)
	mon.Handle("/overview", s.authenticate(http.HandlerFunc(s.handleMonitoringOverview))).Methods(http.MethodGet)
	mon.Handle("/containers", s.authenticate(http.HandlerFunc(s.handleMonitoringContainers))).Methods(http.MethodGet)
	mon.Handle("/containers/{id:[0-9]+}", s.authenticate(http.HandlerFunc(s.handleMonitoringContainer))).Methods(http.MethodGet)

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handler returns the full middleware stack: request ids, access logging
// and CORS for the frontend origin.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{s.cfg.FrontendURL}),
		handlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
	)
	return withRequestID(handlers.LoggingHandler(accessLogWriter{}, cors(s.router)))
}

// accessLogWriter funnels the Apache-style access log into the service
// logger.
type accessLogWriter struct{}

func (accessLogWriter) Write(p []byte) (int, error) {
	log.Debug(strings.TrimSpace(string(p)))
	return len(p), nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", s.cfg.BindAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
