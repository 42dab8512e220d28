// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/intelliscale/scalesim/pkg/api"
	"github.com/intelliscale/scalesim/pkg/autoscaler"
	"github.com/intelliscale/scalesim/pkg/billing"
	"github.com/intelliscale/scalesim/pkg/config"
	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/loadtest"
	"github.com/intelliscale/scalesim/pkg/monitoring"
	"github.com/intelliscale/scalesim/pkg/scheduler"
	"github.com/intelliscale/scalesim/pkg/store"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the API server and background loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run()
		},
	}
}

func run() error {
	cfg := config.Load()

	logger, err := log.BuildConsoleLogger(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	log.SetupLogger(logger, cfg.LogLevel)
	defer log.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An unreachable store is fatal misconfiguration.
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Init(ctx); err != nil {
		return err
	}

	driver := docker.New()
	if health := driver.Status(ctx); health.Available {
		log.Infof("Container engine available (version %s)", health.Version)
	} else {
		log.Warnf("Container engine unavailable (%s): %s", health.ErrorKind, health.Message)
	}

	session := func(ctx context.Context) (*store.Store, error) { return db.Session(ctx) }

	as := autoscaler.New(
		func(ctx context.Context) (autoscaler.Store, error) { return session(ctx) },
		autoscaler.NewSampler(driver, time.Now().UnixNano()),
		driver,
		autoscaler.WithInterval(cfg.AutoscaleInterval),
	)
	lt := loadtest.New(
		func(ctx context.Context) (loadtest.Store, error) { return session(ctx) },
		driver,
	)
	bl := billing.New(
		func(ctx context.Context) (billing.Store, error) { return session(ctx) },
		driver,
		billing.WithInterval(cfg.BillingInterval),
	)
	if err := bl.Seed(ctx); err != nil {
		return err
	}
	mon := monitoring.NewService(
		func(context.Context) (monitoring.Store, error) { return db.Store(), nil },
		driver,
		monitoring.NewMetrics(),
	)

	sched := scheduler.New(as, bl)
	sched.Start(ctx)
	defer sched.Stop()
	defer lt.Shutdown()

	srv := api.NewServer(cfg, db, driver, as, lt, bl, mon)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
