// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package store persists all service entities in Postgres through bun.
// Background loops open one session per tick through DB.Session and close
// it; request handlers share the root pool.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

// DB owns the connection pool. It hands out Store sessions.
type DB struct {
	bun *bun.DB
}

// Store executes queries over one bun handle (the pool, a pinned
// connection, or a transaction).
type Store struct {
	db      bun.IDB
	release func() error
}

// Open dials Postgres and verifies connectivity. An unreachable store is a
// fatal misconfiguration; callers abort startup on error.
func Open(ctx context.Context, dsn string) (*DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, errors.Wrap(err, "store unreachable")
	}
	return &DB{bun: db}, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.bun.Close()
}

// Store returns a session backed by the shared pool. Closing it is a no-op.
func (d *DB) Store() *Store {
	return &Store{db: d.bun}
}

// Session pins one connection for the caller. Background ticks use this so
// each tick holds and releases a dedicated session.
func (d *DB) Session(ctx context.Context) (*Store, error) {
	conn, err := d.bun.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening store session")
	}
	return &Store{db: conn, release: conn.Close}, nil
}

// Close releases the session's connection, if it owns one.
func (s *Store) Close() error {
	if s.release != nil {
		return s.release()
	}
	return nil
}

// RunInTx runs fn inside one transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

var tables = []interface{}{
	(*model.User)(nil),
	(*model.Container)(nil),
	(*model.ScalingPolicy)(nil),
	(*model.ScalingEvent)(nil),
	(*model.LoadTest)(nil),
	(*model.LoadTestMetric)(nil),
	(*model.ResourceUsage)(nil),
	(*model.PricingModel)(nil),
	(*model.BillingSnapshot)(nil),
}

// Init creates missing tables and indexes. Full schema migrations are
// handled outside the service; this bootstrap only covers fresh databases.
func (d *DB) Init(ctx context.Context) error {
	store := d.Store()

	for _, table := range tables {
		q := store.db.NewCreateTable().Model(table).IfNotExists()
		switch table.(type) {
		case *model.Container:
			q = q.ForeignKey(`("parent_id") REFERENCES "containers" ("id") ON DELETE CASCADE`).
				ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`)
		case *model.ScalingPolicy:
			q = q.ForeignKey(`("container_id") REFERENCES "containers" ("id") ON DELETE CASCADE`)
		case *model.ScalingEvent:
			q = q.ForeignKey(`("policy_id") REFERENCES "scaling_policies" ("id") ON DELETE CASCADE`).
				ForeignKey(`("container_id") REFERENCES "containers" ("id") ON DELETE CASCADE`)
		case *model.LoadTest:
			q = q.ForeignKey(`("container_id") REFERENCES "containers" ("id") ON DELETE CASCADE`)
		case *model.LoadTestMetric:
			q = q.ForeignKey(`("load_test_id") REFERENCES "load_tests" ("id") ON DELETE CASCADE`)
		case *model.ResourceUsage, *model.BillingSnapshot:
			q = q.ForeignKey(`("container_id") REFERENCES "containers" ("id") ON DELETE CASCADE`)
		}
		if _, err := q.Exec(ctx); err != nil {
			return errors.Wrap(err, "creating tables")
		}
	}

	// Ports are unique across all containers when assigned; the constraint
	// arbitrates concurrent allocation.
	if _, err := store.db.NewRaw(
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_containers_port ON containers (port) WHERE port IS NOT NULL`,
	).Exec(ctx); err != nil {
		return errors.Wrap(err, "creating port index")
	}
	if _, err := store.db.NewRaw(
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_containers_owner_name ON containers (user_id, name)`,
	).Exec(ctx); err != nil {
		return errors.Wrap(err, "creating name index")
	}

	log.Infof("Store schema ready")
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

// mapNotFound converts sql.ErrNoRows into a domain NotFound error.
func mapNotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NewNotFound(what)
	}
	return err
}
