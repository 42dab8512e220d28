// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// ContainerStatus tracks the container lifecycle. Containers are born
// pending; driver outcomes move them to running or error; an explicit stop
// sets stopped.
type ContainerStatus string

// Container statuses.
const (
	ContainerPending ContainerStatus = "pending"
	ContainerRunning ContainerStatus = "running"
	ContainerStopped ContainerStatus = "stopped"
	ContainerError   ContainerStatus = "error"
)

// DeploymentType selects how a container gets its image.
type DeploymentType string

// Deployment types.
const (
	DeployDockerHub DeploymentType = "dockerhub"
	DeployGitHub    DeploymentType = "github"
	DeploySimulated DeploymentType = "simulated"
)

// Valid returns true for a known deployment type.
func (d DeploymentType) Valid() bool {
	switch d {
	case DeployDockerHub, DeployGitHub, DeploySimulated:
		return true
	}
	return false
}

// Container is one deployed (or simulated) workload. A non-nil ParentID
// marks a replica spawned by the autoscaler; replicas share the parent's
// image and owner.
type Container struct {
	bun.BaseModel `bun:"table:containers,alias:c"`

	ID     int64           `bun:",pk,autoincrement" json:"id"`
	UserID int64           `bun:"user_id,notnull" json:"user_id"`
	Name   string          `bun:"name,notnull" json:"name"`
	Image  string          `bun:"image,nullzero" json:"image,omitempty"`
	Status ContainerStatus `bun:"status,notnull,default:'pending'" json:"status"`

	// Port is unique across all containers when assigned.
	Port        *int              `bun:"port" json:"port,omitempty"`
	CPULimit    int               `bun:"cpu_limit,notnull,default:500" json:"cpu_limit"`    // millicores
	MemoryLimit int               `bun:"memory_limit,notnull,default:512" json:"memory_limit"` // MB
	Env         map[string]string `bun:"environment_vars,type:jsonb" json:"env,omitempty"`

	DeploymentType DeploymentType `bun:"deployment_type,nullzero" json:"deployment_type"`
	SourceURL      string         `bun:"source_url,nullzero" json:"source_url,omitempty"`

	// EngineHandle is the opaque id the container driver knows this
	// workload by. Simulated containers never get one.
	EngineHandle string `bun:"engine_handle,nullzero" json:"engine_handle,omitempty"`

	// ParentID links a replica to its parent container.
	ParentID *int64 `bun:"parent_id" json:"parent_id,omitempty"`

	CreatedAt time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	StartedAt *time.Time `bun:"started_at" json:"started_at,omitempty"`
	StoppedAt *time.Time `bun:"stopped_at" json:"stopped_at,omitempty"`
}

// IsReplica reports whether the container was spawned by the autoscaler.
func (c *Container) IsReplica() bool { return c.ParentID != nil }

// Simulated reports whether metrics for this container are synthesized.
func (c *Container) Simulated() bool { return c.DeploymentType == DeploySimulated }

// LocalURL returns the localhost URL for the container's published port,
// or "" when no port is assigned.
func (c *Container) LocalURL() string {
	if c.Port == nil {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", *c.Port)
}
