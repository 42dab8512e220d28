// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package docker is a thin adapter over the local docker CLI. It shells out
// rather than using the engine API so the same code path works against
// Docker Desktop on every platform the service is taught on.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

const (
	statusCacheValidity = 30 * time.Second
	statsCacheValidity  = 2 * time.Second

	defaultContainerPort = 80
	commandTimeout       = 30 * time.Second
)

// commandRunner executes one CLI invocation and returns stdout and stderr.
// Tests substitute a fake.
type commandRunner func(ctx context.Context, stdin string, name string, args ...string) (string, string, error)

func runCommand(ctx context.Context, stdin string, name string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Driver wraps the docker CLI. It is stateless apart from short-lived
// caches and safe for concurrent use.
type Driver struct {
	bin   string
	run   commandRunner
	cache *cache.Cache
}

// New returns a Driver using the docker binary from PATH.
func New() *Driver {
	return &Driver{
		bin:   "docker",
		run:   runCommand,
		cache: cache.New(statusCacheValidity, time.Minute),
	}
}

func (d *Driver) command(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := d.run(ctx, "", d.bin, args...)
	if err != nil {
		log.Debugf("docker %s failed: %s", strings.Join(args, " "), strings.TrimSpace(stderr))
		return "", errors.Wrapf(err, "docker %s: %s", args[0], strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// ListLocalImages returns the repo:tag names of local images, untagged
// layers excluded.
func (d *Driver) ListLocalImages(ctx context.Context) ([]string, error) {
	out, err := d.command(ctx, "images", "--format", "{{.Repository}}:{{.Tag}}")
	if err != nil {
		return nil, errs.NewDriverFailure("failed to list images", err)
	}
	var images []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "<none>:<none>" {
			images = append(images, line)
		}
	}
	sort.Strings(images)
	return images, nil
}

// ImageExists reports whether the image ref is present locally.
func (d *Driver) ImageExists(ctx context.Context, ref string) (bool, error) {
	out, err := d.command(ctx, "images", "-q", ref)
	if err != nil {
		return false, errs.NewDriverFailure("failed to check image", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Pull pulls an image, optionally authenticating against the registry
// first. The password travels over stdin, never argv.
func (d *Driver) Pull(ctx context.Context, ref, username, password string) error {
	if username != "" && password != "" {
		if _, stderr, err := d.run(ctx, password, d.bin, "login", "-u", username, "--password-stdin"); err != nil {
			return errs.NewDriverFailure("registry login failed", errors.New(strings.TrimSpace(stderr)))
		}
	}
	log.Infof("Pulling image %s", ref)
	if _, err := d.command(ctx, "pull", ref); err != nil {
		return errs.NewDriverFailure(fmt.Sprintf("failed to pull image %s", ref), err)
	}
	return nil
}

// Build builds an image from a build context and Dockerfile and returns the
// tag.
func (d *Driver) Build(ctx context.Context, contextDir, dockerfile, tag string) (string, error) {
	log.Infof("Building image %s from %s", tag, dockerfile)
	if _, err := d.command(ctx, "build", "-t", tag, "-f", dockerfile, contextDir); err != nil {
		return "", errs.NewDriverFailure("image build failed", err)
	}
	return tag, nil
}

// RunOptions configures a container run.
type RunOptions struct {
	Image         string
	Name          string
	HostPort      int
	ContainerPort int // defaults to 80
	CPUMillicores int
	MemoryMB      int
	Env           map[string]string
	RestartPolicy string // defaults to "always"
}

// Run starts a detached container and returns the engine handle.
func (d *Driver) Run(ctx context.Context, opts RunOptions) (string, error) {
	containerPort := opts.ContainerPort
	if containerPort == 0 {
		containerPort = defaultContainerPort
	}
	restart := opts.RestartPolicy
	if restart == "" {
		restart = "always"
	}
	args := []string{
		"run", "-d",
		"--name", opts.Name,
		"-p", fmt.Sprintf("%d:%d", opts.HostPort, containerPort),
		"--cpus", formatCPUs(opts.CPUMillicores),
		"--memory", fmt.Sprintf("%dm", opts.MemoryMB),
		"--restart", restart,
	}
	// Deterministic env ordering keeps run invocations reproducible.
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}
	args = append(args, opts.Image)

	out, err := d.command(ctx, args...)
	if err != nil {
		return "", errs.NewDriverFailure("failed to run container", err)
	}
	handle := strings.TrimSpace(out)
	log.Infof("Container started: %s (%s)", opts.Name, shortHandle(handle))
	return handle, nil
}

// Start starts a stopped container.
func (d *Driver) Start(ctx context.Context, handle string) error {
	if _, err := d.command(ctx, "start", handle); err != nil {
		return errs.NewDriverFailure("failed to start container", err)
	}
	return nil
}

// Stop stops a running container.
func (d *Driver) Stop(ctx context.Context, handle string) error {
	if _, err := d.command(ctx, "stop", handle); err != nil {
		return errs.NewDriverFailure("failed to stop container", err)
	}
	return nil
}

// Remove force-removes a container.
func (d *Driver) Remove(ctx context.Context, handle string) error {
	if _, err := d.command(ctx, "rm", "-f", handle); err != nil {
		return errs.NewDriverFailure("failed to remove container", err)
	}
	return nil
}

// InspectResult is the subset of `docker inspect` the service uses.
type InspectResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

// Inspect returns the engine's view of a container.
func (d *Driver) Inspect(ctx context.Context, handle string) (InspectResult, error) {
	out, err := d.command(ctx, "inspect", handle)
	if err != nil {
		return InspectResult{}, errs.NewDriverFailure("failed to inspect container", err)
	}
	var raw []struct {
		ID    string `json:"Id"`
		Name  string `json:"Name"`
		State struct {
			Status  string `json:"Status"`
			Running bool   `json:"Running"`
		} `json:"State"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil || len(raw) == 0 {
		return InspectResult{}, errs.NewDriverFailure("unexpected inspect output", err)
	}
	return InspectResult{
		ID:      raw[0].ID,
		Name:    strings.TrimPrefix(raw[0].Name, "/"),
		Status:  raw[0].State.Status,
		Running: raw[0].State.Running,
	}, nil
}

// Logs returns the last tail lines of a container's logs.
func (d *Driver) Logs(ctx context.Context, handle string, tail int) (string, error) {
	out, err := d.command(ctx, "logs", "--tail", fmt.Sprintf("%d", tail), handle)
	if err != nil {
		return "", errs.NewDriverFailure("failed to read container logs", err)
	}
	return out, nil
}

// Stats samples one stats snapshot for a container. Samples are cached for
// a short validity window so concurrent callers share one CLI invocation.
func (d *Driver) Stats(ctx context.Context, handle string) (StatsSample, error) {
	cacheKey := "stats:" + handle
	if cached, found := d.cache.Get(cacheKey); found {
		return cached.(StatsSample), nil
	}
	out, err := d.command(ctx, "stats", handle, "--no-stream", "--format",
		`{"cpu":"{{.CPUPerc}}","mem":"{{.MemUsage}}","net":"{{.NetIO}}"}`)
	if err != nil {
		return StatsSample{}, errs.NewDriverFailure("failed to sample container stats", err)
	}
	sample := ParseStats(out)
	d.cache.Set(cacheKey, sample, statsCacheValidity)
	return sample, nil
}

func formatCPUs(millicores int) string {
	if millicores <= 0 {
		millicores = 1000
	}
	return fmt.Sprintf("%g", float64(millicores)/1000)
}

func shortHandle(handle string) string {
	if len(handle) > 12 {
		return handle[:12]
	}
	return handle
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
