// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/model"
	"github.com/intelliscale/scalesim/pkg/store"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

// Port allocation races against concurrent deploys; the unique index
// arbitrates and the loser rescans.
const portAllocAttempts = 3

type deployRequest struct {
	Name           string               `json:"name"`
	DeploymentType model.DeploymentType `json:"deployment_type"`
	Image          string               `json:"image"`
	SourceURL      string               `json:"source_url"`
	CPULimit       int                  `json:"cpu_limit"`
	MemoryLimit    int                  `json:"memory_limit"`
	Env            map[string]string    `json:"environment_vars"`

	RegistryUsername string `json:"registry_username,omitempty"`
	RegistryPassword string `json:"registry_password,omitempty"`
}

func (r *deployRequest) validate() error {
	if r.Name == "" {
		return errs.NewInvalidInput("container name is required")
	}
	if !r.DeploymentType.Valid() {
		return errs.NewInvalidInput("deployment_type must be dockerhub, github or simulated")
	}
	if r.DeploymentType == model.DeployDockerHub && r.Image == "" {
		return errs.NewInvalidInput("image is required for dockerhub deployments")
	}
	if r.DeploymentType == model.DeployGitHub && r.SourceURL == "" {
		return errs.NewInvalidInput("source_url is required for github deployments")
	}
	return nil
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	if req.CPULimit <= 0 {
		req.CPULimit = 500
	}
	if req.MemoryLimit <= 0 {
		req.MemoryLimit = 512
	}

	if req.DeploymentType == model.DeployDockerHub {
		if health := s.driver.Status(r.Context()); !health.Available {
			writeError(w, errs.NewDriverUnavailable(health.Message))
			return
		}
	}

	user := userFrom(r.Context())
	container := &model.Container{
		UserID:         user.ID,
		Name:           req.Name,
		Image:          req.Image,
		Status:         model.ContainerPending,
		CPULimit:       req.CPULimit,
		MemoryLimit:    req.MemoryLimit,
		Env:            req.Env,
		DeploymentType: req.DeploymentType,
		SourceURL:      req.SourceURL,
	}
	if err := s.createWithPort(r, container); err != nil {
		writeError(w, err)
		return
	}

	st := s.db.Store()
	switch req.DeploymentType {
	case model.DeploySimulated:
		now := time.Now().UTC()
		container.Status = model.ContainerRunning
		container.StartedAt = &now
		if err := st.UpdateContainer(r.Context(), container); err != nil {
			writeError(w, err)
			return
		}
	case model.DeployDockerHub:
		if err := s.launch(r, st, container, req.RegistryUsername, req.RegistryPassword); err != nil {
			writeError(w, err)
			return
		}
	case model.DeployGitHub:
		// Cloning and building happen outside the service; the row waits in
		// pending until an image lands.
	}

	writeJSON(w, http.StatusCreated, container)
}

// createWithPort allocates the lowest free port and inserts the row,
// rescanning on port collisions.
func (s *Server) createWithPort(r *http.Request, container *model.Container) error {
	st := s.db.Store()
	var lastErr error
	for attempt := 0; attempt < portAllocAttempts; attempt++ {
		port, err := st.AllocatePort(r.Context())
		if err != nil {
			return err
		}
		container.Port = &port
		if err := st.CreateContainer(r.Context(), container); err != nil {
			if errs.IsConflict(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// launch pulls the image if needed and runs the workload, recording the
// outcome on the row. Driver failures flip the row to error and surface to
// the caller.
func (s *Server) launch(r *http.Request, st *store.Store, container *model.Container, registryUser, registryPass string) error {
	markError := func(cause error) error {
		container.Status = model.ContainerError
		if err := st.UpdateContainer(r.Context(), container); err != nil {
			log.Warnf("Recording launch failure for container %d: %v", container.ID, err)
		}
		return cause
	}

	exists, err := s.driver.ImageExists(r.Context(), container.Image)
	if err != nil {
		return markError(err)
	}
	if !exists {
		if err := s.driver.Pull(r.Context(), container.Image, registryUser, registryPass); err != nil {
			return markError(err)
		}
	}

	handle, err := s.driver.Run(r.Context(), docker.RunOptions{
		Image:         container.Image,
		Name:          container.Name,
		HostPort:      *container.Port,
		CPUMillicores: container.CPULimit,
		MemoryMB:      container.MemoryLimit,
		Env:           container.Env,
	})
	if err != nil {
		return markError(err)
	}

	now := time.Now().UTC()
	container.EngineHandle = handle
	container.Status = model.ContainerRunning
	container.StartedAt = &now
	return st.UpdateContainer(r.Context(), container)
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	st := s.db.Store()

	var (
		containers []model.Container
		err        error
	)
	if user.Role.CanReadAllContainers() {
		containers, err = st.ListAllContainers(r.Context())
	} else {
		containers, err = st.ListContainers(r.Context(), user.ID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containers)
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	container, err := s.ownedContainer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, container)
}

func (s *Server) handleStartContainer(w http.ResponseWriter, r *http.Request) {
	container, err := s.ownedContainer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if container.Status == model.ContainerRunning {
		writeError(w, errs.NewInvalidInput("container is already running"))
		return
	}

	if !container.Simulated() {
		switch {
		case container.EngineHandle != "":
			if err := s.driver.Start(r.Context(), container.EngineHandle); err != nil {
				writeError(w, err)
				return
			}
		case container.Image != "":
			if err := s.launch(r, s.db.Store(), container, "", ""); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, container)
			return
		default:
			writeError(w, errs.NewInvalidInput("container has no image to start"))
			return
		}
	}

	now := time.Now().UTC()
	container.Status = model.ContainerRunning
	container.StartedAt = &now
	container.StoppedAt = nil
	if err := s.db.Store().UpdateContainer(r.Context(), container); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, container)
}

func (s *Server) handleStopContainer(w http.ResponseWriter, r *http.Request) {
	container, err := s.ownedContainer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if container.Status != model.ContainerRunning {
		writeError(w, errs.NewInvalidInput("container is not running"))
		return
	}

	if container.EngineHandle != "" {
		if err := s.driver.Stop(r.Context(), container.EngineHandle); err != nil {
			writeError(w, err)
			return
		}
	}

	now := time.Now().UTC()
	container.Status = model.ContainerStopped
	container.StoppedAt = &now
	if err := s.db.Store().UpdateContainer(r.Context(), container); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, container)
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	container, err := s.ownedContainer(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if container.EngineHandle != "" {
		// Best effort; the row goes regardless so the UI never wedges on a
		// dead engine.
		if err := s.driver.Remove(r.Context(), container.EngineHandle); err != nil {
			log.Warnf("Removing workload for container %d: %v", container.ID, err)
		}
	}
	if err := s.db.Store().DeleteContainer(r.Context(), container.ID); err != nil {
		writeError(w, err)
		return
	}
	if s.monitoring != nil {
		s.monitoring.Metrics().Forget(container)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	container, err := s.ownedContainer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if container.EngineHandle == "" {
		writeError(w, errs.NewInvalidInput("container has no engine workload"))
		return
	}
	tail := queryInt(r, "tail", 100)
	logs, err := s.driver.Logs(r.Context(), container.EngineHandle, tail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Status(r.Context()))
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.driver.ListLocalImages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"images": images})
}

// ownedContainer resolves {id} with ownership enforcement; elevated roles
// may address any container.
func (s *Server) ownedContainer(r *http.Request) (*model.Container, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	user := userFrom(r.Context())
	if user.Role.CanReadAllContainers() {
		return s.db.Store().ContainerByID(r.Context(), id)
	}
	return s.db.Store().ContainerOwnedBy(r.Context(), id, user.ID)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.NewInvalidInput("invalid id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
