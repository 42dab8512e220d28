// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/intelliscale/scalesim/pkg/errs"
	"github.com/intelliscale/scalesim/pkg/util/log"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warnf("Encoding response: %v", err)
	}
}

// writeError translates domain error kinds to HTTP statuses. Internal
// errors never leak their cause to the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errs.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errs.IsNotAuthorized(err):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errs.IsInvalidInput(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errs.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errs.IsDriverUnavailable(err):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errs.IsDriverFailure(err):
		// Driver messages are user-actionable (bad image ref, name in use).
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		log.Errorf("Request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeBody(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errs.NewInvalidInput("malformed request body")
	}
	return nil
}
