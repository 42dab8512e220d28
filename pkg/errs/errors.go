// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package errs defines the domain error kinds shared by the service layer.
// Handlers translate kinds to HTTP statuses in one place; everything below
// the API only ever deals in these constructors and predicates.
package errs

import (
	"errors"
	"fmt"
)

type kind int

const (
	internal kind = iota
	notFound
	notAuthorized
	invalidInput
	conflict
	driverUnavailable
	driverFailure
)

type domainError struct {
	kind    kind
	message string
	cause   error
}

func (e *domainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.message, e.cause)
	}
	return e.message
}

func (e *domainError) Unwrap() error {
	return e.cause
}

func is(err error, k kind) bool {
	var de *domainError
	if errors.As(err, &de) {
		return de.kind == k
	}
	return false
}

// NewNotFound returns an error for an entity that does not exist for the
// caller. The argument names what was looked up.
func NewNotFound(what string) error {
	return &domainError{kind: notFound, message: what + " not found"}
}

// IsNotFound returns true if the error is a NotFound error.
func IsNotFound(err error) bool { return is(err, notFound) }

// NewNotAuthorized returns an error for a caller lacking role or ownership.
func NewNotAuthorized(message string) error {
	return &domainError{kind: notAuthorized, message: message}
}

// IsNotAuthorized returns true if the error is a NotAuthorized error.
func IsNotAuthorized(err error) bool { return is(err, notAuthorized) }

// NewInvalidInput returns an error for a validation failure or an unmet
// semantic precondition.
func NewInvalidInput(message string) error {
	return &domainError{kind: invalidInput, message: message}
}

// IsInvalidInput returns true if the error is an InvalidInput error.
func IsInvalidInput(err error) bool { return is(err, invalidInput) }

// NewConflict returns an error for a unique-constraint violation.
func NewConflict(message string) error {
	return &domainError{kind: conflict, message: message}
}

// IsConflict returns true if the error is a Conflict error.
func IsConflict(err error) bool { return is(err, conflict) }

// NewDriverUnavailable returns an error for a failed container engine
// health check.
func NewDriverUnavailable(message string) error {
	return &domainError{kind: driverUnavailable, message: message}
}

// IsDriverUnavailable returns true if the error is a DriverUnavailable error.
func IsDriverUnavailable(err error) bool { return is(err, driverUnavailable) }

// NewDriverFailure wraps a failed driver operation.
func NewDriverFailure(message string, cause error) error {
	return &domainError{kind: driverFailure, message: message, cause: cause}
}

// IsDriverFailure returns true if the error is a DriverFailure error.
func IsDriverFailure(err error) bool { return is(err, driverFailure) }

// NewInternal wraps an unclassified error.
func NewInternal(cause error) error {
	return &domainError{kind: internal, message: "internal error", cause: cause}
}
