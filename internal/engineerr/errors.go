// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package engineerr defines the error taxonomy shared by every layer of the
// engine. Each kind wraps its cause so callers can use errors.Is and
// errors.As against both the kind and the underlying error.
package engineerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCanceled is matched by every CancellationError.
	ErrCanceled = errors.New("execution canceled")
	// ErrNodeNotFound is returned when an operation names an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNotCancelable is returned when cancellation targets a node that is
	// neither queued nor executing.
	ErrNotCancelable = errors.New("node is not queued or executing")
)

// ConfigError reports an invalid graph, port mismatch or rejected
// configuration. It is raised before any node executes.
type ConfigError struct {
	NodeID string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in node '%s': %v", e.NodeID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with a formatted cause.
func NewConfigError(nodeID, format string, args ...any) *ConfigError {
	return &ConfigError{NodeID: nodeID, Err: fmt.Errorf(format, args...)}
}

// ExecutionError records a collaborator failure. It never propagates to the
// scheduler as a raised error; it lands on the node instead.
type ExecutionError struct {
	NodeID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for node '%s': %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CancellationError marks a cooperative cancellation observed by a
// collaborator or a job that never started.
type CancellationError struct {
	NodeID string
	Reason string
}

func (e *CancellationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("node '%s': %v", e.NodeID, ErrCanceled)
	}
	return fmt.Sprintf("node '%s': %v: %s", e.NodeID, ErrCanceled, e.Reason)
}

func (e *CancellationError) Is(target error) bool { return target == ErrCanceled }

// ConsistencyError reports partitions of a distributed operator that
// disagree on state that must be identical.
type ConsistencyError struct {
	Partitions []int
	Detail     string
}

func (e *ConsistencyError) Error() string {
	parts := make([]string, len(e.Partitions))
	sorted := append([]int(nil), e.Partitions...)
	sort.Ints(sorted)
	for i, p := range sorted {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("consistency error in partitions [%s]: %s", strings.Join(parts, ","), e.Detail)
}

// DuplicateRegistrationError is raised when a chunk index is registered twice.
type DuplicateRegistrationError struct {
	Index int
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("chunk index %d is already registered", e.Index)
}

// IllegalTransitionError is returned by state transitions outside the legal
// graph. The state is left unchanged.
type IllegalTransitionError struct {
	NodeID string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("illegal state transition %s -> %s for node '%s'", e.From, e.To, e.NodeID)
}

// IsCanceled reports whether err carries a cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
