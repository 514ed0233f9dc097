// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Graph errors.
var (
	// ErrResourceCycle is matched by every *CycleError.
	ErrResourceCycle = errors.New("graph: resource dependency cycle")

	// ErrDanglingResourceAccess is matched by every *DanglingAccessError.
	ErrDanglingResourceAccess = errors.New("graph: dangling resource access")

	// ErrInvalidSetup reports a malformed pass declaration.
	ErrInvalidSetup = errors.New("graph: invalid pass setup")

	// ErrUndeclaredAccess is returned when a pass resolves a resource it
	// did not declare.
	ErrUndeclaredAccess = errors.New("graph: undeclared resource access")
)

// CycleError lists the passes that could not be ordered.
type CycleError struct {
	Passes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: resource dependency cycle between passes %s", strings.Join(e.Passes, ", "))
}

// Is reports whether target is ErrResourceCycle.
func (e *CycleError) Is(target error) bool { return target == ErrResourceCycle }

// DanglingAccessError reports a read of a resource version nothing writes.
type DanglingAccessError struct {
	Pass     string
	Resource string
	Version  uint32
}

func (e *DanglingAccessError) Error() string {
	return fmt.Sprintf("graph: pass %q reads %q version %d, which no pass writes", e.Pass, e.Resource, e.Version)
}

// Is reports whether target is ErrDanglingResourceAccess.
func (e *DanglingAccessError) Is(target error) bool { return target == ErrDanglingResourceAccess }
