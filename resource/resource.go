// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package resource defines the physical GPU resources scheduled by the frame
// graph and the Allocator that creates them on a HAL device.
//
// Every resource carries a stable ID assigned at creation. IDs are never
// reused within a process, so barrier tracking and descriptor caching key on
// the ID rather than on backend handle addresses.
package resource

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Resource errors.
var (
	// ErrInvalidDesc is returned when a description is malformed or exceeds
	// device limits.
	ErrInvalidDesc = errors.New("resource: invalid description")

	// ErrUnsupportedFormat is returned when the adapter cannot use a texture
	// format with the requested usage.
	ErrUnsupportedFormat = errors.New("resource: unsupported format")

	// ErrDevice wraps a failure reported by the HAL device. Device failures
	// are fatal for the frame.
	ErrDevice = errors.New("resource: device failure")

	// ErrReleased is returned when the backing storage of a resource has
	// already been destroyed.
	ErrReleased = errors.New("resource: resource released")

	// ErrNilDevice is returned when an allocator is used without a device.
	ErrNilDevice = errors.New("resource: device is nil")

	// ErrNotOwned is returned when destroying a resource owned by another
	// party.
	ErrNotOwned = errors.New("resource: resource not owned by allocator")
)

// ID identifies a physical resource for the lifetime of the process.
type ID uint64

// String returns the ID in "#n" form.
func (id ID) String() string { return fmt.Sprintf("#%d", uint64(id)) }

var lastID atomic.Uint64

// NewID returns a fresh ID. IDs start at 1; the zero ID is never issued.
func NewID() ID {
	return ID(lastID.Add(1))
}

// Kind distinguishes buffers from images.
type Kind uint8

// Resource kinds.
const (
	KindBuffer Kind = iota + 1
	KindImage
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Owner records who is responsible for destroying a resource.
type Owner uint8

// Ownership classes.
const (
	// OwnerEngine resources are created and destroyed by the engine.
	OwnerEngine Owner = iota
	// OwnerPool resources belong to the transient pool.
	OwnerPool
	// OwnerExternal resources are imported; the engine never destroys them.
	OwnerExternal
)

// String returns the owner name.
func (o Owner) String() string {
	switch o {
	case OwnerEngine:
		return "engine"
	case OwnerPool:
		return "pool"
	case OwnerExternal:
		return "external"
	default:
		return fmt.Sprintf("Owner(%d)", uint8(o))
	}
}

// Physical is a concrete GPU resource: a *Buffer or an *Image.
type Physical interface {
	ID() ID
	Kind() Kind
	Owner() Owner
	Label() string
	Desc() Desc
	physical()
}

// UnsupportedError describes a format/usage combination the adapter rejects.
type UnsupportedError struct {
	Label   string
	Format  string
	Missing string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("resource: %q: format %s lacks %s capability", e.Label, e.Format, e.Missing)
}

// Is reports whether target is ErrUnsupportedFormat.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}
