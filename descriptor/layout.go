// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package descriptor deduplicates bind group creation.
//
// A Cache maps the canonical key of (layout, bindings) to a bind group built
// earlier in the same recorder cycle. Keys are made from stable resource
// IDs, never handle addresses, so a recycled allocation cannot alias an
// older entry.
package descriptor

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/resource"
)

// Descriptor errors.
var (
	// ErrInvalidBinding is returned for a binding without a resource or with
	// a slot the layout does not declare.
	ErrInvalidBinding = errors.New("descriptor: invalid binding")

	// ErrDuplicateSlot is returned when two bindings target the same slot.
	ErrDuplicateSlot = errors.New("descriptor: duplicate binding slot")

	// ErrUnsupportedBinding is returned when the device cannot bind a
	// resource kind.
	ErrUnsupportedBinding = errors.New("descriptor: binding kind not supported by device")
)

// Layout is a bind group layout with a stable identity.
type Layout struct {
	id      resource.ID
	label   string
	device  hal.Device
	raw     hal.BindGroupLayout
	entries []gputypes.BindGroupLayoutEntry
}

// NewLayout creates a bind group layout on device.
func NewLayout(device hal.Device, label string, entries []gputypes.BindGroupLayoutEntry) (*Layout, error) {
	if device == nil {
		return nil, resource.ErrNilDevice
	}
	raw, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create bind group layout %q: %w", resource.ErrDevice, label, err)
	}
	return &Layout{
		id:      resource.NewID(),
		label:   label,
		device:  device,
		raw:     raw,
		entries: append([]gputypes.BindGroupLayoutEntry(nil), entries...),
	}, nil
}

// ID returns the stable identifier.
func (l *Layout) ID() resource.ID { return l.id }

// Label returns the debug label.
func (l *Layout) Label() string { return l.label }

// Raw returns the HAL layout.
func (l *Layout) Raw() hal.BindGroupLayout { return l.raw }

// Entries returns the layout entries.
func (l *Layout) Entries() []gputypes.BindGroupLayoutEntry { return l.entries }

func (l *Layout) hasSlot(slot uint32) bool {
	for _, e := range l.entries {
		if e.Binding == slot {
			return true
		}
	}
	return false
}

// Destroy releases the HAL layout.
func (l *Layout) Destroy() {
	if l.raw != nil {
		l.device.DestroyBindGroupLayout(l.raw)
		l.raw = nil
	}
}
