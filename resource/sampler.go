// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// Sampler is a HAL sampler with a stable ID.
type Sampler struct {
	id    ID
	label string
	raw   hal.Sampler
}

// ID returns the stable identifier.
func (s *Sampler) ID() ID { return s.id }

// Label returns the debug label.
func (s *Sampler) Label() string { return s.label }

// Raw returns the HAL sampler.
func (s *Sampler) Raw() hal.Sampler { return s.raw }

// CreateSampler creates a sampler. Samplers are not tracked by the
// allocator; release them with DestroySampler.
func (a *Allocator) CreateSampler(desc *hal.SamplerDescriptor) (*Sampler, error) {
	if a.device == nil {
		return nil, ErrNilDevice
	}
	raw, err := a.device.CreateSampler(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: create sampler %q: %w", ErrDevice, desc.Label, err)
	}
	return &Sampler{id: NewID(), label: desc.Label, raw: raw}, nil
}

// DestroySampler releases a sampler created by CreateSampler.
func (a *Allocator) DestroySampler(s *Sampler) {
	if s == nil || s.raw == nil {
		return
	}
	a.device.DestroySampler(s.raw)
	s.raw = nil
}
