// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package recorder

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/descriptor"
	"github.com/gogpu/framegraph/resource"
)

// RenderPipeline wraps a HAL render pipeline. Binding deduplication
// compares wrappers, so backends that return zero-size handles still bind
// correctly.
type RenderPipeline struct {
	label string
	raw   hal.RenderPipeline
}

// WrapRenderPipeline wraps raw.
func WrapRenderPipeline(label string, raw hal.RenderPipeline) *RenderPipeline {
	return &RenderPipeline{label: label, raw: raw}
}

// Label returns the debug label.
func (p *RenderPipeline) Label() string { return p.label }

// Raw returns the HAL pipeline.
func (p *RenderPipeline) Raw() hal.RenderPipeline { return p.raw }

// ComputePipeline wraps a HAL compute pipeline.
type ComputePipeline struct {
	label string
	raw   hal.ComputePipeline
}

// WrapComputePipeline wraps raw.
func WrapComputePipeline(label string, raw hal.ComputePipeline) *ComputePipeline {
	return &ComputePipeline{label: label, raw: raw}
}

// Label returns the debug label.
func (p *ComputePipeline) Label() string { return p.label }

// Raw returns the HAL pipeline.
func (p *ComputePipeline) Raw() hal.ComputePipeline { return p.raw }

type vertexBinding struct {
	buffer resource.ID
	offset uint64
}

type indexBinding struct {
	buffer resource.ID
	format gputypes.IndexFormat
	offset uint64
}

// bindings is the state bound inside the open pass.
type bindings struct {
	render  *RenderPipeline
	compute *ComputePipeline
	vertex  map[uint32]vertexBinding
	index   indexBinding
	sets    map[uint32]*descriptor.Set
}

func (b *bindings) reset() {
	b.render = nil
	b.compute = nil
	b.index = indexBinding{}
	clear(b.vertex)
	clear(b.sets)
}
