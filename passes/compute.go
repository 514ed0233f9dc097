// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package passes

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/descriptor"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/recorder"
	"github.com/gogpu/framegraph/resource"
)

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("passes: compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("passes: compile shader: SPIR-V size %d is not a multiple of 4", len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

// ComputeProgram is a compute pipeline with a single bind group.
type ComputeProgram struct {
	label  string
	device hal.Device

	module         hal.ShaderModule
	layout         *descriptor.Layout
	pipelineLayout hal.PipelineLayout
	pipeline       *recorder.ComputePipeline
}

// NewComputeProgram compiles wgsl and creates a compute pipeline whose
// group 0 follows entries.
func NewComputeProgram(device hal.Device, label, wgsl, entryPoint string, entries []gputypes.BindGroupLayoutEntry) (*ComputeProgram, error) {
	spirv, err := CompileWGSL(wgsl)
	if err != nil {
		return nil, err
	}

	p := &ComputeProgram{label: label, device: device}
	p.module, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create shader module %q: %w", resource.ErrDevice, label, err)
	}

	p.layout, err = descriptor.NewLayout(device, label, entries)
	if err != nil {
		p.Destroy()
		return nil, err
	}

	p.pipelineLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: []hal.BindGroupLayout{p.layout.Raw()},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("%w: create pipeline layout %q: %w", resource.ErrDevice, label, err)
	}

	raw, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   label,
		Layout:  p.pipelineLayout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: entryPoint},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("%w: create compute pipeline %q: %w", resource.ErrDevice, label, err)
	}
	p.pipeline = recorder.WrapComputePipeline(label, raw)
	return p, nil
}

// Label returns the debug label.
func (p *ComputeProgram) Label() string { return p.label }

// Layout returns the layout of bind group 0.
func (p *ComputeProgram) Layout() *descriptor.Layout { return p.layout }

// Pipeline returns the compute pipeline.
func (p *ComputeProgram) Pipeline() *recorder.ComputePipeline { return p.pipeline }

// Destroy releases the pipeline objects. Safe to call on a partially
// created program.
func (p *ComputeProgram) Destroy() {
	if p.pipeline != nil {
		p.device.DestroyComputePipeline(p.pipeline.Raw())
		p.pipeline = nil
	}
	if p.pipelineLayout != nil {
		p.device.DestroyPipelineLayout(p.pipelineLayout)
		p.pipelineLayout = nil
	}
	if p.layout != nil {
		p.layout.Destroy()
		p.layout = nil
	}
	if p.module != nil {
		p.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// Binding binds a graph resource to a slot of a compute program.
type Binding struct {
	Slot     uint32
	Resource graph.Handle
	// Kind is one of StorageRead, StorageWrite, StorageReadWrite,
	// UniformRead or SampledRead.
	Kind graph.AccessKind
}

// Compute dispatches a compute program over Groups work groups.
type Compute struct {
	Label      string
	Program    *ComputeProgram
	Bindings   []Binding
	Groups     [3]uint32
	SideEffect bool

	out map[uint32]graph.Handle
}

// Name implements graph.Pass.
func (c *Compute) Name() string { return c.Label }

// Output returns the version the pass produced for the binding at slot,
// or the declared handle for read-only bindings.
func (c *Compute) Output(slot uint32) graph.Handle { return c.out[slot] }

// Setup implements graph.Pass.
func (c *Compute) Setup(b *graph.PassBuilder) {
	c.out = make(map[uint32]graph.Handle, len(c.Bindings))
	for _, bind := range c.Bindings {
		a := graph.Access{Kind: bind.Kind, Stages: barrier.StageComputeShader}
		switch bind.Kind {
		case graph.StorageWrite:
			c.out[bind.Slot] = b.Write(bind.Resource, a)
		case graph.StorageReadWrite:
			c.out[bind.Slot] = b.ReadWrite(bind.Resource, a)
		default:
			b.Read(bind.Resource, a)
			c.out[bind.Slot] = bind.Resource
		}
	}
	if c.SideEffect {
		b.SetSideEffect()
	}
}

// Execute implements graph.Pass.
func (c *Compute) Execute(ctx *graph.Context) error {
	if c.Program == nil || c.Program.pipeline == nil {
		return fmt.Errorf("passes: compute %q: no program", c.Label)
	}
	bindings := make([]descriptor.Binding, 0, len(c.Bindings))
	for _, bind := range c.Bindings {
		res, err := ctx.Physical(c.out[bind.Slot])
		if err != nil {
			return err
		}
		switch r := res.(type) {
		case *resource.Buffer:
			bindings = append(bindings, descriptor.BufferBinding(bind.Slot, r, 0, r.Size()))
		case *resource.Image:
			bindings = append(bindings, descriptor.ImageBinding(bind.Slot, r))
		default:
			return fmt.Errorf("passes: compute %q: unsupported resource %T", c.Label, res)
		}
	}

	rec := ctx.Recorder()
	if err := rec.BeginComputePass(c.Label); err != nil {
		return err
	}
	if err := rec.SetComputePipeline(c.Program.pipeline); err != nil {
		return err
	}
	if _, err := rec.BindDescriptors(0, c.Program.layout, bindings); err != nil {
		return err
	}
	groups := c.Groups
	for i := range groups {
		groups[i] = max(groups[i], 1)
	}
	if err := rec.Dispatch(groups[0], groups[1], groups[2]); err != nil {
		return err
	}
	return rec.EndComputePass()
}
