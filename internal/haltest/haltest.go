// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package haltest provides instrumented HAL objects on top of the noop
// backend for tests. Devices count resource creation, encoders log every
// command they receive, and queues let a test decide when submissions
// complete.
package haltest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// GPU bundles an instrumented device, queue and adapter.
type GPU struct {
	Device  *Device
	Queue   *Queue
	Adapter *Adapter
}

// Open creates a noop device wrapped in instrumentation. The device is
// destroyed when the test finishes.
func Open(tb testing.TB) *GPU {
	tb.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		tb.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		tb.Fatal("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		tb.Fatalf("Open failed: %v", err)
	}
	tb.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})

	q := &Queue{Queue: openDev.Queue}
	q.autoComplete.Store(true)
	return &GPU{
		Device:  &Device{Device: openDev.Device},
		Queue:   q,
		Adapter: &Adapter{Adapter: adapters[0].Adapter},
	}
}

// Device counts resource creation and hands out logging encoders.
type Device struct {
	hal.Device

	// FailTextures, when set, is returned by CreateTexture.
	FailTextures error

	Buffers           atomic.Int64
	Textures          atomic.Int64
	DestroyedBuffers  atomic.Int64
	DestroyedTextures atomic.Int64
	BindGroups        atomic.Int64
	DestroyedGroups   atomic.Int64
	FreedBuffers      atomic.Int64
	WaitIdleCalls     atomic.Int64

	mu       sync.Mutex
	encoders []*Encoder
}

// CreateBuffer implements hal.Device.
func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.Buffers.Add(1)
	return d.Device.CreateBuffer(desc)
}

// DestroyBuffer implements hal.Device.
func (d *Device) DestroyBuffer(b hal.Buffer) {
	d.DestroyedBuffers.Add(1)
	d.Device.DestroyBuffer(b)
}

// CreateTexture implements hal.Device.
func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if d.FailTextures != nil {
		return nil, d.FailTextures
	}
	d.Textures.Add(1)
	return d.Device.CreateTexture(desc)
}

// DestroyTexture implements hal.Device.
func (d *Device) DestroyTexture(t hal.Texture) {
	d.DestroyedTextures.Add(1)
	d.Device.DestroyTexture(t)
}

// CreateBindGroup implements hal.Device.
func (d *Device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	d.BindGroups.Add(1)
	return d.Device.CreateBindGroup(desc)
}

// DestroyBindGroup implements hal.Device.
func (d *Device) DestroyBindGroup(g hal.BindGroup) {
	d.DestroyedGroups.Add(1)
	d.Device.DestroyBindGroup(g)
}

// FreeCommandBuffer implements hal.Device.
func (d *Device) FreeCommandBuffer(cb hal.CommandBuffer) {
	d.FreedBuffers.Add(1)
	d.Device.FreeCommandBuffer(cb)
}

// WaitIdle implements hal.Device.
func (d *Device) WaitIdle() error {
	d.WaitIdleCalls.Add(1)
	return d.Device.WaitIdle()
}

// CreateCommandEncoder implements hal.Device.
func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	raw, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	enc := &Encoder{CommandEncoder: raw}
	d.mu.Lock()
	d.encoders = append(d.encoders, enc)
	d.mu.Unlock()
	return enc, nil
}

// Encoders returns every encoder created so far.
func (d *Device) Encoders() []*Encoder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Encoder(nil), d.encoders...)
}

// Encoder logs commands. Events are short strings such as "barrier",
// "copy", "begin-render" or "draw".
type Encoder struct {
	hal.CommandEncoder

	mu              sync.Mutex
	events          []string
	textureBarriers [][]hal.TextureBarrier
	bufferBarriers  [][]hal.BufferBarrier
	syncs           int
}

func (e *Encoder) log(format string, args ...any) {
	e.mu.Lock()
	e.events = append(e.events, fmt.Sprintf(format, args...))
	e.mu.Unlock()
}

// Events returns the command log.
func (e *Encoder) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// TextureBarriers returns every TransitionTextures call.
func (e *Encoder) TextureBarriers() [][]hal.TextureBarrier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]hal.TextureBarrier(nil), e.textureBarriers...)
}

// BufferBarriers returns every TransitionBuffers call.
func (e *Encoder) BufferBarriers() [][]hal.BufferBarrier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]hal.BufferBarrier(nil), e.bufferBarriers...)
}

// BarrierCount returns the total number of texture and buffer barriers.
func (e *Encoder) BarrierCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, b := range e.textureBarriers {
		n += len(b)
	}
	for _, b := range e.bufferBarriers {
		n += len(b)
	}
	return n
}

// BeginEncoding implements hal.CommandEncoder.
func (e *Encoder) BeginEncoding(label string) error {
	e.log("begin %s", label)
	return e.CommandEncoder.BeginEncoding(label)
}

// EndEncoding implements hal.CommandEncoder.
func (e *Encoder) EndEncoding() (hal.CommandBuffer, error) {
	e.log("end")
	return e.CommandEncoder.EndEncoding()
}

// DiscardEncoding implements hal.CommandEncoder.
func (e *Encoder) DiscardEncoding() {
	e.log("discard")
	e.CommandEncoder.DiscardEncoding()
}

// TransitionTextures implements hal.CommandEncoder.
func (e *Encoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.mu.Lock()
	e.textureBarriers = append(e.textureBarriers, append([]hal.TextureBarrier(nil), barriers...))
	e.events = append(e.events, fmt.Sprintf("barrier textures=%d", len(barriers)))
	e.mu.Unlock()
	e.CommandEncoder.TransitionTextures(barriers)
}

// TransitionBuffers implements hal.CommandEncoder.
func (e *Encoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	e.mu.Lock()
	e.bufferBarriers = append(e.bufferBarriers, append([]hal.BufferBarrier(nil), barriers...))
	e.events = append(e.events, fmt.Sprintf("barrier buffers=%d", len(barriers)))
	e.mu.Unlock()
	e.CommandEncoder.TransitionBuffers(barriers)
}

// ClearBuffer implements hal.CommandEncoder.
func (e *Encoder) ClearBuffer(b hal.Buffer, offset, size uint64) {
	e.log("clear")
	e.CommandEncoder.ClearBuffer(b, offset, size)
}

// CopyBufferToBuffer implements hal.CommandEncoder.
func (e *Encoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	e.log("copy")
	e.CommandEncoder.CopyBufferToBuffer(src, dst, regions)
}

// CopyBufferToTexture implements hal.CommandEncoder.
func (e *Encoder) CopyBufferToTexture(src hal.Buffer, dst hal.Texture, regions []hal.BufferTextureCopy) {
	e.log("copy")
	e.CommandEncoder.CopyBufferToTexture(src, dst, regions)
}

// CopyTextureToBuffer implements hal.CommandEncoder.
func (e *Encoder) CopyTextureToBuffer(src hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	e.log("copy")
	e.CommandEncoder.CopyTextureToBuffer(src, dst, regions)
}

// CopyTextureToTexture implements hal.CommandEncoder.
func (e *Encoder) CopyTextureToTexture(src, dst hal.Texture, regions []hal.TextureCopy) {
	e.log("copy")
	e.CommandEncoder.CopyTextureToTexture(src, dst, regions)
}

// BeginRenderPass implements hal.CommandEncoder.
func (e *Encoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	e.log("begin-render %s", desc.Label)
	return &RenderPass{RenderPassEncoder: e.CommandEncoder.BeginRenderPass(desc), enc: e}
}

// BeginComputePass implements hal.CommandEncoder.
func (e *Encoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	e.log("begin-compute %s", desc.Label)
	return &ComputePass{ComputePassEncoder: e.CommandEncoder.BeginComputePass(desc), enc: e}
}

// RenderPass logs render pass commands into its encoder.
type RenderPass struct {
	hal.RenderPassEncoder
	enc *Encoder
}

// End implements hal.RenderPassEncoder.
func (p *RenderPass) End() {
	p.enc.log("end-render")
	p.RenderPassEncoder.End()
}

// SetPipeline implements hal.RenderPassEncoder.
func (p *RenderPass) SetPipeline(pl hal.RenderPipeline) {
	p.enc.log("set-pipeline")
	p.RenderPassEncoder.SetPipeline(pl)
}

// SetBindGroup implements hal.RenderPassEncoder.
func (p *RenderPass) SetBindGroup(index uint32, g hal.BindGroup, offsets []uint32) {
	p.enc.log("set-bind-group %d", index)
	p.RenderPassEncoder.SetBindGroup(index, g, offsets)
}

// SetVertexBuffer implements hal.RenderPassEncoder.
func (p *RenderPass) SetVertexBuffer(slot uint32, b hal.Buffer, offset uint64) {
	p.enc.log("set-vertex %d", slot)
	p.RenderPassEncoder.SetVertexBuffer(slot, b, offset)
}

// SetIndexBuffer implements hal.RenderPassEncoder.
func (p *RenderPass) SetIndexBuffer(b hal.Buffer, format gputypes.IndexFormat, offset uint64) {
	p.enc.log("set-index")
	p.RenderPassEncoder.SetIndexBuffer(b, format, offset)
}

// Draw implements hal.RenderPassEncoder.
func (p *RenderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.enc.log("draw")
	p.RenderPassEncoder.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexed implements hal.RenderPassEncoder.
func (p *RenderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	p.enc.log("draw-indexed")
	p.RenderPassEncoder.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

// ComputePass logs compute pass commands into its encoder.
type ComputePass struct {
	hal.ComputePassEncoder
	enc *Encoder
}

// End implements hal.ComputePassEncoder.
func (p *ComputePass) End() {
	p.enc.log("end-compute")
	p.ComputePassEncoder.End()
}

// SetPipeline implements hal.ComputePassEncoder.
func (p *ComputePass) SetPipeline(pl hal.ComputePipeline) {
	p.enc.log("set-pipeline")
	p.ComputePassEncoder.SetPipeline(pl)
}

// SetBindGroup implements hal.ComputePassEncoder.
func (p *ComputePass) SetBindGroup(index uint32, g hal.BindGroup, offsets []uint32) {
	p.enc.log("set-bind-group %d", index)
	p.ComputePassEncoder.SetBindGroup(index, g, offsets)
}

// Dispatch implements hal.ComputePassEncoder.
func (p *ComputePass) Dispatch(x, y, z uint32) {
	p.enc.log("dispatch")
	p.ComputePassEncoder.Dispatch(x, y, z)
}

// Queue controls submission completion. With auto-complete enabled (the
// default) every submission completes immediately.
type Queue struct {
	hal.Queue

	autoComplete atomic.Bool
	submitted    atomic.Uint64
	completed    atomic.Uint64
	Submissions  atomic.Int64
}

// SetAutoComplete toggles immediate completion.
func (q *Queue) SetAutoComplete(on bool) { q.autoComplete.Store(on) }

// Submit implements hal.Queue.
func (q *Queue) Submit(cbs []hal.CommandBuffer) (uint64, error) {
	if _, err := q.Queue.Submit(cbs); err != nil {
		return 0, err
	}
	q.Submissions.Add(1)
	idx := q.submitted.Add(1)
	if q.autoComplete.Load() {
		q.completed.Store(idx)
	}
	return idx, nil
}

// PollCompleted implements hal.Queue.
func (q *Queue) PollCompleted() uint64 {
	return q.completed.Load()
}

// CompleteAll marks every submission so far as complete.
func (q *Queue) CompleteAll() {
	q.completed.Store(q.submitted.Load())
}

// Adapter reports configurable format capabilities. Formats missing from
// Caps fall back to the wrapped adapter.
type Adapter struct {
	hal.Adapter
	Caps map[gputypes.TextureFormat]hal.TextureFormatCapabilityFlags
}

// TextureFormatCapabilities implements hal.Adapter.
func (a *Adapter) TextureFormatCapabilities(format gputypes.TextureFormat) hal.TextureFormatCapabilities {
	if flags, ok := a.Caps[format]; ok {
		return hal.TextureFormatCapabilities{Flags: flags}
	}
	return a.Adapter.TextureFormatCapabilities(format)
}
