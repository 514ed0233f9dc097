// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package recorder

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/descriptor"
	"github.com/gogpu/framegraph/resource"
)

// Scopes required by the recorder's own operations.
var (
	transferRead  = barrier.Scope{Stages: barrier.StageTransfer, Access: barrier.AccessTransferRead}
	transferWrite = barrier.Scope{Stages: barrier.StageTransfer, Access: barrier.AccessTransferWrite}
	depthStages   = barrier.StageEarlyFragmentTests | barrier.StageLateFragmentTests
)

// prepare requires scopes for a transfer operation and flushes.
func (r *Recorder) prepare(op string, require func()) error {
	if err := r.expect(op, passNone); err != nil {
		return err
	}
	require()
	return r.flush()
}

// ClearBuffer fills [offset, offset+size) of buf with zeros.
func (r *Recorder) ClearBuffer(buf *resource.Buffer, offset, size uint64) error {
	raw, err := buf.Raw()
	if err != nil {
		return err
	}
	if err := r.prepare("clear buffer", func() {
		r.builder.RequireBuffer(buf, transferWrite, offset, size)
	}); err != nil {
		return err
	}
	r.encoder.ClearBuffer(raw, offset, size)
	r.stats.Clears++
	return nil
}

// CopyBuffer copies size bytes from src to dst.
func (r *Recorder) CopyBuffer(src, dst *resource.Buffer, srcOffset, dstOffset, size uint64) error {
	rawSrc, err := src.Raw()
	if err != nil {
		return err
	}
	rawDst, err := dst.Raw()
	if err != nil {
		return err
	}
	if srcOffset+size > src.Size() || dstOffset+size > dst.Size() {
		return fmt.Errorf("recorder: copy %q -> %q: range %d+%d out of bounds", src.Label(), dst.Label(), srcOffset, size)
	}
	if err := r.prepare("copy buffer", func() {
		r.builder.RequireBuffer(src, transferRead, srcOffset, size)
		r.builder.RequireBuffer(dst, transferWrite, dstOffset, size)
	}); err != nil {
		return err
	}
	r.encoder.CopyBufferToBuffer(rawSrc, rawDst, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
	r.stats.Copies++
	return nil
}

// CopyBufferToImage uploads buffer data into mip level mip of dst.
func (r *Recorder) CopyBufferToImage(src *resource.Buffer, layout hal.ImageDataLayout, dst *resource.Image, mip uint32) error {
	rawSrc, err := src.Raw()
	if err != nil {
		return err
	}
	tex, err := dst.Texture()
	if err != nil {
		return err
	}
	if err := r.prepare("copy buffer to image", func() {
		r.builder.RequireBuffer(src, transferRead, layout.Offset, 0)
		r.builder.RequireImage(dst, transferWrite, barrier.LayoutTransferDst, resource.Subresource{BaseMip: mip, MipCount: 1})
	}); err != nil {
		return err
	}
	r.encoder.CopyBufferToTexture(rawSrc, tex, []hal.BufferTextureCopy{{
		BufferLayout: layout,
		TextureBase:  hal.ImageCopyTexture{Texture: tex, MipLevel: mip, Aspect: dst.Aspect()},
		Size:         mipExtent(dst, mip),
	}})
	r.stats.Copies++
	return nil
}

// CopyImageToBuffer reads back mip level mip of src.
func (r *Recorder) CopyImageToBuffer(src *resource.Image, mip uint32, dst *resource.Buffer, layout hal.ImageDataLayout) error {
	tex, err := src.Texture()
	if err != nil {
		return err
	}
	rawDst, err := dst.Raw()
	if err != nil {
		return err
	}
	if err := r.prepare("copy image to buffer", func() {
		r.builder.RequireImage(src, transferRead, barrier.LayoutTransferSrc, resource.Subresource{BaseMip: mip, MipCount: 1})
		r.builder.RequireBuffer(dst, transferWrite, layout.Offset, 0)
	}); err != nil {
		return err
	}
	r.encoder.CopyTextureToBuffer(tex, rawDst, []hal.BufferTextureCopy{{
		BufferLayout: layout,
		TextureBase:  hal.ImageCopyTexture{Texture: tex, MipLevel: mip, Aspect: src.Aspect()},
		Size:         mipExtent(src, mip),
	}})
	r.stats.Copies++
	return nil
}

// CopyImage copies mip level 0 of src into dst. The images must have the
// same extent.
func (r *Recorder) CopyImage(src, dst *resource.Image) error {
	if src.Extent() != dst.Extent() {
		return fmt.Errorf("recorder: copy %q -> %q: extent mismatch %v vs %v", src.Label(), dst.Label(), src.Extent(), dst.Extent())
	}
	srcTex, err := src.Texture()
	if err != nil {
		return err
	}
	dstTex, err := dst.Texture()
	if err != nil {
		return err
	}
	if err := r.prepare("copy image", func() {
		r.builder.RequireImage(src, transferRead, barrier.LayoutTransferSrc, resource.Subresource{MipCount: 1})
		r.builder.RequireImage(dst, transferWrite, barrier.LayoutTransferDst, resource.Subresource{MipCount: 1})
	}); err != nil {
		return err
	}
	r.encoder.CopyTextureToTexture(srcTex, dstTex, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: srcTex, Aspect: src.Aspect()},
		DstBase: hal.ImageCopyTexture{Texture: dstTex, Aspect: dst.Aspect()},
		Size:    src.Extent(),
	}})
	r.stats.Copies++
	return nil
}

func mipExtent(img *resource.Image, mip uint32) hal.Extent3D {
	e := img.Extent()
	e.Width = max(e.Width>>mip, 1)
	e.Height = max(e.Height>>mip, 1)
	return e
}

// ColorAttachment is a color target of a render pass.
type ColorAttachment struct {
	Image   *resource.Image
	Resolve *resource.Image
	Load    gputypes.LoadOp
	Store   gputypes.StoreOp
	Clear   gputypes.Color
}

// DepthAttachment is the depth/stencil target of a render pass.
type DepthAttachment struct {
	Image        *resource.Image
	DepthLoad    gputypes.LoadOp
	DepthStore   gputypes.StoreOp
	DepthClear   float32
	StencilLoad  gputypes.LoadOp
	StencilStore gputypes.StoreOp
	StencilClear uint32
	ReadOnly     bool
}

// RenderPassDesc describes a render pass.
type RenderPassDesc struct {
	Label string
	Color []ColorAttachment
	Depth *DepthAttachment
}

// ColorScope returns the scope of a color attachment with the given load op.
func ColorScope(load gputypes.LoadOp) barrier.Scope {
	s := barrier.Scope{Stages: barrier.StageColorAttachmentOutput, Access: barrier.AccessColorAttachmentWrite}
	if load == gputypes.LoadOpLoad {
		s.Access |= barrier.AccessColorAttachmentRead
	}
	return s
}

// DepthScope returns the scope and layout of a depth attachment.
func DepthScope(readOnly bool) (barrier.Scope, barrier.Layout) {
	if readOnly {
		return barrier.Scope{Stages: depthStages, Access: barrier.AccessDepthStencilRead}, barrier.LayoutDepthStencilReadOnly
	}
	return barrier.Scope{Stages: depthStages, Access: barrier.AccessDepthStencilRead | barrier.AccessDepthStencilWrite},
		barrier.LayoutDepthStencilAttachment
}

// BeginRenderPass requires every attachment in its attachment scope,
// flushes barriers and opens a render pass.
func (r *Recorder) BeginRenderPass(desc RenderPassDesc) error {
	if err := r.expect("begin render pass", passNone); err != nil {
		return err
	}
	if len(desc.Color) == 0 && desc.Depth == nil {
		return fmt.Errorf("recorder: render pass %q has no attachments", desc.Label)
	}

	halDesc := &hal.RenderPassDescriptor{Label: desc.Label}
	for _, c := range desc.Color {
		view, err := c.Image.View()
		if err != nil {
			return err
		}
		att := hal.RenderPassColorAttachment{View: view, LoadOp: c.Load, StoreOp: c.Store, ClearValue: c.Clear}
		if c.Resolve != nil {
			if att.ResolveTarget, err = c.Resolve.View(); err != nil {
				return err
			}
		}
		halDesc.ColorAttachments = append(halDesc.ColorAttachments, att)
	}
	if d := desc.Depth; d != nil {
		view, err := d.Image.View()
		if err != nil {
			return err
		}
		halDesc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              view,
			DepthLoadOp:       d.DepthLoad,
			DepthStoreOp:      d.DepthStore,
			DepthClearValue:   d.DepthClear,
			DepthReadOnly:     d.ReadOnly,
			StencilLoadOp:     d.StencilLoad,
			StencilStoreOp:    d.StencilStore,
			StencilClearValue: d.StencilClear,
			StencilReadOnly:   d.ReadOnly,
		}
	}

	for _, c := range desc.Color {
		r.builder.RequireImage(c.Image, ColorScope(c.Load), r.attachmentLayout(c.Image, barrier.LayoutColorAttachment), resource.Subresource{})
		if c.Resolve != nil {
			r.builder.RequireImage(c.Resolve, ColorScope(gputypes.LoadOpClear), r.attachmentLayout(c.Resolve, barrier.LayoutColorAttachment), resource.Subresource{})
		}
	}
	if d := desc.Depth; d != nil {
		scope, layout := DepthScope(d.ReadOnly)
		r.builder.RequireImage(d.Image, scope, r.attachmentLayout(d.Image, layout), resource.Subresource{})
	}
	if err := r.flush(); err != nil {
		return err
	}

	r.render = r.encoder.BeginRenderPass(halDesc)
	r.pass = passRender
	r.bound.reset()
	r.stats.RenderPasses++
	return nil
}

// attachmentLayout keeps an image that is already in LayoutGeneral there,
// since the same pass may also sample another subresource of it.
func (r *Recorder) attachmentLayout(img *resource.Image, want barrier.Layout) barrier.Layout {
	if r.builder.Tracker().Get(img.ID()).Layout == barrier.LayoutGeneral {
		return barrier.LayoutGeneral
	}
	return want
}

// EndRenderPass closes the open render pass.
func (r *Recorder) EndRenderPass() error {
	if err := r.expect("end render pass", passRender); err != nil {
		return err
	}
	r.render.End()
	r.render = nil
	r.pass = passNone
	r.bound.reset()
	return nil
}

// BeginComputePass flushes barriers and opens a compute pass.
func (r *Recorder) BeginComputePass(label string) error {
	if err := r.expect("begin compute pass", passNone); err != nil {
		return err
	}
	if err := r.flush(); err != nil {
		return err
	}
	r.compute = r.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	r.pass = passCompute
	r.bound.reset()
	r.stats.ComputePasses++
	return nil
}

// EndComputePass closes the open compute pass.
func (r *Recorder) EndComputePass() error {
	if err := r.expect("end compute pass", passCompute); err != nil {
		return err
	}
	r.compute.End()
	r.compute = nil
	r.pass = passNone
	r.bound.reset()
	return nil
}

// SetRenderPipeline binds p unless it is already bound.
func (r *Recorder) SetRenderPipeline(p *RenderPipeline) error {
	if err := r.expect("set render pipeline", passRender); err != nil {
		return err
	}
	if p == nil {
		return r.fail("set render pipeline", "pipeline is nil")
	}
	if r.bound.render == p {
		r.stats.RedundantBinds++
		return nil
	}
	r.render.SetPipeline(p.raw)
	r.bound.render = p
	return nil
}

// SetComputePipeline binds p unless it is already bound.
func (r *Recorder) SetComputePipeline(p *ComputePipeline) error {
	if err := r.expect("set compute pipeline", passCompute); err != nil {
		return err
	}
	if p == nil {
		return r.fail("set compute pipeline", "pipeline is nil")
	}
	if r.bound.compute == p {
		r.stats.RedundantBinds++
		return nil
	}
	r.compute.SetPipeline(p.raw)
	r.bound.compute = p
	return nil
}

// SetVertexBuffer binds buf at slot unless the same range is bound.
func (r *Recorder) SetVertexBuffer(slot uint32, buf *resource.Buffer, offset uint64) error {
	if err := r.expect("set vertex buffer", passRender); err != nil {
		return err
	}
	raw, err := buf.Raw()
	if err != nil {
		return err
	}
	vb := vertexBinding{buffer: buf.ID(), offset: offset}
	if cur, ok := r.bound.vertex[slot]; ok && cur == vb {
		r.stats.RedundantBinds++
		return nil
	}
	if r.bound.vertex == nil {
		r.bound.vertex = make(map[uint32]vertexBinding)
	}
	r.render.SetVertexBuffer(slot, raw, offset)
	r.bound.vertex[slot] = vb
	return nil
}

// SetIndexBuffer binds buf as the index buffer unless already bound.
func (r *Recorder) SetIndexBuffer(buf *resource.Buffer, format gputypes.IndexFormat, offset uint64) error {
	if err := r.expect("set index buffer", passRender); err != nil {
		return err
	}
	raw, err := buf.Raw()
	if err != nil {
		return err
	}
	ib := indexBinding{buffer: buf.ID(), format: format, offset: offset}
	if r.bound.index == ib {
		r.stats.RedundantBinds++
		return nil
	}
	r.render.SetIndexBuffer(raw, format, offset)
	r.bound.index = ib
	return nil
}

// BindDescriptors builds (or reuses) the set for bindings under layout and
// binds it at index of the open pass.
func (r *Recorder) BindDescriptors(index uint32, layout *descriptor.Layout, bindings []descriptor.Binding) (*descriptor.Set, error) {
	if r.broken != nil {
		return nil, r.broken
	}
	if r.state != StateRecording || r.pass == passNone {
		return nil, r.fail("bind descriptors", "requires an open pass")
	}
	set, err := r.cache.Build(layout, bindings)
	if err != nil {
		return nil, err
	}
	return set, r.BindSet(index, set)
}

// BindSet binds set at index of the open pass unless already bound.
func (r *Recorder) BindSet(index uint32, set *descriptor.Set) error {
	if r.broken != nil {
		return r.broken
	}
	if r.state != StateRecording || r.pass == passNone {
		return r.fail("bind set", "requires an open pass")
	}
	if r.bound.sets[index] == set {
		r.stats.RedundantBinds++
		return nil
	}
	if r.bound.sets == nil {
		r.bound.sets = make(map[uint32]*descriptor.Set)
	}
	switch r.pass {
	case passRender:
		r.render.SetBindGroup(index, set.Raw(), nil)
	case passCompute:
		r.compute.SetBindGroup(index, set.Raw(), nil)
	}
	r.bound.sets[index] = set
	return nil
}

// Draw draws non-indexed primitives with the bound render pipeline.
func (r *Recorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := r.expect("draw", passRender); err != nil {
		return err
	}
	if r.bound.render == nil {
		return r.fail("draw", "no render pipeline bound")
	}
	r.render.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	r.stats.Draws++
	return nil
}

// DrawIndexed draws indexed primitives with the bound render pipeline and
// index buffer.
func (r *Recorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	if err := r.expect("draw indexed", passRender); err != nil {
		return err
	}
	if r.bound.render == nil {
		return r.fail("draw indexed", "no render pipeline bound")
	}
	if r.bound.index.buffer == 0 {
		return r.fail("draw indexed", "no index buffer bound")
	}
	r.render.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	r.stats.Draws++
	return nil
}

// Dispatch dispatches compute work groups with the bound compute pipeline.
func (r *Recorder) Dispatch(x, y, z uint32) error {
	if err := r.expect("dispatch", passCompute); err != nil {
		return err
	}
	if r.bound.compute == nil {
		return r.fail("dispatch", "no compute pipeline bound")
	}
	r.compute.Dispatch(x, y, z)
	r.stats.Dispatches++
	return nil
}
