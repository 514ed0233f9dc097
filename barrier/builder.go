// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package barrier

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
)

// ImageBarrier is a pending image barrier.
type ImageBarrier struct {
	Image     *resource.Image
	Src       Scope
	Dst       Scope
	OldLayout Layout
	NewLayout Layout
	Range     resource.Subresource
}

// BufferBarrier is a pending buffer barrier over [Offset, Offset+Size).
// The HAL transitions whole buffers, so the range is only reported in
// Batch and never reaches the encoder.
type BufferBarrier struct {
	Buffer *resource.Buffer
	Src    Scope
	Dst    Scope
	Offset uint64
	Size   uint64
}

// Batch is the set of barriers flushed together.
type Batch struct {
	Images  []ImageBarrier
	Buffers []BufferBarrier
}

// Len returns the number of barriers in the batch.
func (b Batch) Len() int { return len(b.Images) + len(b.Buffers) }

// Encoder receives flushed barriers. hal.CommandEncoder satisfies it.
type Encoder interface {
	TransitionTextures(barriers []hal.TextureBarrier)
	TransitionBuffers(barriers []hal.BufferBarrier)
}

// Stats counts builder activity since the last Reset.
type Stats struct {
	// Syncs is the number of flushed batches.
	Syncs int
	// ImageBarriers and BufferBarriers count flushed barriers.
	ImageBarriers  int
	BufferBarriers int
	// Merged counts requirements folded into an already pending barrier.
	Merged int
	// Skipped counts requirements the tracked state already satisfied.
	Skipped int
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Barriers[%d syncs, %d image, %d buffer, %d merged, %d skipped]",
		s.Syncs, s.ImageBarriers, s.BufferBarriers, s.Merged, s.Skipped)
}

// Builder accumulates barriers for one recording.
//
// Require calls update the tracker immediately, so the tracked state always
// describes the resource as it will be once the pending batch is flushed.
// At most one pending barrier exists per resource: a second requirement
// before the flush widens the first.
//
// State is tracked per resource, so every image barrier covers the whole
// image whatever subresource was requested.
type Builder struct {
	tracker *Tracker

	images    []ImageBarrier
	buffers   []BufferBarrier
	imageIdx  map[resource.ID]int
	bufferIdx map[resource.ID]int

	halImages  []hal.TextureBarrier
	halBuffers []hal.BufferBarrier

	stats Stats
}

// NewBuilder returns a builder that reads and updates tracker. capacity
// pre-reserves room for that many pending barriers of each kind.
func NewBuilder(tracker *Tracker, capacity int) *Builder {
	return &Builder{
		tracker:    tracker,
		images:     make([]ImageBarrier, 0, capacity),
		buffers:    make([]BufferBarrier, 0, capacity),
		imageIdx:   make(map[resource.ID]int, capacity),
		bufferIdx:  make(map[resource.ID]int, capacity),
		halImages:  make([]hal.TextureBarrier, 0, capacity),
		halBuffers: make([]hal.BufferBarrier, 0, capacity),
	}
}

// Tracker returns the tracker the builder updates.
func (b *Builder) Tracker() *Tracker { return b.tracker }

// covered reports whether an access with dst scope and layout needs no
// barrier after cur. Identical state never needs one; a read whose stages
// and access are a subset of earlier reads in the same layout does not
// either.
func covered(cur State, dst Scope, layout Layout) bool {
	if cur.Layout != layout {
		return false
	}
	if cur.Scope == dst {
		return true
	}
	return !dst.Access.HasWrite() && !cur.Scope.Access.HasWrite() && cur.Scope.Contains(dst)
}

// RequireImage declares that the next GPU operation accesses sub of img
// with scope dst in layout. It reports whether a barrier was queued or
// widened.
//
// The barrier transitions every subresource of img, not just sub. Two requirements with
// different layouts before a flush leave the image in LayoutGeneral, the
// one layout that serves both.
func (b *Builder) RequireImage(img *resource.Image, dst Scope, layout Layout, sub resource.Subresource) bool {
	id := img.ID()
	cur := b.tracker.Get(id)
	if covered(cur, dst, layout) {
		b.stats.Skipped++
		return false
	}

	if i, ok := b.imageIdx[id]; ok {
		p := &b.images[i]
		p.Dst = p.Dst.Union(dst)
		if p.NewLayout != layout {
			p.NewLayout = LayoutGeneral
		}
		b.tracker.Set(id, State{Scope: p.Dst, Layout: p.NewLayout})
		b.stats.Merged++
		return true
	}

	b.imageIdx[id] = len(b.images)
	b.images = append(b.images, ImageBarrier{
		Image:     img,
		Src:       cur.Scope,
		Dst:       dst,
		OldLayout: cur.Layout,
		NewLayout: layout,
		Range:     img.Whole(),
	})
	b.tracker.Set(id, State{Scope: dst, Layout: layout})
	return true
}

// RequireBuffer declares that the next GPU operation accesses
// [offset, offset+size) of buf with scope dst. A zero size means the rest of
// the buffer.
func (b *Builder) RequireBuffer(buf *resource.Buffer, dst Scope, offset, size uint64) bool {
	id := buf.ID()
	cur := b.tracker.Get(id)
	if covered(cur, dst, LayoutUndefined) {
		b.stats.Skipped++
		return false
	}
	if size == 0 && offset < buf.Size() {
		size = buf.Size() - offset
	}

	if i, ok := b.bufferIdx[id]; ok {
		p := &b.buffers[i]
		end := max(p.Offset+p.Size, offset+size)
		p.Offset = min(p.Offset, offset)
		p.Size = end - p.Offset
		p.Dst = p.Dst.Union(dst)
		b.tracker.Set(id, State{Scope: p.Dst})
		b.stats.Merged++
		return true
	}

	b.bufferIdx[id] = len(b.buffers)
	b.buffers = append(b.buffers, BufferBarrier{
		Buffer: buf,
		Src:    cur.Scope,
		Dst:    dst,
		Offset: offset,
		Size:   size,
	})
	b.tracker.Set(id, State{Scope: dst})
	return true
}

// Pending returns the number of queued barriers.
func (b *Builder) Pending() int {
	return len(b.images) + len(b.buffers)
}

// Batch returns a copy of the queued barriers.
func (b *Builder) Batch() Batch {
	return Batch{
		Images:  append([]ImageBarrier(nil), b.images...),
		Buffers: append([]BufferBarrier(nil), b.buffers...),
	}
}

// Flush issues the queued barriers to enc as one synchronization command
// and clears the batch. It reports whether anything was issued.
func (b *Builder) Flush(enc Encoder) (bool, error) {
	if b.Pending() == 0 {
		return false, nil
	}

	halImages := b.halImages[:0]
	for _, p := range b.images {
		tex, err := p.Image.Texture()
		if err != nil {
			return false, fmt.Errorf("barrier: flush: %w", err)
		}
		halImages = append(halImages, hal.TextureBarrier{
			Texture: tex,
			Range: hal.TextureRange{
				Aspect:          p.Image.Aspect(),
				BaseMipLevel:    p.Range.BaseMip,
				MipLevelCount:   p.Range.MipCount,
				BaseArrayLayer:  p.Range.BaseLayer,
				ArrayLayerCount: p.Range.LayerCount,
			},
			Usage: hal.TextureUsageTransition{
				OldUsage: LayoutUsage(p.OldLayout),
				NewUsage: LayoutUsage(p.NewLayout),
			},
		})
	}
	halBuffers := b.halBuffers[:0]
	for _, p := range b.buffers {
		raw, err := p.Buffer.Raw()
		if err != nil {
			return false, fmt.Errorf("barrier: flush buffer %q: %w", p.Buffer.Label(), err)
		}
		halBuffers = append(halBuffers, hal.BufferBarrier{
			Buffer: raw,
			Usage: hal.BufferUsageTransition{
				OldUsage: AccessBufferUsage(p.Src.Access),
				NewUsage: AccessBufferUsage(p.Dst.Access),
			},
		})
	}

	if len(halImages) > 0 {
		enc.TransitionTextures(halImages)
	}
	if len(halBuffers) > 0 {
		enc.TransitionBuffers(halBuffers)
	}

	b.stats.Syncs++
	b.stats.ImageBarriers += len(halImages)
	b.stats.BufferBarriers += len(halBuffers)
	logging.L().Debug("barrier: flush", "images", len(halImages), "buffers", len(halBuffers))

	b.halImages = halImages[:0]
	b.halBuffers = halBuffers[:0]
	b.discard()
	return true, nil
}

func (b *Builder) discard() {
	clear(b.images)
	clear(b.buffers)
	b.images = b.images[:0]
	b.buffers = b.buffers[:0]
	clear(b.imageIdx)
	clear(b.bufferIdx)
}

// Reset drops pending barriers and statistics. The tracker is left alone.
func (b *Builder) Reset() {
	b.discard()
	b.stats = Stats{}
}

// Stats returns the counters accumulated since the last Reset.
func (b *Builder) Stats() Stats { return b.stats }

// LayoutUsage maps a layout to the texture usage the HAL derives image
// layouts from.
func LayoutUsage(l Layout) gputypes.TextureUsage {
	switch l {
	case LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case LayoutColorAttachment, LayoutDepthStencilAttachment, LayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	case LayoutShaderReadOnly, LayoutDepthStencilReadOnly:
		return gputypes.TextureUsageTextureBinding
	case LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageNone
	}
}

// AccessBufferUsage maps buffer access types to buffer usages.
func AccessBufferUsage(a Access) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if a&AccessIndirectRead != 0 {
		u |= gputypes.BufferUsageIndirect
	}
	if a&AccessIndexRead != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if a&AccessVertexAttributeRead != 0 {
		u |= gputypes.BufferUsageVertex
	}
	if a&AccessUniformRead != 0 {
		u |= gputypes.BufferUsageUniform
	}
	if a&(AccessShaderRead|AccessShaderWrite|AccessAccelerationStructureRead) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if a&AccessTransferRead != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	if a&AccessTransferWrite != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	if a&AccessHostRead != 0 {
		u |= gputypes.BufferUsageMapRead
	}
	if a&AccessHostWrite != 0 {
		u |= gputypes.BufferUsageMapWrite
	}
	return u
}
