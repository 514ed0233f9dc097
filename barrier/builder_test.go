// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package barrier

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/haltest"
	"github.com/gogpu/framegraph/resource"
)

var (
	colorWrite = Scope{Stages: StageColorAttachmentOutput, Access: AccessColorAttachmentWrite}
	fragRead   = Scope{Stages: StageFragmentShader, Access: AccessShaderRead}
	vertRead   = Scope{Stages: StageVertexShader, Access: AccessShaderRead}
	copyWrite  = Scope{Stages: StageTransfer, Access: AccessTransferWrite}
)

func newImage(t *testing.T, alloc *resource.Allocator, mips uint32) *resource.Image {
	t.Helper()
	img, err := alloc.CreateImage(resource.ImageDesc{
		Label:     "img",
		Format:    gputypes.TextureFormatRGBA8Unorm,
		Width:     64,
		Height:    64,
		MipLevels: mips,
		Usage:     gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	return img
}

func newBuffer(t *testing.T, alloc *resource.Allocator) *resource.Buffer {
	t.Helper()
	buf, err := alloc.CreateBuffer(resource.BufferDesc{
		Label: "buf",
		Size:  4096,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	return buf
}

func setup(t *testing.T) (*Builder, *resource.Allocator, *haltest.Encoder) {
	t.Helper()
	gpu := haltest.Open(t)
	raw, err := gpu.Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "test"})
	if err != nil {
		t.Fatal(err)
	}
	return NewBuilder(NewTracker(), 4), resource.NewAllocator(gpu.Device, resource.AllocatorConfig{}), raw.(*haltest.Encoder)
}

func TestRequireImageMinimality(t *testing.T) {
	b, alloc, enc := setup(t)
	img := newImage(t, alloc, 1)

	if !b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{}) {
		t.Fatal("first requirement should queue a barrier")
	}
	if _, err := b.Flush(enc); err != nil {
		t.Fatal(err)
	}
	if b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{}) {
		t.Error("repeating the same scope queued a barrier")
	}
	if flushed, _ := b.Flush(enc); flushed {
		t.Error("Flush() with nothing pending reported work")
	}
	if got := enc.BarrierCount(); got != 1 {
		t.Errorf("BarrierCount() = %d, want 1", got)
	}
	if got := b.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestRequireImageNecessity(t *testing.T) {
	tests := []struct {
		name       string
		first      Scope
		firstL     Layout
		second     Scope
		secondL    Layout
		wantSecond bool
	}{
		{"write then read", colorWrite, LayoutColorAttachment, fragRead, LayoutShaderReadOnly, true},
		{"read then write", fragRead, LayoutShaderReadOnly, colorWrite, LayoutColorAttachment, true},
		{"write then write other stage", colorWrite, LayoutColorAttachment, copyWrite, LayoutTransferDst, true},
		{"read then read other stage", fragRead, LayoutShaderReadOnly, vertRead, LayoutShaderReadOnly, true},
		{"read then covered read", fragRead.Union(vertRead), LayoutShaderReadOnly, vertRead, LayoutShaderReadOnly, false},
		{"same read other layout", fragRead, LayoutShaderReadOnly, fragRead, LayoutGeneral, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, alloc, enc := setup(t)
			img := newImage(t, alloc, 1)
			b.RequireImage(img, tt.first, tt.firstL, resource.Subresource{})
			if _, err := b.Flush(enc); err != nil {
				t.Fatal(err)
			}
			if got := b.RequireImage(img, tt.second, tt.secondL, resource.Subresource{}); got != tt.wantSecond {
				t.Errorf("second RequireImage() = %v, want %v", got, tt.wantSecond)
			}
		})
	}
}

func TestRequireImageInitialScope(t *testing.T) {
	b, alloc, _ := setup(t)
	img := newImage(t, alloc, 1)

	b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{})
	batch := b.Batch()
	if len(batch.Images) != 1 {
		t.Fatalf("pending images = %d, want 1", len(batch.Images))
	}
	got := batch.Images[0]
	if got.Src != InitialScope || got.OldLayout != LayoutUndefined {
		t.Errorf("first barrier src = %v %v, want initial scope and undefined layout", got.Src, got.OldLayout)
	}
	if st := b.Tracker().Get(img.ID()); st != (State{Scope: colorWrite, Layout: LayoutColorAttachment}) {
		t.Errorf("tracker not updated optimistically: %v", st)
	}
}

func TestRequireImageMergesBeforeFlush(t *testing.T) {
	b, alloc, enc := setup(t)
	img := newImage(t, alloc, 4)

	b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{MipCount: 1})
	if _, err := b.Flush(enc); err != nil {
		t.Fatal(err)
	}

	b.RequireImage(img, fragRead, LayoutShaderReadOnly, resource.Subresource{BaseMip: 0, MipCount: 1})
	b.RequireImage(img, vertRead, LayoutShaderReadOnly, resource.Subresource{BaseMip: 2, MipCount: 2})

	if got := b.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1 merged barrier", got)
	}
	p := b.Batch().Images[0]
	if p.Dst != fragRead.Union(vertRead) {
		t.Errorf("merged Dst = %v, want %v", p.Dst, fragRead.Union(vertRead))
	}
	if p.Src != colorWrite {
		t.Errorf("merged Src = %v, want %v", p.Src, colorWrite)
	}
	if p.Range != (resource.Subresource{BaseMip: 0, MipCount: 4, LayerCount: 1}) {
		t.Errorf("merged Range = %+v", p.Range)
	}

	if _, err := b.Flush(enc); err != nil {
		t.Fatal(err)
	}
	calls := enc.TextureBarriers()
	if len(calls) != 2 {
		t.Fatalf("TransitionTextures calls = %d, want 2", len(calls))
	}
	last := calls[1][0]
	if last.Usage.OldUsage != gputypes.TextureUsageRenderAttachment || last.Usage.NewUsage != gputypes.TextureUsageTextureBinding {
		t.Errorf("usage transition = %+v", last.Usage)
	}
	if last.Range.MipLevelCount != 4 {
		t.Errorf("MipLevelCount = %d, want 4", last.Range.MipLevelCount)
	}
	if got := b.Stats(); got.Syncs != 2 || got.Merged != 1 {
		t.Errorf("Stats() = %v", got)
	}
}

func TestRequireImageCoversWholeImage(t *testing.T) {
	b, alloc, enc := setup(t)
	img := newImage(t, alloc, 2)

	// Upload into mip 0, then mip 1, with a flush before each copy.
	if !b.RequireImage(img, copyWrite, LayoutTransferDst, resource.Subresource{BaseMip: 0, MipCount: 1}) {
		t.Fatal("first upload queued no barrier")
	}
	if _, err := b.Flush(enc); err != nil {
		t.Fatal(err)
	}
	if b.RequireImage(img, copyWrite, LayoutTransferDst, resource.Subresource{BaseMip: 1, MipCount: 1}) {
		t.Error("second upload queued a barrier for an image already in transfer-dst")
	}

	calls := enc.TextureBarriers()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("TransitionTextures calls = %v", calls)
	}
	r := calls[0][0].Range
	if r.BaseMipLevel != 0 || r.MipLevelCount != 2 || r.BaseArrayLayer != 0 || r.ArrayLayerCount != 1 {
		t.Errorf("barrier range = %+v, want both mips", r)
	}
	if u := calls[0][0].Usage; u.OldUsage != gputypes.TextureUsageNone || u.NewUsage != gputypes.TextureUsageCopyDst {
		t.Errorf("usage transition = %+v", u)
	}
}

func TestRequireImageConflictingLayouts(t *testing.T) {
	b, alloc, enc := setup(t)
	img := newImage(t, alloc, 2)

	b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{MipCount: 1})
	if _, err := b.Flush(enc); err != nil {
		t.Fatal(err)
	}

	// Sample mip 0 while rendering into mip 1.
	b.RequireImage(img, fragRead, LayoutShaderReadOnly, resource.Subresource{BaseMip: 0, MipCount: 1})
	b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{BaseMip: 1, MipCount: 1})

	p := b.Batch().Images[0]
	if p.NewLayout != LayoutGeneral {
		t.Errorf("NewLayout = %v, want general", p.NewLayout)
	}
	if p.Range != img.Whole() {
		t.Errorf("Range = %+v, want %+v", p.Range, img.Whole())
	}
	want := State{Scope: fragRead.Union(colorWrite), Layout: LayoutGeneral}
	if st := b.Tracker().Get(img.ID()); st != want {
		t.Errorf("tracked state = %v, want %v", st, want)
	}
}

func TestRequireBuffer(t *testing.T) {
	b, alloc, enc := setup(t)
	buf := newBuffer(t, alloc)
	storageWrite := Scope{Stages: StageComputeShader, Access: AccessShaderWrite}

	b.RequireBuffer(buf, copyWrite, 0, 256)
	b.RequireBuffer(buf, storageWrite, 1024, 512)
	if got := b.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1", got)
	}
	p := b.Batch().Buffers[0]
	if p.Offset != 0 || p.Size != 1536 {
		t.Errorf("merged range = [%d, +%d), want [0, +1536)", p.Offset, p.Size)
	}
	if _, err := b.Flush(enc); err != nil {
		t.Fatal(err)
	}
	if b.RequireBuffer(buf, copyWrite.Union(storageWrite), 0, 0) {
		t.Error("requiring the tracked scope again queued a barrier")
	}
	calls := enc.BufferBarriers()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("TransitionBuffers calls = %v", calls)
	}
	if got := calls[0][0].Usage.NewUsage; got != gputypes.BufferUsageCopyDst|gputypes.BufferUsageStorage {
		t.Errorf("NewUsage = %#x", uint64(got))
	}
}

func TestFlushReleasedImage(t *testing.T) {
	b, alloc, enc := setup(t)
	img := newImage(t, alloc, 1)
	b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{})
	if err := alloc.Destroy(img); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Flush(enc); err == nil {
		t.Error("Flush() with a released image should fail")
	}
}

func TestBuilderReset(t *testing.T) {
	b, alloc, _ := setup(t)
	img := newImage(t, alloc, 1)
	b.RequireImage(img, colorWrite, LayoutColorAttachment, resource.Subresource{})
	b.Reset()
	if b.Pending() != 0 {
		t.Error("Reset() kept pending barriers")
	}
	if b.Stats() != (Stats{}) {
		t.Error("Reset() kept stats")
	}
	if b.Tracker().Len() != 1 {
		t.Error("Reset() must not touch the tracker")
	}
}

func TestLayoutUsage(t *testing.T) {
	tests := []struct {
		layout Layout
		want   gputypes.TextureUsage
	}{
		{LayoutUndefined, gputypes.TextureUsageNone},
		{LayoutGeneral, gputypes.TextureUsageStorageBinding},
		{LayoutColorAttachment, gputypes.TextureUsageRenderAttachment},
		{LayoutDepthStencilAttachment, gputypes.TextureUsageRenderAttachment},
		{LayoutDepthStencilReadOnly, gputypes.TextureUsageTextureBinding},
		{LayoutShaderReadOnly, gputypes.TextureUsageTextureBinding},
		{LayoutTransferSrc, gputypes.TextureUsageCopySrc},
		{LayoutTransferDst, gputypes.TextureUsageCopyDst},
		{LayoutPresent, gputypes.TextureUsageRenderAttachment},
	}
	for _, tt := range tests {
		t.Run(tt.layout.String(), func(t *testing.T) {
			if got := LayoutUsage(tt.layout); got != tt.want {
				t.Errorf("LayoutUsage(%v) = %v, want %v", tt.layout, got, tt.want)
			}
		})
	}
}
