// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/haltest"
)

func colorDesc(label string) ImageDesc {
	return ImageDesc{
		Label:  label,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  256,
		Height: 128,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[ID]bool)
	for range 1000 {
		id := NewID()
		if id == 0 {
			t.Fatal("NewID() returned zero")
		}
		if seen[id] {
			t.Fatalf("NewID() returned duplicate %v", id)
		}
		seen[id] = true
	}
}

func TestAllocatorValidate(t *testing.T) {
	gpu := haltest.Open(t)
	alloc := NewAllocator(gpu.Device, AllocatorConfig{Adapter: gpu.Adapter})

	tests := []struct {
		name    string
		desc    Desc
		wantErr error
	}{
		{"valid image", colorDesc("color"), nil},
		{"valid buffer", BufferDesc{Label: "b", Size: 1024, Usage: gputypes.BufferUsageStorage}, nil},
		{"zero buffer", BufferDesc{Label: "b", Usage: gputypes.BufferUsageStorage}, ErrInvalidDesc},
		{"huge buffer", BufferDesc{Label: "b", Size: 1 << 40, Usage: gputypes.BufferUsageStorage}, ErrInvalidDesc},
		{"buffer without usage", BufferDesc{Label: "b", Size: 16}, ErrInvalidDesc},
		{"undefined format", ImageDesc{Label: "x", Width: 1, Height: 1, Usage: gputypes.TextureUsageCopyDst}, ErrInvalidDesc},
		{"zero extent", ImageDesc{Label: "x", Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageCopyDst}, ErrInvalidDesc},
		{"too wide", ImageDesc{Label: "x", Format: gputypes.TextureFormatRGBA8Unorm, Width: 1 << 20, Height: 1, Usage: gputypes.TextureUsageCopyDst}, ErrInvalidDesc},
		{"too many mips", ImageDesc{Label: "x", Format: gputypes.TextureFormatRGBA8Unorm, Width: 4, Height: 4, MipLevels: 4, Usage: gputypes.TextureUsageCopyDst}, ErrInvalidDesc},
		{"image without usage", ImageDesc{Label: "x", Format: gputypes.TextureFormatRGBA8Unorm, Width: 4, Height: 4}, ErrInvalidDesc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := alloc.Validate(tt.desc)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllocatorUnsupportedFormat(t *testing.T) {
	gpu := haltest.Open(t)
	gpu.Adapter.Caps = map[gputypes.TextureFormat]hal.TextureFormatCapabilityFlags{
		gputypes.TextureFormatRGBA8Unorm: hal.TextureFormatCapabilitySampled,
	}
	alloc := NewAllocator(gpu.Device, AllocatorConfig{Adapter: gpu.Adapter})

	_, err := alloc.CreateImage(colorDesc("color"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("CreateImage() = %v, want ErrUnsupportedFormat", err)
	}
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("CreateImage() error %T is not *UnsupportedError", err)
	}
	if unsupported.Missing != "render attachment" {
		t.Errorf("Missing = %q, want %q", unsupported.Missing, "render attachment")
	}
	if gpu.Device.Textures.Load() != 0 {
		t.Error("unsupported image reached the device")
	}
}

func TestAllocatorCreateDestroy(t *testing.T) {
	gpu := haltest.Open(t)
	alloc := NewAllocator(gpu.Device, AllocatorConfig{})

	img, err := alloc.CreateImage(colorDesc("color"))
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	if img.Storage() != StorageOwned {
		t.Errorf("Storage() = %v, want owned", img.Storage())
	}
	if img.Owner() != OwnerEngine {
		t.Errorf("Owner() = %v, want engine", img.Owner())
	}
	if got := img.ImageDesc().MipLevels; got != 1 {
		t.Errorf("MipLevels = %d, want normalized 1", got)
	}

	buf, err := alloc.CreateBuffer(BufferDesc{Label: "b", Size: 64, Usage: gputypes.BufferUsageCopyDst})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	s := alloc.Stats()
	if s.LiveBuffers != 1 || s.LiveImages != 1 || s.Created != 2 {
		t.Errorf("Stats() = %v, want 1 buffer 1 image 2 created", s)
	}

	if err := alloc.Destroy(img); err != nil {
		t.Fatalf("Destroy(image) error = %v", err)
	}
	if img.Storage() != StorageEmpty {
		t.Errorf("Storage() after destroy = %v, want empty", img.Storage())
	}
	if _, err := img.Texture(); !errors.Is(err, ErrReleased) {
		t.Errorf("Texture() after destroy = %v, want ErrReleased", err)
	}
	if err := alloc.Destroy(img); err != nil {
		t.Errorf("second Destroy() = %v, want nil", err)
	}
	if got := gpu.Device.DestroyedTextures.Load(); got != 1 {
		t.Errorf("DestroyedTextures = %d, want 1", got)
	}

	alloc.DestroyAll()
	if !buf.Released() {
		t.Error("DestroyAll() did not release the buffer")
	}
	if _, err := buf.Raw(); !errors.Is(err, ErrReleased) {
		t.Errorf("Raw() = %v, want ErrReleased", err)
	}
}

func TestAllocatorDeviceFailure(t *testing.T) {
	gpu := haltest.Open(t)
	gpu.Device.FailTextures = hal.ErrDeviceOutOfMemory
	alloc := NewAllocator(gpu.Device, AllocatorConfig{})

	_, err := alloc.CreateImage(colorDesc("color"))
	if !errors.Is(err, ErrDevice) {
		t.Errorf("CreateImage() = %v, want ErrDevice", err)
	}
	if !errors.Is(err, hal.ErrDeviceOutOfMemory) {
		t.Errorf("CreateImage() = %v, want wrapped hal.ErrDeviceOutOfMemory", err)
	}
}

func TestAllocatorNilDevice(t *testing.T) {
	alloc := NewAllocator(nil, AllocatorConfig{})
	if _, err := alloc.CreateBuffer(BufferDesc{Size: 4, Usage: gputypes.BufferUsageCopyDst}); !errors.Is(err, ErrNilDevice) {
		t.Errorf("CreateBuffer() = %v, want ErrNilDevice", err)
	}
}

func TestImportedImage(t *testing.T) {
	gpu := haltest.Open(t)
	alloc := NewAllocator(gpu.Device, AllocatorConfig{})

	tex, err := gpu.Device.CreateTexture(&hal.TextureDescriptor{Label: "swapchain"})
	if err != nil {
		t.Fatal(err)
	}
	img := NewImportedImage(tex, nil, colorDesc("swapchain"))
	if img.Owner() != OwnerExternal || img.Storage() != StorageImported {
		t.Fatalf("imported image has owner %v storage %v", img.Owner(), img.Storage())
	}
	if _, err := img.View(); err == nil {
		t.Error("View() on image without view should fail")
	}
	if err := alloc.Destroy(img); !errors.Is(err, ErrNotOwned) {
		t.Errorf("Destroy(imported) = %v, want ErrNotOwned", err)
	}
	if got, _ := img.Texture(); got != tex {
		t.Error("imported texture was dropped")
	}
}

func TestSampler(t *testing.T) {
	gpu := haltest.Open(t)
	alloc := NewAllocator(gpu.Device, AllocatorConfig{})

	a, err := alloc.CreateSampler(&hal.SamplerDescriptor{Label: "linear"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := alloc.CreateSampler(&hal.SamplerDescriptor{Label: "linear"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() {
		t.Error("samplers share an ID")
	}
	alloc.DestroySampler(a)
	alloc.DestroySampler(a)
	if a.Raw() != nil {
		t.Error("DestroySampler() kept the raw sampler")
	}
}
