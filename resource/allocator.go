// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/logging"
)

// AllocatorConfig configures an Allocator.
type AllocatorConfig struct {
	// Adapter, when set, is queried for texture format capabilities.
	Adapter hal.Adapter

	// Limits bounds resource sizes. Defaults to gputypes.DefaultLimits()
	// when zero.
	Limits gputypes.Limits
}

// AllocatorStats reports allocator activity.
type AllocatorStats struct {
	LiveBuffers int
	LiveImages  int
	Created     uint64
	Destroyed   uint64
}

// String returns a human-readable summary.
func (s AllocatorStats) String() string {
	return fmt.Sprintf("Allocator[%d buffers, %d images, %d created, %d destroyed]",
		s.LiveBuffers, s.LiveImages, s.Created, s.Destroyed)
}

// Allocator creates and destroys physical resources on a HAL device.
//
// Allocator is safe for concurrent use.
type Allocator struct {
	mu      sync.Mutex
	device  hal.Device
	adapter hal.Adapter
	limits  gputypes.Limits

	live      map[ID]Physical
	created   uint64
	destroyed uint64
}

// NewAllocator returns an allocator for device.
func NewAllocator(device hal.Device, cfg AllocatorConfig) *Allocator {
	limits := cfg.Limits
	if limits.MaxTextureDimension2D == 0 {
		limits = gputypes.DefaultLimits()
	}
	return &Allocator{
		device:  device,
		adapter: cfg.Adapter,
		limits:  limits,
		live:    make(map[ID]Physical),
	}
}

// Device returns the HAL device.
func (a *Allocator) Device() hal.Device { return a.device }

// Limits returns the limits descriptions are validated against.
func (a *Allocator) Limits() gputypes.Limits { return a.limits }

// Validate checks desc against device limits and, for images, adapter
// format capabilities. It never touches the device.
func (a *Allocator) Validate(desc Desc) error {
	switch d := desc.(type) {
	case BufferDesc:
		return a.validateBuffer(d)
	case ImageDesc:
		return a.validateImage(d.Normalized())
	default:
		return fmt.Errorf("%w: unknown description %T", ErrInvalidDesc, desc)
	}
}

func (a *Allocator) validateBuffer(d BufferDesc) error {
	if d.Size == 0 {
		return fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDesc, d.Label)
	}
	if d.Size > a.limits.MaxBufferSize {
		return fmt.Errorf("%w: buffer %q size %d exceeds limit %d", ErrInvalidDesc, d.Label, d.Size, a.limits.MaxBufferSize)
	}
	if d.Usage == gputypes.BufferUsageNone {
		return fmt.Errorf("%w: buffer %q has no usage", ErrInvalidDesc, d.Label)
	}
	return nil
}

func (a *Allocator) validateImage(d ImageDesc) error {
	if d.Format == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: image %q has undefined format", ErrInvalidDesc, d.Label)
	}
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("%w: image %q has zero extent %dx%d", ErrInvalidDesc, d.Label, d.Width, d.Height)
	}
	if d.Usage == gputypes.TextureUsageNone {
		return fmt.Errorf("%w: image %q has no usage", ErrInvalidDesc, d.Label)
	}

	maxDim := a.limits.MaxTextureDimension2D
	switch d.Dimension {
	case gputypes.TextureDimension1D:
		maxDim = a.limits.MaxTextureDimension1D
	case gputypes.TextureDimension3D:
		maxDim = a.limits.MaxTextureDimension3D
	}
	if d.Width > maxDim || d.Height > maxDim {
		return fmt.Errorf("%w: image %q extent %dx%d exceeds limit %d", ErrInvalidDesc, d.Label, d.Width, d.Height, maxDim)
	}
	if d.Dimension != gputypes.TextureDimension3D && d.DepthOrLayers > a.limits.MaxTextureArrayLayers {
		return fmt.Errorf("%w: image %q has %d layers, limit %d", ErrInvalidDesc, d.Label, d.DepthOrLayers, a.limits.MaxTextureArrayLayers)
	}
	if maxMips := uint32(bits.Len32(max(d.Width, d.Height))); d.MipLevels > maxMips {
		return fmt.Errorf("%w: image %q has %d mips, at most %d", ErrInvalidDesc, d.Label, d.MipLevels, maxMips)
	}

	if a.adapter == nil {
		return nil
	}
	caps := a.adapter.TextureFormatCapabilities(d.Format).Flags
	required := []struct {
		need bool
		flag hal.TextureFormatCapabilityFlags
		name string
	}{
		{d.Usage.Contains(gputypes.TextureUsageTextureBinding), hal.TextureFormatCapabilitySampled, "sampled"},
		{d.Usage.Contains(gputypes.TextureUsageStorageBinding), hal.TextureFormatCapabilityStorage, "storage"},
		{d.Usage.Contains(gputypes.TextureUsageRenderAttachment), hal.TextureFormatCapabilityRenderAttachment, "render attachment"},
		{d.Samples > 1, hal.TextureFormatCapabilityMultisample, "multisample"},
	}
	for _, r := range required {
		if r.need && caps&r.flag == 0 {
			return &UnsupportedError{Label: d.Label, Format: d.Format.String(), Missing: r.name}
		}
	}
	return nil
}

// Create allocates a resource for desc with the given owner.
func (a *Allocator) Create(desc Desc, owner Owner) (Physical, error) {
	switch d := desc.(type) {
	case BufferDesc:
		return a.createBuffer(d, owner)
	case ImageDesc:
		return a.createImage(d, owner)
	default:
		return nil, fmt.Errorf("%w: unknown description %T", ErrInvalidDesc, desc)
	}
}

// CreateBuffer allocates an engine-owned buffer.
func (a *Allocator) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	return a.createBuffer(desc, OwnerEngine)
}

// CreateImage allocates an engine-owned image with a default view.
func (a *Allocator) CreateImage(desc ImageDesc) (*Image, error) {
	return a.createImage(desc, OwnerEngine)
}

func (a *Allocator) createBuffer(desc BufferDesc, owner Owner) (*Buffer, error) {
	if a.device == nil {
		return nil, ErrNilDevice
	}
	if err := a.validateBuffer(desc); err != nil {
		return nil, err
	}
	raw, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create buffer %q: %w", ErrDevice, desc.Label, err)
	}
	b := &Buffer{id: NewID(), desc: desc, owner: owner, raw: raw}
	a.track(b)
	logging.L().Debug("resource: buffer created", "id", b.id, "label", desc.Label, "size", desc.Size, "owner", owner)
	return b, nil
}

func (a *Allocator) createImage(desc ImageDesc, owner Owner) (*Image, error) {
	if a.device == nil {
		return nil, ErrNilDevice
	}
	desc = desc.Normalized()
	if err := a.validateImage(desc); err != nil {
		return nil, err
	}
	tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.DepthOrLayers},
		MipLevelCount: desc.MipLevels,
		SampleCount:   desc.Samples,
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create texture %q: %w", ErrDevice, desc.Label, err)
	}
	view, err := a.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:  desc.Label + " view",
		Format: desc.Format,
		Aspect: desc.Aspect(),
	})
	if err != nil {
		a.device.DestroyTexture(tex)
		return nil, fmt.Errorf("%w: create view %q: %w", ErrDevice, desc.Label, err)
	}
	img := &Image{
		id:      NewID(),
		desc:    desc,
		owner:   owner,
		storage: StorageOwned,
		texture: tex,
		view:    view,
	}
	a.track(img)
	logging.L().Debug("resource: image created", "id", img.id, "label", desc.Label,
		"format", desc.Format.String(), "width", desc.Width, "height", desc.Height, "owner", owner)
	return img, nil
}

func (a *Allocator) track(res Physical) {
	a.mu.Lock()
	a.live[res.ID()] = res
	a.created++
	a.mu.Unlock()
}

// Destroy releases the HAL objects behind res. Imported resources are
// rejected with ErrNotOwned. Destroying a released resource is a no-op.
func (a *Allocator) Destroy(res Physical) error {
	if res.Owner() == OwnerExternal {
		return fmt.Errorf("%w: %s %q is external", ErrNotOwned, res.Kind(), res.Label())
	}
	a.mu.Lock()
	if _, ok := a.live[res.ID()]; !ok {
		a.mu.Unlock()
		return nil
	}
	delete(a.live, res.ID())
	a.destroyed++
	a.mu.Unlock()

	a.release(res)
	return nil
}

// release destroys the HAL objects. Caller must have removed res from live.
func (a *Allocator) release(res Physical) {
	switch r := res.(type) {
	case *Buffer:
		if r.raw != nil {
			a.device.DestroyBuffer(r.raw)
			r.raw = nil
		}
	case *Image:
		switch r.storage {
		case StorageOwned:
			if r.view != nil {
				a.device.DestroyTextureView(r.view)
			}
			a.device.DestroyTexture(r.texture)
		case StorageImported, StorageEmpty:
		}
		r.storage = StorageEmpty
		r.texture = nil
		r.view = nil
	}
	logging.L().Debug("resource: destroyed", "id", res.ID(), "label", res.Label())
}

// DestroyAll releases every live resource the allocator created.
func (a *Allocator) DestroyAll() {
	a.mu.Lock()
	live := a.live
	a.live = make(map[ID]Physical)
	a.destroyed += uint64(len(live))
	a.mu.Unlock()

	for _, res := range live {
		a.release(res)
	}
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := AllocatorStats{Created: a.created, Destroyed: a.destroyed}
	for _, res := range a.live {
		switch res.Kind() {
		case KindBuffer:
			s.LiveBuffers++
		case KindImage:
			s.LiveImages++
		}
	}
	return s
}
