// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Desc describes a resource to create. Implemented by BufferDesc and
// ImageDesc.
type Desc interface {
	Kind() Kind
	// Key returns the comparable identity used for reuse matching.
	// Labels do not participate.
	Key() Key
	Name() string
}

// Key is a comparable summary of a description. Two descriptions with equal
// keys can share a physical resource.
type Key struct {
	Kind          Kind
	Size          uint64
	BufferUsage   gputypes.BufferUsage
	Format        gputypes.TextureFormat
	Width         uint32
	Height        uint32
	DepthOrLayers uint32
	MipLevels     uint32
	Samples       uint32
	Dimension     gputypes.TextureDimension
	ImageUsage    gputypes.TextureUsage
}

// String returns a compact representation of the key.
func (k Key) String() string {
	if k.Kind == KindBuffer {
		return fmt.Sprintf("buffer[%d usage=%#x]", k.Size, uint64(k.BufferUsage))
	}
	return fmt.Sprintf("image[%s %dx%dx%d mips=%d samples=%d usage=%#x]",
		k.Format, k.Width, k.Height, k.DepthOrLayers, k.MipLevels, k.Samples, uint64(k.ImageUsage))
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// Kind returns KindBuffer.
func (d BufferDesc) Kind() Kind { return KindBuffer }

// Name returns the label.
func (d BufferDesc) Name() string { return d.Label }

// Key returns the reuse key.
func (d BufferDesc) Key() Key {
	return Key{Kind: KindBuffer, Size: d.Size, BufferUsage: d.Usage}
}

// ImageDesc describes a texture. Zero DepthOrLayers, MipLevels and Samples
// default to 1 and a zero Dimension defaults to 2D.
type ImageDesc struct {
	Label         string
	Format        gputypes.TextureFormat
	Width         uint32
	Height        uint32
	DepthOrLayers uint32
	MipLevels     uint32
	Samples       uint32
	Dimension     gputypes.TextureDimension
	Usage         gputypes.TextureUsage
}

// Kind returns KindImage.
func (d ImageDesc) Kind() Kind { return KindImage }

// Name returns the label.
func (d ImageDesc) Name() string { return d.Label }

// Key returns the reuse key of the normalized description.
func (d ImageDesc) Key() Key {
	n := d.Normalized()
	return Key{
		Kind:          KindImage,
		Format:        n.Format,
		Width:         n.Width,
		Height:        n.Height,
		DepthOrLayers: n.DepthOrLayers,
		MipLevels:     n.MipLevels,
		Samples:       n.Samples,
		Dimension:     n.Dimension,
		ImageUsage:    n.Usage,
	}
}

// Normalized returns d with defaults applied.
func (d ImageDesc) Normalized() ImageDesc {
	if d.DepthOrLayers == 0 {
		d.DepthOrLayers = 1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.Samples == 0 {
		d.Samples = 1
	}
	if d.Dimension == gputypes.TextureDimensionUndefined {
		d.Dimension = gputypes.TextureDimension2D
	}
	return d
}

// Aspect returns the aspect covering every plane of the format.
func (d ImageDesc) Aspect() gputypes.TextureAspect {
	switch {
	case d.Format.HasDepth() && !d.Format.HasStencil():
		return gputypes.TextureAspectDepthOnly
	case d.Format.HasStencil() && !d.Format.HasDepth():
		return gputypes.TextureAspectStencilOnly
	default:
		return gputypes.TextureAspectAll
	}
}

// Subresource selects mip levels and array layers of an image.
// A zero count means "all remaining".
type Subresource struct {
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// Resolve replaces zero counts with the remaining extent of desc.
func (s Subresource) Resolve(desc ImageDesc) Subresource {
	n := desc.Normalized()
	layers := uint32(1)
	if n.Dimension != gputypes.TextureDimension3D {
		layers = n.DepthOrLayers
	}
	if s.MipCount == 0 && s.BaseMip < n.MipLevels {
		s.MipCount = n.MipLevels - s.BaseMip
	}
	if s.LayerCount == 0 && s.BaseLayer < layers {
		s.LayerCount = layers - s.BaseLayer
	}
	return s
}

// Union returns the smallest subresource range containing s and o.
// Both ranges must be resolved.
func (s Subresource) Union(o Subresource) Subresource {
	mipEnd := max(s.BaseMip+s.MipCount, o.BaseMip+o.MipCount)
	layerEnd := max(s.BaseLayer+s.LayerCount, o.BaseLayer+o.LayerCount)
	r := Subresource{BaseMip: min(s.BaseMip, o.BaseMip), BaseLayer: min(s.BaseLayer, o.BaseLayer)}
	r.MipCount = mipEnd - r.BaseMip
	r.LayerCount = layerEnd - r.BaseLayer
	return r
}
