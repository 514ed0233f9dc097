// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Storage is the backing state of an Image.
type Storage uint8

// Image storage states.
const (
	// StorageEmpty means the image has no backing texture.
	StorageEmpty Storage = iota
	// StorageOwned means the texture and view were created by an Allocator.
	StorageOwned
	// StorageImported means the texture belongs to someone else.
	StorageImported
)

// String returns the storage name.
func (s Storage) String() string {
	switch s {
	case StorageEmpty:
		return "empty"
	case StorageOwned:
		return "owned"
	case StorageImported:
		return "imported"
	default:
		return fmt.Sprintf("Storage(%d)", uint8(s))
	}
}

// Image is a physical texture with its default view.
type Image struct {
	id      ID
	desc    ImageDesc
	owner   Owner
	storage Storage
	texture hal.Texture
	view    hal.TextureView
}

// NewImportedImage wraps a texture owned elsewhere, such as a swapchain
// image. view may be nil when the caller never binds the image.
func NewImportedImage(texture hal.Texture, view hal.TextureView, desc ImageDesc) *Image {
	return &Image{
		id:      NewID(),
		desc:    desc.Normalized(),
		owner:   OwnerExternal,
		storage: StorageImported,
		texture: texture,
		view:    view,
	}
}

func (i *Image) physical() {}

// ID returns the stable identifier.
func (i *Image) ID() ID { return i.id }

// Kind returns KindImage.
func (i *Image) Kind() Kind { return KindImage }

// Owner returns the ownership class.
func (i *Image) Owner() Owner { return i.owner }

// Label returns the debug label.
func (i *Image) Label() string { return i.desc.Label }

// Desc returns the creation description.
func (i *Image) Desc() Desc { return i.desc }

// ImageDesc returns the typed, normalized description.
func (i *Image) ImageDesc() ImageDesc { return i.desc }

// Format returns the texture format.
func (i *Image) Format() gputypes.TextureFormat { return i.desc.Format }

// Storage returns the backing state.
func (i *Image) Storage() Storage { return i.storage }

// Texture returns the HAL texture.
func (i *Image) Texture() (hal.Texture, error) {
	switch i.storage {
	case StorageOwned, StorageImported:
		return i.texture, nil
	case StorageEmpty:
		return nil, fmt.Errorf("%w: image %q", ErrReleased, i.desc.Label)
	default:
		panic(fmt.Sprintf("resource: image %q has invalid storage %d", i.desc.Label, i.storage))
	}
}

// View returns the default texture view.
func (i *Image) View() (hal.TextureView, error) {
	switch i.storage {
	case StorageOwned, StorageImported:
		if i.view == nil {
			return nil, fmt.Errorf("resource: image %q has no view", i.desc.Label)
		}
		return i.view, nil
	case StorageEmpty:
		return nil, fmt.Errorf("%w: image %q", ErrReleased, i.desc.Label)
	default:
		panic(fmt.Sprintf("resource: image %q has invalid storage %d", i.desc.Label, i.storage))
	}
}

// Whole returns the subresource range covering every mip and layer.
func (i *Image) Whole() Subresource {
	return Subresource{}.Resolve(i.desc)
}

// Aspect returns the aspect covering every plane of the format.
func (i *Image) Aspect() gputypes.TextureAspect {
	return i.desc.Aspect()
}

// Extent returns the size of mip level 0.
func (i *Image) Extent() hal.Extent3D {
	return hal.Extent3D{Width: i.desc.Width, Height: i.desc.Height, DepthOrArrayLayers: i.desc.DepthOrLayers}
}
