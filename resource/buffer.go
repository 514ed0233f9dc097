// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"github.com/gogpu/wgpu/hal"
)

// Buffer is a physical GPU buffer.
type Buffer struct {
	id    ID
	desc  BufferDesc
	owner Owner
	raw   hal.Buffer
}

// NewBuffer wraps an existing HAL buffer. Used for imports and by tests;
// the Allocator creates engine-owned buffers.
func NewBuffer(raw hal.Buffer, desc BufferDesc, owner Owner) *Buffer {
	return &Buffer{id: NewID(), desc: desc, owner: owner, raw: raw}
}

func (b *Buffer) physical() {}

// ID returns the stable identifier.
func (b *Buffer) ID() ID { return b.id }

// Kind returns KindBuffer.
func (b *Buffer) Kind() Kind { return KindBuffer }

// Owner returns the ownership class.
func (b *Buffer) Owner() Owner { return b.owner }

// Label returns the debug label.
func (b *Buffer) Label() string { return b.desc.Label }

// Desc returns the creation description.
func (b *Buffer) Desc() Desc { return b.desc }

// BufferDesc returns the typed description.
func (b *Buffer) BufferDesc() BufferDesc { return b.desc }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Raw returns the HAL buffer, or ErrReleased after destruction.
func (b *Buffer) Raw() (hal.Buffer, error) {
	if b.raw == nil {
		return nil, ErrReleased
	}
	return b.raw, nil
}

// Released reports whether the HAL buffer has been destroyed.
func (b *Buffer) Released() bool { return b.raw == nil }
