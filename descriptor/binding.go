// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package descriptor

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/gogpu/framegraph/resource"
)

// Kind is the type of resource bound to a slot.
type Kind uint8

// Binding kinds.
const (
	KindBuffer Kind = iota + 1
	KindImage
	KindSampler
	KindAccelerationStructure
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindSampler:
		return "sampler"
	case KindAccelerationStructure:
		return "acceleration-structure"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Binding binds one resource to a layout slot.
type Binding struct {
	Slot uint32
	Kind Kind

	Buffer *resource.Buffer
	Offset uint64
	Size   uint64

	Image   *resource.Image
	Sampler *resource.Sampler

	// AccelerationStructure identifies an acceleration structure by ID.
	AccelerationStructure resource.ID
}

// BufferBinding binds [offset, offset+size) of buf. A zero size binds the
// rest of the buffer.
func BufferBinding(slot uint32, buf *resource.Buffer, offset, size uint64) Binding {
	return Binding{Slot: slot, Kind: KindBuffer, Buffer: buf, Offset: offset, Size: size}
}

// ImageBinding binds the default view of img.
func ImageBinding(slot uint32, img *resource.Image) Binding {
	return Binding{Slot: slot, Kind: KindImage, Image: img}
}

// SamplerBinding binds s.
func SamplerBinding(slot uint32, s *resource.Sampler) Binding {
	return Binding{Slot: slot, Kind: KindSampler, Sampler: s}
}

// AccelerationStructureBinding binds the acceleration structure id.
func AccelerationStructureBinding(slot uint32, id resource.ID) Binding {
	return Binding{Slot: slot, Kind: KindAccelerationStructure, AccelerationStructure: id}
}

func (b Binding) resourceID() (resource.ID, error) {
	switch b.Kind {
	case KindBuffer:
		if b.Buffer != nil {
			return b.Buffer.ID(), nil
		}
	case KindImage:
		if b.Image != nil {
			return b.Image.ID(), nil
		}
	case KindSampler:
		if b.Sampler != nil {
			return b.Sampler.ID(), nil
		}
	case KindAccelerationStructure:
		if b.AccelerationStructure != 0 {
			return b.AccelerationStructure, nil
		}
	}
	return 0, fmt.Errorf("%w: slot %d has no %s", ErrInvalidBinding, b.Slot, b.Kind)
}

// keyEntry is one binding reduced to identities.
type keyEntry struct {
	slot   uint32
	kind   Kind
	id     resource.ID
	offset uint64
	size   uint64
}

// Key is the canonical identity of a layout and its bindings. Bindings are
// ordered by slot, so the order they were supplied in does not matter.
type Key struct {
	layout  resource.ID
	entries []keyEntry
	hash    uint64
}

// Hash returns the 64-bit FNV-1a hash of the key.
func (k Key) Hash() uint64 { return k.hash }

// Equal reports whether k and o describe the same bindings.
func (k Key) Equal(o Key) bool {
	return k.hash == o.hash && k.layout == o.layout && slices.Equal(k.entries, o.entries)
}

// MakeKey computes the canonical key of bindings under layout.
func MakeKey(layout *Layout, bindings []Binding) (Key, error) {
	entries := make([]keyEntry, 0, len(bindings))
	for _, b := range bindings {
		id, err := b.resourceID()
		if err != nil {
			return Key{}, err
		}
		entries = append(entries, keyEntry{slot: b.Slot, kind: b.Kind, id: id, offset: b.Offset, size: b.Size})
	}
	slices.SortFunc(entries, func(a, b keyEntry) int {
		return cmp.Compare(a.slot, b.slot)
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].slot == entries[i-1].slot {
			return Key{}, fmt.Errorf("%w: slot %d", ErrDuplicateSlot, entries[i].slot)
		}
	}

	h := fnv.New64a()
	var buf [8]byte
	word := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	word(uint64(layout.ID()))
	for _, e := range entries {
		word(uint64(e.slot)<<8 | uint64(e.kind))
		word(uint64(e.id))
		word(e.offset)
		word(e.size)
	}
	return Key{layout: layout.ID(), entries: entries, hash: h.Sum64()}, nil
}
