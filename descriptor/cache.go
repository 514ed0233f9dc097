// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package descriptor

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
)

// DefaultPoolChunk is the set capacity of one pool when none is configured.
const DefaultPoolChunk = 64

// Set is a bind group built by a Cache.
type Set struct {
	id     resource.ID
	key    Key
	layout *Layout
	raw    hal.BindGroup
	pool   int
}

// ID returns the stable identifier of the set.
func (s *Set) ID() resource.ID { return s.id }

// Raw returns the HAL bind group.
func (s *Set) Raw() hal.BindGroup { return s.raw }

// Layout returns the layout the set was built for.
func (s *Set) Layout() *Layout { return s.layout }

// Pool returns the index of the pool the set was allocated from.
func (s *Set) Pool() int { return s.pool }

// Key returns the canonical key of the set.
func (s *Set) Key() Key { return s.key }

// pool is a fixed-capacity block of set slots.
type pool struct {
	capacity int
	used     int
}

// Stats reports cache activity since the last Reset.
type Stats struct {
	Hits   int
	Misses int
	Live   int
	Pools  int
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Descriptors[%d hits, %d misses, %d live, %d pools]", s.Hits, s.Misses, s.Live, s.Pools)
}

// Cache builds bind groups and reuses them for identical bindings.
//
// The cache lives for one recorder cycle: Reset destroys every set, which
// is only safe once the GPU has finished with the recorded commands.
// Cache is not safe for concurrent use.
//
// The HAL allocates bind groups directly from the device and has no
// descriptor pool object. Pools here are bookkeeping only: they group sets
// into chunks for Stats and Set.Pool, and no GPU memory is reserved when a
// new pool is opened.
type Cache struct {
	device hal.Device
	chunk  int

	sets    map[uint64][]*Set
	pools   []pool
	current int
	live    int

	hits   int
	misses int
}

// NewCache returns a cache whose pools hold chunk sets each.
func NewCache(device hal.Device, chunk int) *Cache {
	if chunk <= 0 {
		chunk = DefaultPoolChunk
	}
	return &Cache{
		device: device,
		chunk:  chunk,
		sets:   make(map[uint64][]*Set),
		pools:  []pool{{capacity: chunk}},
	}
}

// Build returns the set for bindings under layout, creating it on a miss.
// Identical layout and bindings return the same *Set until Reset.
func (c *Cache) Build(layout *Layout, bindings []Binding) (*Set, error) {
	key, err := MakeKey(layout, bindings)
	if err != nil {
		return nil, err
	}
	for _, s := range c.sets[key.hash] {
		if s.key.Equal(key) {
			c.hits++
			return s, nil
		}
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		if !layout.hasSlot(b.Slot) {
			return nil, fmt.Errorf("%w: layout %q has no slot %d", ErrInvalidBinding, layout.label, b.Slot)
		}
		res, err := bindingResource(b)
		if err != nil {
			return nil, err
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: b.Slot, Resource: res})
	}

	raw, err := c.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   layout.label,
		Layout:  layout.raw,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create bind group %q: %w", resource.ErrDevice, layout.label, err)
	}

	s := &Set{id: resource.NewID(), key: key, layout: layout, raw: raw, pool: c.allocate()}
	c.sets[key.hash] = append(c.sets[key.hash], s)
	c.live++
	c.misses++
	return s, nil
}

// allocate takes a slot from the current pool, moving to the next pool
// when it is full and growing a new one when none is left. It never fails.
func (c *Cache) allocate() int {
	if c.pools[c.current].used == c.pools[c.current].capacity {
		c.current++
		if c.current == len(c.pools) {
			c.pools = append(c.pools, pool{capacity: c.chunk})
			logging.L().Debug("descriptor: pool grown", "pools", len(c.pools), "chunk", c.chunk)
		}
	}
	c.pools[c.current].used++
	return c.current
}

func bindingResource(b Binding) (gputypes.BindingResource, error) {
	switch b.Kind {
	case KindBuffer:
		raw, err := b.Buffer.Raw()
		if err != nil {
			return nil, err
		}
		return gputypes.BufferBinding{Buffer: raw.NativeHandle(), Offset: b.Offset, Size: b.Size}, nil
	case KindImage:
		view, err := b.Image.View()
		if err != nil {
			return nil, err
		}
		return gputypes.TextureViewBinding{TextureView: view.NativeHandle()}, nil
	case KindSampler:
		if b.Sampler.Raw() == nil {
			return nil, fmt.Errorf("%w: sampler %q", resource.ErrReleased, b.Sampler.Label())
		}
		return gputypes.SamplerBinding{Sampler: b.Sampler.Raw().NativeHandle()}, nil
	case KindAccelerationStructure:
		return nil, fmt.Errorf("%w: %s at slot %d", ErrUnsupportedBinding, b.Kind, b.Slot)
	default:
		return nil, fmt.Errorf("%w: slot %d has kind %s", ErrInvalidBinding, b.Slot, b.Kind)
	}
}

// Reset destroys every set and empties the pools. Pool capacity is kept.
func (c *Cache) Reset() {
	for _, bucket := range c.sets {
		for _, s := range bucket {
			c.device.DestroyBindGroup(s.raw)
			s.raw = nil
		}
	}
	clear(c.sets)
	for i := range c.pools {
		c.pools[i].used = 0
	}
	c.current = 0
	c.live = 0
	c.hits = 0
	c.misses = 0
}

// Stats returns the counters since the last Reset.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Live: c.live, Pools: len(c.pools)}
}
