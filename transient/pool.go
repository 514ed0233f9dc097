// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package transient provides a frame-scoped pool of physical resources.
//
// Graph-owned resources are leased from the pool for the part of a frame
// that uses them and released back afterwards. Released resources are kept
// on a free list keyed by their description and handed out again to the
// next request with an identical shape. Entries nobody asked for during the
// last few frames are destroyed by Update.
package transient

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
)

// Pool errors.
var (
	// ErrNotLeased is returned when releasing a resource the pool did not
	// hand out or that was already released.
	ErrNotLeased = errors.New("transient: resource not leased from this pool")

	// ErrPoolDestroyed is returned when using a destroyed pool.
	ErrPoolDestroyed = errors.New("transient: pool destroyed")
)

// Default pool settings.
const (
	DefaultInFlightFrames   = 2
	DefaultEvictAfterFrames = 4
)

// Config configures a Pool. Zero fields take defaults.
type Config struct {
	// InFlightFrames is the number of frames the GPU may still be working
	// on. A resource released in an earlier frame is reused only after this
	// many frames have passed.
	InFlightFrames int

	// EvictAfterFrames is how many frames a free resource survives without
	// being reused. Values below InFlightFrames are raised to it.
	EvictAfterFrames int
}

// Stats contains pool statistics.
type Stats struct {
	Allocations uint64
	Reuses      uint64
	Evictions   uint64
	Free        int
	Leased      int
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Pool[%d leased, %d free, %d allocations, %d reuses, %d evictions]",
		s.Leased, s.Free, s.Allocations, s.Reuses, s.Evictions)
}

// freeEntry is a released resource waiting for reuse.
type freeEntry struct {
	res      resource.Physical
	key      resource.Key
	released uint64
	element  *list.Element // position in the LRU list
}

// Pool leases physical resources by description.
//
// Pool is safe for concurrent use.
type Pool struct {
	mu    sync.Mutex
	alloc *resource.Allocator

	inFlight uint64
	keep     uint64
	frame    uint64

	free   map[resource.Key][]*freeEntry
	lru    *list.List // front = most recently released
	leased map[resource.ID]resource.Physical

	allocations uint64
	reuses      uint64
	evictions   uint64

	destroyed bool
}

// New returns a pool allocating from alloc.
func New(alloc *resource.Allocator, cfg Config) *Pool {
	inFlight := cfg.InFlightFrames
	if inFlight <= 0 {
		inFlight = DefaultInFlightFrames
	}
	evict := cfg.EvictAfterFrames
	if evict <= 0 {
		evict = DefaultEvictAfterFrames
	}
	//nolint:gosec // G115: both values are positive
	return &Pool{
		alloc:    alloc,
		inFlight: uint64(inFlight),
		keep:     uint64(max(evict, inFlight)),
		free:     make(map[resource.Key][]*freeEntry),
		lru:      list.New(),
		leased:   make(map[resource.ID]resource.Physical),
	}
}

// Frame returns the current frame counter.
func (p *Pool) Frame() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// Acquire returns a resource matching desc, reusing a released one when its
// previous users can no longer be running on the GPU.
func (p *Pool) Acquire(desc resource.Desc) (resource.Physical, error) {
	key := desc.Key()

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrPoolDestroyed
	}
	if res := p.takeLocked(key); res != nil {
		p.leased[res.ID()] = res
		p.reuses++
		p.mu.Unlock()
		return res, nil
	}
	p.mu.Unlock()

	// Allocation happens outside the lock; the allocator has its own.
	res, err := p.alloc.Create(desc, resource.OwnerPool)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		_ = p.alloc.Destroy(res)
		return nil, ErrPoolDestroyed
	}
	p.leased[res.ID()] = res
	p.allocations++
	logging.L().Debug("transient: allocated", "resource", res.Label(), "key", key, "frame", p.frame)
	return res, nil
}

// AcquireImage is Acquire for image descriptions.
func (p *Pool) AcquireImage(desc resource.ImageDesc) (*resource.Image, error) {
	res, err := p.Acquire(desc)
	if err != nil {
		return nil, err
	}
	return res.(*resource.Image), nil
}

// AcquireBuffer is Acquire for buffer descriptions.
func (p *Pool) AcquireBuffer(desc resource.BufferDesc) (*resource.Buffer, error) {
	res, err := p.Acquire(desc)
	if err != nil {
		return nil, err
	}
	return res.(*resource.Buffer), nil
}

// takeLocked pops the most recently released reusable entry for key.
// Caller must hold mu.
func (p *Pool) takeLocked(key resource.Key) resource.Physical {
	stack := p.free[key]
	for i := len(stack) - 1; i >= 0; i-- {
		e := stack[i]
		if !p.reusableLocked(e) {
			continue
		}
		p.free[key] = append(stack[:i], stack[i+1:]...)
		if len(p.free[key]) == 0 {
			delete(p.free, key)
		}
		p.lru.Remove(e.element)
		return e.res
	}
	return nil
}

// reusableLocked reports whether e may be handed out in the current frame.
// Resources released this frame are only used by work recorded before the
// new lease in the same submission.
func (p *Pool) reusableLocked(e *freeEntry) bool {
	return e.released == p.frame || p.frame-e.released >= p.inFlight
}

// Release returns res to the free list. The resource stays alive.
func (p *Pool) Release(res resource.Physical) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return ErrPoolDestroyed
	}
	if _, ok := p.leased[res.ID()]; !ok {
		return fmt.Errorf("%w: %s %q", ErrNotLeased, res.ID(), res.Label())
	}
	delete(p.leased, res.ID())

	e := &freeEntry{res: res, key: res.Desc().Key(), released: p.frame}
	e.element = p.lru.PushFront(e)
	p.free[e.key] = append(p.free[e.key], e)
	return nil
}

// Update advances the frame counter and destroys free resources that have
// not been reused for the configured number of frames.
func (p *Pool) Update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}
	p.frame++

	for elem := p.lru.Back(); elem != nil; {
		e := elem.Value.(*freeEntry)
		if p.frame-e.released <= p.keep {
			break
		}
		prev := elem.Prev()
		p.evictLocked(e)
		elem = prev
	}
}

// evictLocked destroys a free entry. Caller must hold mu.
func (p *Pool) evictLocked(e *freeEntry) {
	p.lru.Remove(e.element)
	stack := p.free[e.key]
	for i, s := range stack {
		if s == e {
			p.free[e.key] = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(p.free[e.key]) == 0 {
		delete(p.free, e.key)
	}
	if err := p.alloc.Destroy(e.res); err != nil {
		logging.L().Warn("transient: evict failed", "resource", e.res.Label(), "err", err)
	}
	p.evictions++
	logging.L().Debug("transient: evicted", "resource", e.res.Label(), "released", e.released, "frame", p.frame)
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Allocations: p.allocations,
		Reuses:      p.reuses,
		Evictions:   p.evictions,
		Free:        p.lru.Len(),
		Leased:      len(p.leased),
	}
}

// Destroy destroys every free and leased resource. The caller must make
// sure the GPU no longer uses them. The pool cannot be used afterwards.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}
	for elem := p.lru.Front(); elem != nil; elem = elem.Next() {
		if e, ok := elem.Value.(*freeEntry); ok {
			_ = p.alloc.Destroy(e.res)
		}
	}
	for _, res := range p.leased {
		_ = p.alloc.Destroy(res)
	}
	p.lru.Init()
	clear(p.free)
	clear(p.leased)
	p.destroyed = true
}
