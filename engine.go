// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/config"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/recorder"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/transient"
)

// Engine errors.
var (
	// ErrNilProvider is returned when a nil DeviceProvider is passed.
	ErrNilProvider = errors.New("framegraph: nil DeviceProvider")

	// ErrNoHALDevice is returned when a provider does not expose HAL types.
	ErrNoHALDevice = errors.New("framegraph: provider does not expose a HAL device and queue")

	// ErrEngineDestroyed is returned when using a destroyed engine.
	ErrEngineDestroyed = errors.New("framegraph: engine destroyed")
)

// FrameStats describes one rendered frame.
type FrameStats struct {
	Frame      uint64
	Submission uint64
	Passes     int
	Culled     int
	Transient  int
	Recorder   recorder.Stats
	Pool       transient.Stats
}

// String returns a human-readable summary.
func (s FrameStats) String() string {
	return fmt.Sprintf("Frame[%d submission=%d passes=%d culled=%d transient=%d] %v %v",
		s.Frame, s.Submission, s.Passes, s.Culled, s.Transient, s.Recorder, s.Pool)
}

// Engine owns the per-device state of the frame graph: the resource
// allocator, the transient pool, a ring of recorders for frames in flight
// and the last known state of imported resources.
//
// RenderFrame and RecordParallel serialize on the engine. Each recorder is
// only ever driven by one goroutine at a time.
type Engine struct {
	mu sync.Mutex

	cfg           config.Config
	device        hal.Device
	queue         hal.Queue
	surfaceFormat gputypes.TextureFormat

	alloc *resource.Allocator
	pool  *transient.Pool

	ring  []*recorder.Recorder
	lanes []*recorder.Recorder
	frame uint64

	// states holds the final state of imported resources after their last
	// frame, keyed by resource ID.
	states map[resource.ID]barrier.State

	destroyed bool
}

// New creates an engine on device and queue. The engine does not take
// ownership of either.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Engine, error) {
	if device == nil || queue == nil {
		return nil, resource.ErrNilDevice
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	alloc := resource.NewAllocator(device, resource.AllocatorConfig{
		Adapter: o.adapter,
		Limits:  o.limits,
	})
	e := &Engine{
		cfg:           cfg,
		device:        device,
		queue:         queue,
		surfaceFormat: o.surfaceFormat,
		alloc:         alloc,
		pool: transient.New(alloc, transient.Config{
			InFlightFrames:   cfg.InFlightFrames,
			EvictAfterFrames: cfg.EvictAfterFrames,
		}),
		ring:   make([]*recorder.Recorder, cfg.InFlightFrames),
		states: make(map[resource.ID]barrier.State),
	}
	for i := range e.ring {
		e.ring[i] = e.newRecorder(fmt.Sprintf("frame %d", i))
	}

	Logger().Info("framegraph: engine created",
		"in_flight_frames", cfg.InFlightFrames,
		"record_workers", cfg.RecordWorkers,
		"surface_format", e.surfaceFormat.String())
	return e, nil
}

// NewFromProvider creates an engine on the device of a host application.
// The provider must expose HAL types, either through HalDevice() and
// HalQueue() methods or by returning hal.Device and hal.Queue values from
// Device and Queue. The provider's surface format becomes the engine's
// surface format unless WithSurfaceFormat overrides it.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	device, queue, err := halFromProvider(provider)
	if err != nil {
		return nil, err
	}
	if f := provider.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
		opts = append([]Option{WithSurfaceFormat(f)}, opts...)
	}
	info := provider.AdapterInfo()
	Logger().Info("framegraph: using provider device", "adapter", info.Name, "type", info.Type)
	return New(device, queue, opts...)
}

func halFromProvider(provider gpucontext.DeviceProvider) (hal.Device, hal.Queue, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	var devAny, queueAny any
	if hp, ok := provider.(halProvider); ok {
		devAny, queueAny = hp.HalDevice(), hp.HalQueue()
	} else {
		devAny, queueAny = provider.Device(), provider.Queue()
	}
	device, ok := devAny.(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("%w: device is %T", ErrNoHALDevice, devAny)
	}
	queue, ok := queueAny.(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, fmt.Errorf("%w: queue is %T", ErrNoHALDevice, queueAny)
	}
	return device, queue, nil
}

func (e *Engine) newRecorder(label string) *recorder.Recorder {
	return recorder.New(e.device, e.queue, recorder.Options{
		Label:                label,
		BarrierBatchCapacity: e.cfg.BarrierBatchCapacity,
		DescriptorPoolChunk:  e.cfg.DescriptorPoolChunk,
		WaitTimeout:          e.cfg.WaitTimeout(),
	})
}

// Config returns the normalized configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Device returns the HAL device.
func (e *Engine) Device() hal.Device { return e.device }

// Allocator returns the resource allocator. Resources it creates directly
// are engine-owned and destroyed with the engine.
func (e *Engine) Allocator() *resource.Allocator { return e.alloc }

// Pool returns the transient resource pool.
func (e *Engine) Pool() *transient.Pool { return e.pool }

// SurfaceFormat returns the default backbuffer format.
func (e *Engine) SurfaceFormat() gputypes.TextureFormat { return e.surfaceFormat }

// Frame returns the number of frames submitted so far.
func (e *Engine) Frame() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// ImportedState returns the state an imported resource was left in by the
// last frame that used it.
func (e *Engine) ImportedState(id resource.ID) (barrier.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[id]
	return s, ok
}

// Forget drops the remembered state of an imported resource. Call it when
// the resource is destroyed or recreated by its owner.
func (e *Engine) Forget(id resource.ID) {
	e.mu.Lock()
	delete(e.states, id)
	e.mu.Unlock()
}

// RenderFrame builds, compiles and records one frame graph and submits it.
//
// The build callback declares passes on a fresh graph. Setup and compile
// errors are returned before any GPU command is recorded and the frame is
// skipped. Otherwise the recorder of the current ring slot is reset, which
// waits for the frame submitted InFlightFrames ago, and the schedule is
// executed and submitted on it. Imported resources start from the state
// the previous frame left them in.
func (e *Engine) RenderFrame(build func(*graph.Graph) error) (*FrameStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, ErrEngineDestroyed
	}

	g := graph.New(graph.WithAllocator(e.alloc))
	if err := build(g); err != nil {
		return nil, fmt.Errorf("framegraph: frame %d: build: %w", e.frame, err)
	}
	sched, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("framegraph: frame %d: %w", e.frame, err)
	}

	slot := int(e.frame % uint64(len(e.ring)))
	rec, err := e.acquire(e.ring, slot)
	if err != nil {
		return nil, err
	}

	imported := sched.Imported()
	tracker := rec.Tracker()
	for _, res := range imported {
		if s, ok := e.states[res.ID()]; ok {
			tracker.Seed(res.ID(), s)
		}
	}
	if err := sched.Execute(rec, e.pool); err != nil {
		e.abandon(e.ring, slot)
		return nil, fmt.Errorf("framegraph: frame %d: %w", e.frame, err)
	}
	final := make([]barrier.State, len(imported))
	for i, res := range imported {
		final[i] = tracker.Get(res.ID())
	}

	if err := rec.End(); err != nil {
		e.abandon(e.ring, slot)
		return nil, err
	}
	stats := &FrameStats{
		Frame:     e.frame,
		Passes:    sched.Len(),
		Culled:    len(sched.Culled()),
		Transient: sched.Transient(),
		Recorder:  rec.Stats(),
	}
	if stats.Submission, err = rec.Submit(); err != nil {
		e.abandon(e.ring, slot)
		return nil, err
	}

	// Only a submitted frame changes the state of imported resources.
	for i, res := range imported {
		e.states[res.ID()] = final[i]
	}
	e.frame++
	e.pool.Update()
	stats.Pool = e.pool.Stats()
	Logger().Debug("framegraph: frame submitted", "frame", stats.Frame,
		"submission", stats.Submission, "passes", stats.Passes, "culled", stats.Culled)
	return stats, nil
}

// acquire resets the recorder in recs[i] and begins a recording on it.
func (e *Engine) acquire(recs []*recorder.Recorder, i int) (*recorder.Recorder, error) {
	rec := recs[i]
	if err := rec.Reset(); err != nil {
		if rec.Err() == nil {
			return nil, err
		}
		e.replace(recs, i)
		rec = recs[i]
	}
	if err := rec.Begin(); err != nil {
		return nil, err
	}
	return rec, nil
}

// abandon discards the recording in recs[i]. A broken recorder is replaced.
func (e *Engine) abandon(recs []*recorder.Recorder, i int) {
	if err := recs[i].Reset(); err != nil {
		if recs[i].Err() != nil {
			e.replace(recs, i)
			return
		}
		Logger().Warn("framegraph: discard recording", "recorder", recs[i].Label(), "err", err)
	}
}

func (e *Engine) replace(recs []*recorder.Recorder, i int) {
	label := recs[i].Label()
	Logger().Warn("framegraph: replacing broken recorder", "recorder", label, "err", recs[i].Err())
	recs[i].Destroy()
	recs[i] = e.newRecorder(label)
}

// RecordParallel records each job on its own recorder concurrently and
// submits the results in one queue submission, in job order. At most
// RecordWorkers jobs run at a time.
//
// If any job fails, nothing is submitted and the first error is returned.
func (e *Engine) RecordParallel(jobs ...func(*recorder.Recorder) error) error {
	if len(jobs) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrEngineDestroyed
	}

	for len(e.lanes) < len(jobs) {
		e.lanes = append(e.lanes, e.newRecorder(fmt.Sprintf("lane %d", len(e.lanes))))
	}
	lanes := e.lanes[:len(jobs)]

	var g errgroup.Group
	g.SetLimit(e.cfg.RecordWorkers)
	for i, job := range jobs {
		g.Go(func() error {
			rec, err := e.acquire(lanes, i)
			if err != nil {
				return err
			}
			if err := job(rec); err != nil {
				return fmt.Errorf("framegraph: %s: %w", rec.Label(), err)
			}
			return rec.End()
		})
	}
	if err := g.Wait(); err != nil {
		for i := range lanes {
			e.abandon(lanes, i)
		}
		return err
	}

	if _, err := recorder.SubmitAll(e.queue, lanes...); err != nil {
		for i := range lanes {
			e.abandon(lanes, i)
		}
		return err
	}
	return nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (e *Engine) WaitIdle() error {
	if err := e.device.WaitIdle(); err != nil {
		return fmt.Errorf("%w: wait idle: %w", resource.ErrDevice, err)
	}
	return nil
}

// Destroy waits for outstanding frames and releases every recorder, pooled
// resource and engine-owned resource. Imported resources are left alone.
// Destroy is idempotent.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.destroyed = true

	for _, rec := range e.ring {
		rec.Destroy()
	}
	for _, rec := range e.lanes {
		rec.Destroy()
	}
	e.ring, e.lanes = nil, nil
	e.pool.Destroy()
	e.alloc.DestroyAll()
	clear(e.states)
	Logger().Info("framegraph: engine destroyed", "frames", e.frame)
}
