// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package recorder implements the command recorder state machine on top of a
// HAL command encoder.
//
// A Recorder owns one barrier tracker and builder and one descriptor cache.
// It flushes pending barriers right before every operation that touches GPU
// memory and turns state violations into a *StateError, after which the
// recorder must be destroyed.
//
// State machine:
//
//	Initial    -> Begin()  -> Recording
//	Recording  -> (BeginRenderPass/BeginComputePass) -> inside pass
//	inside pass -> (EndRenderPass/EndComputePass)   -> Recording
//	Recording  -> End()    -> Executable
//	Executable -> Submit() -> Pending
//	any        -> Reset()  -> Initial (waits for Pending work)
//
// A Recorder is not safe for concurrent use. Use one recorder per
// goroutine.
package recorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/descriptor"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
)

// ErrInvalidRecorderState is matched by every *StateError.
var ErrInvalidRecorderState = errors.New("recorder: invalid recorder state")

// State is the lifecycle state of a Recorder.
type State uint8

// Recorder states.
const (
	StateInitial State = iota
	StateRecording
	StateExecutable
	StatePending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRecording:
		return "recording"
	case StateExecutable:
		return "executable"
	case StatePending:
		return "pending"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type passKind uint8

const (
	passNone passKind = iota
	passRender
	passCompute
)

func (p passKind) String() string {
	switch p {
	case passRender:
		return "render pass"
	case passCompute:
		return "compute pass"
	default:
		return "no pass"
	}
}

// StateError reports an operation issued in a state that forbids it.
type StateError struct {
	Op     string
	State  State
	InPass string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("recorder: %s in state %s (%s): %s", e.Op, e.State, e.InPass, e.Reason)
}

// Is reports whether target is ErrInvalidRecorderState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidRecorderState
}

// Options configures a Recorder. Zero fields take defaults.
type Options struct {
	Label                string
	BarrierBatchCapacity int
	DescriptorPoolChunk  int
	WaitTimeout          time.Duration
}

const (
	defaultWaitTimeout = 5 * time.Second
	maxPollBackoff     = 2 * time.Millisecond
)

// Stats counts recorded work since the last Reset.
type Stats struct {
	Copies         int
	Clears         int
	RenderPasses   int
	ComputePasses  int
	Draws          int
	Dispatches     int
	RedundantBinds int
	Barriers       barrier.Stats
	Descriptors    descriptor.Stats
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Recorder[%d render, %d compute, %d draws, %d dispatches, %d copies, %d redundant binds] %v %v",
		s.RenderPasses, s.ComputePasses, s.Draws, s.Dispatches, s.Copies+s.Clears, s.RedundantBinds, s.Barriers, s.Descriptors)
}

// Recorder records GPU commands for one submission at a time.
type Recorder struct {
	device hal.Device
	queue  hal.Queue
	opts   Options

	state  State
	pass   passKind
	broken error

	encoder    hal.CommandEncoder
	cmdBuf     hal.CommandBuffer
	submission uint64

	tracker *barrier.Tracker
	builder *barrier.Builder
	cache   *descriptor.Cache

	render  hal.RenderPassEncoder
	compute hal.ComputePassEncoder
	bound   bindings

	stats Stats
}

// New returns a recorder in the Initial state.
func New(device hal.Device, queue hal.Queue, opts Options) *Recorder {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.Label == "" {
		opts.Label = "recorder"
	}
	tracker := barrier.NewTracker()
	return &Recorder{
		device:  device,
		queue:   queue,
		opts:    opts,
		tracker: tracker,
		builder: barrier.NewBuilder(tracker, opts.BarrierBatchCapacity),
		cache:   descriptor.NewCache(device, opts.DescriptorPoolChunk),
	}
}

// Label returns the debug label.
func (r *Recorder) Label() string { return r.opts.Label }

// State returns the lifecycle state.
func (r *Recorder) State() State { return r.state }

// InRenderPass reports whether a render pass is open.
func (r *Recorder) InRenderPass() bool { return r.pass == passRender }

// InComputePass reports whether a compute pass is open.
func (r *Recorder) InComputePass() bool { return r.pass == passCompute }

// Tracker returns the resource state tracker.
func (r *Recorder) Tracker() *barrier.Tracker { return r.tracker }

// Descriptors returns the descriptor cache.
func (r *Recorder) Descriptors() *descriptor.Cache { return r.cache }

// Device returns the HAL device.
func (r *Recorder) Device() hal.Device { return r.device }

// Submission returns the index of the last submission, or 0.
func (r *Recorder) Submission() uint64 { return r.submission }

// Err returns the error that broke the recorder, or nil.
func (r *Recorder) Err() error { return r.broken }

// Stats returns the counters since the last Reset.
func (r *Recorder) Stats() Stats {
	s := r.stats
	s.Barriers = r.builder.Stats()
	s.Descriptors = r.cache.Stats()
	return s
}

// fail breaks the recorder. Every later call returns the same error.
func (r *Recorder) fail(op, reason string) error {
	err := &StateError{Op: op, State: r.state, InPass: r.pass.String(), Reason: reason}
	r.broken = err
	logging.L().Warn("recorder: state violation", "recorder", r.opts.Label, "err", err)
	return err
}

// expect checks that the recorder is recording with the given pass open.
func (r *Recorder) expect(op string, pass passKind) error {
	if r.broken != nil {
		return r.broken
	}
	if r.state != StateRecording {
		return r.fail(op, "recorder is not recording")
	}
	if r.pass != pass {
		switch pass {
		case passNone:
			return r.fail(op, "not allowed inside a "+r.pass.String())
		default:
			return r.fail(op, "requires an open "+pass.String())
		}
	}
	return nil
}

// Begin starts recording.
func (r *Recorder) Begin() error {
	if r.broken != nil {
		return r.broken
	}
	if r.state != StateInitial {
		return r.fail("begin", "recorder was not reset")
	}
	if r.encoder == nil {
		enc, err := r.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: r.opts.Label})
		if err != nil {
			return fmt.Errorf("%w: create command encoder: %w", resource.ErrDevice, err)
		}
		r.encoder = enc
	}
	if err := r.encoder.BeginEncoding(r.opts.Label); err != nil {
		return fmt.Errorf("%w: begin encoding: %w", resource.ErrDevice, err)
	}
	r.submission = 0
	r.state = StateRecording
	return nil
}

// End finishes recording. Pending barriers are flushed first.
func (r *Recorder) End() error {
	if err := r.expect("end", passNone); err != nil {
		return err
	}
	if err := r.flush(); err != nil {
		return err
	}
	cb, err := r.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding: %w", resource.ErrDevice, err)
	}
	r.cmdBuf = cb
	r.state = StateExecutable
	return nil
}

// Submit submits the recorded commands and returns the submission index.
func (r *Recorder) Submit() (uint64, error) {
	return SubmitAll(r.queue, r)
}

// SubmitAll submits the command buffers of several executable recorders in
// one queue submission, in argument order.
func SubmitAll(queue hal.Queue, recs ...*Recorder) (uint64, error) {
	cbs := make([]hal.CommandBuffer, 0, len(recs))
	for _, r := range recs {
		if r.broken != nil {
			return 0, r.broken
		}
		if r.state != StateExecutable {
			return 0, r.fail("submit", "recorder is not executable")
		}
		cbs = append(cbs, r.cmdBuf)
	}
	idx, err := queue.Submit(cbs)
	if err != nil {
		return 0, fmt.Errorf("%w: submit: %w", resource.ErrDevice, err)
	}
	for _, r := range recs {
		r.submission = idx
		r.state = StatePending
	}
	return idx, nil
}

// Completed reports whether the last submission has finished on the GPU.
func (r *Recorder) Completed() bool {
	return r.state != StatePending || r.queue.PollCompleted() >= r.submission
}

// wait blocks until the last submission completes. After WaitTimeout it
// asks the device to drain once before giving up with hal.ErrTimeout.
func (r *Recorder) wait() error {
	if r.Completed() {
		return nil
	}
	deadline := time.Now().Add(r.opts.WaitTimeout)
	backoff := 50 * time.Microsecond
	drained := false
	for !r.Completed() {
		if time.Now().After(deadline) {
			if drained {
				logging.L().Warn("recorder: wait timed out", "recorder", r.opts.Label, "submission", r.submission)
				return fmt.Errorf("recorder: %s: wait for submission %d: %w", r.opts.Label, r.submission, hal.ErrTimeout)
			}
			if err := r.device.WaitIdle(); err != nil {
				return fmt.Errorf("%w: wait idle: %w", resource.ErrDevice, err)
			}
			drained = true
			continue
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, maxPollBackoff)
	}
	return nil
}

// Reset returns the recorder to Initial. A pending submission is waited
// for first; an unfinished recording is discarded. The barrier state,
// barrier batch, descriptor cache and bound state are cleared.
func (r *Recorder) Reset() error {
	if r.broken != nil {
		return r.broken
	}
	switch r.state {
	case StateInitial:
	case StateRecording:
		r.encoder.DiscardEncoding()
	case StateExecutable:
		r.device.FreeCommandBuffer(r.cmdBuf)
	case StatePending:
		if err := r.wait(); err != nil {
			return err
		}
		r.device.FreeCommandBuffer(r.cmdBuf)
	}
	r.clear()
	return nil
}

func (r *Recorder) clear() {
	r.cmdBuf = nil
	r.render = nil
	r.compute = nil
	r.pass = passNone
	r.bound.reset()
	r.cache.Reset()
	r.builder.Reset()
	r.tracker.Reset()
	r.stats = Stats{}
	r.state = StateInitial
}

// Destroy waits for pending work and releases the encoder and every cached
// descriptor set. The recorder cannot be used afterwards.
func (r *Recorder) Destroy() {
	switch r.state {
	case StatePending:
		if err := r.wait(); err != nil {
			logging.L().Warn("recorder: destroy while GPU busy", "recorder", r.opts.Label, "err", err)
		}
		r.device.FreeCommandBuffer(r.cmdBuf)
	case StateExecutable:
		r.device.FreeCommandBuffer(r.cmdBuf)
	case StateRecording:
		r.encoder.DiscardEncoding()
	}
	r.clear()
	if r.encoder != nil {
		r.encoder.Destroy()
		r.encoder = nil
	}
	r.broken = &StateError{Op: "use", State: r.state, InPass: passNone.String(), Reason: "recorder destroyed"}
}

// RequireImage declares the next access to img. Not allowed inside a pass.
func (r *Recorder) RequireImage(img *resource.Image, scope barrier.Scope, layout barrier.Layout, sub resource.Subresource) error {
	if err := r.expect("require image", passNone); err != nil {
		return err
	}
	r.builder.RequireImage(img, scope, layout, sub)
	return nil
}

// RequireBuffer declares the next access to [offset, offset+size) of buf.
// Not allowed inside a pass.
func (r *Recorder) RequireBuffer(buf *resource.Buffer, scope barrier.Scope, offset, size uint64) error {
	if err := r.expect("require buffer", passNone); err != nil {
		return err
	}
	r.builder.RequireBuffer(buf, scope, offset, size)
	return nil
}

// FlushBarriers issues pending barriers as one synchronization command. It
// reports whether anything was issued.
func (r *Recorder) FlushBarriers() (bool, error) {
	if err := r.expect("flush barriers", passNone); err != nil {
		return false, err
	}
	n := r.builder.Pending()
	if err := r.flush(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Recorder) flush() error {
	if _, err := r.builder.Flush(r.encoder); err != nil {
		return err
	}
	return nil
}
