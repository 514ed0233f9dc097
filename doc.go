// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package framegraph schedules GPU work as a per-frame render graph on top of
// the gogpu HAL.
//
// # Overview
//
// Every frame the application declares passes and the resources they read
// and write. The graph orders the passes, culls the ones that contribute
// nothing, computes how long each transient resource must live, and records
// the surviving passes with the pipeline barriers their accesses need.
//
// # Quick Start
//
//	import "github.com/gogpu/framegraph"
//
//	engine, err := framegraph.New(device, queue)
//	if err != nil {
//	    return err
//	}
//	defer engine.Destroy()
//
//	_, err = engine.RenderFrame(func(g *graph.Graph) error {
//	    back := g.Import("backbuffer", swapchainImage)
//	    clr := &passes.Clear{Label: "clear", Target: back, Color: gputypes.Color{A: 1}}
//	    g.Add(clr)
//	    g.Add(&passes.Present{Label: "present", Target: clr.Output()})
//	    return nil
//	})
//
// # Architecture
//
// The module is organized into:
//   - barrier: per-resource synchronization state and barrier batching
//   - recorder: command recorder state machine over a HAL encoder
//   - descriptor: bind group layouts and the per-recorder binding cache
//   - graph: pass declaration, compilation and execution
//   - transient: frame-scoped pool of graph-owned resources
//   - resource: physical buffers and images and their allocator
//   - passes: built-in clear, copy, compute and present passes
//   - config: TOML configuration
//
// # Frames in flight
//
// An Engine keeps one recorder per frame in flight. Starting frame N waits
// for the submission of frame N-InFlightFrames, so the CPU never records
// more than InFlightFrames ahead of the GPU. Transient resources released by
// a frame are handed to a later frame only once that frame's recorder slot
// has been recycled.
//
// # Logging
//
// framegraph is silent by default. Use SetLogger to route diagnostics to a
// log/slog logger.
package framegraph
