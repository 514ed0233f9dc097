// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"log/slog"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/logging"
)

// SetLogger configures the logger for framegraph and all its sub-packages.
// By default, framegraph produces no log output. Call SetLogger to enable
// logging.
//
// The logger is also installed in the wgpu HAL layer, so backend
// diagnostics go to the same destination.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by framegraph:
//   - [slog.LevelDebug]: barrier flushes, pool allocations and evictions,
//     culled passes, descriptor pool growth
//   - [slog.LevelInfo]: engine lifecycle (creation, destruction)
//   - [slog.LevelWarn]: non-fatal issues (reset timeouts, release errors)
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
	hal.SetLogger(l)
}

// Logger returns the current logger used by framegraph.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.L()
}
