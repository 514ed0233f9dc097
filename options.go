// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/config"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	cfg           config.Config
	adapter       hal.Adapter
	limits        gputypes.Limits
	surfaceFormat gputypes.TextureFormat
}

func defaultOptions() options {
	return options{
		cfg:           config.Default(),
		surfaceFormat: gputypes.TextureFormatBGRA8Unorm,
	}
}

// WithConfig replaces the default configuration. The configuration is
// normalized and validated by New.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithAdapter lets the allocator check texture format capabilities
// against adapter.
func WithAdapter(adapter hal.Adapter) Option {
	return func(o *options) { o.adapter = adapter }
}

// WithLimits bounds resource sizes. The default is gputypes.DefaultLimits().
func WithLimits(limits gputypes.Limits) Option {
	return func(o *options) { o.limits = limits }
}

// WithSurfaceFormat sets the format returned by Engine.SurfaceFormat.
func WithSurfaceFormat(format gputypes.TextureFormat) Option {
	return func(o *options) { o.surfaceFormat = format }
}
