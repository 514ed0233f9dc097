// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config defines the tuning knobs of the frame graph engine and
// loads them from TOML.
//
// A zero Config is not valid; start from Default and override fields, or
// load a file with Load. Missing keys keep their default values.
//
//	in_flight_frames = 3
//	descriptor_pool_chunk = 128
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default values.
const (
	DefaultInFlightFrames       = 2
	DefaultDescriptorPoolChunk  = 64
	DefaultBarrierBatchCapacity = 16
	DefaultEvictAfterFrames     = 4
	DefaultWaitTimeoutMS        = 5000
	DefaultRecordWorkers        = 4

	// MaxInFlightFrames bounds the recorder ring.
	MaxInFlightFrames = 8
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the engine tuning knobs.
type Config struct {
	// InFlightFrames is the number of frames the CPU may record ahead of the
	// GPU. It sizes the recorder ring and bounds transient resource reuse.
	InFlightFrames int `toml:"in_flight_frames"`

	// DescriptorPoolChunk is the number of descriptor sets one pool holds
	// before the cache grows a new pool.
	DescriptorPoolChunk int `toml:"descriptor_pool_chunk"`

	// BarrierBatchCapacity is the number of pending barriers reserved up
	// front in each barrier batch.
	BarrierBatchCapacity int `toml:"barrier_batch_capacity"`

	// EvictAfterFrames is the number of frames a free transient resource
	// may stay unused before the pool destroys it. Values below
	// InFlightFrames are raised to InFlightFrames.
	EvictAfterFrames int `toml:"evict_after_frames"`

	// WaitTimeoutMS bounds how long a recorder reset waits for the GPU.
	WaitTimeoutMS int `toml:"wait_timeout_ms"`

	// RecordWorkers limits concurrent recording goroutines.
	RecordWorkers int `toml:"record_workers"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		InFlightFrames:       DefaultInFlightFrames,
		DescriptorPoolChunk:  DefaultDescriptorPoolChunk,
		BarrierBatchCapacity: DefaultBarrierBatchCapacity,
		EvictAfterFrames:     DefaultEvictAfterFrames,
		WaitTimeoutMS:        DefaultWaitTimeoutMS,
		RecordWorkers:        DefaultRecordWorkers,
	}
}

// Load reads a TOML configuration file. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML data on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// Normalize raises EvictAfterFrames to at least InFlightFrames.
func (c *Config) Normalize() {
	if c.EvictAfterFrames < c.InFlightFrames {
		c.EvictAfterFrames = c.InFlightFrames
	}
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	switch {
	case c.InFlightFrames < 1 || c.InFlightFrames > MaxInFlightFrames:
		return fmt.Errorf("%w: in_flight_frames %d not in [1, %d]", ErrInvalidConfig, c.InFlightFrames, MaxInFlightFrames)
	case c.DescriptorPoolChunk < 1:
		return fmt.Errorf("%w: descriptor_pool_chunk %d must be positive", ErrInvalidConfig, c.DescriptorPoolChunk)
	case c.BarrierBatchCapacity < 0:
		return fmt.Errorf("%w: barrier_batch_capacity %d must not be negative", ErrInvalidConfig, c.BarrierBatchCapacity)
	case c.EvictAfterFrames < 1:
		return fmt.Errorf("%w: evict_after_frames %d must be positive", ErrInvalidConfig, c.EvictAfterFrames)
	case c.WaitTimeoutMS < 1:
		return fmt.Errorf("%w: wait_timeout_ms %d must be positive", ErrInvalidConfig, c.WaitTimeoutMS)
	case c.RecordWorkers < 1:
		return fmt.Errorf("%w: record_workers %d must be positive", ErrInvalidConfig, c.RecordWorkers)
	}
	return nil
}

// WaitTimeout returns WaitTimeoutMS as a duration.
func (c Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMS) * time.Millisecond
}
