// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package barrier

import "github.com/gogpu/framegraph/resource"

// Tracker maps resource IDs to their last known state. Resources without an
// entry are in InitialState.
//
// A Tracker belongs to one recorder and is not safe for concurrent use.
type Tracker struct {
	states map[resource.ID]State
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[resource.ID]State)}
}

// Get returns the tracked state of id.
func (t *Tracker) Get(id resource.ID) State {
	if s, ok := t.states[id]; ok {
		return s
	}
	return InitialState
}

// Set records the state of id.
func (t *Tracker) Set(id resource.ID, s State) {
	t.states[id] = s
}

// Seed records the state of a resource before any access in this recording,
// such as an imported image whose producer left it in a known layout.
func (t *Tracker) Seed(id resource.ID, s State) {
	t.Set(id, s)
}

// Forget drops the entry for id.
func (t *Tracker) Forget(id resource.ID) {
	delete(t.states, id)
}

// Reset drops every entry.
func (t *Tracker) Reset() {
	clear(t.states)
}

// Len returns the number of tracked resources.
func (t *Tracker) Len() int {
	return len(t.states)
}
