// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"errors"
	"fmt"

	"github.com/gogpu/framegraph/descriptor"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/recorder"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/transient"
)

// Execute records the schedule into rec, which must be recording.
//
// Before each pass the transient resources it first uses are leased from
// pool and every declared access is required, then the barriers are flushed
// once and the pass runs. Resources whose last use was the pass go back to
// the pool afterwards. On error every resource still leased is released.
func (s *Schedule) Execute(rec *recorder.Recorder, pool *transient.Pool) (err error) {
	g := s.graph
	phys := make([]resource.Physical, len(g.resources))
	for i, r := range g.resources {
		if r.imported == nil {
			continue
		}
		phys[i] = r.imported
		if r.state != nil {
			rec.Tracker().Seed(r.imported.ID(), *r.state)
		}
	}

	leased := make(map[int]resource.Physical)
	defer func() {
		if err == nil {
			return
		}
		for _, res := range leased {
			if rerr := pool.Release(res); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
	}()

	for _, st := range s.steps {
		name := st.pass.name
		for _, idx := range st.create {
			res, err := pool.Acquire(g.resources[idx].desc)
			if err != nil {
				return fmt.Errorf("graph: pass %q: acquire %q: %w", name, g.resources[idx].name, err)
			}
			phys[idx] = res
			leased[idx] = res
		}

		for _, a := range st.pass.accesses {
			if err := require(rec, phys[a.res], a.access); err != nil {
				return fmt.Errorf("graph: pass %q: %w", name, err)
			}
		}
		if _, err := rec.FlushBarriers(); err != nil {
			return fmt.Errorf("graph: pass %q: %w", name, err)
		}

		ctx := &Context{rec: rec, pass: st.pass, graph: g, phys: phys}
		if err := st.pass.pass.Execute(ctx); err != nil {
			return fmt.Errorf("graph: pass %q: %w", name, err)
		}

		for _, idx := range st.destroy {
			if err := pool.Release(phys[idx]); err != nil {
				return fmt.Errorf("graph: pass %q: release %q: %w", name, g.resources[idx].name, err)
			}
			delete(leased, idx)
			phys[idx] = nil
		}
	}
	logging.L().Debug("graph: executed", "passes", len(s.steps), "recorder", rec.Label())
	return nil
}

func require(rec *recorder.Recorder, res resource.Physical, a Access) error {
	scope, layout := a.Scope()
	switch r := res.(type) {
	case *resource.Image:
		return rec.RequireImage(r, scope, layout, a.Sub)
	case *resource.Buffer:
		return rec.RequireBuffer(r, scope, 0, 0)
	default:
		return fmt.Errorf("unsupported resource %T", res)
	}
}

// Imported returns the imported physical resources in import order.
func (s *Schedule) Imported() []resource.Physical {
	var out []resource.Physical
	for _, r := range s.graph.resources {
		if r.imported != nil {
			out = append(out, r.imported)
		}
	}
	return out
}

// Context is handed to a running pass.
type Context struct {
	rec   *recorder.Recorder
	pass  *passNode
	graph *Graph
	phys  []resource.Physical
}

// Recorder returns the recorder the pass records into.
func (c *Context) Recorder() *recorder.Recorder { return c.rec }

// Pass returns the name of the running pass.
func (c *Context) Pass() string { return c.pass.name }

// Descriptors returns the recorder's descriptor cache.
func (c *Context) Descriptors() *descriptor.Cache { return c.rec.Descriptors() }

// Physical resolves h to the resource backing it during this pass. The
// pass must have declared an access to the resource.
func (c *Context) Physical(h Handle) (resource.Physical, error) {
	idx := h.index()
	declaredHere := false
	for _, a := range c.pass.accesses {
		if a.res == idx {
			declaredHere = true
			break
		}
	}
	if !h.Valid() || idx >= len(c.phys) || !declaredHere {
		return nil, fmt.Errorf("%w: pass %q resolves %s", ErrUndeclaredAccess, c.pass.name, h)
	}
	return c.phys[idx], nil
}

// Image resolves h to an image.
func (c *Context) Image(h Handle) (*resource.Image, error) {
	res, err := c.Physical(h)
	if err != nil {
		return nil, err
	}
	img, ok := res.(*resource.Image)
	if !ok {
		return nil, fmt.Errorf("graph: pass %q: %q is a %s, not an image", c.pass.name, c.graph.ResourceName(h), res.Kind())
	}
	return img, nil
}

// Buffer resolves h to a buffer.
func (c *Context) Buffer(h Handle) (*resource.Buffer, error) {
	res, err := c.Physical(h)
	if err != nil {
		return nil, err
	}
	buf, ok := res.(*resource.Buffer)
	if !ok {
		return nil, fmt.Errorf("graph: pass %q: %q is a %s, not a buffer", c.pass.name, c.graph.ResourceName(h), res.Kind())
	}
	return buf, nil
}
