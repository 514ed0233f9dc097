// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/framegraph/internal/logging"
)

// step is one pass of a schedule with the transient resources created
// before it runs and released after it finishes.
type step struct {
	pass    *passNode
	create  []int
	destroy []int
}

// interval is the span of schedule steps a resource must exist for.
type interval struct {
	first, last int
}

// Schedule is a compiled graph: the surviving passes in execution order
// and the lifetime of every transient resource.
type Schedule struct {
	graph     *Graph
	steps     []step
	lifetimes map[int]interval
	culled    []string
}

// Compile orders the passes, culls the ones that contribute nothing, and
// computes resource lifetimes. It issues no GPU command.
//
// Setup errors are joined and returned first. Reads of versions nothing
// writes return a *DanglingAccessError; cyclic dependencies a *CycleError.
func (g *Graph) Compile() (*Schedule, error) {
	if len(g.errs) > 0 {
		return nil, errors.Join(g.errs...)
	}
	if err := g.checkDangling(); err != nil {
		return nil, err
	}

	succ := g.edges()
	order, err := g.order(succ)
	if err != nil {
		return nil, err
	}

	live := g.cull()
	g.culled = make([]bool, len(g.passes))
	s := &Schedule{graph: g, lifetimes: make(map[int]interval)}
	for _, p := range g.passes {
		if !live[p.index] {
			g.culled[p.index] = true
			s.culled = append(s.culled, p.name)
		}
	}
	for _, idx := range order {
		if live[idx] {
			s.steps = append(s.steps, step{pass: g.passes[idx]})
		}
	}

	for pos, st := range s.steps {
		for _, a := range st.pass.accesses {
			if g.resources[a.res].imported != nil {
				continue
			}
			iv, ok := s.lifetimes[a.res]
			if !ok {
				iv = interval{first: pos}
			}
			iv.last = pos
			s.lifetimes[a.res] = iv
		}
	}
	for idx := range g.resources {
		iv, ok := s.lifetimes[idx]
		if !ok {
			continue
		}
		r := g.resources[idx]
		if g.alloc != nil {
			if err := g.alloc.Validate(r.desc); err != nil {
				return nil, fmt.Errorf("graph: resource %q: %w", r.name, err)
			}
		}
		s.steps[iv.first].create = append(s.steps[iv.first].create, idx)
		s.steps[iv.last].destroy = append(s.steps[iv.last].destroy, idx)
	}

	logging.L().Debug("graph: compiled", "passes", len(g.passes), "scheduled", len(s.steps),
		"culled", len(s.culled), "transient", len(s.lifetimes))
	return s, nil
}

func (g *Graph) checkDangling() error {
	for _, p := range g.passes {
		for _, a := range p.accesses {
			if !a.read {
				continue
			}
			v := a.version
			if a.write {
				v--
			}
			if r := g.resources[a.res]; !r.available(v) {
				return &DanglingAccessError{Pass: p.name, Resource: r.name, Version: v}
			}
		}
	}
	return nil
}

// edges returns the successors of every pass: producers before their
// readers, each writer before the next writer, and readers of a version
// before the pass overwriting it.
func (g *Graph) edges() [][]int {
	succ := make([][]int, len(g.passes))
	add := func(from, to int) {
		if from < 0 || to < 0 || from == to || slices.Contains(succ[from], to) {
			return
		}
		succ[from] = append(succ[from], to)
	}
	for _, r := range g.resources {
		for v := range r.writers {
			w := r.writers[v]
			for _, rd := range r.readers[v] {
				add(w, rd)
			}
			if v+1 < len(r.writers) {
				next := r.writers[v+1]
				add(w, next)
				for _, rd := range r.readers[v] {
					add(rd, next)
				}
			}
		}
	}
	return succ
}

// order sorts passes topologically. Among ready passes the one declared
// first goes first, so equal graphs always produce equal schedules.
func (g *Graph) order(succ [][]int) ([]int, error) {
	indeg := make([]int, len(g.passes))
	for _, next := range succ {
		for _, n := range next {
			indeg[n]++
		}
	}
	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(g.passes))
	for len(ready) > 0 {
		p := ready[0]
		ready = ready[1:]
		order = append(order, p)
		for _, n := range succ[p] {
			indeg[n]--
			if indeg[n] == 0 {
				i, _ := slices.BinarySearch(ready, n)
				ready = slices.Insert(ready, i, n)
			}
		}
	}

	if len(order) < len(g.passes) {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, g.passes[i].name)
			}
		}
		return nil, &CycleError{Passes: stuck}
	}
	return order, nil
}

// cull marks the passes reachable backwards from the roots: side-effect
// passes and passes writing imported resources. Only reads pull in the
// pass that produced the version read.
func (g *Graph) cull() []bool {
	live := make([]bool, len(g.passes))
	var stack []int
	for _, p := range g.passes {
		root := p.sideEffect
		for _, a := range p.accesses {
			if a.write && g.resources[a.res].imported != nil {
				root = true
			}
		}
		if root {
			live[p.index] = true
			stack = append(stack, p.index)
		}
	}
	for len(stack) > 0 {
		p := g.passes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		for _, a := range p.accesses {
			if !a.read {
				continue
			}
			v := a.version
			if a.write {
				v--
			}
			w := g.resources[a.res].writers[v]
			if w >= 0 && !live[w] {
				live[w] = true
				stack = append(stack, w)
			}
		}
	}
	return live
}

// Len returns the number of scheduled passes.
func (s *Schedule) Len() int { return len(s.steps) }

// Passes returns the scheduled pass names in execution order.
func (s *Schedule) Passes() []string {
	names := make([]string, len(s.steps))
	for i, st := range s.steps {
		names[i] = st.pass.name
	}
	return names
}

// Culled returns the names of the passes Compile removed, in declaration
// order.
func (s *Schedule) Culled() []string {
	return slices.Clone(s.culled)
}

// Lifetime returns the first and last step that use the transient resource
// h. ok is false for imported resources and for resources no scheduled
// pass uses.
func (s *Schedule) Lifetime(h Handle) (first, last int, ok bool) {
	iv, ok := s.lifetimes[h.index()]
	return iv.first, iv.last, ok
}

// Transient returns the number of resources the schedule leases.
func (s *Schedule) Transient() int { return len(s.lifetimes) }

// String lists the steps with their create and release actions.
func (s *Schedule) String() string {
	var sb strings.Builder
	for i, st := range s.steps {
		fmt.Fprintf(&sb, "%d: %s", i, st.pass.name)
		if len(st.create) > 0 {
			fmt.Fprintf(&sb, " create=%s", s.names(st.create))
		}
		if len(st.destroy) > 0 {
			fmt.Fprintf(&sb, " release=%s", s.names(st.destroy))
		}
		sb.WriteByte('\n')
	}
	if len(s.culled) > 0 {
		fmt.Fprintf(&sb, "culled: %s\n", strings.Join(s.culled, ", "))
	}
	return sb.String()
}

func (s *Schedule) names(idx []int) string {
	names := make([]string, len(idx))
	for i, r := range idx {
		names[i] = s.graph.resources[r].name
	}
	return "[" + strings.Join(names, " ") + "]"
}
