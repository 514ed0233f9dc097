// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package graph implements a render graph: passes declared against virtual
// resources, compiled into a linear schedule and executed through a
// command recorder.
//
// A frame builds a fresh Graph. Every pass declares in its setup which
// resource versions it reads and which new versions it writes. Compile
// orders the passes, drops the ones whose results nobody consumes, and
// computes when each transient resource must exist. Execute walks the
// schedule, leasing physical resources from a transient pool just in time
// and requiring the declared scopes before each pass runs.
//
// Basic usage:
//
//	g := graph.New(graph.WithAllocator(alloc))
//	backbuffer := g.Import("backbuffer", swapchainImage)
//	var color graph.Handle
//	g.AddPass("scene", func(b *graph.PassBuilder) {
//		color = b.Create("color", colorDesc)
//		color = b.Write(color, graph.Access{Kind: graph.ColorAttachmentWrite})
//	}, drawScene)
//	g.AddPass("blit", func(b *graph.PassBuilder) {
//		b.Read(color, graph.Access{Kind: graph.TransferRead})
//		b.Write(backbuffer, graph.Access{Kind: graph.TransferWrite})
//	}, blit)
//	sched, err := g.Compile()
//	if err != nil {
//		return err
//	}
//	return sched.Execute(rec, pool)
//
// A Graph is not safe for concurrent use.
package graph

import (
	"fmt"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/resource"
)

// Handle names one version of a virtual resource. The zero Handle is
// invalid.
type Handle struct {
	id      int32 // resource index + 1
	version uint32
}

// Valid reports whether h was returned by a graph.
func (h Handle) Valid() bool { return h.id > 0 }

// Version returns the resource version h refers to.
func (h Handle) Version() uint32 { return h.version }

// String formats the handle as "r<index>v<version>".
func (h Handle) String() string {
	if !h.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("r%dv%d", h.id-1, h.version)
}

func (h Handle) index() int { return int(h.id) - 1 }

// virtualResource is a logical resource and the passes touching each of
// its versions.
type virtualResource struct {
	name string
	kind resource.Kind
	desc resource.Desc

	imported resource.Physical
	state    *barrier.State

	latest  uint32
	writers []int   // writers[v] is the pass producing version v, or -1
	readers [][]int // readers[v] are the passes reading version v
}

func (r *virtualResource) available(v uint32) bool {
	if v == 0 {
		return r.imported != nil
	}
	return r.writers[v] >= 0
}

// declared is one access of a pass.
type declared struct {
	res     int
	version uint32 // version read, or version produced for writes
	access  Access
	read    bool
	write   bool
}

type passNode struct {
	index      int
	name       string
	pass       Pass
	accesses   []declared
	sideEffect bool
}

// Pass is a unit of GPU work in a graph.
type Pass interface {
	// Name identifies the pass in errors and diagnostics.
	Name() string
	// Setup declares the resources the pass uses. It runs once, when the
	// pass is added.
	Setup(b *PassBuilder)
	// Execute records the pass. Declared scopes are already in place.
	Execute(ctx *Context) error
}

type funcPass struct {
	name  string
	setup func(*PassBuilder)
	exec  func(*Context) error
}

func (p *funcPass) Name() string { return p.name }

func (p *funcPass) Setup(b *PassBuilder) {
	if p.setup != nil {
		p.setup(b)
	}
}

func (p *funcPass) Execute(ctx *Context) error {
	if p.exec == nil {
		return nil
	}
	return p.exec(ctx)
}

// Option configures a Graph.
type Option func(*Graph)

// WithAllocator validates transient resource descriptions against alloc
// at compile time.
func WithAllocator(alloc *resource.Allocator) Option {
	return func(g *Graph) { g.alloc = alloc }
}

// Graph collects passes and virtual resources for one frame.
type Graph struct {
	alloc     *resource.Allocator
	resources []*virtualResource
	passes    []*passNode
	errs      []error

	// culled is set by Compile for diagnostics.
	culled []bool
}

// New returns an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Import adds an externally owned resource. Its version 0 is readable
// and the graph never creates or destroys it.
func (g *Graph) Import(name string, res resource.Physical) Handle {
	return g.importResource(name, res, nil)
}

// ImportWithState is Import for a resource whose current synchronization
// state is known.
func (g *Graph) ImportWithState(name string, res resource.Physical, state barrier.State) Handle {
	return g.importResource(name, res, &state)
}

func (g *Graph) importResource(name string, res resource.Physical, state *barrier.State) Handle {
	if res == nil {
		g.errs = append(g.errs, fmt.Errorf("%w: import %q: nil resource", ErrInvalidSetup, name))
		return Handle{}
	}
	return g.addResource(&virtualResource{
		name:     name,
		kind:     res.Kind(),
		desc:     res.Desc(),
		imported: res,
		state:    state,
	})
}

func (g *Graph) addResource(r *virtualResource) Handle {
	r.writers = []int{-1}
	r.readers = [][]int{nil}
	g.resources = append(g.resources, r)
	//nolint:gosec // G115: resource count is bounded by memory
	return Handle{id: int32(len(g.resources))}
}

// Add adds p and runs its setup.
func (g *Graph) Add(p Pass) {
	node := &passNode{index: len(g.passes), name: p.Name(), pass: p}
	g.passes = append(g.passes, node)
	p.Setup(&PassBuilder{graph: g, node: node})
}

// AddPass adds a pass built from functions. Either may be nil.
func (g *Graph) AddPass(name string, setup func(*PassBuilder), exec func(*Context) error) {
	g.Add(&funcPass{name: name, setup: setup, exec: exec})
}

// Len returns the number of declared passes.
func (g *Graph) Len() int { return len(g.passes) }

// ResourceName returns the name of the resource h refers to.
func (g *Graph) ResourceName(h Handle) string {
	if r := g.lookup(h); r != nil {
		return r.name
	}
	return h.String()
}

func (g *Graph) lookup(h Handle) *virtualResource {
	if !h.Valid() || h.index() >= len(g.resources) {
		return nil
	}
	return g.resources[h.index()]
}

// PassBuilder declares the resources of one pass.
type PassBuilder struct {
	graph *Graph
	node  *passNode
}

func (b *PassBuilder) fail(format string, args ...any) {
	err := fmt.Errorf("%w: pass %q: %s", ErrInvalidSetup, b.node.name, fmt.Sprintf(format, args...))
	b.graph.errs = append(b.graph.errs, err)
}

// Name returns the pass name.
func (b *PassBuilder) Name() string { return b.node.name }

// Create declares a new transient resource. The returned version 0 has no
// contents; write it before reading.
func (b *PassBuilder) Create(name string, desc resource.Desc) Handle {
	if desc == nil {
		b.fail("create %q: nil description", name)
		return Handle{}
	}
	return b.graph.addResource(&virtualResource{name: name, kind: desc.Kind(), desc: desc})
}

// check validates h and a for this pass.
func (b *PassBuilder) check(op string, h Handle, a Access) *virtualResource {
	r := b.graph.lookup(h)
	if r == nil {
		b.fail("%s: invalid handle %s", op, h)
		return nil
	}
	if h.version > r.latest {
		b.fail("%s %q: unknown version %d", op, r.name, h.version)
		return nil
	}
	if a.Kind < SampledRead || a.Kind > Present {
		b.fail("%s %q: unknown access kind %d", op, r.name, a.Kind)
		return nil
	}
	if t := a.Kind.target(); t != 0 && t != r.kind {
		b.fail("%s %q: %s access on a %s", op, r.name, a.Kind, r.kind)
		return nil
	}
	return r
}

// Read declares a read of version h.
func (b *PassBuilder) Read(h Handle, a Access) {
	r := b.check("read", h, a)
	if r == nil {
		return
	}
	if a.Kind.Writes() {
		b.fail("read %q: %s is a write access", r.name, a.Kind)
		return
	}
	r.readers[h.version] = append(r.readers[h.version], b.node.index)
	b.node.accesses = append(b.node.accesses, declared{res: h.index(), version: h.version, access: a, read: true})
}

// Write declares that the pass produces the next version of the resource
// and returns its handle. h must be the latest version.
func (b *PassBuilder) Write(h Handle, a Access) Handle {
	return b.write("write", h, a, false)
}

// ReadWrite declares that the pass reads version h and produces the next
// version from it.
func (b *PassBuilder) ReadWrite(h Handle, a Access) Handle {
	return b.write("read-write", h, a, true)
}

func (b *PassBuilder) write(op string, h Handle, a Access, read bool) Handle {
	r := b.check(op, h, a)
	if r == nil {
		return Handle{}
	}
	if !a.Kind.Writes() {
		b.fail("%s %q: %s is a read access", op, r.name, a.Kind)
		return Handle{}
	}
	if h.version != r.latest {
		b.fail("%s %q: stale version %d, latest is %d", op, r.name, h.version, r.latest)
		return Handle{}
	}
	if read {
		r.readers[h.version] = append(r.readers[h.version], b.node.index)
	}
	r.latest++
	r.writers = append(r.writers, b.node.index)
	r.readers = append(r.readers, nil)
	b.node.accesses = append(b.node.accesses, declared{res: h.index(), version: r.latest, access: a, read: read, write: true})
	return Handle{id: h.id, version: r.latest}
}

// SetSideEffect keeps the pass even if nothing reads its results.
func (b *PassBuilder) SetSideEffect() {
	b.node.sideEffect = true
}
