// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/internal/haltest"
	"github.com/gogpu/framegraph/recorder"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/transient"
)

var targetDesc = resource.ImageDesc{
	Label:  "target",
	Format: gputypes.TextureFormatRGBA8Unorm,
	Width:  64,
	Height: 64,
	Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding |
		gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
}

type env struct {
	gpu   *haltest.GPU
	alloc *resource.Allocator
	pool  *transient.Pool
	rec   *recorder.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gpu := haltest.Open(t)
	alloc := resource.NewAllocator(gpu.Device, resource.AllocatorConfig{})
	pool := transient.New(alloc, transient.Config{})
	rec := recorder.New(gpu.Device, gpu.Queue, recorder.Options{Label: "frame"})
	t.Cleanup(func() {
		rec.Destroy()
		pool.Destroy()
		alloc.DestroyAll()
	})
	return &env{gpu: gpu, alloc: alloc, pool: pool, rec: rec}
}

// run compiles g, executes it on a fresh recording and submits it.
func (e *env) run(t *testing.T, g *Graph) (*Schedule, *haltest.Encoder) {
	t.Helper()
	sched, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if err := e.rec.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := sched.Execute(e.rec, e.pool); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := e.rec.End(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.rec.Submit(); err != nil {
		t.Fatal(err)
	}
	encs := e.gpu.Device.Encoders()
	return sched, encs[len(encs)-1]
}

func clearPass(target *Handle) func(*Context) error {
	return func(ctx *Context) error {
		img, err := ctx.Image(*target)
		if err != nil {
			return err
		}
		rec := ctx.Recorder()
		if err := rec.BeginRenderPass(recorder.RenderPassDesc{
			Label: ctx.Pass(),
			Color: []recorder.ColorAttachment{{Image: img, Load: gputypes.LoadOpClear, Store: gputypes.StoreOpStore}},
		}); err != nil {
			return err
		}
		return rec.EndRenderPass()
	}
}

type abcGraph struct {
	g              *Graph
	r1, r2, target Handle
	r3             Handle
}

// buildABC declares A (writes R1), B (reads R1, writes R2) and C (copies R2
// into the imported target). With prune set, D writes R3 which nobody reads.
func buildABC(e *env, target *resource.Image, prune bool) *abcGraph {
	s := &abcGraph{g: New(WithAllocator(e.alloc))}
	g := s.g
	s.target = g.Import("target", target)

	g.AddPass("A", func(b *PassBuilder) {
		s.r1 = b.Create("R1", targetDesc)
		s.r1 = b.Write(s.r1, Access{Kind: ColorAttachmentWrite})
	}, clearPass(&s.r1))

	g.AddPass("B", func(b *PassBuilder) {
		b.Read(s.r1, Access{Kind: SampledRead, Stages: barrier.StageFragmentShader})
		s.r2 = b.Create("R2", targetDesc)
		s.r2 = b.Write(s.r2, Access{Kind: ColorAttachmentWrite})
	}, clearPass(&s.r2))

	if prune {
		g.AddPass("D", func(b *PassBuilder) {
			s.r3 = b.Create("R3", resource.BufferDesc{Size: 256, Usage: gputypes.BufferUsageStorage})
			s.r3 = b.Write(s.r3, Access{Kind: StorageWrite, Stages: barrier.StageComputeShader})
		}, func(*Context) error { return errors.New("culled pass executed") })
	}

	g.AddPass("C", func(b *PassBuilder) {
		b.Read(s.r2, Access{Kind: TransferRead})
		s.target = b.Write(s.target, Access{Kind: TransferWrite})
	}, func(ctx *Context) error {
		src, err := ctx.Image(s.r2)
		if err != nil {
			return err
		}
		dst, err := ctx.Image(s.target)
		if err != nil {
			return err
		}
		return ctx.Recorder().CopyImage(src, dst)
	})
	return s
}

func TestEndToEnd(t *testing.T) {
	e := newEnv(t)
	target, err := e.alloc.CreateImage(targetDesc)
	if err != nil {
		t.Fatal(err)
	}
	s := buildABC(e, target, false)
	sched, enc := e.run(t, s.g)

	if got, want := sched.Passes(), []string{"A", "B", "C"}; !slices.Equal(got, want) {
		t.Fatalf("Passes() = %v, want %v", got, want)
	}
	if first, last, ok := sched.Lifetime(s.r1); !ok || first != 0 || last != 1 {
		t.Errorf("R1 lifetime = [%d, %d] ok=%v, want [0, 1]", first, last, ok)
	}
	if first, last, ok := sched.Lifetime(s.r2); !ok || first != 1 || last != 2 {
		t.Errorf("R2 lifetime = [%d, %d] ok=%v, want [1, 2]", first, last, ok)
	}
	if _, _, ok := sched.Lifetime(s.target); ok {
		t.Error("imported target has a lifetime")
	}

	// Write->read transitions leave the render attachment state.
	var writeToRead []hal.TextureUsageTransition
	total := 0
	for _, call := range enc.TextureBarriers() {
		for _, b := range call {
			total++
			if b.Usage.OldUsage == gputypes.TextureUsageRenderAttachment {
				writeToRead = append(writeToRead, b.Usage)
			}
		}
	}
	want := []hal.TextureUsageTransition{
		{OldUsage: gputypes.TextureUsageRenderAttachment, NewUsage: gputypes.TextureUsageTextureBinding}, // R1
		{OldUsage: gputypes.TextureUsageRenderAttachment, NewUsage: gputypes.TextureUsageCopySrc},        // R2
	}
	if !slices.Equal(writeToRead, want) {
		t.Errorf("write->read barriers = %v, want %v", writeToRead, want)
	}
	// Plus the first-use transitions of R1, R2 and the target.
	if total != 5 {
		t.Errorf("texture barriers = %d, want 5", total)
	}

	stats := e.pool.Stats()
	if stats.Allocations != 2 || stats.Leased != 0 || stats.Free != 2 {
		t.Errorf("pool stats = %v", stats)
	}
	if st := e.rec.Tracker().Get(target.ID()); st.Layout != barrier.LayoutTransferDst {
		t.Errorf("target layout = %v, want transfer-dst", st.Layout)
	}
}

func TestPruning(t *testing.T) {
	e := newEnv(t)
	target, err := e.alloc.CreateImage(targetDesc)
	if err != nil {
		t.Fatal(err)
	}
	s := buildABC(e, target, true)
	sched, _ := e.run(t, s.g)

	if got, want := sched.Passes(), []string{"A", "B", "C"}; !slices.Equal(got, want) {
		t.Fatalf("Passes() = %v, want %v", got, want)
	}
	if got := sched.Culled(); !slices.Equal(got, []string{"D"}) {
		t.Errorf("Culled() = %v, want [D]", got)
	}
	if _, _, ok := sched.Lifetime(s.r3); ok {
		t.Error("culled R3 has a lifetime")
	}
	if got := sched.Transient(); got != 2 {
		t.Errorf("Transient() = %d, want 2", got)
	}
	if got := e.gpu.Device.Buffers.Load(); got != 0 {
		t.Errorf("buffers allocated = %d, want none for R3", got)
	}
	if got := e.pool.Stats().Allocations; got != 2 {
		t.Errorf("pool allocations = %d, want 2", got)
	}
}

func TestSideEffectKeepsPass(t *testing.T) {
	g := New()
	g.AddPass("scratch", func(b *PassBuilder) {
		h := b.Create("tmp", resource.BufferDesc{Size: 64, Usage: gputypes.BufferUsageStorage})
		b.Write(h, Access{Kind: StorageWrite})
		b.SetSideEffect()
	}, nil)
	g.AddPass("unused", func(b *PassBuilder) {
		h := b.Create("tmp2", resource.BufferDesc{Size: 64, Usage: gputypes.BufferUsageStorage})
		b.Write(h, Access{Kind: StorageWrite})
	}, nil)
	sched, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if got := sched.Passes(); !slices.Equal(got, []string{"scratch"}) {
		t.Errorf("Passes() = %v, want [scratch]", got)
	}
}

func TestWriteAfterReadOrdering(t *testing.T) {
	g := New()
	var v1 Handle
	g.AddPass("produce", func(b *PassBuilder) {
		v1 = b.Write(b.Create("R", resource.BufferDesc{Size: 64, Usage: gputypes.BufferUsageStorage}),
			Access{Kind: StorageWrite})
	}, nil)
	g.AddPass("overwrite", func(b *PassBuilder) {
		b.Write(v1, Access{Kind: TransferWrite})
		b.SetSideEffect()
	}, nil)
	g.AddPass("consume", func(b *PassBuilder) {
		b.Read(v1, Access{Kind: StorageRead})
		b.SetSideEffect()
	}, nil)

	sched, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sched.Passes(), []string{"produce", "consume", "overwrite"}; !slices.Equal(got, want) {
		t.Errorf("Passes() = %v, want %v", got, want)
	}
}

func TestDeclarationOrderTieBreak(t *testing.T) {
	g := New()
	for _, name := range []string{"x", "y", "z"} {
		g.AddPass(name, func(b *PassBuilder) { b.SetSideEffect() }, nil)
	}
	sched, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if got := sched.Passes(); !slices.Equal(got, []string{"x", "y", "z"}) {
		t.Errorf("Passes() = %v", got)
	}
}

func TestCycle(t *testing.T) {
	e := newEnv(t)
	x, _ := e.alloc.CreateBuffer(resource.BufferDesc{Label: "X", Size: 64, Usage: gputypes.BufferUsageStorage})
	r, _ := e.alloc.CreateBuffer(resource.BufferDesc{Label: "R", Size: 64, Usage: gputypes.BufferUsageStorage})

	g := New()
	hx := g.Import("X", x)
	hr := g.Import("R", r)
	g.AddPass("Q", func(b *PassBuilder) {
		b.Read(hx, Access{Kind: StorageRead})
		b.Write(hr, Access{Kind: StorageWrite})
	}, nil)
	g.AddPass("P", func(b *PassBuilder) {
		b.Read(hr, Access{Kind: StorageRead}) // version 0, already overwritten by Q
		b.Write(hx, Access{Kind: StorageWrite})
	}, nil)

	_, err := g.Compile()
	if !errors.Is(err, ErrResourceCycle) {
		t.Fatalf("Compile() = %v, want ErrResourceCycle", err)
	}
	var ce *CycleError
	if !errors.As(err, &ce) || !slices.Equal(ce.Passes, []string{"Q", "P"}) {
		t.Errorf("cycle passes = %v", ce)
	}
}

func TestDanglingAccess(t *testing.T) {
	g := New()
	g.AddPass("reader", func(b *PassBuilder) {
		h := b.Create("never-written", resource.BufferDesc{Size: 64, Usage: gputypes.BufferUsageUniform})
		b.Read(h, Access{Kind: UniformRead})
		b.SetSideEffect()
	}, nil)
	_, err := g.Compile()
	if !errors.Is(err, ErrDanglingResourceAccess) {
		t.Fatalf("Compile() = %v, want ErrDanglingResourceAccess", err)
	}
	var de *DanglingAccessError
	if !errors.As(err, &de) || de.Pass != "reader" || de.Resource != "never-written" || de.Version != 0 {
		t.Errorf("error = %#v", de)
	}
}

func TestSetupErrors(t *testing.T) {
	buf := resource.BufferDesc{Size: 64, Usage: gputypes.BufferUsageStorage}
	tests := []struct {
		name  string
		setup func(g *Graph)
		want  string
	}{
		{"stale write", func(g *Graph) {
			var v0 Handle
			g.AddPass("first", func(b *PassBuilder) {
				v0 = b.Create("R", buf)
				b.Write(v0, Access{Kind: StorageWrite})
			}, nil)
			g.AddPass("second", func(b *PassBuilder) { b.Write(v0, Access{Kind: StorageWrite}) }, nil)
		}, "stale version"},
		{"image access on buffer", func(g *Graph) {
			g.AddPass("p", func(b *PassBuilder) {
				b.Write(b.Create("R", buf), Access{Kind: ColorAttachmentWrite})
			}, nil)
		}, "color-attachment-write access on a buffer"},
		{"read with write kind", func(g *Graph) {
			g.AddPass("p", func(b *PassBuilder) { b.Read(b.Create("R", buf), Access{Kind: StorageWrite}) }, nil)
		}, "is a write access"},
		{"write with read kind", func(g *Graph) {
			g.AddPass("p", func(b *PassBuilder) { b.Write(b.Create("R", buf), Access{Kind: StorageRead}) }, nil)
		}, "is a read access"},
		{"invalid handle", func(g *Graph) {
			g.AddPass("p", func(b *PassBuilder) { b.Read(Handle{}, Access{Kind: StorageRead}) }, nil)
		}, "invalid handle"},
		{"nil import", func(g *Graph) { g.Import("nothing", nil) }, "nil resource"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			tt.setup(g)
			_, err := g.Compile()
			if !errors.Is(err, ErrInvalidSetup) {
				t.Fatalf("Compile() = %v, want ErrInvalidSetup", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestCompileValidatesDescriptions(t *testing.T) {
	e := newEnv(t)
	g := New(WithAllocator(e.alloc))
	g.AddPass("p", func(b *PassBuilder) {
		h := b.Create("empty", resource.ImageDesc{Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageStorageBinding})
		b.Write(h, Access{Kind: StorageWrite})
		b.SetSideEffect()
	}, nil)
	if _, err := g.Compile(); !errors.Is(err, resource.ErrInvalidDesc) {
		t.Fatalf("Compile() = %v, want ErrInvalidDesc", err)
	}
	if got := e.gpu.Device.Textures.Load(); got != 0 {
		t.Errorf("textures created = %d, want 0", got)
	}
}

func TestExecuteErrorReleasesLeases(t *testing.T) {
	e := newEnv(t)
	g := New()
	g.AddPass("boom", func(b *PassBuilder) {
		h := b.Create("tmp", targetDesc)
		b.Write(h, Access{Kind: ColorAttachmentWrite})
		b.SetSideEffect()
	}, func(*Context) error { return errors.New("boom") })

	sched, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if err := e.rec.Begin(); err != nil {
		t.Fatal(err)
	}
	err = sched.Execute(e.rec, e.pool)
	if err == nil || !strings.Contains(err.Error(), `pass "boom"`) {
		t.Fatalf("Execute() = %v", err)
	}
	if got := e.pool.Stats().Leased; got != 0 {
		t.Errorf("leased after failure = %d", got)
	}
}

func TestContextRejectsUndeclared(t *testing.T) {
	e := newEnv(t)
	g := New()
	var other Handle
	g.AddPass("writer", func(b *PassBuilder) {
		other = b.Write(b.Create("other", targetDesc), Access{Kind: ColorAttachmentWrite})
	}, nil)
	g.AddPass("nosy", func(b *PassBuilder) {
		b.Read(other, Access{Kind: SampledRead})
		b.Write(b.Create("mine", targetDesc), Access{Kind: ColorAttachmentWrite})
		b.SetSideEffect()
	}, func(ctx *Context) error {
		if _, err := ctx.Buffer(other); err == nil {
			t.Error("Buffer() resolved an image")
		}
		_, err := ctx.Image(Handle{id: 99})
		if !errors.Is(err, ErrUndeclaredAccess) {
			t.Errorf("Image() = %v, want ErrUndeclaredAccess", err)
		}
		return nil
	})
	e.run(t, g)
}

func TestImportWithState(t *testing.T) {
	e := newEnv(t)
	target, err := e.alloc.CreateImage(targetDesc)
	if err != nil {
		t.Fatal(err)
	}
	g := New()
	h := g.ImportWithState("backbuffer", target, barrier.State{
		Scope:  barrier.Scope{Stages: barrier.StageBottomOfPipe},
		Layout: barrier.LayoutPresent,
	})
	g.AddPass("draw", func(b *PassBuilder) {
		h = b.Write(h, Access{Kind: ColorAttachmentWrite})
	}, clearPass(&h))
	_, enc := e.run(t, g)

	calls := enc.TextureBarriers()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("barriers = %v", calls)
	}
	if got := calls[0][0].Usage.OldUsage; got != gputypes.TextureUsageRenderAttachment {
		t.Errorf("OldUsage = %v, want present (render attachment)", got)
	}
}

func TestPassAcrossMipLevels(t *testing.T) {
	e := newEnv(t)
	desc := targetDesc
	desc.Label = "chain"
	desc.MipLevels = 2
	chain, err := e.alloc.CreateImage(desc)
	if err != nil {
		t.Fatal(err)
	}

	g := New()
	h := g.Import("chain", chain)
	g.AddPass("base", func(b *PassBuilder) {
		h = b.Write(h, Access{Kind: ColorAttachmentWrite, Sub: resource.Subresource{MipCount: 1}})
	}, nil)
	g.AddPass("downsample", func(b *PassBuilder) {
		b.Read(h, Access{Kind: SampledRead, Stages: barrier.StageFragmentShader, Sub: resource.Subresource{MipCount: 1}})
		h = b.Write(h, Access{Kind: ColorAttachmentWrite, Sub: resource.Subresource{BaseMip: 1, MipCount: 1}})
	}, nil)
	_, enc := e.run(t, g)

	calls := enc.TextureBarriers()
	if len(calls) != 2 {
		t.Fatalf("barrier calls = %v, want one per pass", calls)
	}
	want := []hal.TextureUsageTransition{
		{OldUsage: gputypes.TextureUsageNone, NewUsage: gputypes.TextureUsageRenderAttachment},
		{OldUsage: gputypes.TextureUsageRenderAttachment, NewUsage: gputypes.TextureUsageStorageBinding},
	}
	for i, call := range calls {
		if len(call) != 1 {
			t.Fatalf("call %d = %v", i, call)
		}
		if call[0].Usage != want[i] {
			t.Errorf("call %d usage = %+v, want %+v", i, call[0].Usage, want[i])
		}
		if r := call[0].Range; r.BaseMipLevel != 0 || r.MipLevelCount != 2 {
			t.Errorf("call %d range = %+v, want both mips", i, r)
		}
	}
	if st := e.rec.Tracker().Get(chain.ID()); st.Layout != barrier.LayoutGeneral {
		t.Errorf("chain layout = %v, want general", st.Layout)
	}
}

// TestScheduleValidity checks random acyclic graphs: every read comes after
// the write it reads, and every transient lives from its first to its last
// use.
func TestScheduleValidity(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	desc := resource.BufferDesc{Size: 64, Usage: gputypes.BufferUsageStorage}

	for iter := range 50 {
		g := New()
		var latest []Handle
		g.AddPass("seed", func(b *PassBuilder) {
			for range 4 {
				h := b.Create("r", desc)
				latest = append(latest, b.Write(h, Access{Kind: StorageWrite}))
			}
		}, nil)
		for p := range 12 {
			g.AddPass("p", func(b *PassBuilder) {
				for i := range latest {
					if rng.IntN(3) == 0 {
						b.Read(latest[i], Access{Kind: StorageRead})
					}
				}
				w := rng.IntN(len(latest))
				latest[w] = b.Write(latest[w], Access{Kind: StorageWrite})
				if rng.IntN(4) == 0 || p == 11 {
					b.SetSideEffect()
				}
			}, nil)
		}

		sched, err := g.Compile()
		if err != nil {
			t.Fatalf("iteration %d: Compile() error = %v", iter, err)
		}
		pos := make(map[int]int)
		for i, st := range sched.steps {
			pos[st.pass.index] = i
		}
		for i, st := range sched.steps {
			for _, a := range st.pass.accesses {
				iv := sched.lifetimes[a.res]
				if i < iv.first || i > iv.last {
					t.Fatalf("iteration %d: step %d uses resource %d outside [%d, %d]", iter, i, a.res, iv.first, iv.last)
				}
				if !a.read {
					continue
				}
				w := g.resources[a.res].writers[a.version]
				wp, ok := pos[w]
				if !ok || wp >= i {
					t.Fatalf("iteration %d: step %d reads resource %d v%d written at step %d (scheduled=%v)",
						iter, i, a.res, a.version, wp, ok)
				}
			}
		}
	}
}

func TestWriteDot(t *testing.T) {
	e := newEnv(t)
	target, err := e.alloc.CreateImage(targetDesc)
	if err != nil {
		t.Fatal(err)
	}
	s := buildABC(e, target, true)
	if _, err := s.g.Compile(); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := s.g.WriteDot(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"digraph framegraph {",
		`p0 [shape=box, label="A"];`,
		`p2 [shape=box, label="D", style=dashed];`,
		`r0v0 [shape=doublecircle, label="target v0"];`,
		"p0 -> r1v1;",
		"r1v1 -> p1;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("DOT output missing %q:\n%s", want, out)
		}
	}
}

func TestAccessScopes(t *testing.T) {
	tests := []struct {
		access Access
		scope  barrier.Scope
		layout barrier.Layout
	}{
		{Access{Kind: SampledRead, Stages: barrier.StageFragmentShader},
			barrier.Scope{Stages: barrier.StageFragmentShader, Access: barrier.AccessShaderRead}, barrier.LayoutShaderReadOnly},
		{Access{Kind: StorageReadWrite, Stages: barrier.StageComputeShader},
			barrier.Scope{Stages: barrier.StageComputeShader, Access: barrier.AccessShaderRead | barrier.AccessShaderWrite}, barrier.LayoutGeneral},
		{Access{Kind: UniformRead},
			barrier.Scope{Stages: shaderStages, Access: barrier.AccessUniformRead}, barrier.LayoutUndefined},
		{Access{Kind: ColorAttachmentWrite}, recorder.ColorScope(gputypes.LoadOpClear), barrier.LayoutColorAttachment},
		{Access{Kind: Present}, barrier.Scope{Stages: barrier.StageBottomOfPipe}, barrier.LayoutPresent},
	}
	for _, tt := range tests {
		t.Run(tt.access.String(), func(t *testing.T) {
			scope, layout := tt.access.Scope()
			if scope != tt.scope || layout != tt.layout {
				t.Errorf("Scope() = %v %v, want %v %v", scope, layout, tt.scope, tt.layout)
			}
		})
	}
}
