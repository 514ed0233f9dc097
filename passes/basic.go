// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package passes

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/recorder"
	"github.com/gogpu/framegraph/resource"
)

// Clear clears a color image.
type Clear struct {
	Label  string
	Target graph.Handle
	Color  gputypes.Color

	out graph.Handle
}

// Name implements graph.Pass.
func (c *Clear) Name() string { return c.Label }

// Output returns the cleared version of Target.
func (c *Clear) Output() graph.Handle { return c.out }

// Setup implements graph.Pass.
func (c *Clear) Setup(b *graph.PassBuilder) {
	c.out = b.Write(c.Target, graph.Access{Kind: graph.ColorAttachmentWrite})
}

// Execute implements graph.Pass.
func (c *Clear) Execute(ctx *graph.Context) error {
	img, err := ctx.Image(c.out)
	if err != nil {
		return err
	}
	rec := ctx.Recorder()
	if err := rec.BeginRenderPass(recorder.RenderPassDesc{
		Label: c.Label,
		Color: []recorder.ColorAttachment{{
			Image: img,
			Load:  gputypes.LoadOpClear,
			Store: gputypes.StoreOpStore,
			Clear: c.Color,
		}},
	}); err != nil {
		return err
	}
	return rec.EndRenderPass()
}

// Copy copies Src into Dst. Images copy mip level 0 and must have equal
// extents; buffers copy the size of the smaller one.
type Copy struct {
	Label string
	Src   graph.Handle
	Dst   graph.Handle

	out graph.Handle
}

// Name implements graph.Pass.
func (c *Copy) Name() string { return c.Label }

// Output returns the written version of Dst.
func (c *Copy) Output() graph.Handle { return c.out }

// Setup implements graph.Pass.
func (c *Copy) Setup(b *graph.PassBuilder) {
	b.Read(c.Src, graph.Access{Kind: graph.TransferRead})
	c.out = b.Write(c.Dst, graph.Access{Kind: graph.TransferWrite})
}

// Execute implements graph.Pass.
func (c *Copy) Execute(ctx *graph.Context) error {
	src, err := ctx.Physical(c.Src)
	if err != nil {
		return err
	}
	dst, err := ctx.Physical(c.out)
	if err != nil {
		return err
	}
	rec := ctx.Recorder()
	switch s := src.(type) {
	case *resource.Image:
		d, ok := dst.(*resource.Image)
		if !ok {
			return fmt.Errorf("passes: copy %q: image to %s", c.Label, dst.Kind())
		}
		return rec.CopyImage(s, d)
	case *resource.Buffer:
		d, ok := dst.(*resource.Buffer)
		if !ok {
			return fmt.Errorf("passes: copy %q: buffer to %s", c.Label, dst.Kind())
		}
		return rec.CopyBuffer(s, d, 0, 0, min(s.Size(), d.Size()))
	default:
		return fmt.Errorf("passes: copy %q: unsupported source %T", c.Label, src)
	}
}

// Present moves a backbuffer into the presentable layout. It is a side
// effect, so everything producing the backbuffer survives culling.
type Present struct {
	Label  string
	Target graph.Handle
}

// Name implements graph.Pass.
func (p *Present) Name() string { return p.Label }

// Setup implements graph.Pass.
func (p *Present) Setup(b *graph.PassBuilder) {
	b.Read(p.Target, graph.Access{Kind: graph.Present})
	b.SetSideEffect()
}

// Execute implements graph.Pass. The layout transition is issued by the
// graph before the pass runs.
func (p *Present) Execute(*graph.Context) error { return nil }
