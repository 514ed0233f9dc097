// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command fgdemo runs a small frame graph on the noop HAL backend and prints
// the compiled schedule, per-frame statistics and a Graphviz rendering of
// the graph.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/config"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/passes"
	"github.com/gogpu/framegraph/resource"
)

const blurWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = id.x;
    if (i == 0u || i >= arrayLength(&data) - 1u) {
        return;
    }
    data[i] = (data[i - 1u] + data[i] + data[i + 1u]) / 3.0;
}
`

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		frames     = flag.Int("frames", 4, "number of frames to render")
		width      = flag.Uint("width", 640, "backbuffer width")
		height     = flag.Uint("height", 480, "backbuffer height")
		dotPath    = flag.String("dot", "framegraph.dot", "Graphviz output file (empty to skip)")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	device, queue, adapter, cleanup, err := openNoop()
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer cleanup()

	engine, err := framegraph.New(device, queue,
		framegraph.WithConfig(cfg),
		framegraph.WithAdapter(adapter))
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Destroy()

	backbuffer, err := engine.Allocator().CreateImage(resource.ImageDesc{
		Label:  "backbuffer",
		Format: engine.SurfaceFormat(),
		Width:  uint32(*width),  //nolint:gosec // flag value
		Height: uint32(*height), //nolint:gosec // flag value
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		log.Fatalf("Failed to create backbuffer: %v", err)
	}

	program, err := passes.NewComputeProgram(device, "blur", blurWGSL, "main", []gputypes.BindGroupLayoutEntry{{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	}})
	if err != nil {
		log.Printf("Compute pass disabled: %v", err)
	} else {
		defer program.Destroy()
	}

	build := demoFrame(backbuffer, program)

	// Compile once up front to show the schedule.
	g := graph.New(graph.WithAllocator(engine.Allocator()))
	if err := build(g); err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}
	sched, err := g.Compile()
	if err != nil {
		log.Fatalf("Failed to compile graph: %v", err)
	}
	fmt.Print(sched)

	if *dotPath != "" {
		if err := writeDot(g, *dotPath); err != nil {
			log.Fatalf("Failed to write %s: %v", *dotPath, err)
		}
		log.Printf("Graph written to %s", *dotPath)
	}

	for range *frames {
		stats, err := engine.RenderFrame(build)
		if err != nil {
			log.Fatalf("Frame %d failed: %v", engine.Frame(), err)
		}
		fmt.Println(stats)
	}
	if err := engine.WaitIdle(); err != nil {
		log.Fatalf("Failed to wait for device: %v", err)
	}
}

// demoFrame returns a frame that renders a scene into a transient image,
// optionally smooths a buffer with a compute pass, copies the scene to the
// backbuffer and presents it. An extra debug pass writes an overlay nobody
// reads and is culled.
func demoFrame(backbuffer *resource.Image, program *passes.ComputeProgram) func(*graph.Graph) error {
	sceneDesc := backbuffer.ImageDesc()
	sceneDesc.Label = "scene"
	sceneDesc.Usage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc

	return func(g *graph.Graph) error {
		back := g.Import("backbuffer", backbuffer)

		var scene, overlay, samples graph.Handle
		g.AddPass("declare", func(b *graph.PassBuilder) {
			scene = b.Create("scene", sceneDesc)
			overlay = b.Create("overlay", sceneDesc)
			samples = b.Create("samples", resource.BufferDesc{
				Label: "samples",
				Size:  4096,
				Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
			})
		}, nil)

		draw := &passes.Clear{Label: "draw scene", Target: scene, Color: gputypes.Color{R: 0.1, G: 0.2, B: 0.4, A: 1}}
		g.Add(draw)
		g.Add(&passes.Clear{Label: "debug overlay", Target: overlay, Color: gputypes.Color{R: 1, A: 0.5}})

		if program != nil {
			g.AddPass("fill samples", func(b *graph.PassBuilder) {
				samples = b.Write(samples, graph.Access{Kind: graph.TransferWrite})
			}, func(ctx *graph.Context) error {
				buf, err := ctx.Buffer(samples)
				if err != nil {
					return err
				}
				return ctx.Recorder().ClearBuffer(buf, 0, buf.Size())
			})
			g.Add(&passes.Compute{
				Label:      "smooth samples",
				Program:    program,
				Bindings:   []passes.Binding{{Slot: 0, Resource: samples, Kind: graph.StorageReadWrite}},
				Groups:     [3]uint32{4096 / 4 / 64},
				SideEffect: true,
			})
		}

		blit := &passes.Copy{Label: "blit", Src: draw.Output(), Dst: back}
		g.Add(blit)
		g.Add(&passes.Present{Label: "present", Target: blit.Output()})
		return nil
	}
}

func writeDot(g *graph.Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.WriteDot(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// openNoop opens the first noop adapter.
func openNoop() (hal.Device, hal.Queue, hal.Adapter, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, nil, fmt.Errorf("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, nil, fmt.Errorf("open adapter: %w", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, adapters[0].Adapter, cleanup, nil
}
