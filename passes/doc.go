// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package passes provides ready-made render graph passes: clearing a color
// target, copying between resources, running a WGSL compute program and
// presenting a backbuffer.
//
// Every pass type implements graph.Pass. Add it with Graph.Add, which runs
// its setup immediately, then read the produced version with Output.
package passes
