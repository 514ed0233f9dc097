// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package barrier tracks the synchronization state of GPU resources and
// builds the pipeline barriers needed between successive accesses.
//
// A Tracker is a side table from resource ID to State. A Builder consults it
// on every declared access, queues a barrier only when the access is not
// already covered by the tracked state, and flushes the queued barriers to a
// command encoder as one batch right before the next GPU operation.
package barrier

import (
	"fmt"
	"strings"
)

// Stage is a set of pipeline stages.
type Stage uint32

// Pipeline stages.
const (
	StageTopOfPipe Stage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageHost
	StageBottomOfPipe

	StageNone Stage = 0
)

var stageNames = []string{
	"top", "indirect", "vertex-input", "vertex", "fragment", "early-fragment-tests",
	"late-fragment-tests", "color-output", "compute", "transfer", "host", "bottom",
}

// String lists the stages joined by '|'.
func (s Stage) String() string { return flagString(uint32(s), stageNames) }

// Access is a set of memory access types.
type Access uint32

// Memory access types.
const (
	AccessIndirectRead Access = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessAccelerationStructureRead

	AccessNone Access = 0

	// AccessWriteMask holds every access type that modifies memory.
	AccessWriteMask = AccessShaderWrite | AccessColorAttachmentWrite |
		AccessDepthStencilWrite | AccessTransferWrite | AccessHostWrite
)

var accessNames = []string{
	"indirect-read", "index-read", "vertex-read", "uniform-read", "shader-read",
	"shader-write", "color-read", "color-write", "depth-read", "depth-write",
	"transfer-read", "transfer-write", "host-read", "host-write", "as-read",
}

// String lists the access types joined by '|'.
func (a Access) String() string { return flagString(uint32(a), accessNames) }

// HasWrite reports whether a contains a write access.
func (a Access) HasWrite() bool { return a&AccessWriteMask != 0 }

// Layout is the memory arrangement of an image.
type Layout uint8

// Image layouts.
const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutDepthStencilReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorAttachment:
		return "color-attachment"
	case LayoutDepthStencilAttachment:
		return "depth-stencil-attachment"
	case LayoutDepthStencilReadOnly:
		return "depth-stencil-read-only"
	case LayoutShaderReadOnly:
		return "shader-read-only"
	case LayoutTransferSrc:
		return "transfer-src"
	case LayoutTransferDst:
		return "transfer-dst"
	case LayoutPresent:
		return "present"
	default:
		return fmt.Sprintf("Layout(%d)", uint8(l))
	}
}

// Scope is the synchronization scope of an access: the stages that touch a
// resource and how they touch it. Scopes are values and compare with ==.
type Scope struct {
	Stages Stage
	Access Access
}

// InitialScope is the scope of a resource nothing has accessed yet.
var InitialScope = Scope{Stages: StageTopOfPipe}

// Union returns the combined scope of s and o.
func (s Scope) Union(o Scope) Scope {
	return Scope{Stages: s.Stages | o.Stages, Access: s.Access | o.Access}
}

// Contains reports whether every stage and access of o is in s.
func (s Scope) Contains(o Scope) bool {
	return s.Stages&o.Stages == o.Stages && s.Access&o.Access == o.Access
}

// String formats the scope as "stages/access".
func (s Scope) String() string {
	return s.Stages.String() + "/" + s.Access.String()
}

// State is the tracked synchronization state of one resource.
type State struct {
	Scope  Scope
	Layout Layout
}

// InitialState is the state of a resource with no recorded access.
var InitialState = State{Scope: InitialScope, Layout: LayoutUndefined}

// String formats the state.
func (s State) String() string {
	return s.Scope.String() + " " + s.Layout.String()
}

func flagString(v uint32, names []string) string {
	if v == 0 {
		return "none"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
			v &^= 1 << i
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("%#x", v))
	}
	return strings.Join(parts, "|")
}
