// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/recorder"
	"github.com/gogpu/framegraph/resource"
)

// AccessKind is a logical way a pass uses a resource.
type AccessKind uint8

// Access kinds.
const (
	SampledRead AccessKind = iota + 1
	StorageRead
	StorageWrite
	StorageReadWrite
	ColorAttachmentWrite
	ColorAttachmentReadWrite
	DepthStencilWrite
	DepthStencilRead
	TransferRead
	TransferWrite
	VertexBufferRead
	IndexBufferRead
	UniformRead
	IndirectRead
	AccelerationStructureRead
	Present
)

var accessKindNames = [...]string{
	SampledRead:               "sampled-read",
	StorageRead:               "storage-read",
	StorageWrite:              "storage-write",
	StorageReadWrite:          "storage-read-write",
	ColorAttachmentWrite:      "color-attachment-write",
	ColorAttachmentReadWrite:  "color-attachment-read-write",
	DepthStencilWrite:         "depth-stencil-write",
	DepthStencilRead:          "depth-stencil-read",
	TransferRead:              "transfer-read",
	TransferWrite:             "transfer-write",
	VertexBufferRead:          "vertex-buffer-read",
	IndexBufferRead:           "index-buffer-read",
	UniformRead:               "uniform-read",
	IndirectRead:              "indirect-read",
	AccelerationStructureRead: "acceleration-structure-read",
	Present:                   "present",
}

// String returns the kind name.
func (k AccessKind) String() string {
	if int(k) < len(accessKindNames) && accessKindNames[k] != "" {
		return accessKindNames[k]
	}
	return fmt.Sprintf("AccessKind(%d)", uint8(k))
}

// Writes reports whether the kind modifies the resource.
func (k AccessKind) Writes() bool {
	switch k {
	case StorageWrite, StorageReadWrite, ColorAttachmentWrite, ColorAttachmentReadWrite,
		DepthStencilWrite, TransferWrite:
		return true
	default:
		return false
	}
}

// target restricts a kind to images or buffers. Zero allows both.
func (k AccessKind) target() resource.Kind {
	switch k {
	case SampledRead, ColorAttachmentWrite, ColorAttachmentReadWrite,
		DepthStencilWrite, DepthStencilRead, Present:
		return resource.KindImage
	case VertexBufferRead, IndexBufferRead, UniformRead, IndirectRead, AccelerationStructureRead:
		return resource.KindBuffer
	default:
		return 0
	}
}

// shaderStages is used when an access names no stages.
const shaderStages = barrier.StageVertexShader | barrier.StageFragmentShader | barrier.StageComputeShader

// Access is a declared use of a resource. Stages selects the shader stages
// for shader accesses and defaults to every shader stage. Sub names the
// mip/layer range an image access touches; the zero value covers the whole
// image. Barriers always transition the whole image, and a pass declaring
// two layouts on one image gets LayoutGeneral.
type Access struct {
	Kind   AccessKind
	Stages barrier.Stage
	Sub    resource.Subresource
}

// String formats the access.
func (a Access) String() string {
	if a.Stages == barrier.StageNone {
		return a.Kind.String()
	}
	return a.Kind.String() + "@" + a.Stages.String()
}

func (a Access) shaderStages() barrier.Stage {
	if a.Stages == barrier.StageNone {
		return shaderStages
	}
	return a.Stages
}

// Scope translates the access into the concrete scope and, for images,
// layout the barrier builder works with.
func (a Access) Scope() (barrier.Scope, barrier.Layout) {
	switch a.Kind {
	case SampledRead:
		return barrier.Scope{Stages: a.shaderStages(), Access: barrier.AccessShaderRead}, barrier.LayoutShaderReadOnly
	case StorageRead:
		return barrier.Scope{Stages: a.shaderStages(), Access: barrier.AccessShaderRead}, barrier.LayoutGeneral
	case StorageWrite:
		return barrier.Scope{Stages: a.shaderStages(), Access: barrier.AccessShaderWrite}, barrier.LayoutGeneral
	case StorageReadWrite:
		return barrier.Scope{Stages: a.shaderStages(), Access: barrier.AccessShaderRead | barrier.AccessShaderWrite}, barrier.LayoutGeneral
	case ColorAttachmentWrite:
		return recorder.ColorScope(gputypes.LoadOpClear), barrier.LayoutColorAttachment
	case ColorAttachmentReadWrite:
		return recorder.ColorScope(gputypes.LoadOpLoad), barrier.LayoutColorAttachment
	case DepthStencilWrite:
		return recorder.DepthScope(false)
	case DepthStencilRead:
		return recorder.DepthScope(true)
	case TransferRead:
		return barrier.Scope{Stages: barrier.StageTransfer, Access: barrier.AccessTransferRead}, barrier.LayoutTransferSrc
	case TransferWrite:
		return barrier.Scope{Stages: barrier.StageTransfer, Access: barrier.AccessTransferWrite}, barrier.LayoutTransferDst
	case VertexBufferRead:
		return barrier.Scope{Stages: barrier.StageVertexInput, Access: barrier.AccessVertexAttributeRead}, barrier.LayoutUndefined
	case IndexBufferRead:
		return barrier.Scope{Stages: barrier.StageVertexInput, Access: barrier.AccessIndexRead}, barrier.LayoutUndefined
	case UniformRead:
		return barrier.Scope{Stages: a.shaderStages(), Access: barrier.AccessUniformRead}, barrier.LayoutUndefined
	case IndirectRead:
		return barrier.Scope{Stages: barrier.StageDrawIndirect, Access: barrier.AccessIndirectRead}, barrier.LayoutUndefined
	case AccelerationStructureRead:
		return barrier.Scope{Stages: a.shaderStages(), Access: barrier.AccessAccelerationStructureRead}, barrier.LayoutUndefined
	case Present:
		return barrier.Scope{Stages: barrier.StageBottomOfPipe}, barrier.LayoutPresent
	default:
		panic(fmt.Sprintf("graph: unknown access kind %d", a.Kind))
	}
}
