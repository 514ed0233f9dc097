// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package barrier

import (
	"testing"

	"github.com/gogpu/framegraph/resource"
)

func TestScope(t *testing.T) {
	u := fragRead.Union(colorWrite)
	if !u.Contains(fragRead) || !u.Contains(colorWrite) {
		t.Errorf("%v does not contain its parts", u)
	}
	if fragRead.Contains(u) {
		t.Error("part contains union")
	}
	if !u.Access.HasWrite() || fragRead.Access.HasWrite() {
		t.Error("HasWrite() mismatch")
	}
	if got := fragRead.String(); got != "fragment/shader-read" {
		t.Errorf("String() = %q", got)
	}
	if got := (Scope{}).String(); got != "none/none" {
		t.Errorf("String() = %q", got)
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	id := resource.NewID()
	if got := tr.Get(id); got != InitialState {
		t.Errorf("Get() on untracked = %v, want initial", got)
	}
	st := State{Scope: fragRead, Layout: LayoutShaderReadOnly}
	tr.Seed(id, st)
	if tr.Get(id) != st {
		t.Error("Seed() not visible through Get()")
	}
	tr.Forget(id)
	if tr.Len() != 0 {
		t.Error("Forget() kept the entry")
	}
	tr.Set(id, st)
	tr.Reset()
	if tr.Get(id) != InitialState {
		t.Error("Reset() kept the entry")
	}
}
