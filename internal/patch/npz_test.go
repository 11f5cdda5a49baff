// Copyright (C) 2024 The Patchlight Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package patch

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/snrlab/patchlight/internal/img"
	"github.com/valyala/fastrand"
)

func makeSet(t *testing.T, n, h, w int32) *Set {
	t.Helper()
	rng:=fastrand.RNG{}
	rng.Seed(1)
	set:=&Set{
		Inputs : make([]float32, n*h*w),
		Targets: make([]float32, n*h*w),
		Shape  : []int32{n, 1, h, w},
		Axes   : "SCYX",
	}
	for i:=range set.Inputs {
		set.Inputs[i] =float32(rng.Uint32n(1<<24))/float32(1<<12)
		set.Targets[i]=float32(rng.Uint32n(1<<24))/float32(1<<12)
	}
	// make sure the round trip covers special values
	set.Inputs[0]=float32(math.Inf(1))
	set.Inputs[1]=-0.0
	return set
}

func TestNPZRoundTrip(t *testing.T) {
	dir:=t.TempDir()
	name:=filepath.Join(dir, "patches.npz")

	set:=makeSet(t, 3, 16, 8)
	if err:=set.WriteFile(name); err!=nil { t.Fatalf("write: %s", err.Error()) }

	got, err:=ReadSetFile(name)
	if err!=nil { t.Fatalf("read: %s", err.Error()) }

	if !img.EqualInt32Slice(got.Shape, set.Shape) { t.Errorf("shape=%v; want %v", got.Shape, set.Shape) }
	if got.Axes!=set.Axes { t.Errorf("axes=%s; want %s", got.Axes, set.Axes) }
	for i:=range set.Inputs {
		if math.Float32bits(got.Inputs[i])!=math.Float32bits(set.Inputs[i]) {
			t.Fatalf("inputs[%d]=%x; want %x", i, math.Float32bits(got.Inputs[i]), math.Float32bits(set.Inputs[i]))
		}
		if math.Float32bits(got.Targets[i])!=math.Float32bits(set.Targets[i]) {
			t.Fatalf("targets[%d]=%x; want %x", i, math.Float32bits(got.Targets[i]), math.Float32bits(set.Targets[i]))
		}
	}
}

func TestNPZOverwrites(t *testing.T) {
	dir:=t.TempDir()
	name:=filepath.Join(dir, "patches.npz")

	first:=makeSet(t, 2, 4, 4)
	if err:=first.WriteFile(name); err!=nil { t.Fatalf("write: %s", err.Error()) }
	second:=makeSet(t, 5, 4, 4)
	if err:=second.WriteFile(name); err!=nil { t.Fatalf("overwrite: %s", err.Error()) }

	got, err:=ReadSetFile(name)
	if err!=nil { t.Fatalf("read: %s", err.Error()) }
	if got.Len()!=5 { t.Errorf("len=%d; want 5 after overwrite", got.Len()) }
}

func TestNPZWriteFailure(t *testing.T) {
	set:=makeSet(t, 1, 4, 4)
	err:=set.WriteFile(filepath.Join("nonexistent-dir", "patches.npz"))
	var se *SerializationError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v; want *SerializationError", err)
	}
}

func TestNewSetValidation(t *testing.T) {
	if _, err:=NewSet(nil, "YX"); err==nil { t.Error("expected error for empty patch list") }

	a:=&Patch{Input: make([]float32, 4), Target: make([]float32, 4), Shape: []int32{2, 2}, Name: "a"}
	b:=&Patch{Input: make([]float32, 6), Target: make([]float32, 6), Shape: []int32{3, 2}, Name: "b"}
	if _, err:=NewSet([]*Patch{a, b}, "YX"); err==nil { t.Error("expected error for mixed shapes") }
}
