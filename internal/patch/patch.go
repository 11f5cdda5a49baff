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
	"fmt"

	"github.com/snrlab/patchlight/internal/img"
)

// A matched pair of windows cropped from a source image pair.
// Input and Target cover the same region and have identical shape.
type Patch struct {
	Input  []float32
	Target []float32
	Shape  []int32 // window dimensions, X first, matching img.Image.Naxisn
	Name   string  // base file name of the source pair
	Origin []int32 // window origin in source coordinates, X first
}

// A stacked set of patches: the persisted output of the pipeline.
// Inputs and Targets are parallel arrays with a leading sample axis and an
// explicit channel axis, i.e. shape [n, 1, h, w] for 2D patches.
type Set struct {
	Inputs  []float32
	Targets []float32
	Shape   []int32 // [n, 1, spatial... slowest first]
	Axes    string  // axis labels including sample and channel axes, e.g. "SCYX"
}

// Stacks patches along a new leading sample axis into a Set. The spatial
// axis labels are taken from the given axis order string (slowest varying
// first, e.g. "YX"). All patches must share one shape
func NewSet(patches []*Patch, axes string) (*Set, error) {
	if len(patches)==0 { return nil, fmt.Errorf("cannot stack empty patch list") }

	shape:=patches[0].Shape
	pixels:=int32(1)
	for _,n:=range shape { pixels*=n }

	set:=&Set{
		Inputs : make([]float32, int(pixels)*len(patches)),
		Targets: make([]float32, int(pixels)*len(patches)),
		Axes   : "SC"+axes,
	}

	// persisted shape is slowest axis first: [n, 1, h, w]
	set.Shape=make([]int32, 0, len(shape)+2)
	set.Shape=append(set.Shape, int32(len(patches)), 1)
	for i:=len(shape)-1; i>=0; i-- {
		set.Shape=append(set.Shape, shape[i])
	}

	for i,p:=range patches {
		if !img.EqualInt32Slice(p.Shape, shape) {
			return nil, fmt.Errorf("%s: patch dimensions %v differ from %v", p.Name, p.Shape, shape)
		}
		if len(p.Input)!=int(pixels) || len(p.Target)!=int(pixels) {
			return nil, fmt.Errorf("%s: patch data length %d/%d does not match dimensions %v",
				p.Name, len(p.Input), len(p.Target), shape)
		}
		copy(set.Inputs [i*int(pixels):], p.Input)
		copy(set.Targets[i*int(pixels):], p.Target)
	}
	return set, nil
}

// Number of patches in the set
func (s *Set) Len() int { return int(s.Shape[0]) }

// Pretty print set dimensions
func (s *Set) DimensionsToString() string {
	res:=""
	for i,n:=range s.Shape {
		if i>0 { res+=fmt.Sprintf("x%d", n) } else { res+=fmt.Sprintf("%d", n) }
	}
	return res
}
