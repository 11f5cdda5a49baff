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
	"github.com/snrlab/patchlight/internal/pairs"
	"github.com/valyala/fastrand"
)

// The per-patch draw budget was exhausted without finding a region that
// passes the foreground filter
type InsufficientForegroundError struct {
	Name     string // base file name of the image pair
	Wanted   int    // requested patches for this image
	Found    int    // patches accepted before the budget ran out
	Attempts int    // draw budget per accepted patch
}

func (e *InsufficientForegroundError) Error() string {
	return fmt.Sprintf("%s: only %d of %d patches found foreground within %d attempts each",
		e.Name, e.Found, e.Wanted, e.Attempts)
}

// Draws a fixed number of in-bounds patch windows per image pair, origins
// chosen uniformly at random, optionally constrained to foreground regions.
// Sampling is independent per image pair: the RNG is re-seeded from Seed
// and the pair ID, so results do not depend on processing order or
// parallelism
type Sampler struct {
	Shape           []int32 `json:"shape"`           // patch dimensions, X first, all positive
	PatchesPerImage int     `json:"patchesPerImage"` // fixed count per image pair, not adaptive
	Threshold       float32 `json:"threshold"`       // relative foreground threshold; 0 disables filtering
	AutoSigmas      float32 `json:"autoSigmas"`      // >0: derive the threshold per image from the background fit, overriding Threshold
	MaxAttempts     int     `json:"maxAttempts"`     // random draws per accepted patch before giving up
	Seed            uint32  `json:"seed"`            // base RNG seed
}

func NewSamplerDefaults() *Sampler { return NewSampler([]int32{128, 128}, 2, 0, 100, 0) }

func NewSampler(shape []int32, patchesPerImage int, threshold float32, maxAttempts int, seed uint32) *Sampler {
	return &Sampler{
		Shape          : append([]int32(nil), shape...),
		PatchesPerImage: patchesPerImage,
		Threshold      : threshold,
		MaxAttempts    : maxAttempts,
		Seed           : seed,
	}
}

func (s *Sampler) Validate() error {
	if len(s.Shape)==0 { return fmt.Errorf("empty patch shape") }
	for _,n:=range s.Shape {
		if n<=0 { return fmt.Errorf("invalid patch dimensions %v: all must be positive", s.Shape) }
	}
	if s.PatchesPerImage<=0 { return fmt.Errorf("patches per image must be positive, have %d", s.PatchesPerImage) }
	if s.Threshold<0 { return fmt.Errorf("foreground threshold must be non-negative, have %g", s.Threshold) }
	if s.MaxAttempts<=0 { return fmt.Errorf("max attempts must be positive, have %d", s.MaxAttempts) }
	return nil
}

// Samples the configured number of patches from a loaded image pair.
// Origins are drawn uniformly over all positions keeping the window fully
// inside the image bounds. With filtering active, each accepted patch may
// consume up to MaxAttempts draws; exhaustion fails with
// *InsufficientForegroundError and no patches are returned
func (s *Sampler) SamplePair(p *pairs.Pair) (ps []*Patch, err error) {
	if p.Input==nil || p.Target==nil {
		return nil, fmt.Errorf("%s: pair not loaded", p.Name)
	}
	if len(s.Shape)!=len(p.Input.Naxisn) {
		return nil, fmt.Errorf("%s: patch rank %d does not match image rank %d",
			p.Name, len(s.Shape), len(p.Input.Naxisn))
	}
	for i,n:=range s.Shape {
		if n>p.Input.Naxisn[i] {
			return nil, fmt.Errorf("%s: patch dimensions %v exceed image dimensions %v",
				p.Name, s.Shape, p.Input.Naxisn)
		}
	}

	threshold:=s.Threshold
	if s.AutoSigmas>0 {
		threshold=AutoThreshold(p.Input, s.AutoSigmas)
	}
	filter:=NewThresholdFilter(p.Input, threshold)

	seed:=s.Seed + uint32(p.ID)*2654435761 // Knuth multiplicative spread over pair IDs
	if seed==0 { seed=2463534242 }          // zero state makes fastrand self-seed nondeterministically
	rng:=fastrand.RNG{}
	rng.Seed(seed)

	w, h:=s.Shape[0], s.Shape[1]
	maxX, maxY:=p.Input.Width()-w, p.Input.Height()-h

	ps=make([]*Patch, 0, s.PatchesPerImage)
	for i:=0; i<s.PatchesPerImage; i++ {
		accepted:=false
		for attempt:=0; attempt<s.MaxAttempts; attempt++ {
			ox:=int32(rng.Uint32n(uint32(maxX)+1))
			oy:=int32(rng.Uint32n(uint32(maxY)+1))

			region:=extractWindow(p.Input, ox, oy, w, h)
			if !filter(region, w) { continue }

			ps=append(ps, &Patch{
				Input : region,
				Target: extractWindow(p.Target, ox, oy, w, h),
				Shape : append([]int32(nil), s.Shape...),
				Name  : p.Name,
				Origin: []int32{ox, oy},
			})
			accepted=true
			break
		}
		if !accepted {
			return nil, &InsufficientForegroundError{
				Name: p.Name, Wanted: s.PatchesPerImage, Found: len(ps), Attempts: s.MaxAttempts,
			}
		}
	}
	return ps, nil
}

// Copies a w x h window with origin (ox, oy) out of the image
func extractWindow(f *img.Image, ox, oy, w, h int32) []float32 {
	region:=make([]float32, w*h)
	stride:=f.Width()
	for y:=int32(0); y<h; y++ {
		src:=f.Data[(oy+y)*stride+ox : (oy+y)*stride+ox+w]
		copy(region[y*w:], src)
	}
	return region
}
