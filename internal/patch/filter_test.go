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
	"math"
	"testing"
	"github.com/valyala/fastrand"
	"github.com/snrlab/patchlight/internal/img"
)

func TestAcceptAll(t *testing.T) {
	f:=AcceptAll()
	if !f(nil, 0) { t.Error("AcceptAll rejected nil region") }
	if !f([]float32{0, 0, 0}, 3) { t.Error("AcceptAll rejected zero region") }
}

func TestThresholdFilterZeroIsAcceptAll(t *testing.T) {
	image:=img.NewImageFromNaxisn([]int32{4, 4}, nil)
	f:=NewThresholdFilter(image, 0)
	if !f([]float32{0, 0}, 2) { t.Error("threshold 0 must accept everything") }
}

func TestThresholdFilter(t *testing.T) {
	image:=img.NewImageFromNaxisn([]int32{4, 4}, nil)
	for i:=range image.Data { image.Data[i]=float32(i) } // range [0,15]
	f:=NewThresholdFilter(image, 0.5)                    // absolute threshold 7.5

	if f([]float32{0, 3, 7}, 3) { t.Error("region below threshold accepted") }
	if !f([]float32{0, 3, 8}, 3) { t.Error("region reaching threshold rejected") }
}

func TestThresholdFilterAfterDataChange(t *testing.T) {
	// NewImageFromNaxisn caches stats over the initial buffer; a filter
	// built after the pixels change must reflect the current values,
	// not the stale cache
	image:=img.NewImageFromNaxisn([]int32{8, 8}, nil)
	for i:=range image.Data { image.Data[i]=100 + float32(i) } // range [100,163]

	f:=NewThresholdFilter(image, 0.5) // absolute threshold 131.5
	if f([]float32{100, 120, 131}, 3) { t.Error("region below threshold accepted") }
	if !f([]float32{100, 120, 132}, 3) { t.Error("region reaching threshold rejected") }
}

func TestAutoThreshold(t *testing.T) {
	// noisy background around 100, sparse foreground at 1000
	rng:=fastrand.RNG{}
	rng.Seed(3)
	image:=img.NewImageFromNaxisn([]int32{128, 128}, nil)
	for i:=range image.Data {
		image.Data[i]=90 + float32(rng.Uint32n(21))
	}
	for i:=0; i<64; i++ {
		image.Data[int(rng.Uint32n(uint32(len(image.Data))))]=1000
	}

	rel:=AutoThreshold(image, 4)
	if rel<=0 || rel>=1 { t.Fatalf("rel=%f; want within (0,1)", rel) }
	// the derived absolute threshold must separate background from foreground
	abs:=90 + float64(rel)*910
	if abs<=110 || abs>=990 {
		t.Errorf("abs=%f; want between background and foreground", abs)
	}
}

func TestAutoThresholdUniform(t *testing.T) {
	image:=img.NewImageFromNaxisn([]int32{8, 8}, nil)
	if rel:=AutoThreshold(image, 3); rel!=0 {
		t.Errorf("rel=%f; want 0 for uniform image", rel)
	}
}

func TestAutoThresholdRange(t *testing.T) {
	image:=img.NewImageFromNaxisn([]int32{16, 16}, nil)
	for i:=range image.Data { image.Data[i]=float32(math.Mod(float64(i)*0.37, 1)) }
	rel:=AutoThreshold(image, 100) // absurd sigma count must still clamp
	if rel<0 || rel>1 { t.Errorf("rel=%f; want clamped to [0,1]", rel) }
}
