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
	"github.com/snrlab/patchlight/internal/stats"
)

// Percentile normalization: maps the low/high percentile intensity values
// of an array linearly to 0/1. Deterministic for identical input and
// parameters
type Normalizer struct {
	PercentileLow  float32 `json:"percentileLow"`  // lower anchor percentile in [0,100]
	PercentileHigh float32 `json:"percentileHigh"` // upper anchor percentile in [0,100], > PercentileLow
	Clip           bool    `json:"clip"`           // clamp results to [0,1]; off leaves values outside the anchors unclipped
}

// Defaults follow common practice for low-SNR microscopy data
func NewNormalizerDefaults() *Normalizer { return NewNormalizer(1.0, 99.8, false) }

func NewNormalizer(pLow, pHigh float32, clip bool) *Normalizer {
	return &Normalizer{PercentileLow: pLow, PercentileHigh: pHigh, Clip: clip}
}

func (n *Normalizer) Validate() error {
	if n.PercentileLow<0 || n.PercentileHigh>100 || n.PercentileLow>=n.PercentileHigh {
		return fmt.Errorf("invalid percentiles [%g,%g]: need 0 <= low < high <= 100",
			n.PercentileLow, n.PercentileHigh)
	}
	return nil
}

// Rescales the data in place: the PercentileLow percentile value maps to 0
// and the PercentileHigh value to 1. Returns the anchor values used.
// Uniform data is left unchanged
func (n *Normalizer) Apply(data []float32) (low, high float32) {
	low, high=stats.Percentiles(data, n.PercentileLow, n.PercentileHigh)
	if high-low<1e-20 { return low, high }

	scale:=1/(high-low)
	for i,v:=range data {
		v=(v-low)*scale
		if n.Clip {
			if v<0 { v=0 }
			if v>1 { v=1 }
		}
		data[i]=v
	}
	return low, high
}

// Normalizes an image in place and refreshes its statistics
func (n *Normalizer) ApplyToImage(f *img.Image) (low, high float32) {
	low, high=n.Apply(f.Data)
	f.Stats=stats.CalcBasicStats(f.Data)
	return low, high
}

// Normalizes both frames of a loaded pair in place, each with its own
// percentile anchors. Returns the anchors of the input frame
func (n *Normalizer) ApplyToPair(p *pairs.Pair) (low, high float32, err error) {
	if p.Input==nil || p.Target==nil {
		return 0, 0, fmt.Errorf("pair %s not loaded", p.Name)
	}
	low, high=n.ApplyToImage(p.Input)
	n.ApplyToImage(p.Target)
	return low, high, nil
}
