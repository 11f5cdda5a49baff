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
	"github.com/snrlab/patchlight/internal/img"
	"github.com/snrlab/patchlight/internal/stats"
)

// A foreground predicate over a candidate patch region. The region is the
// input window in row major order; width is its X dimension. Returns true
// to accept the candidate
type Filter func(region []float32, width int32) bool

// Accepts every candidate region. Used whenever filtering is disabled,
// i.e. the configured foreground threshold is zero
func AcceptAll() Filter {
	return func(region []float32, width int32) bool { return true }
}

// Returns a filter accepting regions whose maximum intensity reaches the
// given relative threshold of the full image dynamic range, i.e.
// min + threshold*(max-min). A threshold of 0 returns AcceptAll()
func NewThresholdFilter(f *img.Image, threshold float32) Filter {
	if threshold==0 { return AcceptAll() }

	// image data may have been reloaded or normalized since f.Stats was
	// computed, so always derive the range from the current pixels
	s:=stats.CalcBasicStats(f.Data)
	absThresh:=s.Min + threshold*(s.Max-s.Min)

	return func(region []float32, width int32) bool {
		for _,v:=range region {
			if v>=absThresh { return true }
		}
		return false
	}
}

// Estimates a relative foreground threshold for the given image from its
// intensity histogram: the background peak is fitted with a normal
// distribution, and the threshold placed sigmas standard deviations above
// the fitted mode. Falls back to the histogram peak location when the fit
// does not converge
func AutoThreshold(f *img.Image, sigmas float32) float32 {
	// same as in NewThresholdFilter, stats over the current pixel values
	s:=stats.CalcBasicStats(f.Data)
	if s.Max-s.Min<1e-8 { return 0 }

	bins:=make([]int32, 256)
	stats.Histogram(f.Data, s.Min, s.Max, bins)

	mode, stdDev, err:=stats.GetModeStdDevFromHistogram(bins, s.Min, s.Max)
	if err!=nil {
		mode, _=stats.GetPeak(bins, s.Min, s.Max)
		stdDev=s.StdDev
	}

	abs:=mode + sigmas*stdDev
	rel:=(abs-s.Min)/(s.Max-s.Min)
	if rel<0 { rel=0 }
	if rel>1 { rel=1 }
	return rel
}
