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


package stats

import (
	"fmt"
	"math"

	"github.com/snrlab/patchlight/internal/qsort"
)

// Basic statistics on data arrays
type BasicStats struct {
	Min    float32  // Minimum
	Max    float32  // Maximum
	Mean   float32  // Mean (average)
	StdDev float32  // Standard deviation (norm 2, sigma)
}

// Pretty print basic stats to string
func (s *BasicStats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g",
	                 	s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculate basic statistics for a data array.
func CalcBasicStats(data []float32) (s *BasicStats) {
	s=&BasicStats{}
	s.Min, s.Mean, s.Max=calcMinMeanMax(data)

	variance:=calcVariance(data, s.Mean)
	s.StdDev=float32(math.Sqrt(float64(variance)))

	return s
}

// Calculate minimum, mean and maximum of given data
func calcMinMeanMax(data []float32) (min, mean, max float32) {
	mmin, mmean, mmax:=data[0], float64(0), data[0]
	for _,v := range data {
		if v<mmin { mmin=v }
		if v>mmax { mmax=v }
		mmean+=float64(v)
	}
	return mmin, float32(mmean/float64(len(data))), mmax
}

// Calculate variance of given data from provided mean
func calcVariance(data []float32, mean float32) (result float64) {
	variance:=float64(0)
	for _,v :=range data {
		diff:=float64(v-mean)
		variance+=diff*diff
	}
	return variance/float64(len(data))
}

// Returns the pth empirical percentile of the data, with p in [0,100].
// Interpolates linearly between adjacent order statistics, so
// Percentile(d, 0) is the minimum and Percentile(d, 100) the maximum.
// Copies the data before the quickselect, leaving the input unchanged.
// Data must be non-empty and must not contain IEEE NaN
func Percentile(data []float32, p float32) float32 {
	tmp:=make([]float32, len(data))
	copy(tmp, data)
	return percentileInPlace(tmp, p)
}

// Returns the pth and qth empirical percentiles in a single pass over one
// working copy of the data. Requires p<=q
func Percentiles(data []float32, p, q float32) (vp, vq float32) {
	tmp:=make([]float32, len(data))
	copy(tmp, data)
	vq=percentileInPlace(tmp, q)
	vp=percentileInPlace(tmp, p) // shrinks the selection window, tmp prefix still valid
	return vp, vq
}

// Like Percentile, but partially reorders the given array
func percentileInPlace(tmp []float32, p float32) float32 {
	if len(tmp)==1 { return tmp[0] }
	if p<0 { p=0 }
	if p>100 { p=100 }

	rank:=float64(p)/100*float64(len(tmp)-1)
	lo  :=int(math.Floor(rank))
	frac:=float32(rank)-float32(lo)

	vLo:=qsort.QSelectFloat32(tmp, lo+1)
	if frac==0 || lo+1>=len(tmp) { return vLo }
	vHi:=qsort.MinFloat32(tmp[lo+1:]) // next order statistic; QSelect left the k smallest in tmp[:lo+1]
	return vLo + frac*(vHi-vLo)
}
