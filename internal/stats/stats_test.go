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
	"math"
	"sort"
	"testing"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"
)

func TestBasicStats(t *testing.T) {
	data:=[]float32{2, 4, 4, 4, 5, 5, 7, 9}
	s:=CalcBasicStats(data)
	if s.Min!=2 { t.Errorf("min=%f; want 2", s.Min) }
	if s.Max!=9 { t.Errorf("max=%f; want 9", s.Max) }
	if s.Mean!=5 { t.Errorf("mean=%f; want 5", s.Mean) }
	if s.StdDev!=2 { t.Errorf("stdDev=%f; want 2", s.StdDev) }
}

func TestPercentileAnchors(t *testing.T) {
	data:=[]float32{3, 1, 4, 1, 5, 9, 2, 6}
	if p:=Percentile(data, 0); p!=1 { t.Errorf("p0=%f; want 1", p) }
	if p:=Percentile(data, 100); p!=9 { t.Errorf("p100=%f; want 9", p) }
	// input must remain unchanged
	want:=[]float32{3, 1, 4, 1, 5, 9, 2, 6}
	for i,v:=range data {
		if v!=want[i] { t.Errorf("data[%d]=%f modified; want %f", i, v, want[i]) }
	}
}

// Cross-check the interpolated percentiles against the gonum empirical
// quantile on sorted float64 copies
func TestPercentileAgainstGonum(t *testing.T) {
	rng:=fastrand.RNG{}
	rng.Seed(1234)
	data:=make([]float32, 1001)
	for i:=range data {
		data[i]=float32(rng.Uint32n(1<<16))/256.0
	}

	sorted:=make([]float64, len(data))
	for i,v:=range data { sorted[i]=float64(v) }
	sort.Float64s(sorted)

	for _,p:=range []float32{0, 1, 2, 25, 50, 75, 99.8, 100} {
		got:=Percentile(data, p)
		// gonum's empirical quantile is the nearest order statistic; our
		// interpolated value must lie within one statistic of it
		q:=stat.Quantile(float64(p)/100, stat.Empirical, sorted, nil)
		idx:=sort.SearchFloat64s(sorted, q)
		lo, hi:=q, q
		if idx>0 { lo=sorted[idx-1] }
		if idx<len(sorted)-1 { hi=sorted[idx+1] }
		if float64(got)<lo-1e-3 || float64(got)>hi+1e-3 {
			t.Errorf("p=%g got %f; want within [%f,%f] around %f", p, got, lo, hi, q)
		}
	}
}

func TestPercentilesPair(t *testing.T) {
	data:=make([]float32, 100)
	for i:=range data { data[i]=float32(i) }
	lo, hi:=Percentiles(data, 1, 99.8)
	if lo!=Percentile(data, 1) { t.Errorf("lo=%f; want %f", lo, Percentile(data, 1)) }
	if hi!=Percentile(data, 99.8) { t.Errorf("hi=%f; want %f", hi, Percentile(data, 99.8)) }
}

func TestHistogramModeStdDev(t *testing.T) {
	// the fit must work for raw sensor counts and for data already
	// normalized to [0,1] alike
	cases:=[]struct{ name string; mode, sigma float32 }{
		{"normalized", 0.1,  0.02},
		{"counts",     6000, 1200},
	}
	for _, c:=range cases {
		t.Run(c.name, func(t *testing.T) {
			// synthesize a gaussian-ish background around the mode
			rng:=fastrand.RNG{}
			rng.Seed(99)
			data:=make([]float32, 100000)
			for i:=range data {
				// sum of uniforms approximates a normal distribution
				sum:=float32(0)
				for j:=0; j<12; j++ {
					sum+=float32(rng.Uint32n(1<<16))/float32(1<<16)
				}
				data[i]=c.mode + (sum-6)*c.sigma
			}
			s:=CalcBasicStats(data)
			bins:=make([]int32, 256)
			Histogram(data, s.Min, s.Max, bins)

			mode, sigma, err:=GetModeStdDevFromHistogram(bins, s.Min, s.Max)
			if err!=nil { t.Fatalf("fit failed: %s", err.Error()) }
			if math.Abs(float64(mode-c.mode))>float64(c.sigma)/2 {
				t.Errorf("mode=%f; want %f", mode, c.mode)
			}
			if math.Abs(float64(sigma-c.sigma))>float64(c.sigma)/2 {
				t.Errorf("sigma=%f; want %f", sigma, c.sigma)
			}
		})
	}
}
