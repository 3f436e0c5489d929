package hls

import (
	"math"
	"testing"
)

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestPlanBasic(t *testing.T) {
	got := Plan([]float64{3, 6, 20}, 31)
	want := []float64{0, 3, 6, 9.5, 13, 16.5, 20, 22.75, 25.5, 28.25, 31}
	if !floatsEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
}

func TestPlanEndsAtDuration(t *testing.T) {
	tests := []struct {
		name     string
		iframes  []float64
		duration float64
	}{
		{"no iframes", nil, 60},
		{"tail shorter than min", []float64{3, 6}, 6.5},
		{"single short file", nil, 1},
		{"dense iframes", []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4}, 4.2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Plan(tc.iframes, tc.duration)
			if got[0] != 0 {
				t.Errorf("first boundary = %v, want 0", got[0])
			}
			if got[len(got)-1] != tc.duration {
				t.Errorf("last boundary = %v, want %v", got[len(got)-1], tc.duration)
			}
			for i := 1; i < len(got); i++ {
				if got[i] <= got[i-1] {
					t.Errorf("boundaries not increasing at %d: %v", i, got)
				}
			}
		})
	}
}

func TestPlanWithToleranceBounds(t *testing.T) {
	params := []struct{ target, offset float64 }{
		{3.5, 1.25},
		{10, 5},
		{50, 1},
		{20, 19},
		{1, 0.5},
	}
	durations := []float64{7, 31, 59.94, 120.5, 3600}
	iframes := []float64{2, 5, 9, 14, 30, 31.5, 60, 100, 1000}

	for _, p := range params {
		for _, d := range durations {
			var in []float64
			for _, f := range iframes {
				if f < d {
					in = append(in, f)
				}
			}
			got := PlanWith(in, d, p.target, p.offset)
			minSeg := p.target - p.offset
			maxSeg := p.target + p.offset
			// Equal subdivision yields widths above target/2, so the
			// lower bound only holds when the tolerance is at least a
			// third of the target.
			checkMin := 3*p.offset >= p.target
			for i := 1; i < len(got); i++ {
				length := got[i] - got[i-1]
				if length > maxSeg+1e-9 {
					t.Errorf("L=%v O=%v d=%v: segment %d length %v > max %v (%v)",
						p.target, p.offset, d, i-1, length, maxSeg, got)
				}
				if checkMin && i < len(got)-1 && length < minSeg-1e-9 {
					t.Errorf("L=%v O=%v d=%v: segment %d length %v < min %v (%v)",
						p.target, p.offset, d, i-1, length, minSeg, got)
				}
			}
		}
	}
}

func TestPlanIdempotent(t *testing.T) {
	first := Plan([]float64{3, 6, 20}, 31)
	again := Plan(first[1:len(first)-1], 31)
	if !floatsEqual(first, again) {
		t.Fatalf("replanning own output changed it:\n  %v\n  %v", first, again)
	}
}

func TestPlanSplitsOversizedAbsorbedTail(t *testing.T) {
	// 7.7 is accepted (gap 4.7 < 4.75), then the 0.1 tail is absorbed,
	// stretching the last segment to 4.8 which must be split.
	got := Plan([]float64{3, 7.7}, 7.8)
	if got[len(got)-1] != 7.8 {
		t.Fatalf("plan does not end at duration: %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i]-got[i-1] > SegmentTargetLength+SegmentOffset+1e-9 {
			t.Fatalf("segment %d too long in %v", i-1, got)
		}
	}
}
