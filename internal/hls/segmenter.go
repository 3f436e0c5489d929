// Package hls implements the on-demand HLS core: the segmentation
// planner, manifest emission, the per-quality encoding backend and the
// client router above them.
package hls

import "math"

// Segment length target and tolerance in seconds. Valid segment lengths
// lie in [target-offset, target+offset].
const (
	SegmentTargetLength = 3.5
	SegmentOffset       = 1.25
)

// Plan converts a sorted key-frame timestamp list and total duration into
// segment boundaries b[0..N] with b[0]=0 and b[N]=duration. Audio sources
// pass an empty key-frame list and get evenly subdivided segments.
func Plan(iframes []float64, duration float64) []float64 {
	return PlanWith(iframes, duration, SegmentTargetLength, SegmentOffset)
}

// PlanWith is Plan with explicit target length and tolerance.
//
// Each candidate boundary is either coalesced into the previous segment
// (too close), accepted as-is, or reached through equal subdivision when
// the gap exceeds the maximum. Accepted candidates reset the running time
// exactly to the candidate so float error does not accumulate.
func PlanWith(iframes []float64, duration, target, offset float64) []float64 {
	minSeg := target - offset
	maxSeg := target + offset

	candidates := make([]float64, 0, len(iframes)+1)
	candidates = append(candidates, iframes...)
	candidates = append(candidates, duration)

	breakpoints := []float64{0}
	lastTime := 0.0
	for _, t := range candidates {
		gap := t - lastTime
		switch {
		case gap < minSeg:
			// coalesce into the previous segment
		case gap < maxSeg:
			breakpoints = append(breakpoints, t)
			lastTime = t
		default:
			k := math.Ceil(gap / target)
			width := gap / k
			for i := 1; i < int(k); i++ {
				breakpoints = append(breakpoints, lastTime+width*float64(i))
			}
			breakpoints = append(breakpoints, t)
			lastTime = t
		}
	}

	// A tail shorter than minSeg was coalesced above; extend the last
	// segment to cover it so the plan always ends at duration.
	last := len(breakpoints) - 1
	if breakpoints[last] != duration {
		if last == 0 {
			breakpoints = append(breakpoints, duration)
		} else {
			breakpoints[last] = duration
		}
	}

	// Absorbing the tail can push the final segment past maxSeg; split it.
	n := len(breakpoints)
	if n >= 2 && breakpoints[n-1]-breakpoints[n-2] > maxSeg {
		mid := (breakpoints[n-2] + breakpoints[n-1]) / 2
		breakpoints = append(breakpoints[:n-1], mid, duration)
	}

	return breakpoints
}
