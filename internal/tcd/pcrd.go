package tcd

import (
	"golang.org/x/exp/slices"

	"github.com/lumenforge/jp2k/internal/entropy"
)

// ConvexHull reduces a code-block's (length, distortion) checkpoint ladder
// to the indices of passes that lie on the upper convex hull of the
// rate-distortion curve — the only passes a rate-optimal truncation could
// ever choose, per the PCRD algorithm of Annex J (ISO/IEC 15444-1).
func ConvexHull(checkpoints []entropy.PassCheckpoint) []int {
	if len(checkpoints) == 0 {
		return nil
	}
	hull := make([]int, 0, len(checkpoints))
	hull = append(hull, 0)
	for i := 1; i < len(checkpoints); i++ {
		for len(hull) >= 2 {
			a, b := hull[len(hull)-2], hull[len(hull)-1]
			if slopeBetween(checkpoints, a, b, i) {
				hull = hull[:len(hull)-1]
				continue
			}
			break
		}
		hull = append(hull, i)
	}
	return hull
}

// slopeBetween reports whether the segment b->i has a shallower or equal
// slope than a->b, meaning b does not lie on the upper hull.
func slopeBetween(checkpoints []entropy.PassCheckpoint, a, b, i int) bool {
	dlAB := checkpoints[b].CumulativeLength - checkpoints[a].CumulativeLength
	ddAB := checkpoints[b].DistortionWeight - checkpoints[a].DistortionWeight
	dlBI := checkpoints[i].CumulativeLength - checkpoints[b].CumulativeLength
	ddBI := checkpoints[i].DistortionWeight - checkpoints[b].DistortionWeight
	var slopeAB, slopeBI float64
	if dlAB > 0 {
		slopeAB = ddAB / float64(dlAB)
	}
	if dlBI > 0 {
		slopeBI = ddBI / float64(dlBI)
	}
	return slopeBI >= slopeAB
}

// blockCandidate pairs a code-block with its convex-hull indices and the
// marginal rate-distortion slope of reaching each hull point from the
// previous one, precomputed once before the lambda search.
type blockCandidate struct {
	cb     *CodeBlock
	hull   []int
	slopes []float64
}

func buildCandidate(cb *CodeBlock) blockCandidate {
	hull := ConvexHull(cb.Checkpoints)
	slopes := make([]float64, len(hull))
	prevLen, prevDist := 0, 0.0
	for i, hi := range hull {
		cp := cb.Checkpoints[hi]
		dl := cp.CumulativeLength - prevLen
		if dl > 0 {
			slopes[i] = (cp.DistortionWeight - prevDist) / float64(dl)
		}
		prevLen, prevDist = cp.CumulativeLength, cp.DistortionWeight
	}
	return blockCandidate{cb: cb, hull: hull, slopes: slopes}
}

// AllocateLayers runs PCRD over a set of code-blocks for a sequence of
// quality layers. layerBudgets holds, per layer, the CUMULATIVE byte budget
// a bitstream truncated after that layer must not exceed; the final entry
// is the tile's overall budget (0 meaning unbounded/lossless). Each layer's
// bisection is restricted to hull points beyond what earlier layers already
// committed to, so LayerTruncationPoints is non-decreasing across layers —
// the monotonicity scenario S4 depends on (spec §4.6, §8 property 3).
func AllocateLayers(blocks []*CodeBlock, layerBudgets []int) {
	if len(layerBudgets) == 0 {
		layerBudgets = []int{0}
	}
	candidates := make([]blockCandidate, 0, len(blocks))
	for _, cb := range blocks {
		cb.LayerTruncationPoints = make([]int, len(layerBudgets))
		for i := range cb.LayerTruncationPoints {
			cb.LayerTruncationPoints[i] = -1
		}
		if len(cb.Checkpoints) == 0 {
			continue
		}
		candidates = append(candidates, buildCandidate(cb))
	}
	if len(candidates) == 0 {
		return
	}

	// floor[ci] is the hull index the code-block has already been
	// committed to by earlier layers; -1 means nothing committed yet.
	floor := make([]int, len(candidates))
	for i := range floor {
		floor[i] = -1
	}

	for li, budget := range layerBudgets {
		last := li == len(layerBudgets)-1
		if budget <= 0 && last {
			for ci, c := range candidates {
				top := len(c.hull) - 1
				if top > floor[ci] {
					c.cb.LayerTruncationPoints[li] = c.hull[top]
					floor[ci] = top
				} else if floor[ci] >= 0 {
					c.cb.LayerTruncationPoints[li] = c.hull[floor[ci]]
				}
			}
			continue
		}

		var allSlopes []float64
		for ci, c := range candidates {
			for i := floor[ci] + 1; i < len(c.hull); i++ {
				allSlopes = append(allSlopes, c.slopes[i])
			}
		}
		if len(allSlopes) == 0 {
			for ci, c := range candidates {
				if floor[ci] >= 0 {
					c.cb.LayerTruncationPoints[li] = c.hull[floor[ci]]
				}
			}
			continue
		}
		minSlope, maxSlope := slices.Min(allSlopes), slices.Max(allSlopes)

		// selectAt returns, for each candidate, the deepest hull index
		// beyond its floor whose marginal slope is >= lambda, plus the
		// resulting cumulative byte total across all candidates.
		selectAt := func(lambda float64) ([]int, int) {
			chosen := make([]int, len(candidates))
			total := 0
			for ci, c := range candidates {
				chosen[ci] = floor[ci]
				for i := floor[ci] + 1; i < len(c.hull); i++ {
					if c.slopes[i] >= lambda {
						chosen[ci] = i
					}
				}
				if chosen[ci] >= 0 {
					total += c.cb.Checkpoints[c.hull[chosen[ci]]].CumulativeLength
				}
			}
			return chosen, total
		}

		lo, hi := minSlope, maxSlope
		if hi <= lo {
			hi = lo + 1
		}
		best, _ := selectAt(hi)
		for iter := 0; iter < 32; iter++ {
			mid := lo + (hi-lo)/2
			sel, total := selectAt(mid)
			if total <= budget {
				best = sel
				hi = mid
			} else {
				lo = mid
			}
		}

		for ci, c := range candidates {
			if best[ci] >= 0 {
				c.cb.LayerTruncationPoints[li] = c.hull[best[ci]]
				floor[ci] = best[ci]
			}
		}
	}
}
