package quality

import (
	"math"

	"imagedupes/config"
	"imagedupes/imageprocessor"
	"imagedupes/logging"
	"imagedupes/progress"
	"imagedupes/types"
)

// sharpnessKnee controls the normalization of the unbounded Laplacian
// variance into [0,1): a variance equal to the knee maps to 0.5.
const sharpnessKnee = 500.0

// Scorer computes a comparable quality score per image from measurable
// signals: pixel resolution, file size relative to resolution, and an
// optional sharpness estimate. Scores are only comparable within a group.
type Scorer struct {
	weights  config.ScoringWeights
	registry *imageprocessor.ImageLoaderRegistry
}

// NewScorer builds a scorer with the given named weights. A nil registry
// disables the sharpness signal (the other signals need no pixel access).
func NewScorer(weights config.ScoringWeights, registry *imageprocessor.ImageLoaderRegistry) *Scorer {
	return &Scorer{weights: weights, registry: registry}
}

// Score computes the weighted quality score for one record.
func (s *Scorer) Score(rec *types.ImageRecord) float64 {
	var score float64

	// Pixel resolution, log-scaled so doubling megapixels gives a fixed
	// score step rather than a runaway lead.
	if pixels := rec.Pixels(); pixels > 0 {
		score += s.weights.Resolution * math.Log2(float64(pixels))
	}

	// Bits per pixel as a compression-quality proxy, capped so oversized
	// files stop gaining.
	if bpp := s.bitsPerPixel(rec); bpp > 0 {
		if bpp > s.weights.BppCeiling {
			bpp = s.weights.BppCeiling
		}
		score += s.weights.BitsPerPixel * bpp
	}

	if s.weights.Sharpness > 0 && s.registry != nil {
		if sharp, err := imageprocessor.ComputeRecordSharpness(s.registry, rec.Path); err == nil {
			score += s.weights.Sharpness * normalizeSharpness(sharp)
		} else {
			logging.DebugLog("Sharpness unavailable for %s: %v", rec.Path, err)
		}
	}

	return score
}

func (s *Scorer) bitsPerPixel(rec *types.ImageRecord) float64 {
	pixels := rec.Pixels()
	if pixels == 0 || rec.Size == 0 {
		return 0
	}
	return float64(rec.Size*8) / float64(pixels)
}

func normalizeSharpness(variance float64) float64 {
	return variance / (variance + sharpnessKnee)
}

// ScoreGroups lazily fills the quality score of every group member. Only
// grouped records are scored; the signal is meaningless for singletons.
// Cancellation is checked per member.
func (s *Scorer) ScoreGroups(groups []*types.DuplicateGroup, coord *progress.Coordinator) {
	var total int64
	for _, g := range groups {
		total += int64(len(g.Members))
	}
	coord.SetTotal(total)

	for _, g := range groups {
		for _, rec := range g.Members {
			if coord.Cancelled() {
				return
			}
			if !rec.QualityValid {
				rec.Quality = s.Score(rec)
				rec.QualityValid = true
			}
			coord.Step(1)
		}
	}
}

// Preselect marks all but each group's best member for archival, with a
// conservative bias: members whose score lies within the near-tie margin of
// the top score stay unselected, and the top member itself is never
// selected, so at least one survivor is always guaranteed. Existing
// selection state is replaced wholesale; callers must not re-run this after
// a user override.
func Preselect(groups []*types.DuplicateGroup, margin float64) {
	for _, g := range groups {
		g.Selections = make([]*types.SelectionState, len(g.Members))

		best := 0
		for i, rec := range g.Members {
			if rec.Quality > g.Members[best].Quality {
				best = i
			}
		}
		top := g.Members[best].Quality
		cut := top - math.Abs(top)*margin

		for i, rec := range g.Members {
			sel := &types.SelectionState{
				RecordID: rec.ID,
				GroupID:  g.ID,
				Origin:   types.OriginAutoPreselected,
			}
			// Near-ties are left unselected: prefer under-selecting
			// when quality cannot separate the members.
			if i != best && rec.Quality < cut {
				sel.Selected = true
			}
			g.Selections[i] = sel
		}
	}
}
