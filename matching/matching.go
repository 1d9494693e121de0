package matching

import (
	"imagedupes/config"
	"imagedupes/imageprocessor"
	"imagedupes/types"
)

// Matcher is one interchangeable detection strategy: it knows how far apart
// two records are and which match tier a hit counts as. The grouping engine
// depends only on this interface, never on a concrete variant.
type Matcher interface {
	// Name identifies the strategy in logs.
	Name() string

	// Kind is the match tier a passing pair is classified under.
	Kind() types.MatchKind

	// Cutoff is the maximum distance that still counts as a match.
	// Boundary values count as matches.
	Cutoff() float64

	// Distance returns the distance between two records, or false when the
	// records cannot be compared by this strategy.
	Distance(a, b *types.ImageRecord) (float64, bool)

	// Similarity converts a passing distance into a score in [0,1].
	Similarity(distance float64) float64
}

// Thresholds are the concrete per-algorithm cutoffs derived from the single
// user-facing strictness setting.
type Thresholds struct {
	MaxHamming   int
	MaxEmbedding float64
}

// The two cutoff tables, indexed by strictness level. Both are monotonically
// non-decreasing so a stricter setting can never admit more pairs than a
// looser one. Level 2 keeps the Hamming cutoff of 5 that the detection
// defaults were tuned around.
var (
	hammingCutoffs   = [...]int{0, 2, 5, 8, 12}
	embeddingCutoffs = [...]float64{0.10, 0.25, 0.45, 0.70, 0.90}
)

// MapStrictness converts the ordinal strictness level into concrete cutoffs.
// Out-of-range levels are clamped.
func MapStrictness(level int) Thresholds {
	if level < config.StrictnessVeryStrict {
		level = config.StrictnessVeryStrict
	}
	if level > config.StrictnessVeryLoose {
		level = config.StrictnessVeryLoose
	}
	return Thresholds{
		MaxHamming:   hammingCutoffs[level],
		MaxEmbedding: embeddingCutoffs[level],
	}
}

// Matchers builds the active strategy set for the given thresholds. The
// content matcher always runs regardless of strictness; the embedding
// matcher is included only when the similarity tier is enabled.
func Matchers(th Thresholds, withEmbedding bool) []Matcher {
	matchers := []Matcher{
		&contentMatcher{},
		&perceptualMatcher{cutoff: th.MaxHamming},
	}
	if withEmbedding {
		matchers = append(matchers, &embeddingMatcher{cutoff: th.MaxEmbedding})
	}
	return matchers
}

// contentMatcher matches byte-identical files. It ignores the slider: equal
// content fingerprints always classify as exact.
type contentMatcher struct{}

func (m *contentMatcher) Name() string          { return "content" }
func (m *contentMatcher) Kind() types.MatchKind { return types.MatchExact }
func (m *contentMatcher) Cutoff() float64       { return 0 }

func (m *contentMatcher) Distance(a, b *types.ImageRecord) (float64, bool) {
	if a.ContentHash == "" || b.ContentHash == "" {
		return 0, false
	}
	if a.ContentHash == b.ContentHash {
		return 0, true
	}
	return 1, true
}

func (m *contentMatcher) Similarity(float64) float64 { return 1 }

// perceptualMatcher matches near-identical pixel content via the Hamming
// distance of difference hashes.
type perceptualMatcher struct {
	cutoff int
}

func (m *perceptualMatcher) Name() string          { return "perceptual" }
func (m *perceptualMatcher) Kind() types.MatchKind { return types.MatchExact }
func (m *perceptualMatcher) Cutoff() float64       { return float64(m.cutoff) }

func (m *perceptualMatcher) Distance(a, b *types.ImageRecord) (float64, bool) {
	if a.PerceptualHash == "" || b.PerceptualHash == "" {
		return 0, false
	}
	d, err := imageprocessor.HammingDistance(a.PerceptualHash, b.PerceptualHash)
	if err != nil {
		return 0, false
	}
	return float64(d), true
}

func (m *perceptualMatcher) Similarity(distance float64) float64 {
	return 1 - distance/float64(imageprocessor.HashBits)
}

// embeddingMatcher matches visually similar content via embedding distance.
type embeddingMatcher struct {
	cutoff float64
}

func (m *embeddingMatcher) Name() string          { return "embedding" }
func (m *embeddingMatcher) Kind() types.MatchKind { return types.MatchSimilar }
func (m *embeddingMatcher) Cutoff() float64       { return m.cutoff }

func (m *embeddingMatcher) Distance(a, b *types.ImageRecord) (float64, bool) {
	return imageprocessor.EmbeddingDistance(a.Embedding, b.Embedding)
}

func (m *embeddingMatcher) Similarity(distance float64) float64 {
	s := 1 - distance/2
	if s < 0 {
		return 0
	}
	return s
}
