package similarity

import (
	"math"
	"time"

	"threatmesh/pkg/threat"
)

// Score is the per-dimension breakdown produced by the Scorer. Every
// component is in [0,1].
type Score struct {
	Overall     float64 `json:"overall"`
	Indicators  float64 `json:"indicators"`
	Targets     float64 `json:"targets"`
	Attribution float64 `json:"attribution"`
	Temporal    float64 `json:"temporal"`
	Content     float64 `json:"content"`
}

// Weights controls how the five dimensions combine into the overall score.
// The defaults are the shipped tuning, not derived from labeled data.
type Weights struct {
	Indicators  float64
	Targets     float64
	Attribution float64
	Temporal    float64
	Content     float64
}

// DefaultWeights returns the shipped dimension weighting.
func DefaultWeights() Weights {
	return Weights{
		Indicators:  0.25,
		Targets:     0.25,
		Attribution: 0.20,
		Temporal:    0.15,
		Content:     0.15,
	}
}

// temporalWindow is the linear-decay horizon for firstSeen proximity.
const temporalWindow = 30 * 24 * time.Hour

// Scorer compares two threat records across typed dimensions. The zero
// value is not usable; construct with NewScorer.
type Scorer struct {
	weights Weights
}

// NewScorer returns a scorer with the given weights. Zero-value weights fall
// back to the defaults.
func NewScorer(w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Scorer{weights: w}
}

// Compare scores two records. Neither record needs a store id; only content
// fields participate.
func (s *Scorer) Compare(a, b *threat.ThreatRecord) Score {
	sc := Score{
		Indicators:  SetSimilarity(a.IndicatorKeys(), b.IndicatorKeys()),
		Targets:     targetSimilarity(a.Target, b.Target),
		Attribution: attributionSimilarity(a.Attribution, b.Attribution),
		Temporal:    temporalSimilarity(a.Timeline.FirstSeen, b.Timeline.FirstSeen),
		Content:     contentSimilarity(a.Context, b.Context),
	}
	sc.Overall = s.weights.Indicators*sc.Indicators +
		s.weights.Targets*sc.Targets +
		s.weights.Attribution*sc.Attribution +
		s.weights.Temporal*sc.Temporal +
		s.weights.Content*sc.Content
	return sc
}

// targetSimilarity short-circuits to 1.0 on an exact (type,value) match;
// otherwise it is a weighted sum of type match (+0.3), network match (+0.2),
// and value string similarity (+0.5x), capped at 1.0.
func targetSimilarity(a, b threat.Target) float64 {
	if a.Type == b.Type && a.Value == b.Value {
		return 1.0
	}
	score := 0.0
	if a.Type == b.Type {
		score += 0.3
	}
	if a.Network != "" && a.Network == b.Network {
		score += 0.2
	}
	score += 0.5 * StringSimilarity(a.Value, b.Value)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// attributionSimilarity averages over the attribution factors present in
// either record. A factor missing from both is excluded from the average;
// present in only one contributes 0. No attribution data on either side is
// neutral (0.5), not evidence against correlation.
func attributionSimilarity(a, b *threat.Attribution) float64 {
	if a.Empty() && b.Empty() {
		return 0.5
	}
	if a == nil {
		a = &threat.Attribution{}
	}
	if b == nil {
		b = &threat.Attribution{}
	}

	sum := 0.0
	n := 0
	scalar := func(x, y string) {
		if x == "" && y == "" {
			return
		}
		n++
		if x == "" || y == "" {
			return // contributes 0
		}
		if x == y {
			sum += 1.0
			return
		}
		sum += StringSimilarity(x, y)
	}
	scalar(a.Actor, b.Actor)
	scalar(a.Campaign, b.Campaign)
	scalar(a.MalwareFamily, b.MalwareFamily)
	if len(a.Techniques) > 0 || len(b.Techniques) > 0 {
		n++
		if len(a.Techniques) > 0 && len(b.Techniques) > 0 {
			sum += SetSimilarity(a.Techniques, b.Techniques)
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// temporalSimilarity decays linearly with firstSeen distance over a 30-day
// window.
func temporalSimilarity(a, b time.Time) float64 {
	delta := math.Abs(a.Sub(b).Hours())
	v := 1.0 - delta/temporalWindow.Hours()
	if v < 0 {
		return 0.0
	}
	return v
}

// contentSimilarity blends title, description, and tag overlap.
func contentSimilarity(a, b threat.Context) float64 {
	return 0.4*StringSimilarity(a.Title, b.Title) +
		0.4*StringSimilarity(a.Description, b.Description) +
		0.2*SetSimilarity(a.Tags, b.Tags)
}
