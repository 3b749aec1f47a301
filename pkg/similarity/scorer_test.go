package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"threatmesh/pkg/threat"
)

func baseRecord() *threat.ThreatRecord {
	return &threat.ThreatRecord{
		Type:     threat.TypePhishing,
		Target:   threat.Target{Type: "url", Value: "paypal-verify.tk"},
		Severity: threat.SeverityMedium,
		Indicators: []threat.Indicator{
			{Type: "domain", Value: "paypal-verify.tk"},
			{Type: "ip", Value: "203.0.113.9"},
		},
		Context: threat.Context{
			Title:       "Verify your account",
			Description: "Fake PayPal login page harvesting credentials",
			Tags:        []string{"phishing", "paypal"},
		},
		Timeline: threat.Timeline{FirstSeen: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func TestScorer_IdenticalRecords(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	b := baseRecord()

	score := scorer.Compare(a, b)
	assert.Equal(t, 1.0, score.Indicators)
	assert.Equal(t, 1.0, score.Targets)
	assert.Equal(t, 1.0, score.Temporal)
	assert.Equal(t, 1.0, score.Content)
	// no attribution on either side is neutral
	assert.Equal(t, 0.5, score.Attribution)
	assert.InDelta(t, 0.25+0.25+0.20*0.5+0.15+0.15, score.Overall, 1e-9)
}

func TestScorer_TargetExactMatchShortCircuits(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	b := baseRecord()
	b.Target.Network = "mainnet" // network mismatch is irrelevant on exact (type,value)

	assert.Equal(t, 1.0, scorer.Compare(a, b).Targets)
}

func TestScorer_TargetPartialMatch(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	b := baseRecord()
	b.Target.Value = "completely-different-target-value.example"

	score := scorer.Compare(a, b)
	// type matches (+0.3) plus half the string similarity
	assert.GreaterOrEqual(t, score.Targets, 0.3)
	assert.Less(t, score.Targets, 1.0)
}

func TestScorer_AttributionPresentInOnlyOne(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	a.Attribution = &threat.Attribution{Actor: "inferno-drainers"}
	b := baseRecord()

	// present in only one contributes 0 for that factor
	assert.Equal(t, 0.0, scorer.Compare(a, b).Attribution)
}

func TestScorer_AttributionSharedCampaign(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	a.Attribution = &threat.Attribution{Campaign: "spring-phish-2026"}
	b := baseRecord()
	b.Attribution = &threat.Attribution{Campaign: "spring-phish-2026"}

	assert.Equal(t, 1.0, scorer.Compare(a, b).Attribution)
}

func TestScorer_AttributionMixedFactors(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	a.Attribution = &threat.Attribution{Actor: "inferno-drainers", Techniques: []string{"T1566", "T1204"}}
	b := baseRecord()
	b.Attribution = &threat.Attribution{Actor: "inferno-drainers", Techniques: []string{"T1566"}}

	// actor 1.0; techniques Jaccard 1/2; average over two present factors
	assert.InDelta(t, (1.0+0.5)/2, scorer.Compare(a, b).Attribution, 1e-9)
}

func TestScorer_TemporalDecay(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	b := baseRecord()

	b.Timeline.FirstSeen = a.Timeline.FirstSeen.Add(15 * 24 * time.Hour)
	assert.InDelta(t, 0.5, scorer.Compare(a, b).Temporal, 1e-9)

	b.Timeline.FirstSeen = a.Timeline.FirstSeen.Add(45 * 24 * time.Hour)
	assert.Equal(t, 0.0, scorer.Compare(a, b).Temporal)
}

func TestScorer_DifferingConfidenceAndSourceStillNearDuplicate(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	a := baseRecord()
	a.Confidence = 90
	a.Source = threat.Source{ID: "reporter-1", Type: "user"}
	b := baseRecord()
	b.Confidence = 40
	b.Source = threat.Source{ID: "reporter-2", Type: "partner"}

	assert.GreaterOrEqual(t, scorer.Compare(a, b).Overall, 0.85)
}

func TestScorer_ZeroWeightsFallBackToDefaults(t *testing.T) {
	scorer := NewScorer(Weights{})
	a := baseRecord()
	b := baseRecord()
	assert.Greater(t, scorer.Compare(a, b).Overall, 0.0)
}
