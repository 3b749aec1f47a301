package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmesh/pkg/similarity"
	"threatmesh/pkg/store"
	"threatmesh/pkg/threat"
)

func newDetector(s *store.MemoryStore) *Detector {
	return NewDetector(s, similarity.NewScorer(similarity.DefaultWeights()), DefaultThreshold)
}

func phishingRecord() *threat.ThreatRecord {
	rec := &threat.ThreatRecord{
		Type:   threat.TypePhishing,
		Target: threat.Target{Type: "url", Value: "paypal-verify.tk"},
		Indicators: []threat.Indicator{
			{Type: "domain", Value: "paypal-verify.tk"},
		},
		Context:  threat.Context{Title: "Verify your account", Description: "Credential harvesting page"},
		Timeline: threat.Timeline{FirstSeen: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		Source:   threat.Source{ID: "reporter-1", Type: "user"},
	}
	rec.Normalize()
	return rec
}

func TestCheck_ExactHashMatch(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	existing := phishingRecord()
	_, err := mem.Insert(ctx, existing)
	require.NoError(t, err)

	// same identity fields, different reporter and timestamp
	candidate := phishingRecord()
	candidate.ID = ""
	candidate.Source = threat.Source{ID: "reporter-2", Type: "partner"}
	candidate.Timeline.FirstSeen = existing.Timeline.FirstSeen.Add(72 * time.Hour)
	candidate.Normalize()

	result, err := newDetector(mem).Check(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, existing.ID, result.OriginalID)
	assert.Equal(t, 1.0, result.SimilarityScore)
	assert.Equal(t, "exact hash match", result.Reason)
}

func TestCheck_FuzzyDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	existing := phishingRecord()
	_, err := mem.Insert(ctx, existing)
	require.NoError(t, err)

	// slightly different title breaks the hash but not the similarity
	candidate := phishingRecord()
	candidate.ID = ""
	candidate.Context.Title = "Verify your account!"
	candidate.Normalize()

	result, err := newDetector(mem).Check(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, existing.ID, result.OriginalID)
	assert.GreaterOrEqual(t, result.SimilarityScore, DefaultThreshold)
	assert.Less(t, result.SimilarityScore, 1.0)
}

func TestCheck_NoMatch(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	existing := phishingRecord()
	_, err := mem.Insert(ctx, existing)
	require.NoError(t, err)

	candidate := &threat.ThreatRecord{
		Type:       threat.TypeRugpull,
		Target:     threat.Target{Type: "contract", Value: "0xdeadbeef"},
		Indicators: []threat.Indicator{{Type: "address", Value: "0xdeadbeef"}},
		Context:    threat.Context{Title: "Liquidity pulled from token"},
	}
	candidate.Normalize()

	result, err := newDetector(mem).Check(ctx, candidate)
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Empty(t, result.OriginalID)
}

func TestCheck_StoreFailurePropagates(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	mem.FailQueries = true

	candidate := phishingRecord()
	_, err := newDetector(mem).Check(ctx, candidate)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestCheck_EmptyFeed(t *testing.T) {
	ctx := context.Background()
	result, err := newDetector(store.NewMemoryStore()).Check(ctx, phishingRecord())
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestCandidateFilter_IndicatorProbeBounded(t *testing.T) {
	candidate := phishingRecord()
	candidate.Indicators = nil
	for i := 0; i < 12; i++ {
		candidate.Indicators = append(candidate.Indicators, threat.Indicator{
			Type: "domain", Value: string(rune('a'+i)) + ".tk",
		})
	}

	filter := newDetector(store.NewMemoryStore()).candidateFilter(candidate)
	var probed []string
	for _, c := range filter.Clauses {
		if len(c.AnyIndicatorValue) > 0 {
			probed = c.AnyIndicatorValue
		}
	}
	assert.Len(t, probed, maxIndicatorProbe)
}
