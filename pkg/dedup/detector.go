// Package dedup screens incoming threat reports against the feed: an exact
// content-hash fast path, then a fuzzy fallback over a bounded candidate set.
package dedup

import (
	"context"
	"fmt"

	"threatmesh/pkg/similarity"
	"threatmesh/pkg/store"
	"threatmesh/pkg/threat"
)

const (
	// DefaultThreshold is the overall score at or above which a candidate
	// is treated as a fuzzy duplicate.
	DefaultThreshold = 0.85

	// candidateLimit bounds the fuzzy comparison set. Without it the check
	// degrades to a full-table scan.
	candidateLimit = 20

	// maxIndicatorProbe caps how many indicator values feed the candidate
	// query.
	maxIndicatorProbe = 5
)

// Result reports the outcome of a duplicate check.
type Result struct {
	IsDuplicate     bool    `json:"is_duplicate"`
	OriginalID      string  `json:"original_id,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
	Reason          string  `json:"reason,omitempty"`
}

// Detector checks candidate records before insertion.
type Detector struct {
	records   store.RecordStore
	scorer    *similarity.Scorer
	threshold float64
}

// NewDetector wires a detector over the record store. A zero threshold uses
// the default.
func NewDetector(records store.RecordStore, scorer *similarity.Scorer, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{records: records, scorer: scorer, threshold: threshold}
}

// Check screens a pre-insert candidate. A store failure aborts the whole
// check: ingestion must not silently accept a potential duplicate when the
// feed cannot be consulted.
func (d *Detector) Check(ctx context.Context, candidate *threat.ThreatRecord) (*Result, error) {
	hash := candidate.ContentHash
	if hash == "" {
		hash = candidate.ComputeContentHash()
	}

	exact, err := d.records.FindByFilter(ctx, store.Filter{
		Clauses: []store.Clause{{ContentHash: hash}},
	}, 1)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if len(exact) > 0 {
		return &Result{
			IsDuplicate:     true,
			OriginalID:      exact[0].ID,
			SimilarityScore: 1.0,
			Reason:          "exact hash match",
		}, nil
	}

	candidates, err := d.records.FindByFilter(ctx, d.candidateFilter(candidate), candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}

	for _, existing := range candidates {
		score := d.scorer.Compare(candidate, existing)
		if score.Overall >= d.threshold {
			return &Result{
				IsDuplicate:     true,
				OriginalID:      existing.ID,
				SimilarityScore: score.Overall,
				Reason:          fmt.Sprintf("similarity %.2f above threshold %.2f", score.Overall, d.threshold),
			}, nil
		}
	}

	return &Result{IsDuplicate: false, Reason: "no match"}, nil
}

// candidateFilter builds the bounded indexed query: same target+type, OR a
// title substring hit, OR any shared value among the first few indicators.
func (d *Detector) candidateFilter(candidate *threat.ThreatRecord) store.Filter {
	clauses := []store.Clause{{
		TargetValue: candidate.Target.Value,
		TargetType:  candidate.Target.Type,
	}}
	if title := candidate.Context.Title; title != "" {
		clauses = append(clauses, store.Clause{TitleContains: title})
	}
	if len(candidate.Indicators) > 0 {
		probe := candidate.Indicators
		if len(probe) > maxIndicatorProbe {
			probe = probe[:maxIndicatorProbe]
		}
		values := make([]string, 0, len(probe))
		for _, ind := range probe {
			values = append(values, ind.Value)
		}
		clauses = append(clauses, store.Clause{AnyIndicatorValue: values})
	}
	return store.Filter{Clauses: clauses, ExcludeID: candidate.ID}
}
