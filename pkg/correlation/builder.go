// Package correlation discovers related records in the feed and persists
// bidirectional correlation edges with an append-only evidence trail.
package correlation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"threatmesh/pkg/similarity"
	"threatmesh/pkg/store"
	"threatmesh/pkg/structlog"
	"threatmesh/pkg/threat"
)

const (
	// DefaultThreshold is the overall score at or above which two records
	// are linked.
	DefaultThreshold = 0.70

	// duplicateThreshold promotes an edge to type "duplicate".
	duplicateThreshold = 0.90

	// targetOverlapThreshold promotes an edge to type "target_overlap".
	targetOverlapThreshold = 0.80

	// candidateLimit bounds the candidate query per analysis pass.
	candidateLimit = 100

	// fanOutCap bounds accepted correlations per pass; once hit, remaining
	// candidates are not scored.
	fanOutCap = 50
)

// Builder links a record to related active records.
type Builder struct {
	records   store.RecordStore
	edges     store.CorrelationStore
	scorer    *similarity.Scorer
	threshold float64
	log       *structlog.Logger
}

// NewBuilder wires a builder. Zero threshold uses the default; nil logger
// logs to stdout.
func NewBuilder(records store.RecordStore, edges store.CorrelationStore, scorer *similarity.Scorer, threshold float64, log *structlog.Logger) *Builder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = structlog.NewLogger("correlation", structlog.LevelInfo, nil)
	}
	return &Builder{records: records, edges: edges, scorer: scorer, threshold: threshold, log: log}
}

// Analyze discovers and persists correlations for a persisted record across
// every candidate dimension. It returns the accepted edges.
func (b *Builder) Analyze(ctx context.Context, rec *threat.ThreatRecord) ([]*threat.ThreatCorrelation, error) {
	return b.analyze(ctx, rec, b.candidateFilter(rec, ""))
}

// AnalyzeFocused restricts candidate discovery to one dimension: "target",
// "indicators", "actor", "campaign", "tags", or "source". An unknown focus
// falls back to the full filter.
func (b *Builder) AnalyzeFocused(ctx context.Context, rec *threat.ThreatRecord, focus string) ([]*threat.ThreatCorrelation, error) {
	return b.analyze(ctx, rec, b.candidateFilter(rec, focus))
}

func (b *Builder) analyze(ctx context.Context, rec *threat.ThreatRecord, filter store.Filter) ([]*threat.ThreatCorrelation, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("correlation: record has no id")
	}

	candidates, err := b.records.FindByFilter(ctx, filter, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("correlation discovery: %w", err)
	}

	var accepted []*threat.ThreatCorrelation
	for _, candidate := range candidates {
		if len(accepted) >= fanOutCap {
			break
		}
		if candidate == nil || candidate.ID == "" || candidate.ID == rec.ID {
			b.log.Warn("skipping malformed correlation candidate", structlog.Fields{"record": rec.ID})
			continue
		}
		score := b.scorer.Compare(rec, candidate)
		if score.Overall < b.threshold {
			continue
		}
		edge := b.buildEdge(rec, candidate, score)
		accepted = append(accepted, edge)
	}

	// Persist after scoring so a cap-bounded pass stays deterministic.
	// Partial persistence is an acceptable degraded state healed by
	// re-analysis, but the failure is surfaced.
	for _, edge := range accepted {
		if err := b.edges.InsertEdge(ctx, edge); err != nil {
			return accepted, fmt.Errorf("persist correlation edge: %w", err)
		}
		if err := b.records.AddToSet(ctx, edge.ParentThreatID, "correlated_threats", edge.ChildThreatID); err != nil {
			return accepted, fmt.Errorf("link parent record: %w", err)
		}
		if err := b.records.AddToSet(ctx, edge.ChildThreatID, "correlated_threats", edge.ParentThreatID); err != nil {
			return accepted, fmt.Errorf("link child record: %w", err)
		}
	}

	if len(accepted) > 0 {
		b.log.Info("correlation pass complete", structlog.Fields{
			"record": rec.ID,
			"edges":  len(accepted),
		})
	}
	return accepted, nil
}

func (b *Builder) buildEdge(rec, candidate *threat.ThreatRecord, score similarity.Score) *threat.ThreatCorrelation {
	return &threat.ThreatCorrelation{
		ID:              uuid.New().String(),
		ParentThreatID:  rec.ID,
		ChildThreatID:   candidate.ID,
		CorrelationType: classify(rec, candidate, score),
		Confidence:      score.Overall,
		Evidence: threat.CorrelationEvidence{
			CommonIndicators:      similarity.Intersection(rec.IndicatorKeys(), candidate.IndicatorKeys()),
			TimelineSimilarity:    score.Temporal,
			AttributionSimilarity: score.Attribution,
			TargetSimilarity:      score.Targets,
		},
		Status: "confirmed",
	}
}

// classify picks the edge type by priority: near-identical overall score,
// then shared campaign, then shared actor, then strong target overlap.
func classify(a, b *threat.ThreatRecord, score similarity.Score) threat.CorrelationType {
	if score.Overall >= duplicateThreshold {
		return threat.CorrelationDuplicate
	}
	if a.Attribution != nil && b.Attribution != nil {
		if a.Attribution.Campaign != "" && a.Attribution.Campaign == b.Attribution.Campaign {
			return threat.CorrelationCampaign
		}
		if a.Attribution.Actor != "" && a.Attribution.Actor == b.Attribution.Actor {
			return threat.CorrelationAttribution
		}
	}
	if score.Targets >= targetOverlapThreshold {
		return threat.CorrelationTargetOverlap
	}
	return threat.CorrelationRelated
}

// candidateFilter builds the indexed disjunctive query over shared target,
// indicators, attribution, tags, and (source-type, category).
func (b *Builder) candidateFilter(rec *threat.ThreatRecord, focus string) store.Filter {
	var clauses []store.Clause
	add := func(name string, c store.Clause) {
		if focus == "" || focus == name {
			clauses = append(clauses, c)
		}
	}

	add("target", store.Clause{TargetValue: rec.Target.Value})
	if len(rec.Indicators) > 0 {
		values := make([]string, 0, len(rec.Indicators))
		for _, ind := range rec.Indicators {
			values = append(values, ind.Value)
		}
		add("indicators", store.Clause{AnyIndicatorValue: values})
	}
	if rec.Attribution != nil {
		if rec.Attribution.Actor != "" {
			add("actor", store.Clause{Actor: rec.Attribution.Actor})
		}
		if rec.Attribution.Campaign != "" {
			add("campaign", store.Clause{Campaign: rec.Attribution.Campaign})
		}
	}
	if len(rec.Context.Tags) > 0 {
		add("tags", store.Clause{AnyTag: rec.Context.Tags})
	}
	if rec.Source.Type != "" && rec.Category != "" {
		add("source", store.Clause{SourceType: rec.Source.Type, Category: rec.Category})
	}
	if len(clauses) == 0 {
		// Unknown focus: fall back to the full filter.
		return b.candidateFilter(rec, "")
	}
	return store.Filter{
		Clauses:   clauses,
		Status:    threat.StatusActive,
		ExcludeID: rec.ID,
	}
}
