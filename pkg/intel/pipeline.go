// Package intel ties the feed-coherence components into the ingestion flow:
// duplicate screening gates correlation discovery and pattern evaluation.
package intel

import (
	"context"
	"fmt"

	"threatmesh/pkg/correlation"
	"threatmesh/pkg/dedup"
	"threatmesh/pkg/pattern"
	"threatmesh/pkg/store"
	"threatmesh/pkg/structlog"
	"threatmesh/pkg/threat"
)

// IngestResult summarizes one pass through the pipeline.
type IngestResult struct {
	RecordID     string                 `json:"record_id,omitempty"`
	Duplicate    *dedup.Result          `json:"duplicate,omitempty"`
	Correlations int                    `json:"correlations"`
	Matches      []*threat.PatternMatch `json:"matches,omitempty"`
}

// Pipeline runs duplicate check, correlation, and pattern evaluation
// sequentially for each record. A confirmed duplicate skips the later
// stages and is not inserted; the caller merges it into the original.
type Pipeline struct {
	records  store.RecordStore
	detector *dedup.Detector
	builder  *correlation.Builder
	engine   *pattern.Engine
	log      *structlog.Logger
}

// NewPipeline wires the stages together.
func NewPipeline(records store.RecordStore, detector *dedup.Detector, builder *correlation.Builder, engine *pattern.Engine, log *structlog.Logger) *Pipeline {
	if log == nil {
		log = structlog.NewLogger("intel", structlog.LevelInfo, nil)
	}
	return &Pipeline{records: records, detector: detector, builder: builder, engine: engine, log: log}
}

// Ingest screens, persists, and analyzes a new report. Store failures during
// the duplicate check or correlation discovery abort the pass and propagate:
// the feed must not silently accept a report whose duplicate state could not
// be verified.
func (p *Pipeline) Ingest(ctx context.Context, rec *threat.ThreatRecord) (*IngestResult, error) {
	ingestTotal.Inc()

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.Normalize()

	dup, err := p.detector.Check(ctx, rec)
	if err != nil {
		return nil, err
	}
	if dup.IsDuplicate {
		kind := "fuzzy"
		if dup.SimilarityScore == 1.0 && dup.Reason == "exact hash match" {
			kind = "exact"
		}
		duplicatesTotal.WithLabelValues(kind).Inc()
		p.log.Info("duplicate report rejected", structlog.Fields{
			"original": dup.OriginalID,
			"score":    dup.SimilarityScore,
			"reason":   dup.Reason,
		})
		return &IngestResult{Duplicate: dup}, nil
	}

	if _, err := p.records.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist record: %w", err)
	}

	result := &IngestResult{RecordID: rec.ID}
	if err := p.analyze(ctx, rec, result); err != nil {
		return result, err
	}
	return result, nil
}

// Reanalyze re-runs correlation and pattern evaluation for a persisted
// record. Edge creation and tag/link updates are idempotent, so repeated
// passes heal partial state rather than duplicating it.
func (p *Pipeline) Reanalyze(ctx context.Context, recordID string) (*IngestResult, error) {
	rec, err := p.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	result := &IngestResult{RecordID: rec.ID}
	if err := p.analyze(ctx, rec, result); err != nil {
		return result, err
	}
	return result, nil
}

func (p *Pipeline) analyze(ctx context.Context, rec *threat.ThreatRecord, result *IngestResult) error {
	edges, err := p.builder.Analyze(ctx, rec)
	result.Correlations = len(edges)
	correlationEdgesTotal.Add(float64(len(edges)))
	if err != nil {
		return fmt.Errorf("correlation pass: %w", err)
	}

	matches, err := p.engine.EvaluateRecord(ctx, rec)
	if err != nil {
		return fmt.Errorf("pattern pass: %w", err)
	}
	result.Matches = matches
	for _, m := range matches {
		patternFiresTotal.WithLabelValues(m.PatternID).Inc()
	}
	return nil
}
