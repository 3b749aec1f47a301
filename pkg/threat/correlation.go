package threat

import "time"

// CorrelationType classifies why two records are linked. Types are mutually
// informative, not mutually exclusive across different edges.
type CorrelationType string

const (
	CorrelationDuplicate     CorrelationType = "duplicate"
	CorrelationCampaign      CorrelationType = "campaign"
	CorrelationAttribution   CorrelationType = "attribution"
	CorrelationTargetOverlap CorrelationType = "target_overlap"
	CorrelationRelated       CorrelationType = "related"
)

// CorrelationEvidence captures why an edge was created. Edges are append-only:
// re-analysis produces new edges rather than mutating old ones, so evidence
// is a durable trail.
type CorrelationEvidence struct {
	CommonIndicators      []string `json:"common_indicators,omitempty"`
	TimelineSimilarity    float64  `json:"timeline_similarity"`
	AttributionSimilarity float64  `json:"attribution_similarity"`
	TargetSimilarity      float64  `json:"target_similarity"`
}

// ThreatCorrelation is a persisted edge between two records.
type ThreatCorrelation struct {
	ID              string              `json:"id" db:"id"`
	ParentThreatID  string              `json:"parent_threat_id" db:"parent_threat_id"`
	ChildThreatID   string              `json:"child_threat_id" db:"child_threat_id"`
	CorrelationType CorrelationType     `json:"correlation_type" db:"correlation_type"`
	Confidence      float64             `json:"confidence" db:"confidence"`
	Evidence        CorrelationEvidence `json:"evidence"`
	Status          string              `json:"status" db:"status"`
	CreatedAt       time.Time           `json:"created_at,omitempty" db:"created_at"`
}
