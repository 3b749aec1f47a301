// Package store persists threat records, correlation edges, and detection
// patterns. The Postgres implementation is the production path; the
// in-memory implementation backs tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"threatmesh/pkg/threat"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrUnavailable wraps infrastructure failures (connection, query,
	// write). Callers that cannot verify duplicate/correlation state must
	// propagate it rather than proceed.
	ErrUnavailable = errors.New("store: unavailable")
)

// Clause is one disjunct of a candidate query. Zero-valued conditions are
// ignored; conditions set within a single clause are combined with AND.
type Clause struct {
	ContentHash       string
	TargetValue       string
	TargetType        string
	TitleContains     string // case-insensitive substring
	AnyIndicatorValue []string
	AnyTag            []string
	Actor             string
	Campaign          string
	SourceType        string
	Category          string
}

func (c Clause) empty() bool {
	return c.ContentHash == "" && c.TargetValue == "" && c.TargetType == "" &&
		c.TitleContains == "" && len(c.AnyIndicatorValue) == 0 && len(c.AnyTag) == 0 &&
		c.Actor == "" && c.Campaign == "" && c.SourceType == "" && c.Category == ""
}

// Filter selects records matching ANY clause, optionally constrained to a
// status and excluding one id. Results are always ordered by record id so
// "first found" is deterministic.
type Filter struct {
	Clauses   []Clause
	Status    threat.Status
	ExcludeID string
}

// RecordStore is the narrow persistence interface the feed-coherence core
// consumes for threat records.
type RecordStore interface {
	FindByID(ctx context.Context, id string) (*threat.ThreatRecord, error)
	FindByFilter(ctx context.Context, f Filter, limit int) ([]*threat.ThreatRecord, error)
	Insert(ctx context.Context, rec *threat.ThreatRecord) (string, error)
	// UpdateFields applies a partial update. Supported keys: severity,
	// status, confidence, category, last_seen.
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
	// AddToSet appends value to an array field iff not already present.
	// Supported fields: tags, correlated_threats.
	AddToSet(ctx context.Context, id, field, value string) error
}

// CorrelationStore persists the append-only edge trail.
type CorrelationStore interface {
	// InsertEdge is idempotent on (parent, child, correlation type);
	// re-running an analysis pass never duplicates an edge.
	InsertEdge(ctx context.Context, edge *threat.ThreatCorrelation) error
	EdgesFor(ctx context.Context, recordID string) ([]*threat.ThreatCorrelation, error)
}

// PatternStore holds detection rule definitions and their trigger counters.
type PatternStore interface {
	ActivePatterns(ctx context.Context) ([]*threat.ThreatPattern, error)
	UpsertPattern(ctx context.Context, p *threat.ThreatPattern) error
	RecordTrigger(ctx context.Context, patternID string, at time.Time) error
}
