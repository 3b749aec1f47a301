package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatmesh/pkg/threat"
)

// MemoryStore is an in-process implementation of the store interfaces with
// the same filter semantics as the Postgres path. It backs tests and local
// development.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*threat.ThreatRecord
	edges    map[string]*threat.ThreatCorrelation // key: parent:child:type
	patterns map[string]*threat.ThreatPattern

	// FailQueries forces FindByFilter to fail, for exercising the
	// store-unavailable path in tests.
	FailQueries bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*threat.ThreatRecord),
		edges:    make(map[string]*threat.ThreatCorrelation),
		patterns: make(map[string]*threat.ThreatPattern),
	}
}

func cloneRecord(rec *threat.ThreatRecord) *threat.ThreatRecord {
	cp := *rec
	cp.Indicators = append([]threat.Indicator(nil), rec.Indicators...)
	cp.Context.Tags = append([]string(nil), rec.Context.Tags...)
	cp.CorrelatedThreats = append([]string(nil), rec.CorrelatedThreats...)
	if rec.Attribution != nil {
		attr := *rec.Attribution
		attr.Techniques = append([]string(nil), rec.Attribution.Techniques...)
		cp.Attribution = &attr
	}
	return &cp
}

// FindByID fetches a single record.
func (m *MemoryStore) FindByID(ctx context.Context, id string) (*threat.ThreatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// FindByFilter evaluates the disjunctive filter over all records, ordered by
// id.
func (m *MemoryStore) FindByFilter(ctx context.Context, f Filter, limit int) ([]*threat.ThreatRecord, error) {
	if m.FailQueries {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*threat.ThreatRecord
	for _, id := range ids {
		rec := m.records[id]
		if f.ExcludeID != "" && rec.ID == f.ExcludeID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if !matchesAnyClause(rec, f.Clauses) {
			continue
		}
		out = append(out, cloneRecord(rec))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchesAnyClause(rec *threat.ThreatRecord, clauses []Clause) bool {
	any := false
	for _, c := range clauses {
		if c.empty() {
			continue
		}
		any = true
		if matchesClause(rec, c) {
			return true
		}
	}
	// No clauses means no disjunctive constraint.
	return !any
}

func matchesClause(rec *threat.ThreatRecord, c Clause) bool {
	if c.ContentHash != "" && rec.ContentHash != c.ContentHash {
		return false
	}
	if c.TargetValue != "" && rec.Target.Value != c.TargetValue {
		return false
	}
	if c.TargetType != "" && rec.Target.Type != c.TargetType {
		return false
	}
	if c.TitleContains != "" &&
		!strings.Contains(strings.ToLower(rec.Context.Title), strings.ToLower(c.TitleContains)) {
		return false
	}
	if len(c.AnyIndicatorValue) > 0 {
		values := make(map[string]struct{}, len(rec.Indicators))
		for _, ind := range rec.Indicators {
			values[ind.Value] = struct{}{}
		}
		if !anyIn(c.AnyIndicatorValue, values) {
			return false
		}
	}
	if len(c.AnyTag) > 0 {
		tags := make(map[string]struct{}, len(rec.Context.Tags))
		for _, t := range rec.Context.Tags {
			tags[t] = struct{}{}
		}
		if !anyIn(c.AnyTag, tags) {
			return false
		}
	}
	if c.Actor != "" && (rec.Attribution == nil || rec.Attribution.Actor != c.Actor) {
		return false
	}
	if c.Campaign != "" && (rec.Attribution == nil || rec.Attribution.Campaign != c.Campaign) {
		return false
	}
	if c.SourceType != "" && rec.Source.Type != c.SourceType {
		return false
	}
	if c.Category != "" && rec.Category != c.Category {
		return false
	}
	return true
}

func anyIn(needles []string, set map[string]struct{}) bool {
	for _, n := range needles {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

// Insert stores a new record, assigning an id when absent.
func (m *MemoryStore) Insert(ctx context.Context, rec *threat.ThreatRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = cloneRecord(rec)
	return rec.ID, nil
}

// UpdateFields applies a partial update over the whitelisted keys.
func (m *MemoryStore) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	for k := range fields {
		switch k {
		case "severity", "status", "confidence", "category", "last_seen":
		default:
			return fmt.Errorf("update field %q not supported", k)
		}
	}
	for k, v := range fields {
		switch k {
		case "severity":
			rec.Severity = threat.Severity(toString(v))
		case "status":
			rec.Status = threat.Status(toString(v))
		case "confidence":
			if n, ok := v.(int); ok {
				rec.Confidence = n
			}
		case "category":
			rec.Category = toString(v)
		case "last_seen":
			if t, ok := v.(time.Time); ok {
				rec.Timeline.LastSeen = t
			}
		}
	}
	return nil
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case threat.Severity:
		return string(s)
	case threat.Status:
		return string(s)
	}
	return ""
}

// AddToSet appends value to an array field iff absent.
func (m *MemoryStore) AddToSet(ctx context.Context, id, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	switch field {
	case "tags":
		rec.Context.Tags = appendUnique(rec.Context.Tags, value)
	case "correlated_threats":
		rec.CorrelatedThreats = appendUnique(rec.CorrelatedThreats, value)
	default:
		return fmt.Errorf("set field %q not supported", field)
	}
	return nil
}

func appendUnique(xs []string, v string) []string {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	return append(xs, v)
}

func edgeKey(parent, child string, ct threat.CorrelationType) string {
	return parent + ":" + child + ":" + string(ct)
}

// InsertEdge stores an edge, dropping duplicates of (parent, child, type).
func (m *MemoryStore) InsertEdge(ctx context.Context, edge *threat.ThreatCorrelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey(edge.ParentThreatID, edge.ChildThreatID, edge.CorrelationType)
	if _, exists := m.edges[key]; exists {
		return nil
	}
	cp := *edge
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.edges[key] = &cp
	return nil
}

// EdgesFor returns all edges touching a record.
func (m *MemoryStore) EdgesFor(ctx context.Context, recordID string) ([]*threat.ThreatCorrelation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*threat.ThreatCorrelation
	for _, edge := range m.edges {
		if edge.ParentThreatID == recordID || edge.ChildThreatID == recordID {
			cp := *edge
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ActivePatterns returns patterns with IsActive set, ordered by id.
func (m *MemoryStore) ActivePatterns(ctx context.Context) ([]*threat.ThreatPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.patterns))
	for id := range m.patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*threat.ThreatPattern
	for _, id := range ids {
		if p := m.patterns[id]; p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpsertPattern creates or replaces a pattern, preserving statistics.
func (m *MemoryStore) UpsertPattern(ctx context.Context, p *threat.ThreatPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if existing, ok := m.patterns[p.PatternID]; ok {
		cp.Statistics = existing.Statistics
	}
	m.patterns[p.PatternID] = &cp
	return nil
}

// RecordTrigger bumps the fire counter and stamps last_triggered.
func (m *MemoryStore) RecordTrigger(ctx context.Context, patternID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[patternID]
	if !ok {
		return ErrNotFound
	}
	p.Statistics.TimesTriggered++
	t := at
	p.Statistics.LastTriggered = &t
	return nil
}

// Pattern returns a pattern by id, for test inspection.
func (m *MemoryStore) Pattern(id string) (*threat.ThreatPattern, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}
