// Package threat defines the shared data model for the feed-coherence core:
// threat records, correlation edges, detection patterns, and the severity
// ordering used by rule actions.
package threat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ThreatType classifies the kind of incident a record describes.
type ThreatType string

const (
	TypePhishing ThreatType = "phishing"
	TypeRugpull  ThreatType = "rugpull"
	TypeDrainer  ThreatType = "drainer"
	TypeScam     ThreatType = "scam"
	TypeMalware  ThreatType = "malware"
)

// Severity is ordered: info < low < medium < high < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the position of s in the severity ordering, or -1 for an
// unknown severity.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// HigherThan reports whether s is strictly above other in the ordering.
func (s Severity) HigherThan(other Severity) bool {
	return s.Rank() > other.Rank()
}

// Status is the moderation lifecycle state of a record.
type Status string

const (
	StatusActive        Status = "active"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
	StatusDisputed      Status = "disputed"
)

// Terminal reports whether the engine treats the status as final.
// Re-activation is an administrative action outside this core.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Target is the entity under threat (URL, wallet, contract).
type Target struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Network string `json:"network,omitempty"`
}

// Indicator is a single IOC attached to a record.
type Indicator struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Key returns the canonical "{type}:{value}" form used for set comparison.
func (i Indicator) Key() string {
	return i.Type + ":" + i.Value
}

// Attribution carries optional actor/campaign intelligence.
type Attribution struct {
	Actor         string   `json:"actor,omitempty"`
	Campaign      string   `json:"campaign,omitempty"`
	MalwareFamily string   `json:"malware_family,omitempty"`
	Techniques    []string `json:"techniques,omitempty"`
}

// Empty reports whether no attribution field is populated.
func (a *Attribution) Empty() bool {
	return a == nil || (a.Actor == "" && a.Campaign == "" && a.MalwareFamily == "" && len(a.Techniques) == 0)
}

// Context holds the human-facing description of a record.
type Context struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Timeline bounds when the threat was observed.
type Timeline struct {
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Source identifies the reporter of a record.
type Source struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Reliability float64 `json:"reliability"`
}

// ThreatRecord is the unit of intelligence in the shared feed.
// Records are created on ingestion and never deleted; moderation and the
// rule engine only transition status and grow the correlation set.
type ThreatRecord struct {
	ID          string       `json:"id" db:"id"`
	ExternalID  string       `json:"external_id,omitempty" db:"external_id"`
	ContentHash string       `json:"content_hash" db:"content_hash"`
	Type        ThreatType   `json:"type" db:"threat_type"`
	Severity    Severity     `json:"severity" db:"severity"`
	Confidence  int          `json:"confidence" db:"confidence"` // 0-100
	Status      Status       `json:"status" db:"status"`
	Category    string       `json:"category,omitempty" db:"category"`
	Target      Target       `json:"target"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
	Attribution *Attribution `json:"attribution,omitempty"`
	Context     Context      `json:"context"`
	Timeline    Timeline     `json:"timeline"`
	Source      Source       `json:"source"`

	// CorrelatedThreats is the deduplicated set of record ids this record
	// is bidirectionally linked to.
	CorrelatedThreats []string  `json:"correlated_threats,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty" db:"created_at"`
}

// IndicatorKeys returns the "{type}:{value}" set for similarity scoring.
func (r *ThreatRecord) IndicatorKeys() []string {
	keys := make([]string, 0, len(r.Indicators))
	for _, ind := range r.Indicators {
		keys = append(keys, ind.Key())
	}
	return keys
}

// ComputeContentHash derives the exact-duplicate hash from the fields that
// define report identity: type, target, indicator pairs, and the
// lowercased-trimmed title. Indicator pairs are sorted so hash equality does
// not depend on submission order.
func (r *ThreatRecord) ComputeContentHash() string {
	pairs := make([]string, 0, len(r.Indicators))
	for _, ind := range r.Indicators {
		pairs = append(pairs, ind.Key())
	}
	sort.Strings(pairs)

	var b strings.Builder
	b.WriteString(string(r.Type))
	b.WriteByte('|')
	b.WriteString(r.Target.Type)
	b.WriteByte(':')
	b.WriteString(r.Target.Value)
	b.WriteByte(':')
	b.WriteString(r.Target.Network)
	b.WriteByte('|')
	b.WriteString(strings.Join(pairs, ","))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(r.Context.Title)))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Normalize fills derived and defaulted fields before insertion.
func (r *ThreatRecord) Normalize() {
	if r.Severity == "" {
		r.Severity = SeverityMedium
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Timeline.FirstSeen.IsZero() {
		r.Timeline.FirstSeen = time.Now().UTC()
	}
	if r.Timeline.LastSeen.IsZero() {
		r.Timeline.LastSeen = r.Timeline.FirstSeen
	}
	r.ContentHash = r.ComputeContentHash()
}

// Validate rejects records that cannot participate in dedup/correlation.
func (r *ThreatRecord) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("threat record: missing type")
	}
	if r.Target.Value == "" {
		return fmt.Errorf("threat record: missing target value")
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("threat record: confidence %d out of range [0,100]", r.Confidence)
	}
	return nil
}
