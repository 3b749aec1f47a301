package threat

import "time"

// RuleOperator is the comparison applied by a single pattern rule.
type RuleOperator string

const (
	OpEquals     RuleOperator = "equals"
	OpContains   RuleOperator = "contains"
	OpStartsWith RuleOperator = "starts_with"
	OpEndsWith   RuleOperator = "ends_with"
	OpRegex      RuleOperator = "regex"
)

// PatternRule is one weighted indicator inside a pattern. Field addresses a
// dotted path into the record (e.g. "target.value"); a path that resolves to
// nothing simply does not match.
type PatternRule struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    string       `json:"value"`
	Weight   float64      `json:"weight"`
}

// ActionType enumerates the side effects a firing pattern may apply.
type ActionType string

const (
	ActionIncreaseSeverity ActionType = "increase_severity"
	ActionAddTag           ActionType = "add_tag"
	ActionCorrelate        ActionType = "correlate"
	ActionNotify           ActionType = "notify"
	ActionAutoResolve      ActionType = "auto_resolve"
)

// PatternAction is a configured side effect with free-form parameters.
type PatternAction struct {
	Type       ActionType        `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// PatternStatistics tracks rule performance. TimesTriggered and
// LastTriggered are maintained by the engine; accuracy and false-positive
// counts come from the moderation feedback loop and are only read here.
type PatternStatistics struct {
	TimesTriggered int64      `json:"times_triggered"`
	Accuracy       float64    `json:"accuracy"`
	FalsePositives int64      `json:"false_positives"`
	LastTriggered  *time.Time `json:"last_triggered,omitempty"`
}

// ThreatPattern is a detection rule definition. Weights need not sum to 1:
// the match score is matchedWeight/totalWeight, so partial indicator coverage
// still produces a score in [0,1].
type ThreatPattern struct {
	PatternID  string            `json:"pattern_id" db:"pattern_id"`
	Name       string            `json:"name" db:"name"`
	Indicators []PatternRule     `json:"indicators"`
	Threshold  float64           `json:"threshold" db:"threshold"`
	Actions    []PatternAction   `json:"actions"`
	IsActive   bool              `json:"is_active" db:"is_active"`
	Statistics PatternStatistics `json:"statistics"`
}

// AppliedAction records the outcome of one action during a match.
type AppliedAction struct {
	Type    ActionType `json:"type"`
	Applied bool       `json:"applied"`
	Detail  string     `json:"detail,omitempty"`
}

// PatternMatch is the ephemeral result of evaluating one pattern against one
// record. It is consumed immediately to apply actions, never persisted.
type PatternMatch struct {
	PatternID      string          `json:"pattern_id"`
	Score          float64         `json:"score"`
	TriggeredRules []PatternRule   `json:"triggered_rules,omitempty"`
	Actions        []AppliedAction `json:"actions,omitempty"`
}
