package pattern

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"threatmesh/pkg/correlation"
	"threatmesh/pkg/notify"
	"threatmesh/pkg/store"
	"threatmesh/pkg/structlog"
	"threatmesh/pkg/threat"
)

// autoResolveMaxConfidence is the safety guard for the auto_resolve action:
// a rule can only close reports the feed itself barely trusts.
const autoResolveMaxConfidence = 30

const activePatternsKey = "active_patterns"

// Engine evaluates the active pattern set against records and applies the
// actions of every firing pattern.
type Engine struct {
	records    store.RecordStore
	patterns   store.PatternStore
	builder    *correlation.Builder
	dispatcher notify.Dispatcher
	log        *structlog.Logger
	cache      *gocache.Cache
}

// NewEngine wires an engine. A nil dispatcher drops notifications; a nil
// logger logs to stdout.
func NewEngine(records store.RecordStore, patterns store.PatternStore, builder *correlation.Builder, dispatcher notify.Dispatcher, log *structlog.Logger) *Engine {
	if dispatcher == nil {
		dispatcher = notify.Noop{}
	}
	if log == nil {
		log = structlog.NewLogger("pattern", structlog.LevelInfo, nil)
	}
	return &Engine{
		records:    records,
		patterns:   patterns,
		builder:    builder,
		dispatcher: dispatcher,
		log:        log,
		cache:      gocache.New(time.Minute, 5*time.Minute),
	}
}

// EvaluateRecord runs every active pattern against the record, firing those
// whose score reaches their threshold and applying their actions. Records in
// a terminal status are left untouched.
func (e *Engine) EvaluateRecord(ctx context.Context, rec *threat.ThreatRecord) ([]*threat.PatternMatch, error) {
	if rec.Status.Terminal() {
		return nil, nil
	}

	patterns, err := e.activePatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active patterns: %w", err)
	}

	view := Flatten(rec)
	var matches []*threat.PatternMatch
	for _, p := range patterns {
		if len(p.Indicators) == 0 {
			continue // a pattern with no rules never fires
		}
		score, triggered := EvaluatePattern(view, p)
		if score < p.Threshold {
			continue
		}
		if len(triggered) == 0 {
			continue // zero-threshold patterns still need a matched rule
		}

		match := &threat.PatternMatch{
			PatternID:      p.PatternID,
			Score:          score,
			TriggeredRules: triggered,
		}
		if err := e.patterns.RecordTrigger(ctx, p.PatternID, time.Now().UTC()); err != nil {
			e.log.Warn("pattern trigger stat update failed", structlog.Fields{
				"pattern": p.PatternID, "error": err.Error(),
			})
		}
		for _, action := range p.Actions {
			match.Actions = append(match.Actions, e.applyAction(ctx, rec, p, action, score))
		}
		matches = append(matches, match)

		e.log.Info("pattern fired", structlog.Fields{
			"pattern": p.PatternID,
			"record":  rec.ID,
			"score":   score,
		})
		if rec.Status.Terminal() {
			break // an auto_resolve mid-pass ends evaluation
		}
		// Re-flatten: actions may have changed severity, status, or tags,
		// and later patterns evaluate the mutated record.
		view = Flatten(rec)
	}
	return matches, nil
}

// applyAction executes one side effect. Failures are recorded on the match,
// never propagated: one broken action must not abort the remaining actions
// or the enclosing match.
func (e *Engine) applyAction(ctx context.Context, rec *threat.ThreatRecord, p *threat.ThreatPattern, action threat.PatternAction, score float64) threat.AppliedAction {
	out := threat.AppliedAction{Type: action.Type}
	var err error
	switch action.Type {
	case threat.ActionIncreaseSeverity:
		out.Applied, out.Detail, err = e.increaseSeverity(ctx, rec, action.Parameters["target_severity"])
	case threat.ActionAddTag:
		out.Applied, err = e.addTag(ctx, rec, action.Parameters["tag"])
	case threat.ActionCorrelate:
		out.Applied, err = e.correlate(ctx, rec, action.Parameters["field"])
	case threat.ActionNotify:
		e.notifyMatch(ctx, rec, p, action, score)
		out.Applied = true
	case threat.ActionAutoResolve:
		out.Applied, out.Detail, err = e.autoResolve(ctx, rec)
	default:
		out.Detail = fmt.Sprintf("unknown action type %q", action.Type)
	}
	if err != nil {
		out.Applied = false
		out.Detail = err.Error()
		e.log.Warn("pattern action failed", structlog.Fields{
			"pattern": p.PatternID,
			"record":  rec.ID,
			"action":  string(action.Type),
			"error":   err.Error(),
		})
	}
	return out
}

// increaseSeverity escalates only; a firing pattern can never downgrade a
// record.
func (e *Engine) increaseSeverity(ctx context.Context, rec *threat.ThreatRecord, target string) (bool, string, error) {
	severity := threat.Severity(target)
	if severity.Rank() < 0 {
		return false, fmt.Sprintf("unknown severity %q", target), nil
	}
	if !severity.HigherThan(rec.Severity) {
		return false, "severity not increased", nil
	}
	if err := e.records.UpdateFields(ctx, rec.ID, map[string]interface{}{"severity": string(severity)}); err != nil {
		return false, "", err
	}
	rec.Severity = severity
	return true, "", nil
}

func (e *Engine) addTag(ctx context.Context, rec *threat.ThreatRecord, tag string) (bool, error) {
	if tag == "" {
		return false, fmt.Errorf("add_tag: missing tag parameter")
	}
	if err := e.records.AddToSet(ctx, rec.ID, "tags", tag); err != nil {
		return false, err
	}
	for _, existing := range rec.Context.Tags {
		if existing == tag {
			return true, nil
		}
	}
	rec.Context.Tags = append(rec.Context.Tags, tag)
	return true, nil
}

func (e *Engine) correlate(ctx context.Context, rec *threat.ThreatRecord, field string) (bool, error) {
	if e.builder == nil {
		return false, fmt.Errorf("correlate: no builder configured")
	}
	if _, err := e.builder.AnalyzeFocused(ctx, rec, field); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) notifyMatch(ctx context.Context, rec *threat.ThreatRecord, p *threat.ThreatPattern, action threat.PatternAction, score float64) {
	event := action.Parameters["event"]
	if event == "" {
		event = "pattern.matched"
	}
	e.dispatcher.Notify(ctx, event, map[string]interface{}{
		"record_id":  rec.ID,
		"pattern_id": p.PatternID,
		"score":      score,
		"severity":   string(rec.Severity),
		"type":       string(rec.Type),
	})
}

// autoResolve transitions to false_positive only for low-confidence records;
// a low-weight rule cannot auto-close a high-confidence report.
func (e *Engine) autoResolve(ctx context.Context, rec *threat.ThreatRecord) (bool, string, error) {
	if rec.Confidence >= autoResolveMaxConfidence {
		return false, "confidence " + strconv.Itoa(rec.Confidence) + " too high for auto-resolve", nil
	}
	if rec.Status.Terminal() {
		return false, "status already terminal", nil
	}
	if err := e.records.UpdateFields(ctx, rec.ID, map[string]interface{}{"status": string(threat.StatusFalsePositive)}); err != nil {
		return false, "", err
	}
	rec.Status = threat.StatusFalsePositive
	return true, "", nil
}

// activePatterns loads the active set through a short-lived cache so bulk
// re-analysis does not hammer the pattern store.
func (e *Engine) activePatterns(ctx context.Context) ([]*threat.ThreatPattern, error) {
	if cached, ok := e.cache.Get(activePatternsKey); ok {
		return cached.([]*threat.ThreatPattern), nil
	}
	patterns, err := e.patterns.ActivePatterns(ctx)
	if err != nil {
		return nil, err
	}
	e.cache.Set(activePatternsKey, patterns, gocache.DefaultExpiration)
	return patterns, nil
}

// InvalidateCache drops the cached pattern set after administrative edits.
func (e *Engine) InvalidateCache() {
	e.cache.Delete(activePatternsKey)
}
