package pattern

import (
	"regexp"
	"strings"

	"threatmesh/pkg/threat"
)

// EvaluatePattern scores one pattern against a flattened record view. The
// score is matchedWeight/totalWeight; a pattern with no rules (or only
// zero-weight rules) scores 0 and never fires. For multi-valued fields a
// rule matches if any element matches.
func EvaluatePattern(view FieldView, p *threat.ThreatPattern) (float64, []threat.PatternRule) {
	var matchedWeight, totalWeight float64
	var triggered []threat.PatternRule

	for _, rule := range p.Indicators {
		totalWeight += rule.Weight
		if ruleMatches(view, rule) {
			matchedWeight += rule.Weight
			triggered = append(triggered, rule)
		}
	}
	if totalWeight == 0 {
		return 0, nil
	}
	return matchedWeight / totalWeight, triggered
}

func ruleMatches(view FieldView, rule threat.PatternRule) bool {
	values := view.Lookup(rule.Field)
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if operatorMatches(rule.Operator, v, rule.Value) {
			return true
		}
	}
	return false
}

// operatorMatches applies one comparison. String operators are
// case-insensitive; regex is compiled as written, and a malformed regex is
// treated as non-matching rather than aborting the pass.
func operatorMatches(op threat.RuleOperator, fieldValue, ruleValue string) bool {
	fv := strings.ToLower(fieldValue)
	rv := strings.ToLower(ruleValue)
	switch op {
	case threat.OpEquals:
		return fv == rv
	case threat.OpContains:
		return strings.Contains(fv, rv)
	case threat.OpStartsWith:
		return strings.HasPrefix(fv, rv)
	case threat.OpEndsWith:
		return strings.HasSuffix(fv, rv)
	case threat.OpRegex:
		re, err := regexp.Compile(ruleValue)
		if err != nil {
			return false
		}
		return re.MatchString(fieldValue)
	default:
		return false
	}
}
