package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"threatmesh/pkg/threat"
)

func TestFlatten_ScalarPaths(t *testing.T) {
	rec := &threat.ThreatRecord{
		ID:         "rec-1",
		Type:       threat.TypePhishing,
		Severity:   threat.SeverityMedium,
		Confidence: 72,
		Status:     threat.StatusActive,
		Target:     threat.Target{Type: "url", Value: "paypal-verify.tk", Network: "mainnet"},
		Context:    threat.Context{Title: "Verify your account", Description: "desc"},
		Source:     threat.Source{ID: "src-1", Type: "partner"},
	}
	view := Flatten(rec)

	assert.Equal(t, []string{"paypal-verify.tk"}, view.Lookup("target.value"))
	assert.Equal(t, []string{"url"}, view.Lookup("target.type"))
	assert.Equal(t, []string{"72"}, view.Lookup("confidence"))
	assert.Equal(t, []string{"Verify your account"}, view.Lookup("context.title"))
	assert.Equal(t, []string{"partner"}, view.Lookup("source.type"))
}

func TestFlatten_MultiValuedPaths(t *testing.T) {
	rec := &threat.ThreatRecord{
		Type:   threat.TypeDrainer,
		Target: threat.Target{Type: "wallet", Value: "0xabc"},
		Indicators: []threat.Indicator{
			{Type: "address", Value: "0xabc"},
			{Type: "domain", Value: "drainer.xyz"},
		},
		Context:     threat.Context{Tags: []string{"drainer", "wallet"}},
		Attribution: &threat.Attribution{Actor: "inferno", Techniques: []string{"T1566", "T1204"}},
	}
	view := Flatten(rec)

	assert.Equal(t, []string{"address", "domain"}, view.Lookup("indicators.type"))
	assert.Equal(t, []string{"0xabc", "drainer.xyz"}, view.Lookup("indicators.value"))
	assert.Equal(t, []string{"drainer", "wallet"}, view.Lookup("context.tags"))
	assert.Equal(t, []string{"T1566", "T1204"}, view.Lookup("attribution.techniques"))
	assert.Equal(t, []string{"inferno"}, view.Lookup("attribution.actor"))
}

func TestLookup_MissingPathIsEmptyNotError(t *testing.T) {
	rec := &threat.ThreatRecord{Type: threat.TypeScam, Target: threat.Target{Type: "url", Value: "x.io"}}
	view := Flatten(rec)

	assert.Nil(t, view.Lookup("no.such.path"))
	assert.Nil(t, view.Lookup("attribution.actor"), "absent attribution has no values")
	assert.Nil(t, view.Lookup("target.network"), "empty values are dropped")
}

func TestEvaluatePattern_Score(t *testing.T) {
	rec := &threat.ThreatRecord{
		Type:    threat.TypePhishing,
		Target:  threat.Target{Type: "url", Value: "paypal-verify.tk"},
		Context: threat.Context{Title: "Verify your account"},
	}
	view := Flatten(rec)

	p := &threat.ThreatPattern{
		Indicators: []threat.PatternRule{
			{Field: "target.value", Operator: threat.OpContains, Value: "paypal", Weight: 0.5},
			{Field: "context.title", Operator: threat.OpContains, Value: "invoice", Weight: 0.5},
		},
	}
	score, triggered := EvaluatePattern(view, p)
	assert.InDelta(t, 0.5, score, 1e-9)
	assert.Len(t, triggered, 1)
}

func TestEvaluatePattern_WeightsNeedNotSumToOne(t *testing.T) {
	rec := &threat.ThreatRecord{Type: threat.TypeScam, Target: threat.Target{Type: "url", Value: "scam.example"}}
	view := Flatten(rec)

	p := &threat.ThreatPattern{
		Indicators: []threat.PatternRule{
			{Field: "type", Operator: threat.OpEquals, Value: "scam", Weight: 3},
			{Field: "target.value", Operator: threat.OpEndsWith, Value: ".example", Weight: 1},
		},
	}
	score, _ := EvaluatePattern(view, p)
	assert.Equal(t, 1.0, score)
}

func TestEvaluatePattern_NoRulesNeverFires(t *testing.T) {
	view := Flatten(&threat.ThreatRecord{Type: threat.TypeScam, Target: threat.Target{Value: "x"}})
	score, triggered := EvaluatePattern(view, &threat.ThreatPattern{})
	assert.Equal(t, 0.0, score)
	assert.Empty(t, triggered)
}

func TestOperators(t *testing.T) {
	cases := []struct {
		op    threat.RuleOperator
		field string
		value string
		want  bool
	}{
		{threat.OpEquals, "Phishing", "phishing", true},
		{threat.OpEquals, "phishing", "scam", false},
		{threat.OpContains, "paypal-verify.tk", "VERIFY", true},
		{threat.OpStartsWith, "paypal-verify.tk", "PayPal", true},
		{threat.OpEndsWith, "paypal-verify.tk", ".TK", true},
		{threat.OpRegex, "paypal-verify.tk", `\.(tk|ml)$`, true},
		{threat.OpRegex, "paypal-verify.com", `\.(tk|ml)$`, false},
		{threat.RuleOperator("unknown"), "x", "x", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, operatorMatches(c.op, c.field, c.value), "%s %q vs %q", c.op, c.field, c.value)
	}
}

func TestOperatorRegex_MalformedIsNonMatching(t *testing.T) {
	assert.False(t, operatorMatches(threat.OpRegex, "anything", "("))
}
