package threat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].HigherThan(ordered[i-1]), "%s should rank above %s", ordered[i], ordered[i-1])
		assert.False(t, ordered[i-1].HigherThan(ordered[i]))
	}
	assert.Equal(t, -1, Severity("bogus").Rank())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusResolved.Terminal())
	assert.True(t, StatusFalsePositive.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusDisputed.Terminal())
}

func TestContentHash_IgnoresVolatileFields(t *testing.T) {
	a := ThreatRecord{
		Type:       TypePhishing,
		Target:     Target{Type: "url", Value: "paypal-verify.tk"},
		Indicators: []Indicator{{Type: "domain", Value: "paypal-verify.tk"}},
		Context:    Context{Title: "Verify your account"},
		Confidence: 90,
		Source:     Source{ID: "reporter-1"},
		Timeline:   Timeline{FirstSeen: time.Now()},
	}
	b := a
	b.Confidence = 10
	b.Source = Source{ID: "reporter-2"}
	b.Timeline = Timeline{FirstSeen: time.Now().Add(48 * time.Hour)}

	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash())
}

func TestContentHash_TitleNormalization(t *testing.T) {
	a := ThreatRecord{Type: TypeScam, Target: Target{Type: "url", Value: "x.io"}, Context: Context{Title: "  Verify YOUR Account "}}
	b := ThreatRecord{Type: TypeScam, Target: Target{Type: "url", Value: "x.io"}, Context: Context{Title: "verify your account"}}
	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash())
}

func TestContentHash_IndicatorOrderIndependent(t *testing.T) {
	a := ThreatRecord{
		Type:   TypeDrainer,
		Target: Target{Type: "wallet", Value: "0xabc"},
		Indicators: []Indicator{
			{Type: "address", Value: "0xabc"},
			{Type: "domain", Value: "drainer.xyz"},
		},
	}
	b := a
	b.Indicators = []Indicator{
		{Type: "domain", Value: "drainer.xyz"},
		{Type: "address", Value: "0xabc"},
	}
	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash())
}

func TestContentHash_SensitiveToIdentityFields(t *testing.T) {
	a := ThreatRecord{Type: TypePhishing, Target: Target{Type: "url", Value: "a.tk"}, Context: Context{Title: "t"}}
	b := a
	b.Target.Value = "b.tk"
	assert.NotEqual(t, a.ComputeContentHash(), b.ComputeContentHash())
}

func TestNormalize_Defaults(t *testing.T) {
	rec := ThreatRecord{Type: TypeScam, Target: Target{Type: "url", Value: "x.io"}}
	rec.Normalize()
	assert.Equal(t, SeverityMedium, rec.Severity)
	assert.Equal(t, StatusActive, rec.Status)
	assert.False(t, rec.Timeline.FirstSeen.IsZero())
	assert.Equal(t, rec.Timeline.FirstSeen, rec.Timeline.LastSeen)
	assert.NotEmpty(t, rec.ContentHash)
}

func TestValidate(t *testing.T) {
	rec := ThreatRecord{Type: TypeScam, Target: Target{Type: "url", Value: "x.io"}, Confidence: 50}
	assert.NoError(t, rec.Validate())

	missing := ThreatRecord{Target: Target{Value: "x"}}
	assert.Error(t, missing.Validate())

	noTarget := ThreatRecord{Type: TypeScam}
	assert.Error(t, noTarget.Validate())

	outOfRange := ThreatRecord{Type: TypeScam, Target: Target{Value: "x"}, Confidence: 101}
	assert.Error(t, outOfRange.Validate())
}

func TestAttributionEmpty(t *testing.T) {
	var nilAttr *Attribution
	assert.True(t, nilAttr.Empty())
	assert.True(t, (&Attribution{}).Empty())
	assert.False(t, (&Attribution{Actor: "x"}).Empty())
	assert.False(t, (&Attribution{Techniques: []string{"T1566"}}).Empty())
}
