package pattern

import "threatmesh/pkg/threat"

// DefaultPatterns is the shipped detection library. Administrators extend or
// replace these through the pattern store; the definitions here are seeded
// on service start.
func DefaultPatterns() []*threat.ThreatPattern {
	return []*threat.ThreatPattern{
		{
			PatternID: "phishing_url_pattern",
			Name:      "Phishing URL with brand impersonation",
			Indicators: []threat.PatternRule{
				{Field: "target.value", Operator: threat.OpRegex, Value: `(?i)(paypal|binance|coinbase|metamask|opensea|wallet|airdrop)`, Weight: 0.4},
				{Field: "target.value", Operator: threat.OpRegex, Value: `\.(tk|ml|ga|cf|gq|top|xyz)$`, Weight: 0.3},
				{Field: "context.title", Operator: threat.OpContains, Value: "verify", Weight: 0.3},
			},
			Threshold: 0.7,
			Actions: []threat.PatternAction{
				{Type: threat.ActionIncreaseSeverity, Parameters: map[string]string{"target_severity": string(threat.SeverityHigh)}},
				{Type: threat.ActionAddTag, Parameters: map[string]string{"tag": "phishing_suspected"}},
			},
			IsActive: true,
		},
		{
			PatternID: "drainer_wallet_pattern",
			Name:      "Wallet drainer report",
			Indicators: []threat.PatternRule{
				{Field: "type", Operator: threat.OpEquals, Value: string(threat.TypeDrainer), Weight: 0.5},
				{Field: "target.type", Operator: threat.OpEquals, Value: "wallet", Weight: 0.3},
				{Field: "context.tags", Operator: threat.OpContains, Value: "drainer", Weight: 0.2},
			},
			Threshold: 0.6,
			Actions: []threat.PatternAction{
				{Type: threat.ActionAddTag, Parameters: map[string]string{"tag": "wallet_drainer"}},
				{Type: threat.ActionCorrelate, Parameters: map[string]string{"field": "target"}},
				{Type: threat.ActionNotify, Parameters: map[string]string{"event": "threat.drainer_detected"}},
			},
			IsActive: true,
		},
		{
			PatternID: "rugpull_contract_pattern",
			Name:      "Rugpull contract report",
			Indicators: []threat.PatternRule{
				{Field: "type", Operator: threat.OpEquals, Value: string(threat.TypeRugpull), Weight: 0.4},
				{Field: "target.type", Operator: threat.OpEquals, Value: "contract", Weight: 0.3},
				{Field: "context.description", Operator: threat.OpContains, Value: "liquidity", Weight: 0.3},
			},
			Threshold: 0.7,
			Actions: []threat.PatternAction{
				{Type: threat.ActionIncreaseSeverity, Parameters: map[string]string{"target_severity": string(threat.SeverityCritical)}},
				{Type: threat.ActionAddTag, Parameters: map[string]string{"tag": "rugpull_suspected"}},
				{Type: threat.ActionNotify, Parameters: map[string]string{"event": "threat.rugpull_detected"}},
			},
			IsActive: true,
		},
		{
			PatternID: "unverified_low_reliability_pattern",
			Name:      "Auto-close untrusted low-confidence reports",
			Indicators: []threat.PatternRule{
				{Field: "source.type", Operator: threat.OpEquals, Value: "anonymous", Weight: 0.6},
				{Field: "context.tags", Operator: threat.OpContains, Value: "unverified", Weight: 0.4},
			},
			Threshold: 1.0,
			Actions: []threat.PatternAction{
				{Type: threat.ActionAutoResolve},
			},
			IsActive: true,
		},
	}
}
