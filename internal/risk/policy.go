// Package risk provides risk-level to authentication action mapping
package risk

import (
	"sort"
)

// DecisionPolicy deterministically maps an aggregate risk level plus
// individual factors to the ordered set of authentication actions and
// human-readable recommendations the caller must apply.
type DecisionPolicy struct{}

// NewDecisionPolicy creates a decision policy
func NewDecisionPolicy() *DecisionPolicy {
	return &DecisionPolicy{}
}

// deviceRestrictThreshold: any device factor above this adds a read-only
// restriction regardless of overall level
const deviceRestrictThreshold = 0.7

// Decide returns the action set for a risk level, ordered by priority
// descending. The mapping always yields at least one action.
func (p *DecisionPolicy) Decide(level RiskLevel, factors []RiskFactor) []AuthAction {
	var actions []AuthAction

	switch level {
	case RiskLevelCritical:
		actions = append(actions,
			AuthAction{
				Type:        ActionBlock,
				Priority:    SeverityCritical,
				Description: "Block the authentication attempt",
			},
			AuthAction{
				Type:        ActionEscalate,
				Priority:    SeverityHigh,
				Description: "Escalate to the security team",
			},
			AuthAction{
				Type:        ActionInvestigate,
				Priority:    SeverityMedium,
				Description: "Open an investigation on the account",
			},
		)
	case RiskLevelHigh:
		actions = append(actions,
			AuthAction{
				Type:        ActionStepUp,
				Priority:    SeverityHigh,
				Description: "Require step-up authentication",
			},
			AuthAction{
				Type:        ActionVerifyBiometric,
				Priority:    SeverityHigh,
				Description: "Require biometric verification",
			},
		)
	case RiskLevelMedium:
		actions = append(actions, AuthAction{
			Type:        ActionMFA,
			Priority:    SeverityMedium,
			Description: "Require multi-factor authentication",
		})
	default:
		actions = append(actions, AuthAction{
			Type:        ActionMonitor,
			Priority:    SeverityLow,
			Description: "Allow and monitor the session",
		})
	}

	for _, f := range factors {
		if f.Type == FactorDevice && f.Value > deviceRestrictThreshold {
			actions = append(actions, AuthAction{
				Type:        ActionRestrict,
				Priority:    SeverityMedium,
				Description: "Restrict the session to read-only access",
				Parameters:  map[string]string{"mode": "read_only", "reason": "device_risk"},
			})
			break
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority.rank() > actions[j].Priority.rank()
	})

	return actions
}

// Recommend returns human-readable recommendations for the auditable
// rationale attached to the risk profile.
func (p *DecisionPolicy) Recommend(level RiskLevel, matches []ThreatMatch, anomalies []BehavioralAnomaly) []string {
	var recs []string

	switch level {
	case RiskLevelLow:
		recs = append(recs, "Allow normal authentication flow")
	case RiskLevelMedium:
		recs = append(recs, "Require additional verification")
		recs = append(recs, "Notify user of unusual login")
	case RiskLevelHigh:
		recs = append(recs, "Require step-up authentication")
		recs = append(recs, "Limit session duration")
		recs = append(recs, "Send security alert to user")
	case RiskLevelCritical:
		recs = append(recs, "Block authentication attempt")
		recs = append(recs, "Escalate to security team")
		recs = append(recs, "Temporarily lock account")
	}

	for _, a := range anomalies {
		if a.Type == AnomalyImpossibleTravel {
			recs = append(recs, "Verify user identity through out-of-band channel")
			break
		}
	}
	for _, m := range matches {
		if m.Indicator.Type == IndicatorIP || m.Indicator.Type == IndicatorIPRange {
			recs = append(recs, "Consider blocking the source IP address")
			break
		}
	}

	return recs
}
