package risk

import "github.com/nesthaus/riskengine/internal/domain"

// Recommendation texts, in the order they can appear.
const (
	RecAdditionalVerification = "consider implementing additional verification steps"
	RecMonitorClosely         = "monitor session closely for continued suspicious activity"
	RecCaptcha                = "implement CAPTCHA or similar bot verification"
	RecRateLimit              = "consider rate limiting for this session"
	RecReviewPatterns         = "review behavioral patterns for automation indicators"
	RecProgressiveDelays      = "consider implementing progressive delays"
	RecInvestigateCritical    = "investigate critical security events immediately"
	RecAccessRestrictions     = "consider temporary access restrictions"
	RecContinueMonitoring     = "continue normal monitoring"
	RecNoAction               = "no immediate action required"
)

const (
	botProbabilityForCaptcha = 0.7
	anomaliesForReview       = 3
)

// Recommendations derives operator guidance from an assessment's inputs.
func Recommendations(level domain.RiskLevel, a domain.BehaviorAnalysis, events []domain.SecurityEvent) []string {
	var recs []string
	if level == domain.RiskHigh || level == domain.RiskCritical {
		recs = append(recs, RecAdditionalVerification, RecMonitorClosely)
	}
	if a.BotProbability > botProbabilityForCaptcha {
		recs = append(recs, RecCaptcha, RecRateLimit)
	}
	if len(a.Anomalies) > anomaliesForReview {
		recs = append(recs, RecReviewPatterns, RecProgressiveDelays)
	}
	for _, e := range events {
		if e.Severity == domain.SeverityCritical {
			recs = append(recs, RecInvestigateCritical, RecAccessRestrictions)
			break
		}
	}
	if len(recs) == 0 {
		return []string{RecContinueMonitoring, RecNoAction}
	}
	return recs
}
