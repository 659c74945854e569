// Package risk computes composite risk assessments from producer-supplied
// factor scores and decides whether an incident requires human review.
package risk

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/overwatch/internal/entity"
)

// Factor weights. Behavioral is weighted highest: movement and intent
// signals are the strongest evidence that something is actually wrong.
const (
	WeightTemporal   = 0.2
	WeightSpatial    = 0.3
	WeightBehavioral = 0.35
	WeightContextual = 0.15
)

// Default level thresholds. Both are overridable via Config.
const (
	DefaultHighThreshold     = 0.6
	DefaultCriticalThreshold = 0.85

	mediumThreshold = 0.3
)

// Config holds the serving thresholds for level classification.
type Config struct {
	HighThreshold     float64
	CriticalThreshold float64
}

// Validate checks the threshold ordering. A violation is a configuration
// error, never a runtime one.
func (c Config) Validate() error {
	if c.HighThreshold <= 0 || c.HighThreshold >= 1 {
		return fmt.Errorf("invalid high threshold %v (must be in (0,1))", c.HighThreshold)
	}
	if c.CriticalThreshold <= 0 || c.CriticalThreshold >= 1 {
		return fmt.Errorf("invalid critical threshold %v (must be in (0,1))", c.CriticalThreshold)
	}
	if c.HighThreshold >= c.CriticalThreshold {
		return fmt.Errorf("high threshold %v must be below critical threshold %v", c.HighThreshold, c.CriticalThreshold)
	}
	return nil
}

// Aggregator scores risk factors into an assessment.
type Aggregator struct {
	cfg Config
	now func() time.Time
}

// New creates an Aggregator with validated thresholds.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{cfg: cfg, now: time.Now}, nil
}

// Assess combines the four factors into a clamped weighted score, derives
// the level and recommended action, and stamps the assessment.
func (a *Aggregator) Assess(factors entity.RiskFactors, confidence float64) entity.RiskAssessment {
	score := WeightTemporal*factors.Temporal +
		WeightSpatial*factors.Spatial +
		WeightBehavioral*factors.Behavioral +
		WeightContextual*factors.Contextual
	score = clamp(score)

	level := a.Level(score)

	return entity.RiskAssessment{
		RiskScore:         score,
		RiskLevel:         level,
		Factors:           factors,
		RecommendedAction: RecommendedAction(level),
		Confidence:        clamp(confidence),
		Timestamp:         a.now().UTC(),
	}
}

// Level maps a score onto the four-tier classification. It is monotonic
// in the score.
func (a *Aggregator) Level(score float64) entity.RiskLevel {
	switch {
	case score >= a.cfg.CriticalThreshold:
		return entity.RiskCritical
	case score >= a.cfg.HighThreshold:
		return entity.RiskHigh
	case score >= mediumThreshold:
		return entity.RiskMedium
	default:
		return entity.RiskLow
	}
}

// RequiresHumanReview reports whether the level gates on human review.
// It is asserted for high and critical and never cleared automatically.
func RequiresHumanReview(level entity.RiskLevel) bool {
	return level == entity.RiskHigh || level == entity.RiskCritical
}

// RecommendedAction returns the operator guidance for a risk level.
func RecommendedAction(level entity.RiskLevel) string {
	switch level {
	case entity.RiskCritical:
		return "Immediate human response"
	case entity.RiskHigh:
		return "Supervisor review"
	case entity.RiskMedium:
		return "Operator notification"
	default:
		return "Log only"
	}
}

// SeverityFor maps a risk level onto the alert/incident severity scale.
func SeverityFor(level entity.RiskLevel) entity.Severity {
	switch level {
	case entity.RiskCritical:
		return entity.SeverityCritical
	case entity.RiskHigh:
		return entity.SeverityHigh
	case entity.RiskMedium:
		return entity.SeverityMedium
	default:
		return entity.SeverityLow
	}
}

// ReasonCodes derives explainable reason codes for factors above the
// contribution threshold.
func ReasonCodes(factors entity.RiskFactors) []string {
	var codes []string
	if factors.Behavioral > 0.5 {
		codes = append(codes, "BEHAVIORAL_ANOMALY")
	}
	if factors.Spatial > 0.5 {
		codes = append(codes, "HIGH_RISK_LOCATION")
	}
	if factors.Temporal > 0.5 {
		codes = append(codes, "HIGH_RISK_TIME")
	}
	if factors.Contextual > 0.5 {
		codes = append(codes, "ADVERSE_CONDITIONS")
	}
	return codes
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
