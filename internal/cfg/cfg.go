package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds overwatch-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	SlackWebhookURL       string
	AuthTokens            string
	RiskHighThreshold     float64
	RiskCriticalThreshold float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.AuthTokens, "auth-tokens", "", "comma-separated API credentials as token=id:role")
	fs.Float64Var(&c.RiskHighThreshold, "risk-high-threshold", 0.6, "risk score at or above which an incident is high (0..1)")
	fs.Float64Var(&c.RiskCriticalThreshold, "risk-critical-threshold", 0.85, "risk score at or above which an incident is critical (0..1)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Threshold ordering mirrors the aggregator's own validation so a
	// bad deployment fails at startup, not at first assessment.
	if c.RiskHighThreshold <= 0 || c.RiskHighThreshold >= 1 {
		errs = append(errs, fmt.Errorf("invalid RISK_HIGH_THRESHOLD %g (must be in (0,1))", c.RiskHighThreshold))
	}
	if c.RiskCriticalThreshold <= 0 || c.RiskCriticalThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid RISK_CRITICAL_THRESHOLD %g (must be in (0,1])", c.RiskCriticalThreshold))
	}
	if c.RiskCriticalThreshold <= c.RiskHighThreshold {
		errs = append(errs, fmt.Errorf("RISK_CRITICAL_THRESHOLD %g must be greater than RISK_HIGH_THRESHOLD %g", c.RiskCriticalThreshold, c.RiskHighThreshold))
	}

	// Without credentials every API request would be rejected.
	if c.AuthTokens == "" {
		errs = append(errs, errors.New("AUTH_TOKENS is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
