package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Config holds the warden application settings. Platform settings (logging,
// tracing, listeners) live in their own go-core configs.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	KVPath                string
	DatabaseURL           string
	SlackWebhookURL       string
	AgentID               string
}

// RegisterFlags binds Config fields to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.KVPath, "kv-path", "", "SQLite file backing the knowledge base (empty = in-memory store)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the fact log (empty = in-memory log)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for high-severity notifications")
	fs.StringVar(&c.AgentID, "agent-id", "CybersecurityAgent", "agent id stamped on recorded facts")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if strings.TrimSpace(c.AgentID) == "" {
		errs = append(errs, errors.New("AGENT_ID is required"))
	}

	if c.DatabaseURL != "" {
		if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errs = append(errs, errors.New("DATABASE_URL must be a postgres:// or postgresql:// URL"))
		}
	}

	if c.SlackWebhookURL != "" {
		if u, err := url.Parse(c.SlackWebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an https URL"))
		}
	}

	return errors.Join(errs...)
}
