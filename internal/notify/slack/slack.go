// Package slack sends high-severity triage outcomes to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/triage"
)

const (
	maxInputLen = 2000
	httpTimeout = 10 * time.Second
)

// Notifier posts triage outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
	now        func() time.Time
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
		now:        time.Now,
	}
}

// Send posts o to the configured webhook.
func (n *Notifier) Send(ctx context.Context, o *triage.Outcome) error {
	if n.webhookURL == "" || o == nil {
		return nil
	}

	body, err := json.Marshal(buildMessage(o, n.now()))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "directive", o.PlanDirective, "rule_id", o.RuleID())
	return nil
}

func buildMessage(o *triage.Outcome, at time.Time) map[string]any {
	return map[string]any{
		"text": o.Summary(),
		"blocks": []map[string]any{
			headerBlock(o),
			{"type": "divider"},
			fieldsBlock(o),
			{"type": "divider"},
			inputBlock(o),
			contextBlock(o, at),
		},
	}
}

func headerBlock(o *triage.Outcome) map[string]any {
	emoji := "\U0001f7e2" // green circle
	if o.HighSeverity() {
		emoji = "\U0001f534" // red circle
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", emoji, o.PlanDirective),
		},
	}
}

func fieldsBlock(o *triage.Outcome) map[string]any {
	p := o.PolicySnapshot
	field := func(format string, args ...any) map[string]any {
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(format, args...)}
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("*Zscaler:* %s", p.ZscalerStatus),
			field("*Meraki:* %s", p.MerakiNetworkHealth),
			field("*CrowdStrike endpoints:* %d", p.CrowdstrikeEndpointCount),
			field("*Quarantined emails:* %d", p.ProofpointQuarantinedEmails),
			field("*Open Jira tickets:* %d", p.JiraOpenTickets),
			field("*Rule written:* %s", o.RuleID()),
		},
	}
}

func inputBlock(o *triage.Outcome) map[string]any {
	text := truncate(o.TaskInput, maxInputLen)
	if text == "" {
		text = "_empty_"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Task input*\n```%s```", text),
		},
	}
}

func contextBlock(o *triage.Outcome, at time.Time) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("warden • rule %s • %s", o.RuleID(), at.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
