// Package alert implements the threshold-alert wire contract (spec
// section 6): severity-tagged notifications posted to one or more
// configured webhook transports.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/infrastructure/resilience"
)

// webhookTimeout bounds every outbound alert POST, per spec section 5's
// timeout table.
const webhookTimeout = 10 * time.Second

// payload is the threshold alert wire contract.
type payload struct {
	Severity    string      `json:"severity"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	Metric      string      `json:"metric,omitempty"`
	ActualValue interface{} `json:"actualValue,omitempty"`
	Threshold   interface{} `json:"threshold,omitempty"`
}

// Transport posts one alert to a single configured destination (generic
// webhook, Slack, PagerDuty).
type Transport struct {
	name       string
	url        string
	httpClient *http.Client
	build      func(payload) ([]byte, error)
}

// NewGenericWebhook posts the payload verbatim as JSON to url.
func NewGenericWebhook(url string) *Transport {
	return &Transport{
		name:       "webhook",
		url:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
		build:      func(p payload) ([]byte, error) { return json.Marshal(p) },
	}
}

// NewSlackWebhook wraps the payload in Slack's {"text": "..."} envelope.
func NewSlackWebhook(url string) *Transport {
	return &Transport{
		name:       "slack",
		url:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
		build: func(p payload) ([]byte, error) {
			return json.Marshal(map[string]string{
				"text": "[" + p.Severity + "] " + p.Title + "\n" + p.Body,
			})
		},
	}
}

// NewPagerDutyEventsV2 wraps the payload in PagerDuty's Events API v2
// trigger envelope, keyed by routingKey.
func NewPagerDutyEventsV2(routingKey string) *Transport {
	return &Transport{
		name:       "pagerduty",
		url:        "https://events.pagerduty.com/v2/enqueue",
		httpClient: &http.Client{Timeout: webhookTimeout},
		build: func(p payload) ([]byte, error) {
			return json.Marshal(map[string]interface{}{
				"routing_key":  routingKey,
				"event_action": "trigger",
				"payload": map[string]interface{}{
					"summary":  p.Title,
					"source":   "opsplane",
					"severity": pagerDutySeverity(p.Severity),
					"custom_details": map[string]interface{}{
						"body": p.Body, "metric": p.Metric, "actualValue": p.ActualValue, "threshold": p.Threshold,
					},
				},
			})
		},
	}
}

func pagerDutySeverity(severity string) string {
	switch severity {
	case "CRITICAL":
		return "critical"
	case "HIGH":
		return "error"
	case "MEDIUM":
		return "warning"
	default:
		return "info"
	}
}

// webhookRetryConfig retries a delivery attempt up to 3 times through
// resilience.Retry, the cenkalti/backoff/v4-backed exponential-backoff
// helper, since transport failures here (connection reset, 5xx) are
// exactly the transient class backoff is for.
func webhookRetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 3
	return cfg
}

func (t *Transport) post(ctx context.Context, p payload) error {
	body, err := t.build(p)
	if err != nil {
		return err
	}

	return resilience.Retry(ctx, webhookRetryConfig(), func() error {
		return t.attempt(ctx, body)
	})
}

// attempt performs one delivery POST, bounded by webhookTimeout
// independent of the overall retry budget.
func (t *Transport) attempt(ctx context.Context, body []byte) error {
	cctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook transport %s: status %d", t.name, resp.StatusCode)
	}
	return nil
}

// Dispatcher fans a threshold alert out to every configured transport,
// satisfying the incident.Alerter / health.Scorer-alert / deploygate
// interfaces with one shared implementation. A transport failure is
// logged, not propagated, since alert delivery is best-effort and must
// never block the caller's own state transition.
type Dispatcher struct {
	transports []*Transport
	logger     *logging.Logger
}

// NewDispatcher constructs a dispatcher posting to every non-nil transport.
func NewDispatcher(logger *logging.Logger, transports ...*Transport) *Dispatcher {
	filtered := make([]*Transport, 0, len(transports))
	for _, t := range transports {
		if t != nil {
			filtered = append(filtered, t)
		}
	}
	return &Dispatcher{transports: filtered, logger: logger}
}

// Alert implements incident.Alerter (and is reused directly by
// health.Scorer, perf.Predictor, security, and deploygate, all of which
// only need the same narrow interface).
func (d *Dispatcher) Alert(ctx context.Context, severity, title, body string, fields map[string]interface{}) {
	p := payload{Severity: severity, Title: title, Body: body}
	if fields != nil {
		if m, ok := fields["metric"].(string); ok {
			p.Metric = m
		}
		p.ActualValue = fields["actualValue"]
		p.Threshold = fields["threshold"]
	}

	for _, t := range d.transports {
		if err := t.post(ctx, p); err != nil {
			d.logger.Error(ctx, "alert transport delivery failed", err, map[string]interface{}{"transport": t.name})
		}
	}
}
