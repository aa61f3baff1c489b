// Package webhook delivers the serialized Job to a configured URL on every
// status transition: a retry-until-accepted POST, fired and forgotten from
// the caller's perspective, re-enqueuing itself with exponential backoff on
// connection failure.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/livepeer/catalyst-render/config"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/log"
	"github.com/livepeer/catalyst-render/metrics"
)

// Payload mirrors spec.md §4.9's "serialized Job" webhook body.
type Payload struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Settings    interface{} `json:"settings,omitempty"`
	InputURL    string      `json:"input_url"`
	OutputURL   string      `json:"output_url"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	Progress    float64     `json:"progress"`
	ErrorOutput string      `json:"error,omitempty"`
}

func payloadFor(j *job.Job) Payload {
	return Payload{
		ID:        j.ID,
		Status:    string(j.Status),
		Settings:  j.Settings,
		InputURL:  j.InputURL,
		OutputURL: j.OutputURL,
		Progress:  j.Progress,
		StartTime: j.StartTime,
		EndTime:   j.EndTime,
	}
}

// Notifier POSTs a Job's serialized state to its configured WebhookURL.
// Every call is fire-and-forget: Notify spawns a goroutine and returns
// immediately, matching the original's "enqueued as a background task"
// semantics without requiring a task broker.
type Notifier struct {
	httpClient *http.Client
	backOff    func() backoff.BackOff
}

func New() *Notifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 0 // retries are driven by the re-enqueue backoff below, not the HTTP client
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	client.Logger = nil

	return &Notifier{
		httpClient: client.StandardClient(),
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = config.WebhookMaxBackoff
			b.MaxElapsedTime = 0 // retry until accepted
			return b
		},
	}
}

// Notify fires the webhook for j's current state. No-op if j has no
// WebhookURL configured.
func (n *Notifier) Notify(j *job.Job) {
	if j.WebhookURL == "" {
		return
	}
	payload := payloadFor(j)
	go n.deliver(j.WebhookURL, payload)
}

func (n *Notifier) deliver(url string, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			log.LogNoRequestID("panic in webhook delivery, recovering", "err", r, "trace", string(debug.Stack()))
		}
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		log.LogError(payload.ID, "failed to marshal webhook payload", err)
		return
	}

	host := hostOf(url)
	attempt := 0
	err = backoff.Retry(func() error {
		if attempt > 0 {
			metrics.Metrics.Webhook.RetryCount.WithLabelValues(host).Inc()
		}
		attempt++
		return n.post(url, body)
	}, n.backOff())
	if err != nil {
		log.LogError(payload.ID, "giving up on webhook delivery", err)
	}
}

func (n *Notifier) post(url string, body []byte) error {
	host := hostOf(url)
	start := time.Now()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		// connection error: re-enqueue with backoff, per spec.md §4.9
		metrics.Metrics.Webhook.FailureCount.WithLabelValues(host, "connection_error").Inc()
		return err
	}
	defer resp.Body.Close()

	metrics.Metrics.Webhook.RequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())

	if resp.StatusCode >= 500 {
		metrics.Metrics.Webhook.FailureCount.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
		return fmt.Errorf("webhook %q returned %d", url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		metrics.Metrics.Webhook.FailureCount.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
		return fmt.Errorf("webhook %q rejected with %d", url, resp.StatusCode)
	}
	return nil
}

// hostOf returns url's host for metric labels, falling back to the raw
// string if it doesn't parse as a URL.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
