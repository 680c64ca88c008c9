package webhooks

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lherron/redline/internal/domain"
)

const (
	defaultTimeout     = 500 * time.Millisecond
	defaultConcurrency = 4
)

// Payload is the webhook body for merge lifecycle events.
type Payload struct {
	Event          string             `json:"event"`
	MergeID        string             `json:"merge_id"`
	MergeUUID      string             `json:"merge_uuid"`
	Status         domain.MergeStatus `json:"status"`
	Strategy       string             `json:"strategy"`
	ConflictsCount int                `json:"conflicts_count"`
	ResolvedCount  int                `json:"resolved_count"`
	DocumentID     *string            `json:"document_id"`
	DocumentName   *string            `json:"document_name"`
	ETag           int64              `json:"etag"`
	Timestamp      time.Time          `json:"timestamp"`
}

// PayloadFor builds the payload for a stored session row.
func PayloadFor(event string, m *domain.MergeSession) Payload {
	return Payload{
		Event:          event,
		MergeID:        m.ID,
		MergeUUID:      m.UUID,
		Status:         m.Status,
		Strategy:       m.Strategy,
		ConflictsCount: m.ConflictsCount,
		ResolvedCount:  m.ResolvedCount,
		DocumentID:     m.DocumentID,
		DocumentName:   m.DocumentName,
		ETag:           m.ETag,
		Timestamp:      m.UpdatedAt,
	}
}

// Dispatcher posts payloads to a fixed set of configured URLs.
type Dispatcher struct {
	urls        []string
	client      *http.Client
	concurrency int
	log         *slog.Logger
}

// New creates a dispatcher. A nil logger uses slog.Default().
func New(urls []string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		urls:        urls,
		client:      &http.Client{Timeout: defaultTimeout},
		concurrency: defaultConcurrency,
		log:         logger,
	}
}

// Enabled reports whether any URL is configured
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.urls) > 0
}

// Targets templates, normalizes, and de-dupes the configured URLs.
func (d *Dispatcher) Targets(payload Payload) []string {
	if len(d.urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(d.urls))
	var normalized []string

	for _, raw := range d.urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		templated := strings.TrimSpace(applyTemplate(trimmed, payload))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidWebhookURL(templated) {
			d.log.Warn("webhooks: skipping invalid url", "url", templated)
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		normalized = append(normalized, templated)
	}

	return normalized
}

func applyTemplate(raw string, payload Payload) string {
	result := strings.ReplaceAll(raw, "{merge_id}", payload.MergeID)
	result = strings.ReplaceAll(result, "{event}", payload.Event)
	return result
}

func isValidWebhookURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// Dispatch sends payload to every target and waits for the sends to
// finish. Failures are logged, never returned.
func (d *Dispatcher) Dispatch(payload Payload) {
	if !d.Enabled() {
		return
	}
	urls := d.Targets(payload)
	if len(urls) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("webhooks: failed to encode payload", "error", err)
		return
	}

	workers := d.concurrency
	if len(urls) < workers {
		workers = len(urls)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				d.send(endpoint, body)
			}
		}()
	}

	for _, endpoint := range urls {
		jobs <- endpoint
	}
	close(jobs)
	wg.Wait()
}

func (d *Dispatcher) send(endpoint string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		d.log.Warn("webhooks: build request failed", "url", endpoint, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("webhooks: request failed", "url", endpoint, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.log.Warn("webhooks: non-success response", "url", endpoint, "status", resp.StatusCode)
	}
}
