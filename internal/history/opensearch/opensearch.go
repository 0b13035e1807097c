// Package opensearch indexes joblet history in OpenSearch or Elasticsearch
// over the REST document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/jobletd/internal/history"
)

// Sink writes one document per event. Documents are PUT under a
// deterministic id (<job id>-<event type>) so a retried Send overwrites
// instead of duplicating.
type Sink struct {
	client   *http.Client
	endpoint string // scheme://host[:port]/<index>/_doc
	user     *url.Userinfo
}

// document flattens an event for easier querying in dashboards.
type document struct {
	Timestamp    time.Time         `json:"@timestamp"`
	Event        history.EventType `json:"event"`
	JobID        string            `json:"job_id"`
	Name         string            `json:"name,omitempty"`
	Factory      string            `json:"factory"`
	PID          int               `json:"pid"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	Outcome      string            `json:"outcome,omitempty"`
	ErrorCode    int64             `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// New returns a sink for baseURL, which may carry user:password for basic
// auth. An empty index defaults to "joblet-history".
func New(baseURL, index string) (*Sink, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("opensearch: parse %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("opensearch: %q has no host", baseURL)
	}
	if index == "" {
		index = strings.ReplaceAll(history.DefaultTable, "_", "-")
	}
	user := u.User
	u.User = nil
	return &Sink{
		client:   &http.Client{Timeout: 5 * time.Second},
		endpoint: u.String() + "/" + url.PathEscape(strings.ToLower(index)) + "/_doc",
		user:     user,
	}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	doc := document{
		Timestamp:    e.OccurredAt,
		Event:        e.Type,
		JobID:        e.Record.ID,
		Name:         e.Record.Name,
		Factory:      e.Record.Factory,
		PID:          e.Record.PID,
		SubmittedAt:  e.Record.SubmittedAt,
		Outcome:      e.Record.Outcome,
		ErrorCode:    e.Record.ErrorCode,
		ErrorMessage: e.Record.ErrorMessage,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("opensearch: encode: %w", err)
	}
	method, target := http.MethodPost, s.endpoint
	if e.Record.ID != "" {
		method = http.MethodPut
		target += "/" + url.PathEscape(e.Record.ID+"-"+string(e.Type))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != nil {
		pass, _ := s.user.Password()
		req.SetBasicAuth(s.user.Username(), pass)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: index %s: status %d: %s", e.Record.ID, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
