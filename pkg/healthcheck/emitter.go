// Package healthcheck sends liveness and per-event pings to an external
// health-check endpoint (hc-ping.com compatible), the HTTP boundary
// ObserverActor drives.
package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is used when an observer entity has no custom_url set.
const DefaultBaseURL = "https://hc-ping.com/"

// Emitter issues pings for one observer entity's base URL.
type Emitter struct {
	BaseURL string
	Client  *http.Client
}

// NewEmitter builds an Emitter for baseURL, falling back to DefaultBaseURL
// when baseURL is empty.
func NewEmitter(baseURL string) *Emitter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Emitter{BaseURL: baseURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Ping emits a GET (or, when body is non-empty, a POST carrying body) to
// <BaseURL><checkID><suffix>. suffix is "", "/start", or "/fail" per the
// observed stage.
func (e *Emitter) Ping(ctx context.Context, checkID uuid.UUID, suffix, body string) error {
	url := fmt.Sprintf("%s%s%s", e.BaseURL, checkID.String(), suffix)

	method := http.MethodGet
	var reader io.Reader
	if body != "" {
		method = http.MethodPost
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("healthcheck: build request: %w", err)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck: ping %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("healthcheck: ping %s: status %s", url, resp.Status)
	}
	return nil
}
