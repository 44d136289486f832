package task

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/swarmling/swarmling/internal/stats"
)

const maxBodyBytes = 10 << 20 // 10MB cap on response reads

// HTTPTask drives one weighted scenario endpoint. Clones share the prototype's
// http.Client; the recorder is per-clone state.
type HTTPTask struct {
	endpoint Endpoint
	client   *http.Client
	rec      *stats.Recorder
}

// NewHTTPTask builds a prototype for the given endpoint. A nil client gets a
// default with a 30s timeout.
func NewHTTPTask(ep Endpoint, client *http.Client) *HTTPTask {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTask{endpoint: ep, client: client}
}

func (t *HTTPTask) Name() string {
	if t.endpoint.Name != "" {
		return t.endpoint.Name
	}
	return t.endpoint.URL
}

func (t *HTTPTask) Weight() int { return t.endpoint.Weight }

func (t *HTTPTask) Clone() Task {
	return &HTTPTask{endpoint: t.endpoint, client: t.client}
}

func (t *HTTPTask) Initialize(rec *stats.Recorder) error {
	t.rec = rec
	return nil
}

func (t *HTTPTask) Dispose() error { return nil }

// Execute issues one request and records the outcome. Errors are reported
// through the recorder, so Execute itself returns nil for request failures.
func (t *HTTPTask) Execute(ctx context.Context) error {
	var body io.Reader
	if t.endpoint.Body != "" {
		body = strings.NewReader(t.endpoint.Body)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, t.endpoint.Method, t.endpoint.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range t.endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	elapsed := t.millis(start)
	if err != nil {
		t.rec.RecordFailure(t.endpoint.Method, t.Name(), elapsed, err.Error())
		return nil
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed = t.millis(start)
	if err != nil {
		t.rec.RecordFailure(t.endpoint.Method, t.Name(), elapsed, err.Error())
		return nil
	}

	if resp.StatusCode >= 400 {
		t.rec.RecordFailure(t.endpoint.Method, t.Name(), elapsed, resp.Status)
		return nil
	}

	if t.endpoint.Check != "" && !gjson.GetBytes(payload, t.endpoint.Check).Exists() {
		t.rec.RecordFailure(t.endpoint.Method, t.Name(), elapsed,
			fmt.Sprintf("check failed: %s", t.endpoint.Check))
		return nil
	}

	t.rec.RecordSuccess(t.endpoint.Method, t.Name(), elapsed, int64(len(payload)))
	return nil
}

func (t *HTTPTask) millis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
