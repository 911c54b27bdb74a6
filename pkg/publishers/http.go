package publishers

import (
	"context"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-request-runner/pkg/executor"
	"github.com/samvad-hq/samvad-request-runner/pkg/httpclient"
)

// httpPublisher delivers events to a webhook through the retrying executor.
type httpPublisher struct {
	id      string
	method  executor.Method
	url     string
	headers map[string]string
	exec    *executor.Executor
	typ     string
	log     Logger
}

func newHTTPPublisher(_ context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("publisher %q missing http configuration", cfg.ID)
	}

	timeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
	exec, err := executor.New(executor.Config{
		MaxAttempts: cfg.HTTP.MaxAttempts,
		Timeout:     timeout,
		Headers:     cfg.HTTP.Headers,
		RetryDelay:  time.Duration(cfg.HTTP.RetryDelayMs) * time.Millisecond,
	}, httpclient.NewRestyClient(timeout), log)
	if err != nil {
		return nil, fmt.Errorf("publisher %q: %w", cfg.ID, err)
	}

	return &httpPublisher{
		id:      cfg.ID,
		typ:     TypeHTTP,
		method:  executor.Method(cfg.HTTP.Method),
		url:     cfg.HTTP.URL,
		headers: cfg.HTTP.Headers,
		exec:    exec,
		log:     ensureLogger(log),
	}, nil
}

func (h *httpPublisher) ID() string   { return h.id }
func (h *httpPublisher) Type() string { return h.typ }
func (h *httpPublisher) Close() error { return nil }

func (h *httpPublisher) Publish(ctx context.Context, evt Event) error {
	out, err := h.exec.Execute(ctx, executor.Request{
		Method: h.method,
		URL:    h.url,
		Body:   evt,
	})
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	if !out.Success() {
		return fmt.Errorf("http delivery failed: %s", out)
	}
	h.log.DebugObj("http publisher delivered event", "publisher_http_delivery", map[string]any{
		"publisher_id": h.id,
		"event_id":     evt.ID,
		"status_code":  out.StatusCode,
		"attempts":     out.AttemptCount(),
	})
	return nil
}
