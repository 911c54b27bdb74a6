// Package executor issues single logical HTTP operations with bounded retry
// and reports one terminal Outcome per call.
//
// Transport faults (connect, DNS, timeout) are retried up to MaxAttempts.
// HTTP-level failures end the call on first occurrence unless RetryHTTPErrors
// is set. Execute only returns an error for malformed requests.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-request-runner/pkg/httpclient"
)

const (
	DefaultMaxAttempts = 5
	DefaultTimeout     = 30 * time.Second

	// attempt history is grown on demand past this many entries.
	preallocAttempts = 16
)

// Config is fixed at construction.
type Config struct {
	MaxAttempts int
	BaseURL     string
	Timeout     time.Duration
	Headers     map[string]string
	RetryDelay  time.Duration

	// RetryHTTPErrors lets 5xx and 429 responses consume retry budget.
	RetryHTTPErrors bool
}

// Executor runs Requests against a transport.
type Executor struct {
	cfg       Config
	transport httpclient.Client
	log       Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New validates cfg and builds an Executor. A nil transport gets a resty client
// with the configured timeout; a nil logger discards output.
func New(cfg Config, transport httpclient.Client, log Logger) (*Executor, error) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative, got %s", cfg.RetryDelay)
	}
	cfg.Headers = mergeHeaders(cfg.Headers, nil)

	if transport == nil {
		transport = httpclient.NewRestyClient(cfg.Timeout)
	}
	if log == nil {
		log = noopLogger{}
	}

	e := &Executor{
		cfg:       cfg,
		transport: transport,
		log:       log,
		sleep:     sleepContext,
	}
	if cfg.BaseURL != "" {
		if _, err := e.resolveURL(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("base url: %w", err)
		}
	}
	return e, nil
}

// ResolveURL returns the absolute URL a request for endpoint would target.
// The error wraps ErrInvalidRequest when endpoint cannot be resolved.
func (e *Executor) ResolveURL(endpoint string) (string, error) {
	return e.resolveURL(endpoint)
}

// Execute runs req until a terminal outcome is reached. The returned error is
// non-nil only when req is malformed (wrapping ErrInvalidRequest).
//
// ctx is checked at attempt boundaries and bounds each transport call.
func (e *Executor) Execute(ctx context.Context, req Request) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := e.prepare(req)
	if err != nil {
		return Outcome{}, err
	}

	attempts := make([]Attempt, 0, min(e.cfg.MaxAttempts, preallocAttempts))
	var last Outcome

	for seq := 1; seq <= e.cfg.MaxAttempts; seq++ {
		if seq > 1 && e.cfg.RetryDelay > 0 {
			if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
				return canceled(attempts, err), nil
			}
		}
		if err := ctx.Err(); err != nil {
			return canceled(attempts, err), nil
		}

		attempt, out := e.attempt(ctx, seq, p)
		attempts = append(attempts, attempt)
		out.Attempts = attempts

		switch {
		case out.Kind == KindSuccess:
			e.log.DebugObj("request succeeded", "request_attempt", e.attemptFields(p, attempt))
			return out, nil
		case out.Kind == KindHTTPError && !(e.cfg.RetryHTTPErrors && retryableStatus(out.StatusCode)):
			e.log.WarnObj("request failed with http error", "request_attempt", e.attemptFields(p, attempt))
			return out, nil
		case out.Kind == KindTransportError && !out.Fault.Retryable():
			e.log.WarnObj("request failed", "request_attempt", e.attemptFields(p, attempt))
			return out, nil
		}

		last = out
		fields := e.attemptFields(p, attempt)
		fields["max_attempts"] = e.cfg.MaxAttempts
		if seq < e.cfg.MaxAttempts {
			e.log.WarnObj("request attempt failed; retrying", "request_attempt", fields)
		} else {
			e.log.ErrorObj("request attempts exhausted", "request_attempt", fields)
		}
	}

	return last, nil
}

// attempt performs one transport call and classifies its result.
func (e *Executor) attempt(ctx context.Context, seq int, p prepared) (Attempt, Outcome) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.transport.Do(attemptCtx, p.method, p.url, p.headers, p.body)
	elapsed := time.Since(start)

	if err != nil {
		fault := classifyFault(err)
		// Only the caller's context cancels; a per-attempt deadline is a timeout.
		switch {
		case ctx.Err() != nil:
			fault = FaultCanceled
		case fault == FaultCanceled:
			fault = FaultOther
		}
		return Attempt{Seq: seq, Kind: KindTransportError, Fault: fault, Err: err, Duration: elapsed},
			Outcome{Kind: KindTransportError, Fault: fault, Err: err, Message: err.Error()}
	}

	code := resp.StatusCode()
	if !isSuccessStatus(code) {
		msg := statusMessage(code, resp.Body())
		return Attempt{Seq: seq, Kind: KindHTTPError, StatusCode: code, Duration: elapsed},
			Outcome{Kind: KindHTTPError, StatusCode: code, Message: msg, Body: TextBody(string(resp.Body()))}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return Attempt{Seq: seq, Kind: KindTransportError, StatusCode: code, Fault: FaultDecode, Err: err, Duration: elapsed},
			Outcome{Kind: KindTransportError, StatusCode: code, Fault: FaultDecode, Err: err, Message: err.Error()}
	}

	return Attempt{Seq: seq, Kind: KindSuccess, StatusCode: code, Duration: elapsed},
		Outcome{Kind: KindSuccess, StatusCode: code, Body: body}
}

func (e *Executor) attemptFields(p prepared, a Attempt) map[string]any {
	fields := map[string]any{
		"method":      p.method,
		"url":         p.url,
		"attempt":     a.Seq,
		"outcome":     a.Kind.String(),
		"duration_ms": a.Duration.Milliseconds(),
	}
	if a.StatusCode != 0 {
		fields["status_code"] = a.StatusCode
	}
	if a.Fault != "" {
		fields["fault"] = string(a.Fault)
	}
	if a.Err != nil {
		fields["error"] = a.Err.Error()
	}
	return fields
}

func canceled(attempts []Attempt, err error) Outcome {
	if err == nil {
		err = context.Canceled
	}
	return Outcome{
		Kind:     KindTransportError,
		Fault:    FaultCanceled,
		Err:      err,
		Message:  fmt.Sprintf("request canceled after %d attempt(s): %v", len(attempts), err),
		Attempts: attempts,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Get issues a GET for endpoint.
func (e *Executor) Get(ctx context.Context, endpoint string, headers map[string]string) (Outcome, error) {
	return e.Execute(ctx, Request{Method: MethodGet, URL: endpoint, Headers: headers})
}

// Post issues a POST for endpoint with a JSON body.
func (e *Executor) Post(ctx context.Context, endpoint string, body any, headers map[string]string) (Outcome, error) {
	return e.Execute(ctx, Request{Method: MethodPost, URL: endpoint, Body: body, Headers: headers})
}

// Put issues a PUT for endpoint with a JSON body.
func (e *Executor) Put(ctx context.Context, endpoint string, body any, headers map[string]string) (Outcome, error) {
	return e.Execute(ctx, Request{Method: MethodPut, URL: endpoint, Body: body, Headers: headers})
}

// Patch issues a PATCH for endpoint with a JSON body.
func (e *Executor) Patch(ctx context.Context, endpoint string, body any, headers map[string]string) (Outcome, error) {
	return e.Execute(ctx, Request{Method: MethodPatch, URL: endpoint, Body: body, Headers: headers})
}

// Delete issues a DELETE for endpoint.
func (e *Executor) Delete(ctx context.Context, endpoint string, headers map[string]string) (Outcome, error) {
	return e.Execute(ctx, Request{Method: MethodDelete, URL: endpoint, Headers: headers})
}

// IsInvalidRequest reports whether err is a precondition failure from Execute.
func IsInvalidRequest(err error) bool { return errors.Is(err, ErrInvalidRequest) }
