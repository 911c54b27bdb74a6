package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrInvalidRequest marks a malformed Request. Such requests never reach the transport.
var ErrInvalidRequest = errors.New("invalid request")

// Method is an HTTP verb accepted by the executor.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// Request describes one logical HTTP operation.
type Request struct {
	Method  Method
	URL     string
	Body    any
	Headers map[string]string
}

// allowsBody reports whether the method may carry a request body.
func (m Method) allowsBody() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch:
		return true
	default:
		return false
	}
}

func (m Method) valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	default:
		return false
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// prepared is a validated request ready for the transport.
type prepared struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

func (e *Executor) prepare(req Request) (prepared, error) {
	method := Method(strings.ToUpper(strings.TrimSpace(string(req.Method))))
	if method == "" {
		method = MethodGet
	}
	if !method.valid() {
		return prepared{}, invalid("unsupported method %q", req.Method)
	}
	if req.Body != nil && !method.allowsBody() {
		return prepared{}, invalid("%s request must not carry a body", method)
	}

	target, err := e.resolveURL(req.URL)
	if err != nil {
		return prepared{}, err
	}

	var body []byte
	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			body = b
		case json.RawMessage:
			body = b
		default:
			body, err = json.Marshal(b)
			if err != nil {
				return prepared{}, invalid("encode body: %v", err)
			}
		}
	}

	headers := mergeHeaders(e.cfg.Headers, req.Headers)
	if body != nil && !hasHeader(headers, "Content-Type") {
		headers["Content-Type"] = "application/json"
	}

	return prepared{
		method:  string(method),
		url:     target,
		headers: headers,
		body:    body,
	}, nil
}

// resolveURL joins relative endpoints onto the base URL and checks the result is absolute.
func (e *Executor) resolveURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("url is required")
	}

	if !isAbsolute(raw) {
		if e.cfg.BaseURL == "" {
			return "", invalid("url %q is not absolute and no base url is configured", raw)
		}
		raw = JoinURL(e.cfg.BaseURL, raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", invalid("parse url %q: %v", raw, err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", invalid("url %q must be an absolute http(s) url", raw)
	}
	return u.String(), nil
}

// JoinURL joins base and endpoint with exactly one slash between them.
func JoinURL(base, endpoint string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	endpoint = strings.TrimLeft(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return base
	}
	return base + "/" + endpoint
}

func isAbsolute(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// mergeHeaders copies defaults then overrides; keys and values are trimmed and empty entries dropped.
func mergeHeaders(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for _, src := range []map[string]string{defaults, overrides} {
		for k, v := range src {
			key := http.CanonicalHeaderKey(strings.TrimSpace(k))
			val := strings.TrimSpace(v)
			if key == "" || val == "" {
				continue
			}
			out[key] = val
		}
	}
	return out
}

func hasHeader(headers map[string]string, name string) bool {
	_, ok := headers[http.CanonicalHeaderKey(name)]
	return ok
}
