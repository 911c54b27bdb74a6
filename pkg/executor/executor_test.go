package executor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/samvad-hq/samvad-request-runner/pkg/httpclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type stubResponse struct {
	status      int
	body        string
	contentType string
}

func (s stubResponse) Body() []byte    { return []byte(s.body) }
func (s stubResponse) StatusCode() int { return s.status }
func (s stubResponse) Header(name string) string {
	if http.CanonicalHeaderKey(name) == "Content-Type" {
		return s.contentType
	}
	return ""
}

// step is one scripted transport result.
type step struct {
	resp httpclient.Response
	err  error
}

type recordedCall struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

// scriptedTransport replays steps in order and repeats the last one.
type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	calls []recordedCall
	hook  func(call int)
}

func (s *scriptedTransport) Get(ctx context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	return s.Do(ctx, http.MethodGet, url, headers, nil)
}

func (s *scriptedTransport) Do(_ context.Context, method, url string, headers map[string]string, body []byte) (httpclient.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, recordedCall{method: method, url: url, headers: headers, body: body})
	n := len(s.calls)
	idx := n - 1
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	st := s.steps[idx]
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if st.err != nil {
		return nil, st.err
	}
	return st.resp, nil
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func jsonOK(status int, body string) step {
	return step{resp: stubResponse{status: status, body: body, contentType: "application/json"}}
}

func refused() step {
	return step{err: errors.New("dial tcp 127.0.0.1:1: connect: connection refused")}
}

func newTestExecutor(t *testing.T, cfg Config, transport httpclient.Client) *Executor {
	t.Helper()
	ex, err := New(cfg, transport, nil)
	require.NoError(t, err)
	return ex
}

func TestExecuteSucceedsAfterTransportErrors(t *testing.T) {
	transport := &scriptedTransport{steps: []step{refused(), refused(), jsonOK(200, `{"ok":true}`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 3}, transport)

	out, err := ex.Post(context.Background(), "https://api.example.com/items", map[string]any{"name": "x"}, nil)
	require.NoError(t, err)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, 200, out.StatusCode)
	v, ok := out.Body.JSON()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"ok": true}, v)
	assert.Equal(t, 3, transport.callCount())
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, KindTransportError, out.Attempts[0].Kind)
	assert.Equal(t, KindTransportError, out.Attempts[1].Kind)
	assert.Equal(t, KindSuccess, out.Attempts[2].Kind)
	assert.Equal(t, 3, out.Attempts[2].Seq)
}

func TestExecuteSucceedsOnNthAttempt(t *testing.T) {
	const maxAttempts = 5
	for n := 1; n <= maxAttempts; n++ {
		steps := make([]step, 0, n)
		for i := 1; i < n; i++ {
			steps = append(steps, refused())
		}
		steps = append(steps, jsonOK(200, `{"n":1}`))

		transport := &scriptedTransport{steps: steps}
		ex := newTestExecutor(t, Config{MaxAttempts: maxAttempts}, transport)

		out, err := ex.Get(context.Background(), "https://api.example.com/n", nil)
		require.NoError(t, err)
		assert.Equal(t, KindSuccess, out.Kind, "n=%d", n)
		assert.Equal(t, n, transport.callCount(), "n=%d", n)
		assert.Equal(t, n, out.AttemptCount(), "n=%d", n)
	}
}

func TestExecuteHTTPErrorDoesNotRetry(t *testing.T) {
	transport := &scriptedTransport{steps: []step{{resp: stubResponse{status: 404, body: "missing"}}}}
	ex := newTestExecutor(t, Config{MaxAttempts: 3}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/missing", nil)
	require.NoError(t, err)

	assert.Equal(t, KindHTTPError, out.Kind)
	assert.Equal(t, 404, out.StatusCode)
	assert.Contains(t, out.Message, "404 Not Found")
	assert.Contains(t, out.Message, "missing")
	assert.Equal(t, 1, transport.callCount())
}

func TestExecuteServerErrorDoesNotRetryByDefault(t *testing.T) {
	transport := &scriptedTransport{steps: []step{{resp: stubResponse{status: 503}}, jsonOK(200, `{}`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 5}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/busy", nil)
	require.NoError(t, err)
	assert.Equal(t, KindHTTPError, out.Kind)
	assert.Equal(t, 503, out.StatusCode)
	assert.Equal(t, 1, transport.callCount())
}

func TestExecuteTimeoutExhaustsAttempts(t *testing.T) {
	transport := &scriptedTransport{steps: []step{{err: timeoutError{}}}}
	ex := newTestExecutor(t, Config{MaxAttempts: 2}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/slow", nil)
	require.NoError(t, err)

	assert.Equal(t, KindTransportError, out.Kind)
	assert.Equal(t, FaultTimeout, out.Fault)
	assert.Equal(t, 2, transport.callCount())
	assert.Len(t, out.Attempts, 2)
}

func TestExecuteTransportErrorsNeverExceedMaxAttempts(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 5, 8} {
		transport := &scriptedTransport{steps: []step{refused()}}
		ex := newTestExecutor(t, Config{MaxAttempts: maxAttempts}, transport)

		out, err := ex.Get(context.Background(), "https://api.example.com/down", nil)
		require.NoError(t, err)
		assert.Equal(t, KindTransportError, out.Kind)
		assert.Equal(t, maxAttempts, transport.callCount())
	}
}

func TestExecuteDefaultsToFiveAttempts(t *testing.T) {
	transport := &scriptedTransport{steps: []step{refused()}}
	ex := newTestExecutor(t, Config{}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/down", nil)
	require.NoError(t, err)
	assert.Equal(t, KindTransportError, out.Kind)
	assert.Equal(t, DefaultMaxAttempts, transport.callCount())
}

func TestExecuteIsIndependentAcrossCalls(t *testing.T) {
	transport := &scriptedTransport{steps: []step{jsonOK(200, `{"ok":true}`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 3}, transport)
	req := Request{Method: MethodGet, URL: "https://api.example.com/ping"}

	first, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, KindSuccess, first.Kind)
	assert.Equal(t, KindSuccess, second.Kind)
	assert.Len(t, first.Attempts, 1)
	assert.Len(t, second.Attempts, 1)
	assert.Equal(t, 2, transport.callCount())
}

func TestExecuteAcceptsAny2xx(t *testing.T) {
	for _, status := range []int{200, 201, 202} {
		transport := &scriptedTransport{steps: []step{jsonOK(status, `{"id":7}`)}}
		ex := newTestExecutor(t, Config{MaxAttempts: 1}, transport)

		out, err := ex.Post(context.Background(), "https://api.example.com/items", map[string]any{"a": 1}, nil)
		require.NoError(t, err)
		assert.Equal(t, KindSuccess, out.Kind)
		assert.Equal(t, status, out.StatusCode)
	}
}

func TestExecuteDecodeFailureFailsClosed(t *testing.T) {
	transport := &scriptedTransport{steps: []step{jsonOK(200, `{"broken"`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 4}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/bad", nil)
	require.NoError(t, err)

	assert.Equal(t, KindTransportError, out.Kind)
	assert.Equal(t, FaultDecode, out.Fault)
	assert.Equal(t, 200, out.StatusCode)
	assert.Equal(t, 1, transport.callCount())
}

func TestExecuteFallsBackToTextBody(t *testing.T) {
	transport := &scriptedTransport{steps: []step{{resp: stubResponse{status: 200, body: "pong", contentType: "text/plain"}}}}
	ex := newTestExecutor(t, Config{MaxAttempts: 1}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/ping", nil)
	require.NoError(t, err)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.False(t, out.Body.IsJSON())
	assert.Equal(t, "pong", out.Body.Text())
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	cases := map[string]Request{
		"empty url":          {Method: MethodGet},
		"relative sans base": {Method: MethodGet, URL: "/items"},
		"body on get":        {Method: MethodGet, URL: "https://api.example.com", Body: map[string]any{"a": 1}},
		"unknown method":     {Method: "TRACE", URL: "https://api.example.com"},
		"unsupported scheme": {Method: MethodGet, URL: "ftp://api.example.com"},
		"unencodable body":   {Method: MethodPost, URL: "https://api.example.com", Body: func() {}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			transport := &scriptedTransport{steps: []step{jsonOK(200, `{}`)}}
			ex := newTestExecutor(t, Config{MaxAttempts: 3}, transport)

			_, err := ex.Execute(context.Background(), req)
			require.Error(t, err)
			assert.True(t, IsInvalidRequest(err))
			assert.Equal(t, 0, transport.callCount())
		})
	}
}

func TestExecuteJoinsBaseURLAndMergesHeaders(t *testing.T) {
	transport := &scriptedTransport{steps: []step{jsonOK(200, `{}`)}}
	ex := newTestExecutor(t, Config{
		MaxAttempts: 1,
		BaseURL:     "https://api.example.com/v1/",
		Headers:     map[string]string{"Authorization": "Bearer a", "x-trace": "default"},
	}, transport)

	_, err := ex.Post(context.Background(), "/users", map[string]any{"name": "ayse"}, map[string]string{"X-Trace": "override"})
	require.NoError(t, err)

	require.Equal(t, 1, transport.callCount())
	call := transport.calls[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "https://api.example.com/v1/users", call.url)
	assert.Equal(t, "Bearer a", call.headers["Authorization"])
	assert.Equal(t, "override", call.headers["X-Trace"])
	assert.Equal(t, "application/json", call.headers["Content-Type"])
	assert.JSONEq(t, `{"name":"ayse"}`, string(call.body))
}

func TestExecuteAbsoluteURLBypassesBase(t *testing.T) {
	transport := &scriptedTransport{steps: []step{jsonOK(200, `{}`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 1, BaseURL: "https://api.example.com"}, transport)

	_, err := ex.Delete(context.Background(), "https://other.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x", transport.calls[0].url)
}

func TestExecuteAppliesRetryDelayBetweenAttemptsOnly(t *testing.T) {
	transport := &scriptedTransport{steps: []step{refused(), refused(), jsonOK(200, `{}`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 3, RetryDelay: 250 * time.Millisecond}, transport)

	var sleeps []time.Duration
	ex.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	out, err := ex.Get(context.Background(), "https://api.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sleeps)
}

func TestExecuteStopsWhenContextCanceledBeforeFirstAttempt(t *testing.T) {
	transport := &scriptedTransport{steps: []step{jsonOK(200, `{}`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 3}, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := ex.Get(ctx, "https://api.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, KindTransportError, out.Kind)
	assert.Equal(t, FaultCanceled, out.Fault)
	assert.Equal(t, 0, transport.callCount())
}

func TestExecuteStopsAtAttemptBoundaryAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &scriptedTransport{
		steps: []step{refused()},
		hook: func(call int) {
			if call == 2 {
				cancel()
			}
		},
	}
	ex := newTestExecutor(t, Config{MaxAttempts: 5}, transport)

	out, err := ex.Get(ctx, "https://api.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, KindTransportError, out.Kind)
	assert.Equal(t, FaultCanceled, out.Fault)
	assert.Equal(t, 2, transport.callCount())
	assert.Len(t, out.Attempts, 2)
}

func TestExecuteRetryHTTPErrorsPolicy(t *testing.T) {
	transport := &scriptedTransport{steps: []step{
		{resp: stubResponse{status: 503}},
		{resp: stubResponse{status: 429}},
		jsonOK(200, `{"ok":true}`),
	}}
	ex := newTestExecutor(t, Config{MaxAttempts: 3, RetryHTTPErrors: true}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, 3, transport.callCount())

	clientErr := &scriptedTransport{steps: []step{{resp: stubResponse{status: 400}}}}
	ex = newTestExecutor(t, Config{MaxAttempts: 3, RetryHTTPErrors: true}, clientErr)
	out, err = ex.Get(context.Background(), "https://api.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, KindHTTPError, out.Kind)
	assert.Equal(t, 1, clientErr.callCount())
}

func TestRetryHTTPErrorsReturnsLastHTTPErrorWhenExhausted(t *testing.T) {
	transport := &scriptedTransport{steps: []step{{resp: stubResponse{status: 502}}}}
	ex := newTestExecutor(t, Config{MaxAttempts: 2, RetryHTTPErrors: true}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, KindHTTPError, out.Kind)
	assert.Equal(t, 502, out.StatusCode)
	assert.Equal(t, 2, transport.callCount())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{MaxAttempts: -1}, &scriptedTransport{}, nil)
	assert.Error(t, err)

	_, err = New(Config{RetryDelay: -time.Second}, &scriptedTransport{}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "not-a-url"}, &scriptedTransport{}, nil)
	assert.Error(t, err)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://a.example/v1/users", JoinURL("https://a.example/v1/", "/users"))
	assert.Equal(t, "https://a.example/v1/users", JoinURL("https://a.example/v1", "users"))
	assert.Equal(t, "https://a.example", JoinURL("https://a.example/", ""))
}

func TestVerbHelpersBuildRequests(t *testing.T) {
	transport := &scriptedTransport{steps: []step{jsonOK(200, `{"ok":true}`)}}
	ex := newTestExecutor(t, Config{BaseURL: "https://api.example.com/v1/"}, transport)
	ctx := context.Background()
	body := map[string]any{"name": "x"}
	hdr := map[string]string{"X-Trace": "t1"}

	calls := []func() (Outcome, error){
		func() (Outcome, error) { return ex.Get(ctx, "/items", hdr) },
		func() (Outcome, error) { return ex.Post(ctx, "/items", body, hdr) },
		func() (Outcome, error) { return ex.Put(ctx, "/items/1", body, hdr) },
		func() (Outcome, error) { return ex.Patch(ctx, "/items/1", body, hdr) },
		func() (Outcome, error) { return ex.Delete(ctx, "/items/1", hdr) },
	}
	for _, call := range calls {
		out, err := call()
		require.NoError(t, err)
		require.True(t, out.Success())
	}

	want := []struct {
		method string
		url    string
		body   bool
	}{
		{http.MethodGet, "https://api.example.com/v1/items", false},
		{http.MethodPost, "https://api.example.com/v1/items", true},
		{http.MethodPut, "https://api.example.com/v1/items/1", true},
		{http.MethodPatch, "https://api.example.com/v1/items/1", true},
		{http.MethodDelete, "https://api.example.com/v1/items/1", false},
	}
	require.Len(t, transport.calls, len(want))
	for i, w := range want {
		got := transport.calls[i]
		assert.Equal(t, w.method, got.method)
		assert.Equal(t, w.url, got.url)
		assert.Equal(t, "t1", got.headers["X-Trace"])
		if w.body {
			assert.JSONEq(t, `{"name":"x"}`, string(got.body))
			assert.Equal(t, "application/json", got.headers["Content-Type"])
		} else {
			assert.Empty(t, got.body)
		}
	}
}

func TestResolveURL(t *testing.T) {
	ex := newTestExecutor(t, Config{BaseURL: "https://api.example.com"}, &scriptedTransport{})
	got, err := ex.ResolveURL("/health")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/health", got)

	bare := newTestExecutor(t, Config{}, &scriptedTransport{})
	_, err = bare.ResolveURL("/health")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	got, err = bare.ResolveURL("https://other.example.com/ping")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/ping", got)
}

func TestExecuteHugeAttemptBudgetSucceedsFirstTry(t *testing.T) {
	transport := &scriptedTransport{steps: []step{jsonOK(200, `{}`)}}
	ex := newTestExecutor(t, Config{MaxAttempts: 1 << 30}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/ping", nil)
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.Equal(t, 1, out.AttemptCount())
	assert.LessOrEqual(t, cap(out.Attempts), preallocAttempts)
}
