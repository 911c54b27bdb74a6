package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samvad-hq/samvad-request-runner/pkg/httpclient"
)

func TestClassifyFault(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Fault
	}{
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), FaultTimeout},
		{"canceled", context.Canceled, FaultCanceled},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, FaultDNS},
		{"net timeout", timeoutError{}, FaultTimeout},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, FaultConnection},
		{"other", errors.New("boom"), FaultOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyFault(tc.err))
		})
	}
}

func TestDecodeBody(t *testing.T) {
	body, err := decodeBody(stubResponse{status: 200, body: `{"a":[1,2]}`, contentType: "application/problem+json"})
	require.NoError(t, err)
	assert.True(t, body.IsJSON())

	var decoded struct {
		A []int `json:"a"`
	}
	require.NoError(t, body.Decode(&decoded))
	assert.Equal(t, []int{1, 2}, decoded.A)

	body, err = decodeBody(stubResponse{status: 200, body: `[1]`})
	require.NoError(t, err)
	assert.True(t, body.IsJSON(), "undeclared but valid json is still parsed")

	body, err = decodeBody(stubResponse{status: 204})
	require.NoError(t, err)
	assert.False(t, body.IsJSON())
	assert.Equal(t, "", body.Text())

	_, err = decodeBody(stubResponse{status: 200, body: "<html>", contentType: "application/json; charset=utf-8"})
	assert.Error(t, err)
}

func TestValidateResponse(t *testing.T) {
	assert.NoError(t, ValidateResponse(Outcome{Kind: KindSuccess, Body: JSONBody(map[string]any{"ok": true})}))
	assert.NoError(t, ValidateResponse(Outcome{Kind: KindSuccess, Body: TextBody("fine")}))
	assert.Error(t, ValidateResponse(Outcome{Kind: KindSuccess, Body: JSONBody(map[string]any{"error": "denied"})}))
	assert.Error(t, ValidateResponse(Outcome{Kind: KindHTTPError, StatusCode: 500}))
}

func TestExecuteAgainstRestyTransport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/v1/ok":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"created":true}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ex, err := New(Config{MaxAttempts: 3, BaseURL: srv.URL + "/v1", Timeout: 2 * time.Second}, httpclient.NewRestyClient(2*time.Second), nil)
	require.NoError(t, err)

	out, err := ex.Post(context.Background(), "ok", map[string]any{"x": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, http.StatusCreated, out.StatusCode)

	out, err = ex.Get(context.Background(), "fail", nil)
	require.NoError(t, err)
	assert.Equal(t, KindHTTPError, out.Kind)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExecuteAgainstClosedServerRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ex, err := New(Config{MaxAttempts: 2, Timeout: time.Second}, nil, nil)
	require.NoError(t, err)

	out, err := ex.Get(context.Background(), url, nil)
	require.NoError(t, err)
	assert.Equal(t, KindTransportError, out.Kind)
	assert.Equal(t, FaultConnection, out.Fault)
	assert.Len(t, out.Attempts, 2)
}

func TestStatusMessageCutsOnRuneBoundary(t *testing.T) {
	transport := &scriptedTransport{steps: []step{{resp: stubResponse{
		status: http.StatusInternalServerError,
		body:   strings.Repeat("a", maxMessageSnippet-1) + "é",
	}}}}
	ex := newTestExecutor(t, Config{MaxAttempts: 1}, transport)

	out, err := ex.Get(context.Background(), "https://api.example.com/fail", nil)
	require.NoError(t, err)
	assert.Equal(t, KindHTTPError, out.Kind)
	assert.True(t, utf8.ValidString(out.Message), "message must stay valid utf-8")
	assert.Equal(t, "500 Internal Server Error: "+strings.Repeat("a", maxMessageSnippet-1), out.Message)
}
