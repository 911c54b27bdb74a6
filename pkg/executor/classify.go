package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/samvad-hq/samvad-request-runner/pkg/httpclient"
)

const maxMessageSnippet = 512

// classifyFault maps a transport error onto a Fault.
func classifyFault(err error) Fault {
	if err == nil {
		return FaultOther
	}
	if errors.Is(err, context.Canceled) {
		return FaultCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FaultTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FaultDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FaultTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return FaultConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FaultConnection
	}

	return FaultOther
}

func isSuccessStatus(code int) bool { return code >= 200 && code < 300 }

// retryableStatus lists statuses that may consume retry budget when RetryHTTPErrors is set.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func statusMessage(code int, body []byte) string {
	msg := fmt.Sprintf("%d %s", code, http.StatusText(code))
	if snippet := bodySnippet(body); snippet != "" {
		msg += ": " + snippet
	}
	return msg
}

func bodySnippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > maxMessageSnippet {
		n := maxMessageSnippet
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n]
	}
	return strings.TrimSpace(string(body))
}

// decodeBody parses declared JSON strictly; other content types fall back to text.
func decodeBody(resp httpclient.Response) (Body, error) {
	raw := resp.Body()
	declared := isJSONContentType(resp.Header("Content-Type"))

	if len(strings.TrimSpace(string(raw))) == 0 {
		if declared && len(raw) > 0 {
			return Body{}, fmt.Errorf("decode json body: empty payload")
		}
		return TextBody(string(raw)), nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		if declared {
			return Body{}, fmt.Errorf("decode json body: %w", err)
		}
		return TextBody(string(raw)), nil
	}
	return JSONBody(v), nil
}

func isJSONContentType(ct string) bool {
	if strings.TrimSpace(ct) == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
