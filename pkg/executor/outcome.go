package executor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the terminal result of an Execute call.
type Kind int

const (
	KindSuccess Kind = iota + 1
	KindHTTPError
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindHTTPError:
		return "http_error"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Fault narrows a transport error.
type Fault string

const (
	FaultConnection Fault = "connection"
	FaultDNS        Fault = "dns"
	FaultTimeout    Fault = "timeout"
	FaultDecode     Fault = "decode"
	FaultCanceled   Fault = "canceled"
	FaultOther      Fault = "other"
)

// Retryable reports whether another attempt may follow this fault.
func (f Fault) Retryable() bool {
	switch f {
	case FaultDecode, FaultCanceled:
		return false
	default:
		return true
	}
}

// Body is either a decoded JSON value or raw text.
type Body struct {
	json   any
	text   string
	isJSON bool
}

// JSONBody wraps a decoded JSON value.
func JSONBody(v any) Body { return Body{json: v, isJSON: true} }

// TextBody wraps a raw text payload.
func TextBody(s string) Body { return Body{text: s} }

func (b Body) IsJSON() bool { return b.isJSON }

// JSON returns the decoded value; ok is false for text bodies.
func (b Body) JSON() (any, bool) { return b.json, b.isJSON }

// Text returns the raw payload for text bodies, or the re-encoded value for JSON bodies.
func (b Body) Text() string {
	if !b.isJSON {
		return b.text
	}
	raw, err := json.Marshal(b.json)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Decode re-encodes a JSON body into v.
func (b Body) Decode(v any) error {
	if !b.isJSON {
		return fmt.Errorf("body is text, not json")
	}
	raw, err := json.Marshal(b.json)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// Attempt records one transport invocation.
type Attempt struct {
	Seq        int
	Kind       Kind
	StatusCode int
	Fault      Fault
	Err        error
	Duration   time.Duration
}

// Outcome is the single terminal result of Execute.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Body       Body
	Message    string
	Fault      Fault
	Err        error
	Attempts   []Attempt
}

func (o Outcome) Success() bool { return o.Kind == KindSuccess }

// AttemptCount returns the number of transport invocations made.
func (o Outcome) AttemptCount() int { return len(o.Attempts) }

func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("success status=%d attempts=%d", o.StatusCode, len(o.Attempts))
	case KindHTTPError:
		return fmt.Sprintf("http error status=%d attempts=%d: %s", o.StatusCode, len(o.Attempts), o.Message)
	case KindTransportError:
		return fmt.Sprintf("transport error fault=%s attempts=%d: %s", o.Fault, len(o.Attempts), o.Message)
	default:
		return "unknown outcome"
	}
}
