// Package gateway is the single boundary for every call to the coaching API.
//
// Components above it only see Caller and *Error; transport details (HTTP,
// JSON, headers, retries) stay inside this package.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Caller issues one authenticated call. body, when non-nil, is sent as JSON;
// out, when non-nil, receives the decoded JSON response.
type Caller interface {
	Call(ctx context.Context, method, path string, body, out any) error
}

// CallerFunc adapts a function to Caller
type CallerFunc func(ctx context.Context, method, path string, body, out any) error

func (f CallerFunc) Call(ctx context.Context, method, path string, body, out any) error {
	return f(ctx, method, path, body, out)
}

// TokenSource supplies the bearer token attached to outbound calls
type TokenSource interface {
	Load() (string, bool)
}

// Kind classifies a failed call
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"    // session token missing, expired or rejected
	KindForbidden    Kind = "forbidden"       // authenticated but not entitled
	KindNotLinked    Kind = "notLinked"       // fitness account is not connected
	KindMFARequired  Kind = "mfaRequired"     // upstream dispatched a one-time code
	KindValidation   Kind = "validationError" // request rejected as invalid
	KindServer       Kind = "serverError"
	KindNetwork      Kind = "network" // transport failure or timeout
)

// Distinguished detail strings emitted by the coaching API
const (
	DetailMFARequired = "MFA_REQUIRED"
	DetailNotLinked   = "GARMIN_NOT_CONNECTED"
)

// Error is the failure result of a gateway call
type Error struct {
	Kind   Kind
	Status int    // HTTP status, 0 for transport failures
	Detail string // server supplied detail, or the transport error text
	Err    error  // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s (%d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a gateway error anywhere in err's chain, or "" if there is none
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// IsKind reports whether err carries a gateway error of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ClassifyResponse maps an HTTP status and body to a gateway error.
// It returns nil for 2xx statuses.
func ClassifyResponse(status int, body []byte) *Error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail := extractDetail(body)

	// Distinguished details win over the status they arrive with.
	switch strings.ToUpper(detail) {
	case DetailMFARequired:
		return &Error{Kind: KindMFARequired, Status: status, Detail: detail}
	case DetailNotLinked, "ACCOUNT_NOT_LINKED":
		return &Error{Kind: KindNotLinked, Status: status, Detail: detail}
	}

	var kind Kind
	switch {
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusConflict || status == http.StatusPreconditionRequired:
		kind = KindNotLinked
	case status == http.StatusTooManyRequests || status >= 500:
		kind = KindServer
	default:
		kind = KindValidation
	}
	return &Error{Kind: kind, Status: status, Detail: detail}
}

// Retryable reports whether a failure of this kind may succeed when repeated
func (k Kind) Retryable() bool {
	return k == KindServer || k == KindNetwork
}

// extractDetail pulls the FastAPI style {"detail": ...} out of an error body.
// Validation errors carry a list; its first message is used.
func extractDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	detail := gjson.GetBytes(body, "detail")
	switch {
	case !detail.Exists():
		return strings.TrimSpace(gjson.GetBytes(body, "message").String())
	case detail.IsArray():
		if msg := detail.Get("0.msg"); msg.Exists() {
			return msg.String()
		}
		return detail.Raw
	case detail.IsObject():
		return detail.Raw
	default:
		return detail.String()
	}
}
