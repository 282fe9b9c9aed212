package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

// vendorMessagePaths lists where the supported vendors put a human-readable
// error message in their JSON error bodies.
var vendorMessagePaths = []string{
	"error.message",
	"message",
	"error",
	"detail",
	"0.error.message",
}

// vendorMessage extracts the most specific error message from a vendor body.
func vendorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range vendorMessagePaths {
		r := gjson.GetBytes(body, path)
		if r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

func statusMessage(status int, body []byte) string {
	msg := fmt.Sprintf("%d %s", status, http.StatusText(status))
	if vm := vendorMessage(body); vm != "" {
		msg += ": " + vm
	}
	return msg
}

// parseRetryAfter reads the Retry-After header as delta-seconds or an HTTP
// date, then falls back to a numeric error.retry_after field in the body.
func parseRetryAfter(header http.Header, body []byte, now time.Time) *time.Duration {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if seconds, err := strconv.ParseFloat(v, 64); err == nil && seconds >= 0 {
			d := time.Duration(seconds * float64(time.Second))
			return &d
		}
		if at, err := http.ParseTime(v); err == nil {
			d := at.Sub(now)
			if d < 0 {
				d = 0
			}
			return &d
		}
	}

	for _, path := range []string{"error.retry_after", "retry_after"} {
		r := gjson.GetBytes(body, path)
		if r.Exists() && r.Type == gjson.Number {
			d := time.Duration(r.Float() * float64(time.Second))
			return &d
		}
	}
	return nil
}

// classifyClientError turns a well-formed 4xx response into a typed error.
func classifyClientError(resp *http.Response, body []byte, now time.Time) *llm.Error {
	status := resp.StatusCode
	msg := statusMessage(status, body)

	var e *llm.Error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e = llm.NewAuthenticationError(status, msg, body)
	case http.StatusTooManyRequests:
		e = llm.NewRateLimitError(msg, parseRetryAfter(resp.Header, body, now), nil)
		e.Body = body
	case http.StatusRequestEntityTooLarge:
		e = llm.NewRequestTooLargeError(msg, nil)
		e.Body = body
	case http.StatusBadRequest:
		e = llm.NewAPIError(status, msg, body)
		e.Type = llm.ErrorTypeInvalidRequest
	default:
		e = llm.NewAPIError(status, msg, body)
	}
	return e
}

// serverError describes a 5xx response; it is retried and recorded as a breaker failure.
func serverError(status int, body []byte) *llm.Error {
	e := llm.NewAPIError(status, statusMessage(status, body), body)
	e.Retryable = true
	return e
}
