// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm holds the provider-independent plumbing around LLM calls:
// error classification, retry with backoff, request rate limiting and
// observability. Concrete providers live in the subpackages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ErrRetriesExhausted is wrapped by the error returned once every retry
// attempt for a retryable failure has been used.
var ErrRetriesExhausted = errors.New("llm: retries exhausted")

// ErrorType categorizes provider failures for retry decisions.
type ErrorType int8

const (
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit is a 429 or quota/throttling response.
	ErrorTypeRateLimit
	// ErrorTypeServiceUnavailable is a 503/529 or overloaded response.
	ErrorTypeServiceUnavailable
	// ErrorTypeTransient covers 500/502/504, timeouts and dropped connections.
	ErrorTypeTransient
	// ErrorTypeAuth is a 401/403 or invalid credential response.
	ErrorTypeAuth
	// ErrorTypeBadRequest is a malformed or rejected request.
	ErrorTypeBadRequest
	// ErrorTypeCanceled is a context cancellation or deadline.
	ErrorTypeCanceled
)

// String returns the label used in logs and metrics.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this type are retried.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeRateLimit, ErrorTypeServiceUnavailable, ErrorTypeTransient:
		return true
	default:
		return false
	}
}

// Error is a classified provider error.
type Error struct {
	Type       ErrorType
	StatusCode int
	Provider   string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("llm")
	if e.Provider != "" {
		b.WriteString(" ")
		b.WriteString(e.Provider)
	}
	fmt.Fprintf(&b, " error (%s", e.Type)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ", status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, ", %d attempts", e.Attempts)
	}
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrRetriesExhausted on errors produced by the
// retry decorator.
func (e *Error) Is(target error) bool {
	return target == ErrRetriesExhausted && e.Attempts > 0
}

// StatusCoder is implemented by SDK errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

var statusPattern = regexp.MustCompile(`\b(?:status(?: code)?[ =:]*|HTTP )([1-5][0-9]{2})\b`)

// Classify maps an error to an ErrorType. Already classified errors keep
// their type; otherwise the HTTP status (when one can be found) decides,
// and the message text is the fallback.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeCanceled
	}
	if code := StatusCode(err); code != 0 {
		if t, ok := classifyStatus(code); ok {
			return t
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrorTypeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTransient
	}
	return classifyMessage(strings.ToLower(err.Error()))
}

// StatusCode extracts an HTTP status from err, or 0.
func StatusCode(err error) int {
	var llmErr *Error
	if errors.As(err, &llmErr) && llmErr.StatusCode != 0 {
		return llmErr.StatusCode
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}

func classifyStatus(code int) (ErrorType, bool) {
	switch code {
	case 429:
		return ErrorTypeRateLimit, true
	case 503, 529:
		return ErrorTypeServiceUnavailable, true
	case 500, 502, 504:
		return ErrorTypeTransient, true
	case 401, 403:
		return ErrorTypeAuth, true
	case 400, 404, 413, 422:
		return ErrorTypeBadRequest, true
	}
	return ErrorTypeUnknown, false
}

func classifyMessage(msg string) ErrorType {
	switch {
	case containsAny(msg, "rate limit", "ratelimit", "too many requests", "throttl", "quota", "resource_exhausted"):
		return ErrorTypeRateLimit
	case containsAny(msg, "overloaded", "service unavailable", "unavailable"):
		return ErrorTypeServiceUnavailable
	case containsAny(msg, "timeout", "timed out", "connection reset", "connection refused", "broken pipe", "eof", "internal server error", "bad gateway", "temporar"):
		return ErrorTypeTransient
	case containsAny(msg, "unauthorized", "forbidden", "invalid api key", "invalid x-api-key", "permission denied", "authentication"):
		return ErrorTypeAuth
	case containsAny(msg, "invalid_request", "invalid request", "bad request", "too long", "malformed"):
		return ErrorTypeBadRequest
	}
	return ErrorTypeUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Wrap classifies err and returns it as an *Error tagged with provider.
// Nil stays nil and already classified errors are returned unchanged.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	return &Error{
		Type:       Classify(err),
		StatusCode: StatusCode(err),
		Provider:   provider,
		Err:        err,
	}
}

// WrapStatus is Wrap for callers that already know the HTTP status.
func WrapStatus(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	t, ok := classifyStatus(status)
	if !ok {
		t = Classify(err)
	}
	return &Error{Type: t, StatusCode: status, Provider: provider, Err: err}
}
