package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrQuotaExceeded marks usage, budget and rate-limit failures. Retrying
	// does not help.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrUnavailable marks transient upstream failures (5xx, timeouts).
	ErrUnavailable = errors.New("provider unavailable")
	// ErrMalformedResponse marks empty or undecodable provider replies.
	ErrMalformedResponse = errors.New("malformed response")
)

// Class is the coarse failure category used for retry and fallback decisions.
type Class string

const (
	ClassNone      Class = ""
	ClassQuota     Class = "quota"
	ClassTransient Class = "transient"
	ClassMalformed Class = "malformed"
	ClassCanceled  Class = "canceled"
	ClassOther     Class = "other"
)

// quotaMarkers are matched case-insensitively against provider messages that
// arrive without a typed status. "koszt" is the Polish cost-limit wording some
// proxies return.
var quotaMarkers = []string{"limit", "quota", "budget", "koszt"}

// Classify sorts err into a Class. Cancellation wins over everything else so a
// caller that gave up is never retried.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}
	if IsQuota(err) {
		return ClassQuota
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ClassMalformed
	}
	if errors.Is(err, ErrUnavailable) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassOther
}

// IsQuota reports whether err is a quota-classified failure, either by
// sentinel or by the wording of its message.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	return IsQuotaMessage(err.Error())
}

// IsQuotaMessage applies the quota wording check to a bare message.
func IsQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
