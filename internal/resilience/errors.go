package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	// KindRateLimited is a throttling response; the only kind the waterfall retries.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers 5xx responses, timeouts and connection failures.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers auth failures and malformed requests.
	KindPermanent ErrorKind = "permanent"
)

// ProviderError is returned by vendor adapters for any failed call.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	// BilledCost is charged by some vendors even when the call fails.
	BilledCost float64
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError, classifying by HTTP status when set.
func NewProviderError(provider string, statusCode int, err error) *ProviderError {
	kind := ClassifyStatus(statusCode)
	if statusCode == 0 {
		kind = Classify(err)
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: statusCode, Err: err}
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusRequestTimeout, statusCode >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// Classify returns the kind of err. Errors without a ProviderError in the
// chain are classified by network heuristics.
func Classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if isNetworkTransient(err) {
		return KindTransient
	}
	return KindPermanent
}

// IsRateLimited reports whether err is a throttling response.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == KindRateLimited
}

// IsTransient reports whether err is worth retrying at a coarser level
// (rate limits included).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	k := Classify(err)
	return k == KindRateLimited || k == KindTransient
}

// BilledCost returns the cost carried by a ProviderError, or zero.
func BilledCost(err error) float64 {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.BilledCost
	}
	return 0
}

// StatusCode returns the HTTP status carried by a ProviderError, or zero.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func isNetworkTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"context deadline exceeded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
