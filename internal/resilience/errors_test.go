package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{429, KindRateLimited},
		{408, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{400, KindPermanent},
		{401, KindPermanent},
		{403, KindPermanent},
		{404, KindPermanent},
		{422, KindPermanent},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestClassify_WrappedProviderError(t *testing.T) {
	inner := NewProviderError("hunter", 429, errors.New("slow down"))
	wrapped := fmt.Errorf("enrich: %w", inner)

	if !IsRateLimited(wrapped) {
		t.Error("expected wrapped 429 to be rate limited")
	}
	if !IsTransient(wrapped) {
		t.Error("expected rate limit to count as transient")
	}
}

func TestClassify_NetworkErrors(t *testing.T) {
	err := NewProviderError("google", 0, fmt.Errorf("dial: %w", syscall.ECONNRESET))
	if err.Kind != KindTransient {
		t.Errorf("expected transient for connection reset, got %s", err.Kind)
	}

	if got := Classify(errors.New("read: i/o timeout")); got != KindTransient {
		t.Errorf("expected transient for i/o timeout, got %s", got)
	}
	if got := Classify(errors.New("invalid json")); got != KindPermanent {
		t.Errorf("expected permanent for decode error, got %s", got)
	}
}

func TestIsRateLimited_Nil(t *testing.T) {
	if IsRateLimited(nil) || IsTransient(nil) {
		t.Error("nil must not be classified as retryable")
	}
}

func TestBilledCost(t *testing.T) {
	pe := NewProviderError("hunter", 404, errors.New("not found"))
	pe.BilledCost = 0.034

	if got := BilledCost(fmt.Errorf("wrap: %w", pe)); got != 0.034 {
		t.Errorf("expected billed cost 0.034, got %v", got)
	}
	if got := BilledCost(errors.New("plain")); got != 0 {
		t.Errorf("expected 0 for plain error, got %v", got)
	}
}

func TestProviderError_Message(t *testing.T) {
	err := NewProviderError("neverbounce", 401, errors.New("bad key"))
	want := "neverbounce: permanent (status 401): bad key"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(fmt.Errorf("wrap: %w", NewProviderError("hunter", 404, errors.New("nope")))); got != 404 {
		t.Errorf("expected 404, got %d", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Errorf("expected 0 for plain error, got %d", got)
	}
}
