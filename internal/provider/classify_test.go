package provider

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, CodeUnknown},
		{"rate limit error type", NewRateLimit("gemini", "slow down", time.Minute), CodeRateLimited},
		{"rate limit text", NewTransient("whisper", "got 429 too many requests", nil), CodeRateLimited},
		{"timeout text", NewTransient("gemini", "context deadline exceeded", nil), CodeTimeout},
		{"quota", NewTransient("gemini", "billing quota exceeded", nil), CodeQuotaExceeded},
		{"auth on fatal", NewFatal("whisper", "401 unauthorized", nil), CodeAuthError},
		{"invalid audio on fatal", NewFatal("elevenlabs", "could not decode audio", nil), CodeInvalidAudio},
		{"unavailable", NewTransient("hispeech", "503 service unavailable", nil), CodeProviderUnavailable},
		{"connection refused", NewTransient("wavam", "connection refused", nil), CodeProviderUnavailable},
		{"unknown", fmt.Errorf("something odd happened"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := Classify(tt.err)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, message)
		})
	}
}

func TestClassify_HTMLErrorBody(t *testing.T) {
	// Gateways answer with HTML error pages; classification still works on
	// the flattened text.
	err := NewTransient("gemini",
		"<html><body><h1>502 Bad Gateway</h1></body></html>", nil)
	code, _ := Classify(err)
	assert.Equal(t, CodeProviderUnavailable, code)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRateLimit("gemini", "m", 0)))
	assert.True(t, IsRetryable(NewTransient("gemini", "m", nil)))
	assert.False(t, IsRetryable(NewFatal("gemini", "m", nil)))
	assert.True(t, IsRetryable(fmt.Errorf("untyped")))
}
