package provider

import (
	"strings"

	"github.com/k3a/html2text"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// Stable machine error codes persisted on failed jobs.
const (
	CodeRateLimited         = "rate_limited"
	CodeTimeout             = "timeout"
	CodeInvalidAudio        = "invalid_audio"
	CodeAuthError           = "auth_error"
	CodeProviderUnavailable = "provider_unavailable"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeUnknown             = "unknown"
)

var timeoutPatterns = []string{
	"timeout", "timed out", "deadline exceeded", "context deadline",
}

var authPatterns = []string{
	"401", "403", "unauthorized", "forbidden", "invalid api key",
	"api key not valid", "permission denied", "authentication",
}

var audioPatterns = []string{
	"invalid audio", "unsupported format", "could not decode", "corrupt",
	"no audio", "audio format", "unsupported media", "invalid media",
}

var unavailablePatterns = []string{
	"503", "502", "service unavailable", "bad gateway",
	"connection refused", "connection reset", "no such host",
}

var quotaPatterns = []string{
	"quota", "billing", "payment required", "402",
}

var rateLimitPatterns = []string{
	"429", "rate limit", "resource exhausted", "too many requests",
}

// userMessages maps an error code to what the job row shows the caller.
var userMessages = map[string]string{
	CodeRateLimited:         "The transcription provider is rate limiting requests. Please retry the job later.",
	CodeTimeout:             "The transcription request timed out. Please retry the job.",
	CodeInvalidAudio:        "The audio file could not be processed. Check that the file is a valid, playable recording.",
	CodeAuthError:           "The transcription provider rejected our credentials. Contact the service operator.",
	CodeProviderUnavailable: "The transcription provider is temporarily unavailable. Please retry the job later.",
	CodeQuotaExceeded:       "The transcription provider quota is exhausted. Contact the service operator.",
	CodeUnknown:             "Transcription failed for an unexpected reason. Please retry the job or contact support.",
}

// Classify maps a terminal pipeline error to a stable error code and a
// user-facing message. Vendor error bodies are occasionally HTML (gateway
// pages); those are flattened to text before pattern matching.
func Classify(err error) (code, message string) {
	if err == nil {
		return CodeUnknown, userMessages[CodeUnknown]
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return CodeRateLimited, userMessages[CodeRateLimited]
	}

	msg := err.Error()
	if strings.Contains(msg, "<html") || strings.Contains(msg, "<HTML") ||
		strings.Contains(msg, "<body") {
		msg = html2text.HTML2Text(msg)
	}
	msg = strings.ToLower(msg)

	var pe *Error
	if errors.As(err, &pe) && !pe.Retryable {
		switch {
		case matchesAny(msg, authPatterns):
			return CodeAuthError, userMessages[CodeAuthError]
		case matchesAny(msg, audioPatterns):
			return CodeInvalidAudio, userMessages[CodeInvalidAudio]
		}
	}

	switch {
	case matchesAny(msg, timeoutPatterns):
		return CodeTimeout, userMessages[CodeTimeout]
	case matchesAny(msg, rateLimitPatterns):
		return CodeRateLimited, userMessages[CodeRateLimited]
	case matchesAny(msg, quotaPatterns):
		return CodeQuotaExceeded, userMessages[CodeQuotaExceeded]
	case matchesAny(msg, authPatterns):
		return CodeAuthError, userMessages[CodeAuthError]
	case matchesAny(msg, audioPatterns):
		return CodeInvalidAudio, userMessages[CodeInvalidAudio]
	case matchesAny(msg, unavailablePatterns):
		return CodeProviderUnavailable, userMessages[CodeProviderUnavailable]
	default:
		return CodeUnknown, userMessages[CodeUnknown]
	}
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
