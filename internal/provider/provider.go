// Package provider defines the uniform contract over heterogeneous STT
// vendors and the built-in adapters implementing it.
package provider

import (
	"context"
	"time"
)

// Word is an optional word-level timing entry.
type Word struct {
	Word       string   `json:"word"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Segment is one diarized span of transcribed speech. Times are seconds
// relative to the start of the submitted clip.
type Segment struct {
	SpeakerID  string   `json:"speaker_id"`
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
	Words      []Word   `json:"words,omitempty"`
}

// Response is the canonical adapter output.
type Response struct {
	Text             string         `json:"text"`
	Segments         []Segment      `json:"segments"`
	LanguageDetected string         `json:"language_detected,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// Config carries everything a vendor call needs for one chunk.
type Config struct {
	Language            string   // primary language code, e.g. "hy"
	AdditionalLanguages []string // expected code-switch languages
	Prompt              string   // free-form caller prompt
	CustomVocabulary    []string
	Domain              string

	// Context carry for chunk continuity.
	PreviousTranscriptContext string
	PreviousSpeakers          []string
	ChunkIndex                int

	DiarizationEnabled   bool
	MinSpeakers          int
	MaxSpeakers          int
	IncludeTimestamps    bool
	TimestampGranularity string // "segment" or "word"
	IncludeConfidence    bool

	// Duration of this clip in seconds; adapters use it to validate and
	// re-align vendor timestamps.
	AudioDuration float64
}

// Service is the capability set every vendor adapter exposes.
type Service interface {
	// Name returns the registry name of the provider.
	Name() string

	// Transcribe submits one audio clip. format is the extension without
	// dot ("wav"). Errors follow the package taxonomy: *RateLimitError for
	// 429/quota, *Error with Retryable for everything else.
	Transcribe(ctx context.Context, audio []byte, cfg *Config, format string) (*Response, error)

	// SupportsLanguage reports whether the vendor handles the language code.
	SupportsLanguage(code string) bool

	// SupportsDiarization reports whether the vendor labels speakers itself.
	SupportsDiarization() bool
}

// defaultSupportedLanguages is the baseline language set: Armenian primary
// with English and Russian code-switching.
var defaultSupportedLanguages = map[string]bool{
	"hy": true,
	"en": true,
	"ru": true,
}

func supportsDefaultLanguage(code string) bool {
	return defaultSupportedLanguages[code]
}

// requestTimeout converts a configured timeout in seconds, defaulting to 180s.
func requestTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 180 * time.Second
	}
	return time.Duration(seconds) * time.Second
}
