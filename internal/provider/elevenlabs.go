package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hyescribe/hyescribe/internal/conf"
)

const elevenLabsDefaultBaseURL = "https://api.elevenlabs.io"

func init() {
	Register("elevenlabs", func(settings *conf.ProviderSettings) Service {
		return NewElevenLabs(settings)
	})
}

// ElevenLabsProvider adapts the Scribe speech-to-text endpoint. Scribe
// returns a flat diarized word stream; the adapter folds it into segments at
// every speaker change.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewElevenLabs builds the adapter from its settings block.
func NewElevenLabs(settings *conf.ProviderSettings) *ElevenLabsProvider {
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsDefaultBaseURL
	}
	return &ElevenLabsProvider{
		apiKey:  settings.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   settings.Model,
		client:  &http.Client{Timeout: requestTimeout(settings.TimeoutSeconds)},
	}
}

func (e *ElevenLabsProvider) Name() string                  { return "elevenlabs" }
func (e *ElevenLabsProvider) SupportsDiarization() bool     { return true }
func (e *ElevenLabsProvider) SupportsLanguage(c string) bool { return supportsDefaultLanguage(c) }

type elevenLabsWord struct {
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Type      string  `json:"type"` // word, spacing, audio_event
	SpeakerID string  `json:"speaker_id"`
}

type elevenLabsResponse struct {
	LanguageCode        string           `json:"language_code"`
	LanguageProbability float64          `json:"language_probability"`
	Text                string           `json:"text"`
	Words               []elevenLabsWord `json:"words"`
}

func (e *ElevenLabsProvider) Transcribe(ctx context.Context, audio []byte, cfg *Config, format string) (*Response, error) {
	started := time.Now()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio."+strings.TrimPrefix(format, "."))
	if err != nil {
		return nil, NewFatal("elevenlabs", "failed to build multipart body", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, NewFatal("elevenlabs", "failed to write audio to multipart body", err)
	}

	fields := map[string]string{
		"model_id": e.model,
	}
	if cfg.DiarizationEnabled {
		fields["diarize"] = "true"
	}
	if cfg.Language != "" {
		fields["language_code"] = cfg.Language
	}
	if cfg.TimestampGranularity == "word" {
		fields["timestamps_granularity"] = "word"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, NewFatal("elevenlabs", "failed to write multipart field", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, NewFatal("elevenlabs", "failed to finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/speech-to-text", &buf)
	if err != nil {
		return nil, NewFatal("elevenlabs", "failed to build request", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, wrapNetworkError("elevenlabs", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient("elevenlabs", "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyElevenLabsError(resp.StatusCode, body)
	}

	var er elevenLabsResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, NewTransient("elevenlabs", "malformed response JSON", err)
	}

	segments := segmentsFromWords(er.Words, cfg)
	if len(segments) == 0 && strings.TrimSpace(er.Text) != "" {
		segments = []Segment{{
			SpeakerID: "SPEAKER_00",
			Text:      strings.TrimSpace(er.Text),
			Start:     0,
			End:       cfg.AudioDuration,
		}}
	}

	out := &Response{
		Text:             strings.TrimSpace(er.Text),
		Segments:         alignTimestamps(segments, cfg.AudioDuration),
		LanguageDetected: er.LanguageCode,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Metadata: map[string]any{
			"model":                e.model,
			"language_probability": er.LanguageProbability,
		},
	}
	return out, nil
}

// segmentsFromWords folds the diarized word stream into per-speaker
// segments. Spacing entries contribute whitespace only; audio events are
// dropped.
func segmentsFromWords(words []elevenLabsWord, cfg *Config) []Segment {
	var segments []Segment
	var cur *Segment
	var text strings.Builder

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.TrimSpace(text.String())
		if cur.Text != "" {
			segments = append(segments, *cur)
		}
		cur = nil
		text.Reset()
	}

	for _, w := range words {
		switch w.Type {
		case "spacing":
			if cur != nil {
				text.WriteString(w.Text)
			}
			continue
		case "audio_event":
			continue
		}

		speaker := w.SpeakerID
		if speaker == "" {
			speaker = "SPEAKER_00"
		}
		if cur == nil || cur.SpeakerID != speaker {
			flush()
			cur = &Segment{SpeakerID: speaker, Start: w.Start, End: w.End}
		}
		text.WriteString(w.Text)
		cur.End = w.End
		if cfg.TimestampGranularity == "word" {
			cur.Words = append(cur.Words, Word{Word: w.Text, Start: w.Start, End: w.End})
		}
	}
	flush()
	return segments
}

func classifyElevenLabsError(status int, body []byte) error {
	var apiErr struct {
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Detail.Message != "" {
		message = apiErr.Detail.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return NewRateLimit("elevenlabs", message, 0)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFatal("elevenlabs", fmt.Sprintf("authentication failed: %s", message), nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewFatal("elevenlabs", fmt.Sprintf("request rejected: %s", message), nil)
	case status >= 500:
		return NewTransient("elevenlabs", fmt.Sprintf("server error %d: %s", status, message), nil)
	default:
		return NewFatal("elevenlabs", fmt.Sprintf("unexpected status %d: %s", status, message), nil)
	}
}
