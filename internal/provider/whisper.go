package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hyescribe/hyescribe/internal/conf"
)

const whisperDefaultBaseURL = "https://api.openai.com/v1"

func init() {
	Register("whisper", func(settings *conf.ProviderSettings) Service {
		return NewWhisper(settings)
	})
}

// WhisperProvider adapts the OpenAI audio transcription endpoint. Whisper
// has no diarization, so every segment is attributed to SPEAKER_00 and the
// merger's speaker normalization keeps single-speaker output coherent.
type WhisperProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewWhisper builds the adapter from its settings block.
func NewWhisper(settings *conf.ProviderSettings) *WhisperProvider {
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = whisperDefaultBaseURL
	}
	return &WhisperProvider{
		apiKey:  settings.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   settings.Model,
		client:  &http.Client{Timeout: requestTimeout(settings.TimeoutSeconds)},
	}
}

func (w *WhisperProvider) Name() string                  { return "whisper" }
func (w *WhisperProvider) SupportsDiarization() bool     { return false }
func (w *WhisperProvider) SupportsLanguage(c string) bool { return supportsDefaultLanguage(c) }

type whisperSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	AvgLogprob float64 `json:"avg_logprob"`
}

type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
	Words    []whisperWord    `json:"words"`
}

func (w *WhisperProvider) Transcribe(ctx context.Context, audio []byte, cfg *Config, format string) (*Response, error) {
	started := time.Now()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio."+strings.TrimPrefix(format, "."))
	if err != nil {
		return nil, NewFatal("whisper", "failed to build multipart body", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, NewFatal("whisper", "failed to write audio to multipart body", err)
	}

	fields := map[string]string{
		"model":           w.model,
		"response_format": "verbose_json",
	}
	if cfg.Language != "" {
		fields["language"] = cfg.Language
	}
	if cfg.Prompt != "" || len(cfg.CustomVocabulary) > 0 {
		// Whisper's prompt is a vocabulary/style hint, not an instruction.
		hint := cfg.Prompt
		if len(cfg.CustomVocabulary) > 0 {
			if hint != "" {
				hint += " "
			}
			hint += strings.Join(cfg.CustomVocabulary, ", ")
		}
		fields["prompt"] = hint
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, NewFatal("whisper", "failed to write multipart field", err)
		}
	}
	if cfg.TimestampGranularity == "word" {
		if err := mw.WriteField("timestamp_granularities[]", "word"); err != nil {
			return nil, NewFatal("whisper", "failed to write multipart field", err)
		}
		if err := mw.WriteField("timestamp_granularities[]", "segment"); err != nil {
			return nil, NewFatal("whisper", "failed to write multipart field", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, NewFatal("whisper", "failed to finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, NewFatal("whisper", "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, wrapNetworkError("whisper", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient("whisper", "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyWhisperError(resp.StatusCode, resp.Header, body)
	}

	var wr whisperResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, NewTransient("whisper", "malformed response JSON", err)
	}

	segments := make([]Segment, 0, len(wr.Segments))
	for _, s := range wr.Segments {
		seg := Segment{
			SpeakerID: "SPEAKER_00",
			Text:      strings.TrimSpace(s.Text),
			Start:     s.Start,
			End:       s.End,
		}
		if cfg.IncludeConfidence {
			// avg_logprob is the mean token log-probability; exp maps it back
			// to a comparable 0..1 confidence.
			c := math.Exp(s.AvgLogprob)
			seg.Confidence = &c
		}
		if len(wr.Words) > 0 {
			seg.Words = wordsInSpan(wr.Words, s.Start, s.End)
		}
		segments = append(segments, seg)
	}

	out := &Response{
		Text:             strings.TrimSpace(wr.Text),
		Segments:         alignTimestamps(segments, cfg.AudioDuration),
		LanguageDetected: wr.Language,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Metadata: map[string]any{
			"model":             w.model,
			"reported_duration": wr.Duration,
		},
	}
	return out, nil
}

// wordsInSpan selects the flat word list entries falling inside a segment.
func wordsInSpan(words []whisperWord, start, end float64) []Word {
	var out []Word
	for _, w := range words {
		if w.Start >= start && w.Start < end {
			out = append(out, Word{Word: w.Word, Start: w.Start, End: w.End})
		}
	}
	return out
}

func classifyWhisperError(status int, header http.Header, body []byte) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if ra := header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return NewRateLimit("whisper", message, retryAfter)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFatal("whisper", fmt.Sprintf("authentication failed: %s", message), nil)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType ||
		status == http.StatusRequestEntityTooLarge:
		return NewFatal("whisper", fmt.Sprintf("request rejected: %s", message), nil)
	case status >= 500:
		return NewTransient("whisper", fmt.Sprintf("server error %d: %s", status, message), nil)
	default:
		return NewFatal("whisper", fmt.Sprintf("unexpected status %d: %s", status, message), nil)
	}
}
