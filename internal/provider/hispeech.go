package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/hyescribe/hyescribe/internal/conf"
)

const hispeechDefaultBaseURL = "https://api.hispeech.ai"

func init() {
	Register("hispeech", func(settings *conf.ProviderSettings) Service {
		return NewHiSpeech(settings)
	})
}

// HiSpeechProvider adapts the HiSpeech Armenian STT API. The response
// schema has drifted across deployments (segments vs utterances, text vs
// transcript, numbers sometimes encoded as strings), so parsing goes through
// jason rather than a rigid struct.
type HiSpeechProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHiSpeech builds the adapter from its settings block.
func NewHiSpeech(settings *conf.ProviderSettings) *HiSpeechProvider {
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = hispeechDefaultBaseURL
	}
	return &HiSpeechProvider{
		apiKey:  settings.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout(settings.TimeoutSeconds)},
	}
}

func (h *HiSpeechProvider) Name() string              { return "hispeech" }
func (h *HiSpeechProvider) SupportsDiarization() bool { return true }

// SupportsLanguage is Armenian-only; HiSpeech rejects everything else.
func (h *HiSpeechProvider) SupportsLanguage(code string) bool { return code == "hy" }

func (h *HiSpeechProvider) Transcribe(ctx context.Context, audio []byte, cfg *Config, format string) (*Response, error) {
	started := time.Now()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "audio."+strings.TrimPrefix(format, "."))
	if err != nil {
		return nil, NewFatal("hispeech", "failed to build multipart body", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, NewFatal("hispeech", "failed to write audio to multipart body", err)
	}
	if cfg.DiarizationEnabled {
		if err := mw.WriteField("diarization", "true"); err != nil {
			return nil, NewFatal("hispeech", "failed to write multipart field", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, NewFatal("hispeech", "failed to finalize multipart body", err)
	}

	url := h.baseURL + "/upload?wait_for_result=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, NewFatal("hispeech", "failed to build request", err)
	}
	req.Header.Set("x-auth-token", h.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, wrapNetworkError("hispeech", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient("hispeech", "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHiSpeechError(resp.StatusCode, body)
	}

	out, err := parseHiSpeechResponse(body, cfg.AudioDuration)
	if err != nil {
		return nil, NewTransient("hispeech", "unusable response", err)
	}
	out.Segments = alignTimestamps(out.Segments, cfg.AudioDuration)
	out.ProcessingTimeMs = time.Since(started).Milliseconds()
	return out, nil
}

// parseHiSpeechResponse accepts every schema variant seen in the wild:
// segments or utterances arrays with text or transcript fields, and numeric
// fields that may arrive as strings. A body with only a top-level text
// degrades to one segment spanning the whole clip.
func parseHiSpeechResponse(body []byte, duration float64) (*Response, error) {
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, err
	}

	var rawSegments []*jason.Object
	if arr, err := root.GetObjectArray("segments"); err == nil {
		rawSegments = arr
	} else if arr, err := root.GetObjectArray("utterances"); err == nil {
		rawSegments = arr
	} else if result, err := root.GetObject("result"); err == nil {
		if arr, err := result.GetObjectArray("segments"); err == nil {
			rawSegments = arr
		}
	}

	fullText := firstString(root, "text", "transcript", "full_text")

	segments := make([]Segment, 0, len(rawSegments))
	for _, obj := range rawSegments {
		text := firstString(obj, "text", "transcript")
		if strings.TrimSpace(text) == "" {
			continue
		}
		speaker := firstString(obj, "speaker_id", "speaker")
		if speaker == "" {
			speaker = "SPEAKER_00"
		}
		segments = append(segments, Segment{
			SpeakerID: speaker,
			Text:      strings.TrimSpace(text),
			Start:     numericField(obj, "start", "start_time"),
			End:       numericField(obj, "end", "end_time"),
		})
	}

	if len(segments) == 0 {
		if strings.TrimSpace(fullText) == "" {
			return nil, fmt.Errorf("response has neither segments nor text")
		}
		segments = []Segment{{
			SpeakerID: "SPEAKER_00",
			Text:      strings.TrimSpace(fullText),
			Start:     0,
			End:       duration,
		}}
	}

	if fullText == "" {
		parts := make([]string, 0, len(segments))
		for _, s := range segments {
			parts = append(parts, s.Text)
		}
		fullText = strings.Join(parts, " ")
	}

	out := &Response{
		Text:             strings.TrimSpace(fullText),
		Segments:         segments,
		LanguageDetected: firstString(root, "language", "language_code"),
	}
	return out, nil
}

func firstString(obj *jason.Object, keys ...string) string {
	for _, k := range keys {
		if v, err := obj.GetString(k); err == nil {
			return v
		}
	}
	return ""
}

// numericField reads a float that may be encoded as a JSON string.
func numericField(obj *jason.Object, keys ...string) float64 {
	for _, k := range keys {
		if v, err := obj.GetFloat64(k); err == nil {
			return v
		}
		if s, err := obj.GetString(k); err == nil {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				return v
			}
		}
	}
	return 0
}

func classifyHiSpeechError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if root, err := jason.NewObjectFromBytes(body); err == nil {
		if m := firstString(root, "message", "error", "detail"); m != "" {
			message = m
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return NewRateLimit("hispeech", message, 0)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFatal("hispeech", fmt.Sprintf("authentication failed: %s", message), nil)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType:
		return NewFatal("hispeech", fmt.Sprintf("request rejected: %s", message), nil)
	case status >= 500:
		return NewTransient("hispeech", fmt.Sprintf("server error %d: %s", status, message), nil)
	default:
		return NewFatal("hispeech", fmt.Sprintf("unexpected status %d: %s", status, message), nil)
	}
}
