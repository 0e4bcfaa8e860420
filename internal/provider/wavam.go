package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	gocache "github.com/patrickmn/go-cache"

	"github.com/hyescribe/hyescribe/internal/conf"
)

const (
	wavamDefaultBaseURL = "https://api.wav.am"
	wavamProjectName    = "hyescribe"
)

func init() {
	Register("wavam", func(settings *conf.ProviderSettings) Service {
		return NewWavAm(settings)
	})
}

// WavAmProvider adapts the wav.am Armenian STT API. Every transcription is
// attached to a named project; the adapter ensures the project exists once
// and caches its ID so repeated chunks skip the lookup round-trip.
type WavAmProvider struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	projects *gocache.Cache
}

// NewWavAm builds the adapter from its settings block.
func NewWavAm(settings *conf.ProviderSettings) *WavAmProvider {
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = wavamDefaultBaseURL
	}
	return &WavAmProvider{
		apiKey:   settings.APIKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: requestTimeout(settings.TimeoutSeconds)},
		projects: gocache.New(time.Hour, 10*time.Minute),
	}
}

func (w *WavAmProvider) Name() string              { return "wavam" }
func (w *WavAmProvider) SupportsDiarization() bool { return true }

// SupportsLanguage is Armenian-only.
func (w *WavAmProvider) SupportsLanguage(code string) bool { return code == "hy" }

func (w *WavAmProvider) Transcribe(ctx context.Context, audio []byte, cfg *Config, format string) (*Response, error) {
	started := time.Now()

	projectID, err := w.ensureProject(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "audio."+strings.TrimPrefix(format, "."))
	if err != nil {
		return nil, NewFatal("wavam", "failed to build multipart body", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, NewFatal("wavam", "failed to write audio to multipart body", err)
	}
	if err := mw.WriteField("project", projectID); err != nil {
		return nil, NewFatal("wavam", "failed to write multipart field", err)
	}
	if err := mw.Close(); err != nil {
		return nil, NewFatal("wavam", "failed to finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/transcribe_audio/", &buf)
	if err != nil {
		return nil, NewFatal("wavam", "failed to build request", err)
	}
	req.Header.Set("Authorization", w.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, wrapNetworkError("wavam", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient("wavam", "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyWavAmError(resp.StatusCode, body)
	}

	segments, err := parseWavAmSegments(body, cfg.AudioDuration)
	if err != nil {
		return nil, NewTransient("wavam", "unusable response", err)
	}

	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}

	out := &Response{
		Text:             strings.Join(parts, " "),
		Segments:         segments,
		LanguageDetected: "hy",
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
	return out, nil
}

// parseWavAmSegments decodes the flat speaker/text list. The API reports no
// timestamps, so spans are allotted across the clip proportionally to rune
// length; the merger only needs monotonic, bounded times.
func parseWavAmSegments(body []byte, duration float64) ([]Segment, error) {
	values, err := jason.NewValueFromBytes(body)
	if err != nil {
		return nil, err
	}

	items, err := valueObjectArray(values)
	if err != nil {
		// Some deployments wrap the list in {"result": [...]}.
		root, oerr := values.Object()
		if oerr != nil {
			return nil, err
		}
		items, err = root.GetObjectArray("result")
		if err != nil {
			return nil, err
		}
	}

	type entry struct {
		speaker string
		text    string
		weight  int
	}
	entries := make([]entry, 0, len(items))
	total := 0
	for _, obj := range items {
		text := strings.TrimSpace(firstString(obj, "text", "transcript"))
		if text == "" {
			continue
		}
		speaker := firstString(obj, "speaker", "speaker_id")
		if speaker == "" {
			speaker = "SPEAKER_00"
		}
		n := len([]rune(text))
		entries = append(entries, entry{speaker: speaker, text: text, weight: n})
		total += n
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("response contained no transcribed segments")
	}

	segments := make([]Segment, 0, len(entries))
	cursor := 0.0
	for i, e := range entries {
		span := duration * float64(e.weight) / float64(total)
		end := cursor + span
		if i == len(entries)-1 {
			end = duration
		}
		segments = append(segments, Segment{
			SpeakerID: e.speaker,
			Text:      e.text,
			Start:     cursor,
			End:       end,
		})
		cursor = end
	}
	return segments, nil
}

// ensureProject returns the ID of the transcription project, creating it on
// first use.
func (w *WavAmProvider) ensureProject(ctx context.Context) (string, error) {
	if id, found := w.projects.Get(wavamProjectName); found {
		return id.(string), nil
	}

	id, err := w.findProject(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		id, err = w.createProject(ctx)
		if err != nil {
			return "", err
		}
	}

	w.projects.Set(wavamProjectName, id, gocache.DefaultExpiration)
	return id, nil
}

func (w *WavAmProvider) findProject(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/projects/", nil)
	if err != nil {
		return "", NewFatal("wavam", "failed to build project list request", err)
	}
	req.Header.Set("Authorization", w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", wrapNetworkError("wavam", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewTransient("wavam", "failed to read project list", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyWavAmError(resp.StatusCode, body)
	}

	values, err := jason.NewValueFromBytes(body)
	if err != nil {
		return "", NewTransient("wavam", "malformed project list", err)
	}
	items, err := valueObjectArray(values)
	if err != nil {
		return "", NewTransient("wavam", "malformed project list", err)
	}
	for _, obj := range items {
		if firstString(obj, "name") == wavamProjectName {
			if id, err := obj.GetInt64("id"); err == nil {
				return fmt.Sprintf("%d", id), nil
			}
			return firstString(obj, "id"), nil
		}
	}
	return "", nil
}

func (w *WavAmProvider) createProject(ctx context.Context) (string, error) {
	payload := strings.NewReader(fmt.Sprintf(`{"name":%q}`, wavamProjectName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/projects/", payload)
	if err != nil {
		return "", NewFatal("wavam", "failed to build project create request", err)
	}
	req.Header.Set("Authorization", w.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", wrapNetworkError("wavam", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewTransient("wavam", "failed to read project create response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyWavAmError(resp.StatusCode, body)
	}

	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return "", NewTransient("wavam", "malformed project create response", err)
	}
	if id, err := root.GetInt64("id"); err == nil {
		return fmt.Sprintf("%d", id), nil
	}
	if id := firstString(root, "id"); id != "" {
		return id, nil
	}
	return "", NewTransient("wavam", "project create response missing id", nil)
}

func classifyWavAmError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if root, err := jason.NewObjectFromBytes(body); err == nil {
		if m := firstString(root, "message", "error", "detail"); m != "" {
			message = m
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return NewRateLimit("wavam", message, 0)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFatal("wavam", fmt.Sprintf("authentication failed: %s", message), nil)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType:
		return NewFatal("wavam", fmt.Sprintf("request rejected: %s", message), nil)
	case status >= 500:
		// The service answers 500 with this exact phrase for audio it cannot
		// decode; retrying the same bytes always fails again.
		if strings.Contains(message, "Failed to transcribe audio") {
			return NewFatal("wavam", message, nil)
		}
		return NewTransient("wavam", fmt.Sprintf("server error %d: %s", status, message), nil)
	default:
		return NewFatal("wavam", fmt.Sprintf("unexpected status %d: %s", status, message), nil)
	}
}

// valueObjectArray interprets a top-level JSON value as an array of objects,
// mirroring jason's Object.GetObjectArray for root-level arrays.
func valueObjectArray(v *jason.Value) ([]*jason.Object, error) {
	array, err := v.Array()
	if err != nil {
		return nil, err
	}
	typed := make([]*jason.Object, len(array))
	for i, item := range array {
		obj, err := item.Object()
		if err != nil {
			return nil, err
		}
		typed[i] = obj
	}
	return typed, nil
}
