package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/logging"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

func init() {
	Register("gemini", func(settings *conf.ProviderSettings) Service {
		return NewGemini(settings)
	})
}

// GeminiProvider transcribes through the Gemini generateContent API with a
// structured JSON response schema. It is the only built-in adapter that can
// follow the full prompt contract: diarization hints, custom vocabulary, and
// cross-chunk continuation context.
type GeminiProvider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

// NewGemini builds the adapter from its settings block.
func NewGemini(settings *conf.ProviderSettings) *GeminiProvider {
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	logger := logging.ForService("provider.gemini")
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiProvider{
		apiKey:      settings.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       settings.Model,
		maxTokens:   settings.MaxTokens,
		temperature: settings.Temperature,
		client:      &http.Client{Timeout: requestTimeout(settings.TimeoutSeconds)},
		logger:      logger,
	}
}

func (g *GeminiProvider) Name() string              { return "gemini" }
func (g *GeminiProvider) SupportsDiarization() bool { return true }

// SupportsLanguage always reports true: the model is multilingual and the
// prompt names the expected languages.
func (g *GeminiProvider) SupportsLanguage(string) bool { return true }

// geminiRequest is the generateContent payload, trimmed to what we send.
type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64         `json:"temperature"`
	MaxOutputTokens  int             `json:"maxOutputTokens"`
	ResponseMimeType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// transcriptSchema constrains the model output to the segment shape the
// merger expects. Schema-constrained decoding fails far less often than
// prompt-only JSON instructions.
var transcriptSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"language_detected": {"type": "string"},
		"segments": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"speaker_id": {"type": "string"},
					"text": {"type": "string"},
					"start": {"type": "number"},
					"end": {"type": "number"}
				},
				"required": ["speaker_id", "text", "start", "end"]
			}
		}
	},
	"required": ["text", "segments"]
}`)

func (g *GeminiProvider) Transcribe(ctx context.Context, audio []byte, cfg *Config, format string) (*Response, error) {
	started := time.Now()

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: buildTranscriptionPrompt(cfg)},
				{InlineData: &geminiInlineData{
					MimeType: mimeTypeForFormat(format),
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      g.temperature,
			MaxOutputTokens:  g.maxTokens,
			ResponseMimeType: "application/json",
			ResponseSchema:   transcriptSchema,
		},
	}

	payload, err := json.Marshal(&reqBody)
	if err != nil {
		return nil, NewFatal("gemini", "failed to encode request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, NewFatal("gemini", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, wrapNetworkError("gemini", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient("gemini", "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, g.classifyHTTPError(resp.StatusCode, body)
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, NewTransient("gemini", "malformed response JSON", err)
	}
	if gr.Error != nil {
		return nil, g.classifyAPIError(gr.Error.Code, gr.Error.Status, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 {
		return nil, NewTransient("gemini", "response contained no candidates", nil)
	}

	candidate := gr.Candidates[0]
	if err := checkFinishReason("gemini", candidate.FinishReason); err != nil {
		return nil, err
	}

	var raw strings.Builder
	for _, part := range candidate.Content.Parts {
		raw.WriteString(part.Text)
	}

	out, usedFallback, err := parseTranscriptJSON(raw.String(), cfg.AudioDuration)
	if err != nil {
		return nil, NewTransient("gemini", "candidate text is not a usable transcript", err)
	}

	out.Segments = alignTimestamps(out.Segments, cfg.AudioDuration)
	out.ProcessingTimeMs = time.Since(started).Milliseconds()
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["model"] = g.model
	out.Metadata["prompt_tokens"] = gr.UsageMetadata.PromptTokenCount
	out.Metadata["completion_tokens"] = gr.UsageMetadata.CandidatesTokenCount
	out.Metadata["total_tokens"] = gr.UsageMetadata.TotalTokenCount
	if usedFallback {
		out.Metadata["fallback"] = "regex"
		g.logger.Warn("structured decode failed, recovered transcript via regex",
			"chunk_index", cfg.ChunkIndex)
	}

	return out, nil
}

// checkFinishReason maps generation stop reasons onto the error taxonomy.
// MAX_TOKENS means the transcript was truncated mid-segment; retrying the
// same audio with the same budget cannot help.
func checkFinishReason(providerName, reason string) error {
	switch reason {
	case "", "STOP":
		return nil
	case "MAX_TOKENS":
		return NewFatal(providerName, "response truncated at max output tokens", nil)
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST":
		return NewFatal(providerName, fmt.Sprintf("generation blocked: %s", reason), nil)
	default:
		return NewTransient(providerName, fmt.Sprintf("generation stopped: %s", reason), nil)
	}
}

func (g *GeminiProvider) classifyHTTPError(status int, body []byte) error {
	var gr geminiResponse
	message := strings.TrimSpace(string(body))
	apiStatus := ""
	if err := json.Unmarshal(body, &gr); err == nil && gr.Error != nil {
		message = gr.Error.Message
		apiStatus = gr.Error.Status
	}

	switch {
	case status == http.StatusTooManyRequests:
		// Quota errors carry no Retry-After; a minute matches the per-minute
		// quota windows the API enforces.
		return NewRateLimit("gemini", message, 60*time.Second)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFatal("gemini", fmt.Sprintf("authentication failed: %s", message), nil)
	case status == http.StatusBadRequest:
		return NewFatal("gemini", fmt.Sprintf("request rejected: %s", message), nil)
	case status >= 500:
		return NewTransient("gemini", fmt.Sprintf("server error %d: %s", status, message), nil)
	default:
		return g.classifyAPIError(status, apiStatus, message)
	}
}

func (g *GeminiProvider) classifyAPIError(code int, status, message string) error {
	if status == "RESOURCE_EXHAUSTED" {
		return NewRateLimit("gemini", message, 60*time.Second)
	}
	if code >= 500 || status == "UNAVAILABLE" || status == "DEADLINE_EXCEEDED" {
		return NewTransient("gemini", message, nil)
	}
	return NewFatal("gemini", fmt.Sprintf("API error %d (%s): %s", code, status, message), nil)
}

var (
	jsonObjectRe   = regexp.MustCompile(`(?s)\{.*\}`)
	textFieldRe    = regexp.MustCompile(`"text"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	markdownFence  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	escapedNewline = strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`)
)

// parseTranscriptJSON decodes the model's transcript object. Models wrap
// JSON in markdown fences or leak prose around it; the recovery ladder is
// strict decode, fenced decode, widest-brace decode, and finally a regex
// pull of the text field alone.
func parseTranscriptJSON(raw string, duration float64) (*Response, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, fmt.Errorf("empty candidate text")
	}

	if out, err := decodeTranscript(raw); err == nil {
		return out, false, nil
	}

	if m := markdownFence.FindStringSubmatch(raw); m != nil {
		if out, err := decodeTranscript(strings.TrimSpace(m[1])); err == nil {
			return out, false, nil
		}
	}

	if m := jsonObjectRe.FindString(raw); m != "" {
		if out, err := decodeTranscript(m); err == nil {
			return out, false, nil
		}
	}

	// Last resort: salvage the transcript text and drop structure.
	if m := textFieldRe.FindStringSubmatch(raw); m != nil {
		text := escapedNewline.Replace(m[1])
		return &Response{
			Text: text,
			Segments: []Segment{{
				SpeakerID: "SPEAKER_00",
				Text:      text,
				Start:     0,
				End:       duration,
			}},
		}, true, nil
	}

	return nil, false, fmt.Errorf("no JSON object or text field found in candidate")
}

func decodeTranscript(raw string) (*Response, error) {
	var out Response
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out.Text == "" && len(out.Segments) == 0 {
		return nil, fmt.Errorf("decoded transcript is empty")
	}
	if out.Text == "" {
		parts := make([]string, 0, len(out.Segments))
		for _, s := range out.Segments {
			parts = append(parts, s.Text)
		}
		out.Text = strings.Join(parts, " ")
	}
	return &out, nil
}

func mimeTypeForFormat(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "mp3":
		return "audio/mpeg"
	case "ogg", "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "m4a", "aac":
		return "audio/aac"
	case "webm":
		return "audio/webm"
	default:
		return "audio/wav"
	}
}
