package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
)

func newTestGemini() *GeminiProvider {
	g := NewGemini(&conf.ProviderSettings{
		APIKey:      "test-key",
		Model:       "gemini-2.0-flash",
		MaxTokens:   8192,
		Temperature: 0.1,
	})
	httpmock.ActivateNonDefault(g.client)
	return g
}

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

func geminiCandidate(text, finishReason string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]any{{"text": text}}},
			"finishReason": finishReason,
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 10, "candidatesTokenCount": 20, "totalTokenCount": 30},
	}
}

func TestGeminiTranscribe_Success(t *testing.T) {
	g := newTestGemini()
	defer httpmock.DeactivateAndReset()

	transcript := `{"text":"Բարեւ ձեզ։","language_detected":"hy","segments":[{"speaker_id":"SPEAKER_00","text":"Բարեւ ձեզ։","start":0,"end":2.5}]}`
	httpmock.RegisterResponder(http.MethodPost, geminiEndpoint,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "test-key", req.Header.Get("x-goog-api-key"))
			return httpmock.NewJsonResponse(http.StatusOK, geminiCandidate(transcript, "STOP"))
		})

	out, err := g.Transcribe(context.Background(), []byte("fake audio"), &Config{
		Language: "hy", AudioDuration: 10,
	}, "wav")
	require.NoError(t, err)
	assert.Equal(t, "Բարեւ ձեզ։", out.Text)
	require.Len(t, out.Segments, 1)
	assert.Equal(t, "hy", out.LanguageDetected)
	assert.Equal(t, 30, out.Metadata["total_tokens"])
	assert.NotContains(t, out.Metadata, "fallback")
}

func TestGeminiTranscribe_MarkdownFencedJSON(t *testing.T) {
	g := newTestGemini()
	defer httpmock.DeactivateAndReset()

	fenced := "```json\n{\"text\":\"ok.\",\"segments\":[{\"speaker_id\":\"SPEAKER_00\",\"text\":\"ok.\",\"start\":0,\"end\":1}]}\n```"
	httpmock.RegisterResponder(http.MethodPost, geminiEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, geminiCandidate(fenced, "STOP")))

	out, err := g.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 5}, "wav")
	require.NoError(t, err)
	assert.Equal(t, "ok.", out.Text)
	assert.NotContains(t, out.Metadata, "fallback")
}

func TestGeminiTranscribe_RegexFallback(t *testing.T) {
	g := newTestGemini()
	defer httpmock.DeactivateAndReset()

	// Truncated JSON that no decode pass accepts; the text field regex
	// salvages a single full-span segment.
	broken := `{"text":"salvaged words","segments":[{"speaker_id":"SPEAK`
	httpmock.RegisterResponder(http.MethodPost, geminiEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, geminiCandidate(broken, "STOP")))

	out, err := g.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 42}, "wav")
	require.NoError(t, err)
	assert.Equal(t, "salvaged words", out.Text)
	require.Len(t, out.Segments, 1)
	assert.Equal(t, 0.0, out.Segments[0].Start)
	assert.Equal(t, 42.0, out.Segments[0].End)
	assert.Equal(t, "regex", out.Metadata["fallback"])
}

func TestGeminiTranscribe_MaxTokensIsFatal(t *testing.T) {
	g := newTestGemini()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, geminiEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, geminiCandidate(`{"text":"partial"}`, "MAX_TOKENS")))

	_, err := g.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 5}, "wav")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)
}

func TestGeminiTranscribe_RateLimited(t *testing.T) {
	g := newTestGemini()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, geminiEndpoint,
		httpmock.NewStringResponder(http.StatusTooManyRequests,
			`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))

	_, err := g.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 5}, "wav")
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 60.0, rl.RetryAfter.Seconds())
}

func TestGeminiTranscribe_ServerErrorIsTransient(t *testing.T) {
	g := newTestGemini()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, geminiEndpoint,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "upstream sad"))

	_, err := g.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 5}, "wav")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable)
	assert.Equal(t, errors.CategoryProviderTransient, pe.ErrorCategory())
}

func TestGeminiTranscribe_AuthErrorIsFatal(t *testing.T) {
	g := newTestGemini()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, geminiEndpoint,
		httpmock.NewStringResponder(http.StatusForbidden, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))

	_, err := g.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 5}, "wav")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)
}

func TestParseTranscriptJSON(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantText     string
		wantFallback bool
		wantErr      bool
	}{
		{"strict", `{"text":"hi","segments":[]}`, "hi", false, false},
		{"prose around object", `Here you go: {"text":"hi","segments":[{"speaker_id":"A","text":"hi","start":0,"end":1}]} enjoy`, "hi", false, false},
		{"text joined from segments", `{"segments":[{"speaker_id":"A","text":"a","start":0,"end":1},{"speaker_id":"A","text":"b","start":1,"end":2}]}`, "a b", false, false},
		{"regex salvage with escapes", `{"text":"line one\nline two","segm`, "line one\nline two", true, false},
		{"empty", "", "", false, true},
		{"hopeless", "no json here at all", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, fallback, err := parseTranscriptJSON(tt.raw, 30)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, out.Text)
			assert.Equal(t, tt.wantFallback, fallback)
		})
	}
}

func TestCheckFinishReason(t *testing.T) {
	assert.NoError(t, checkFinishReason("gemini", ""))
	assert.NoError(t, checkFinishReason("gemini", "STOP"))

	var pe *Error
	require.ErrorAs(t, checkFinishReason("gemini", "SAFETY"), &pe)
	assert.False(t, pe.Retryable)

	require.ErrorAs(t, checkFinishReason("gemini", "OTHER"), &pe)
	assert.True(t, pe.Retryable)
}

func TestMimeTypeForFormat(t *testing.T) {
	assert.Equal(t, "audio/wav", mimeTypeForFormat("wav"))
	assert.Equal(t, "audio/mpeg", mimeTypeForFormat("mp3"))
	assert.Equal(t, "audio/ogg", mimeTypeForFormat(".ogg"))
	assert.Equal(t, "audio/flac", mimeTypeForFormat("FLAC"))
	assert.Equal(t, "audio/wav", mimeTypeForFormat("mystery"))
}
