package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyescribe/hyescribe/internal/conf"
)

const elevenLabsEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

func newTestElevenLabs() *ElevenLabsProvider {
	e := NewElevenLabs(&conf.ProviderSettings{APIKey: "xi-test", Model: "scribe_v1"})
	httpmock.ActivateNonDefault(e.client)
	return e
}

func elWord(text, wordType, speaker string, start, end float64) elevenLabsWord {
	return elevenLabsWord{Text: text, Type: wordType, SpeakerID: speaker, Start: start, End: end}
}

func TestSegmentsFromWords_SpeakerChanges(t *testing.T) {
	words := []elevenLabsWord{
		elWord("hello", "word", "speaker_0", 0, 0.5),
		elWord(" ", "spacing", "speaker_0", 0.5, 0.6),
		elWord("there", "word", "speaker_0", 0.6, 1.0),
		elWord("hi", "word", "speaker_1", 1.5, 1.8),
	}

	segments := segmentsFromWords(words, &Config{})
	require.Len(t, segments, 2)
	assert.Equal(t, "hello there", segments[0].Text)
	assert.Equal(t, "speaker_0", segments[0].SpeakerID)
	assert.Equal(t, 0.0, segments[0].Start)
	assert.Equal(t, 1.0, segments[0].End)
	assert.Equal(t, "hi", segments[1].Text)
	assert.Equal(t, "speaker_1", segments[1].SpeakerID)
}

func TestSegmentsFromWords_SkipsAudioEvents(t *testing.T) {
	words := []elevenLabsWord{
		elWord("(laughter)", "audio_event", "", 0, 1),
		elWord("words", "word", "speaker_0", 1, 2),
	}

	segments := segmentsFromWords(words, &Config{})
	require.Len(t, segments, 1)
	assert.Equal(t, "words", segments[0].Text)
}

func TestSegmentsFromWords_LeadingSpacingIgnored(t *testing.T) {
	words := []elevenLabsWord{
		elWord(" ", "spacing", "", 0, 0.1),
		elWord("start", "word", "speaker_0", 0.1, 0.5),
	}

	segments := segmentsFromWords(words, &Config{})
	require.Len(t, segments, 1)
	assert.Equal(t, "start", segments[0].Text)
}

func TestSegmentsFromWords_WordGranularity(t *testing.T) {
	words := []elevenLabsWord{
		elWord("one", "word", "speaker_0", 0, 0.4),
		elWord(" ", "spacing", "speaker_0", 0.4, 0.5),
		elWord("two", "word", "speaker_0", 0.5, 0.9),
	}

	segments := segmentsFromWords(words, &Config{TimestampGranularity: "word"})
	require.Len(t, segments, 1)
	require.Len(t, segments[0].Words, 2)
	assert.Equal(t, "one", segments[0].Words[0].Word)
	assert.Equal(t, "two", segments[0].Words[1].Word)
}

func TestElevenLabsTranscribe_Success(t *testing.T) {
	e := newTestElevenLabs()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, elevenLabsEndpoint,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "xi-test", req.Header.Get("xi-api-key"))
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "scribe_v1", req.FormValue("model_id"))
			assert.Equal(t, "true", req.FormValue("diarize"))
			assert.Equal(t, "hy", req.FormValue("language_code"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"language_code":        "hy",
				"language_probability": 0.97,
				"text":                 "hello there",
				"words": []map[string]any{
					{"text": "hello", "type": "word", "speaker_id": "speaker_0", "start": 0.0, "end": 0.5},
					{"text": " ", "type": "spacing", "speaker_id": "speaker_0", "start": 0.5, "end": 0.6},
					{"text": "there", "type": "word", "speaker_id": "speaker_0", "start": 0.6, "end": 1.0},
				},
			})
		})

	out, err := e.Transcribe(context.Background(), []byte("a"), &Config{
		Language: "hy", DiarizationEnabled: true, AudioDuration: 2,
	}, "wav")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out.Text)
	require.Len(t, out.Segments, 1)
	assert.Equal(t, "hy", out.LanguageDetected)
}

func TestElevenLabsTranscribe_WholeTextFallback(t *testing.T) {
	e := newTestElevenLabs()
	defer httpmock.DeactivateAndReset()

	// No word stream at all; the flat text becomes one full-span segment.
	httpmock.RegisterResponder(http.MethodPost, elevenLabsEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"language_code":"hy","text":"only text"}`))

	out, err := e.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 12}, "wav")
	require.NoError(t, err)
	require.Len(t, out.Segments, 1)
	assert.Equal(t, "only text", out.Segments[0].Text)
	assert.Equal(t, 0.0, out.Segments[0].Start)
	assert.Equal(t, 12.0, out.Segments[0].End)
}

func TestClassifyElevenLabsError(t *testing.T) {
	var rl *RateLimitError
	require.ErrorAs(t, classifyElevenLabsError(http.StatusTooManyRequests, []byte(`{}`)), &rl)

	var pe *Error
	err := classifyElevenLabsError(http.StatusUnprocessableEntity,
		[]byte(`{"detail":{"status":"invalid_audio","message":"corrupt file"}}`))
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)
	assert.Contains(t, pe.Message, "corrupt file")

	require.ErrorAs(t, classifyElevenLabsError(http.StatusBadGateway, []byte("oops")), &pe)
	assert.True(t, pe.Retryable)
}
