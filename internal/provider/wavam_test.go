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

func newTestWavAm() *WavAmProvider {
	w := NewWavAm(&conf.ProviderSettings{APIKey: "wav-key"})
	httpmock.ActivateNonDefault(w.client)
	return w
}

func TestParseWavAmSegments_ProportionalSpans(t *testing.T) {
	// Two entries with rune lengths 6 and 3 split a 9 second clip 6/3.
	body := `[{"speaker":"A","text":"aaaaaa"},{"speaker":"B","text":"bbb"}]`
	segments, err := parseWavAmSegments([]byte(body), 9)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, 0.0, segments[0].Start)
	assert.InDelta(t, 6.0, segments[0].End, 1e-9)
	assert.InDelta(t, 6.0, segments[1].Start, 1e-9)
	assert.Equal(t, 9.0, segments[1].End)
}

func TestParseWavAmSegments_LastEndPinnedToDuration(t *testing.T) {
	body := `[{"speaker":"A","text":"аб"},{"speaker":"A","text":"вгд"},{"speaker":"B","text":"е"}]`
	segments, err := parseWavAmSegments([]byte(body), 10)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, 10.0, segments[2].End)
	for i := 1; i < len(segments); i++ {
		assert.Equal(t, segments[i-1].End, segments[i].Start)
	}
}

func TestParseWavAmSegments_ResultWrapper(t *testing.T) {
	body := `{"result":[{"speaker_id":"spk","transcript":"բարեւ"}]}`
	segments, err := parseWavAmSegments([]byte(body), 5)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "spk", segments[0].SpeakerID)
	assert.Equal(t, "բարեւ", segments[0].Text)
}

func TestParseWavAmSegments_EmptyOrMalformed(t *testing.T) {
	_, err := parseWavAmSegments([]byte(`[]`), 5)
	assert.Error(t, err)

	_, err = parseWavAmSegments([]byte(`[{"speaker":"A","text":"  "}]`), 5)
	assert.Error(t, err)

	_, err = parseWavAmSegments([]byte(`{"unexpected":true}`), 5)
	assert.Error(t, err)
}

func TestWavAmTranscribe_CreatesProjectOnce(t *testing.T) {
	w := newTestWavAm()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://api.wav.am/projects/",
		httpmock.NewStringResponder(http.StatusOK, `[]`))
	httpmock.RegisterResponder(http.MethodPost, "https://api.wav.am/projects/",
		httpmock.NewStringResponder(http.StatusCreated, `{"id":42,"name":"hyescribe"}`))
	httpmock.RegisterResponder(http.MethodPost, "https://api.wav.am/transcribe_audio/",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "wav-key", req.Header.Get("Authorization"))
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "42", req.FormValue("project"))
			return httpmock.NewStringResponse(http.StatusOK,
				`[{"speaker":"A","text":"Ողջույն։"}]`), nil
		})

	cfg := &Config{Language: "hy", AudioDuration: 3}
	out, err := w.Transcribe(context.Background(), []byte("a"), cfg, "wav")
	require.NoError(t, err)
	assert.Equal(t, "Ողջույն։", out.Text)
	assert.Equal(t, "hy", out.LanguageDetected)

	// Second call reuses the cached project ID.
	_, err = w.Transcribe(context.Background(), []byte("b"), cfg, "wav")
	require.NoError(t, err)
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["GET https://api.wav.am/projects/"])
	assert.Equal(t, 1, info["POST https://api.wav.am/projects/"])
	assert.Equal(t, 2, info["POST https://api.wav.am/transcribe_audio/"])
}

func TestWavAmTranscribe_FindsExistingProject(t *testing.T) {
	w := newTestWavAm()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://api.wav.am/projects/",
		httpmock.NewStringResponder(http.StatusOK,
			`[{"id":7,"name":"other"},{"id":13,"name":"hyescribe"}]`))
	httpmock.RegisterResponder(http.MethodPost, "https://api.wav.am/transcribe_audio/",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "13", req.FormValue("project"))
			return httpmock.NewStringResponse(http.StatusOK, `[{"speaker":"A","text":"ok"}]`), nil
		})

	_, err := w.Transcribe(context.Background(), []byte("a"), &Config{AudioDuration: 3}, "wav")
	require.NoError(t, err)
	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info["POST https://api.wav.am/projects/"])
}

func TestClassifyWavAmError_UndecodableAudioIsFatal(t *testing.T) {
	var pe *Error
	err := classifyWavAmError(http.StatusInternalServerError,
		[]byte(`{"detail":"Failed to transcribe audio"}`))
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)

	require.ErrorAs(t, classifyWavAmError(http.StatusInternalServerError, []byte("boom")), &pe)
	assert.True(t, pe.Retryable)
}

func TestWavAmSupportsLanguage(t *testing.T) {
	w := NewWavAm(&conf.ProviderSettings{})
	assert.True(t, w.SupportsLanguage("hy"))
	assert.False(t, w.SupportsLanguage("en"))
}
