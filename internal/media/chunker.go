package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/logging"
)

// Boundary is a chunk span in seconds on the recording clock.
type Boundary struct {
	Start float64
	End   float64
}

// ChunkDescriptor is one extracted chunk: its span and local file path.
type ChunkDescriptor struct {
	Index int
	Start float64
	End   float64
	Path  string
}

// Duration returns the chunk span in seconds.
func (c *ChunkDescriptor) Duration() float64 {
	return c.End - c.Start
}

// Chunker splits long recordings into bounded, overlapping chunks that any
// vendor will accept in a single call.
type Chunker struct {
	maxChunkDuration   float64
	overlapDuration    float64
	silenceSplit       bool
	minSilenceDuration float64
	silenceThresholdDb int
	logger             *slog.Logger
}

// NewChunker builds a chunker from the configured chunking settings.
func NewChunker(settings *conf.ChunkingSettings) *Chunker {
	logger := logging.ForService("chunker")
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{
		maxChunkDuration:   settings.MaxChunkDuration,
		overlapDuration:    settings.OverlapDuration,
		silenceSplit:       settings.SilenceSplit,
		minSilenceDuration: settings.MinSilenceDuration,
		silenceThresholdDb: settings.SilenceThresholdDb,
		logger:             logger,
	}
}

// MaxChunkDuration exposes the configured bound.
func (c *Chunker) MaxChunkDuration() float64 { return c.maxChunkDuration }

// CalculateBoundaries computes chunk spans for a recording of the given
// duration. Every chunk except the last spans exactly the configured max;
// consecutive chunks overlap by the configured overlap; the last chunk ends
// exactly at duration. When silence points are supplied, a chunk may end
// earlier at a silence inside the last 20% of its window, never later.
func (c *Chunker) CalculateBoundaries(duration float64, silencePoints []float64) []Boundary {
	if duration <= c.maxChunkDuration {
		return []Boundary{{Start: 0, End: duration}}
	}

	var boundaries []Boundary
	start := 0.0
	for {
		end := start + c.maxChunkDuration
		if end >= duration {
			boundaries = append(boundaries, Boundary{Start: start, End: duration})
			break
		}
		if len(silencePoints) > 0 {
			if split, ok := bestSilenceSplit(silencePoints, start+0.8*c.maxChunkDuration, end); ok {
				end = split
			}
		}
		boundaries = append(boundaries, Boundary{Start: start, End: end})
		start = end - c.overlapDuration
	}
	return boundaries
}

// bestSilenceSplit picks the silence point in [lo, hi] closest to hi.
func bestSilenceSplit(points []float64, lo, hi float64) (float64, bool) {
	best := 0.0
	found := false
	for _, p := range points {
		if p < lo || p > hi {
			continue
		}
		if !found || hi-p < hi-best {
			best = p
			found = true
		}
	}
	return best, found
}

// DetectSilencePoints runs ffmpeg's silencedetect filter and returns the
// end positions of detected silences, in seconds. Failures degrade to no
// silence points; boundary calculation works without them.
func (c *Chunker) DetectSilencePoints(ctx context.Context, path string) []float64 {
	if !c.silenceSplit {
		return nil
	}
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil
	}

	filter := fmt.Sprintf("silencedetect=noise=%ddB:d=%g", c.silenceThresholdDb, c.minSilenceDuration)
	cmd := exec.CommandContext(ctx, ffmpeg, //nolint:gosec // G204: binary from LookPath, args are fixed
		"-i", path,
		"-af", filter,
		"-f", "null", "-")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.logger.Warn("silence detection failed, splitting on fixed boundaries", "error", err)
		return nil
	}

	// silencedetect reports on stderr, e.g. "silence_end: 123.45 | silence_duration: 0.8"
	var points []float64
	for _, line := range strings.Split(stderr.String(), "\n") {
		idx := strings.Index(line, "silence_end:")
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len("silence_end:"):])
		if sp := strings.IndexByte(rest, ' '); sp > 0 {
			rest = rest[:sp]
		}
		if v, err := strconv.ParseFloat(rest, 64); err == nil {
			points = append(points, v)
		}
	}
	return points
}

// ChunkAudio splits a normalized WAV into chunk files under outDir, named
// chunk_0000.wav onward. The input must already be 16 kHz mono PCM.
func (c *Chunker) ChunkAudio(ctx context.Context, path, outDir string, duration float64) ([]ChunkDescriptor, error) {
	silencePoints := c.DetectSilencePoints(ctx, path)
	boundaries := c.CalculateBoundaries(duration, silencePoints)

	descriptors := make([]ChunkDescriptor, 0, len(boundaries))
	for i, b := range boundaries {
		chunkPath := filepath.Join(outDir, fmt.Sprintf("chunk_%04d.wav", i))
		if err := c.extractChunk(ctx, path, chunkPath, b.Start, b.End-b.Start); err != nil {
			return nil, err
		}
		if err := VerifyWAV(chunkPath); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, ChunkDescriptor{
			Index: i,
			Start: b.Start,
			End:   b.End,
			Path:  chunkPath,
		})
	}

	c.logger.Info("audio chunked",
		"duration", duration, "chunks", len(descriptors), "silence_points", len(silencePoints))
	return descriptors, nil
}

// extractChunk cuts [start, start+length) into a 16 kHz mono PCM WAV.
func (c *Chunker) extractChunk(ctx context.Context, inPath, outPath string, start, length float64) error {
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-t", strconv.FormatFloat(length, 'f', 3, 64),
		"-i", inPath,
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath,
	}
	return runFFmpeg(ctx, args, "extract-chunk")
}

// ExtractAudio demuxes and transcodes a video file to 16 kHz mono PCM WAV.
func (c *Chunker) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath,
	}
	return runFFmpeg(ctx, args, "extract-audio")
}

// NormalizeToWav re-encodes any audio input to 16 kHz mono PCM WAV so every
// provider sees the same codec profile.
func (c *Chunker) NormalizeToWav(ctx context.Context, audioPath, outPath string) error {
	args := []string{
		"-y",
		"-i", audioPath,
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath,
	}
	return runFFmpeg(ctx, args, "normalize")
}

func runFFmpeg(ctx context.Context, args []string, operation string) error {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ErrFFmpegMissing
	}

	cmd := exec.CommandContext(ctx, ffmpeg, args...) //nolint:gosec // G204: binary from LookPath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Newf("ffmpeg %s failed: %v (stderr: %s)", operation, err,
			lastLines(stderr.String(), 3)).
			Component("media").
			Category(errors.CategoryChunking).
			Context("operation", operation).
			Build()
	}
	return nil
}

// lastLines keeps error context short; ffmpeg stderr is verbose.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= n {
		return strings.Join(lines, " | ")
	}
	return strings.Join(lines[len(lines)-n:], " | ")
}
