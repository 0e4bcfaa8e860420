// Package media probes, validates, transcodes and chunks recordings using
// the ffmpeg tool suite.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hyescribe/hyescribe/internal/errors"
)

const (
	// FFprobeTimeout bounds a single probe invocation.
	FFprobeTimeout = 30 * time.Second

	bitsPerKilobit = 1000
)

// Sentinel errors for media validation failures. All are fatal for a job.
var (
	ErrInvalidMedia      = errors.NewStd("media file is not playable")
	ErrUnsupportedFormat = errors.NewStd("media format is not supported")
	ErrFFprobeMissing    = errors.NewStd("ffprobe binary not found in PATH")
	ErrFFmpegMissing     = errors.NewStd("ffmpeg binary not found in PATH")
)

// Metadata holds the probed attributes of a media file.
type Metadata struct {
	Duration   float64 // seconds
	Codec      string
	SampleRate int
	Channels   int
	BitRate    int // kbit/s
	SizeBytes  int64
}

// Probe extracts format and stream metadata with ffprobe. Unreadable
// containers return ErrInvalidMedia.
func Probe(ctx context.Context, path string) (*Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "probe-stat").
			Build()
	}

	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, ErrFFprobeMissing
	}

	probeCtx, cancel := context.WithTimeout(ctx, FFprobeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, ffprobe, //nolint:gosec // G204: binary from LookPath, args are fixed
		"-v", "error",
		"-show_entries", "format=duration,bit_rate:stream=sample_rate,channels,codec_name",
		"-of", "csv=p=0",
		path)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if probeCtx.Err() != nil {
			return nil, probeCtx.Err()
		}
		stderrStr := stderr.String()
		if strings.Contains(stderrStr, "Invalid data found") ||
			strings.Contains(stderrStr, "could not find codec parameters") {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMedia, strings.TrimSpace(stderrStr))
		}
		return nil, errors.Newf("ffprobe failed: %v (stderr: %s)", err, stderrStr).
			Component("media").
			Category(errors.CategoryCommandExecution).
			Context("operation", "probe").
			Build()
	}

	output := strings.TrimSpace(out.String())
	if output == "" {
		return nil, fmt.Errorf("%w: ffprobe returned no data", ErrInvalidMedia)
	}

	meta := &Metadata{SizeBytes: info.Size()}
	for _, line := range strings.Split(output, "\n") {
		parseProbeLine(strings.TrimSpace(line), meta)
	}

	if meta.Duration <= 0 {
		return nil, fmt.Errorf("%w: no duration reported", ErrInvalidMedia)
	}
	return meta, nil
}

// parseProbeLine parses one line of ffprobe CSV output. Stream lines are
// codec_name,sample_rate,channels; the format line is duration,bit_rate.
func parseProbeLine(line string, meta *Metadata) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return
	}

	// Format data carries a fractional duration in the first field.
	if duration, err := strconv.ParseFloat(fields[0], 64); err == nil && strings.Contains(fields[0], ".") {
		meta.Duration = duration
		if bitRate, err := strconv.Atoi(fields[1]); err == nil {
			meta.BitRate = bitRate / bitsPerKilobit
		}
		return
	}

	if len(fields) >= 3 {
		if sampleRate, err := strconv.Atoi(fields[1]); err == nil && sampleRate > 0 {
			meta.SampleRate = sampleRate
			if channels, err := strconv.Atoi(fields[2]); err == nil {
				meta.Channels = channels
			}
			if fields[0] != "" {
				meta.Codec = fields[0]
			}
		}
	}
}
