package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/media"
	"github.com/hyescribe/hyescribe/internal/merger"
	"github.com/hyescribe/hyescribe/internal/provider"
	"github.com/hyescribe/hyescribe/internal/retry"
)

// A chunk whose transcript leaves a leading or trailing hole larger than
// the threshold gets re-sent, at most this many times.
const maxRetransmits = 2

// transcribeChunks runs every chunk through the provider, strictly in
// order. Completed chunks from a previous delivery are reused from their
// stored result.
func (w *Worker) transcribeChunks(ctx context.Context, job *datastore.Job, svc provider.Service,
	descriptors []media.ChunkDescriptor, chunks map[int]*datastore.Chunk) ([]merger.ChunkResult, error) {

	jobCfg, err := job.DecodeConfig()
	if err != nil {
		return nil, errors.New(err).
			Component("worker").
			Category(errors.CategoryValidation).
			Context("job_id", job.ID).
			Build()
	}

	results := make([]merger.ChunkResult, 0, len(descriptors))
	var priorSegments []provider.Segment
	knownSpeakers := map[string]bool{}

	for _, d := range descriptors {
		row := chunks[d.Index]

		if row != nil && row.Status == datastore.ChunkStatusCompleted && row.Result != "" {
			var stored provider.Response
			if err := json.Unmarshal([]byte(row.Result), &stored); err == nil {
				results = append(results, merger.ChunkResult{
					Index: d.Index, Start: d.Start, End: d.End, Response: &stored,
				})
				priorSegments = append(priorSegments, stored.Segments...)
				collectSpeakers(knownSpeakers, &stored)
				continue
			}
			// Unreadable stored result: fall through and re-transcribe.
		}

		if err := w.store.MarkChunkProcessing(ctx, job.ID, d.Index); err != nil {
			return nil, err
		}

		audio, err := os.ReadFile(d.Path)
		if err != nil {
			return nil, errors.New(err).
				Component("worker").
				Category(errors.CategoryFileIO).
				Context("chunk_index", d.Index).
				Build()
		}

		cfg := w.buildChunkConfig(&jobCfg, &d, priorSegments, knownSpeakers)

		chunkStarted := time.Now()
		resp, err := w.transcribeWithCoverage(ctx, job, svc, audio, cfg, &d)
		if err != nil {
			if w.metrics != nil {
				w.metrics.Pipeline.RecordChunk(job.Provider, "failed", time.Since(chunkStarted).Seconds())
			}
			var cancelled *JobCancelledError
			if !errors.As(err, &cancelled) && ctx.Err() == nil {
				if ferr := w.store.FailChunk(ctx, job.ID, d.Index, err.Error()); ferr != nil {
					w.logger.Error("failed to record chunk failure",
						"job_id", job.ID, "chunk_index", d.Index, "error", ferr)
				}
			}
			return nil, err
		}

		raw, err := json.Marshal(resp)
		if err != nil {
			return nil, errors.New(err).Component("worker").Category(errors.CategoryGeneric).Build()
		}
		if err := w.store.SetChunkResult(ctx, job.ID, d.Index, string(raw)); err != nil {
			return nil, err
		}
		if err := w.store.IncrementCompletedChunks(ctx, job.ID); err != nil {
			return nil, err
		}
		if w.metrics != nil {
			w.metrics.Pipeline.RecordChunk(job.Provider, "success", time.Since(chunkStarted).Seconds())
		}

		results = append(results, merger.ChunkResult{
			Index: d.Index, Start: d.Start, End: d.End, Response: resp,
		})
		priorSegments = append(priorSegments, resp.Segments...)
		collectSpeakers(knownSpeakers, resp)
	}

	return results, nil
}

// buildChunkConfig assembles the provider call configuration, carrying the
// tail of everything transcribed so far so the vendor keeps speaker labels
// and sentence flow consistent across the overlap. Drawing the tail from
// all prior chunks rather than just the previous one keeps the context
// usable when a chunk comes back sparse or empty.
func (w *Worker) buildChunkConfig(jobCfg *datastore.JobConfig, d *media.ChunkDescriptor,
	priorSegments []provider.Segment, knownSpeakers map[string]bool) *provider.Config {

	cfg := &provider.Config{
		Language:             jobCfg.Language,
		AdditionalLanguages:  jobCfg.AdditionalLanguages,
		Prompt:               jobCfg.Prompt,
		CustomVocabulary:     jobCfg.CustomVocabulary,
		Domain:               jobCfg.Domain,
		DiarizationEnabled:   jobCfg.DiarizationEnabled,
		MinSpeakers:          jobCfg.MinSpeakers,
		MaxSpeakers:          jobCfg.MaxSpeakers,
		IncludeTimestamps:    jobCfg.IncludeTimestamps,
		TimestampGranularity: jobCfg.TimestampGranularity,
		IncludeConfidence:    jobCfg.IncludeConfidence,
		ChunkIndex:           d.Index,
		AudioDuration:        d.Duration(),
	}

	if d.Index > 0 && len(priorSegments) > 0 {
		segments := priorSegments
		if len(segments) > w.contextSegments {
			segments = segments[len(segments)-w.contextSegments:]
		}
		lines := make([]string, 0, len(segments))
		for _, s := range segments {
			lines = append(lines, fmt.Sprintf("%s: %s", s.SpeakerID, s.Text))
		}
		cfg.PreviousTranscriptContext = strings.Join(lines, "\n")

		speakers := make([]string, 0, len(knownSpeakers))
		for s := range knownSpeakers {
			speakers = append(speakers, s)
		}
		sort.Strings(speakers)
		cfg.PreviousSpeakers = speakers
	}
	return cfg
}

// transcribeWithCoverage calls the provider, then verifies the transcript
// actually covers the clip. A leading or trailing hole beyond the threshold
// triggers a retransmission; the response with the smallest hole wins.
func (w *Worker) transcribeWithCoverage(ctx context.Context, job *datastore.Job, svc provider.Service,
	audio []byte, cfg *provider.Config, d *media.ChunkDescriptor) (*provider.Response, error) {

	best, err := w.callProvider(ctx, job, svc, audio, cfg)
	if err != nil {
		return nil, err
	}

	threshold := math.Max(5.0, 0.2*d.Duration())
	bestGap := coverageGap(best, d.Duration())

	for attempt := 0; bestGap > threshold && attempt < maxRetransmits; attempt++ {
		w.logger.Warn("transcript coverage gap, re-sending chunk",
			"job_id", job.ID, "chunk_index", d.Index,
			"gap_seconds", bestGap, "threshold_seconds", threshold)
		if w.metrics != nil {
			w.metrics.Pipeline.RecordRetransmit()
		}

		resp, err := w.callProvider(ctx, job, svc, audio, cfg)
		if err != nil {
			// Keep what we have rather than failing the job over a rerun.
			break
		}
		if gap := coverageGap(resp, d.Duration()); gap < bestGap {
			best, bestGap = resp, gap
		}
	}
	return best, nil
}

// callProvider wraps one provider call in the retry engine with the rate
// limiter and mid-backoff cancellation polling.
func (w *Worker) callProvider(ctx context.Context, job *datastore.Job, svc provider.Service,
	audio []byte, cfg *provider.Config) (*provider.Response, error) {

	retryCfg := retry.FromSettings(&w.settings.Retry)
	return retry.Do(ctx, retryCfg,
		func(ctx context.Context) (*provider.Response, error) {
			started := time.Now()
			resp, err := svc.Transcribe(ctx, audio, cfg, "wav")
			if w.metrics != nil {
				w.metrics.Provider.RecordRequest(svc.Name(), requestStatus(err), time.Since(started).Seconds())
			}
			return resp, err
		},
		retry.WithLimiter(w.limiter, svc.Name()),
		retry.WithOnRetry(w.cancellationCheck(job.ID, job.Provider)),
	)
}

// requestStatus buckets one provider call outcome for the request counter.
func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	var rl *provider.RateLimitError
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case provider.IsRetryable(err):
		return "transient"
	default:
		return "fatal"
	}
}

// cancellationCheck runs before each retry backoff. A job that disappeared
// or left the processable states aborts the retry loop immediately instead
// of burning the remaining attempts.
func (w *Worker) cancellationCheck(jobID, providerName string) retry.OnRetry {
	return func(attempt int, cause error, delay time.Duration) error {
		if w.metrics != nil {
			reason := "transient"
			var rl *provider.RateLimitError
			if errors.As(cause, &rl) {
				reason = "rate_limited"
			}
			w.metrics.Pipeline.RecordChunkRetry(providerName, reason)
		}

		checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := w.store.GetJob(checkCtx, jobID, false)
		if err != nil {
			if errors.Is(err, datastore.ErrNotFound) {
				return &JobCancelledError{JobID: jobID}
			}
			return nil // store hiccup: keep retrying the provider call
		}
		if job.Status != datastore.JobStatusProcessing && job.Status != datastore.JobStatusUploaded {
			return &JobCancelledError{JobID: jobID}
		}
		return nil
	}
}

// coverageGap measures the larger of the leading and trailing holes in a
// chunk transcript, in seconds.
func coverageGap(resp *provider.Response, duration float64) float64 {
	if resp == nil || len(resp.Segments) == 0 {
		return duration
	}
	first := resp.Segments[0].Start
	lastEnd := 0.0
	for _, s := range resp.Segments {
		if s.End > lastEnd {
			lastEnd = s.End
		}
		if s.Start < first {
			first = s.Start
		}
	}
	if lastEnd > duration {
		lastEnd = duration
	}
	return math.Max(first, duration-lastEnd)
}

func collectSpeakers(set map[string]bool, resp *provider.Response) {
	for _, s := range resp.Segments {
		if s.SpeakerID != "" {
			set[s.SpeakerID] = true
		}
	}
}

