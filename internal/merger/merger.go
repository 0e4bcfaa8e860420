// Package merger assembles per-chunk provider responses into one coherent
// transcript: offsets chunk-local timestamps onto the recording clock,
// removes overlap duplicates, normalizes speaker labels, and attaches
// quality warnings.
package merger

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/provider"
)

const (
	// Segments starting this many seconds before the previous segment ends
	// are overlap candidates.
	defaultOverlapThreshold = 2.0

	defaultSimilarityThreshold = 0.8
)

// ChunkResult pairs a chunk's recording-clock span with its transcription.
type ChunkResult struct {
	Index    int
	Start    float64
	End      float64
	Response *provider.Response
}

// SpeakerStat summarizes one normalized speaker.
type SpeakerStat struct {
	ID            string  `json:"id"`
	TotalDuration float64 `json:"total_duration"`
	SegmentCount  int     `json:"segment_count"`
}

// Metadata records how the transcript was assembled.
type Metadata struct {
	ChunksMerged  int `json:"chunks_merged"`
	TotalSegments int `json:"total_segments"`
	DedupRemoved  int `json:"dedup_removed"`
}

// Transcript is the final merged document persisted as transcript.json.
type Transcript struct {
	FullText string             `json:"full_text"`
	Segments []provider.Segment `json:"segments"`
	Speakers []SpeakerStat      `json:"speakers"`
	Metadata Metadata           `json:"metadata"`
	Warnings []string           `json:"warnings"`
}

// Merger merges chunk transcriptions using overlap-aware deduplication.
type Merger struct {
	overlapThreshold    float64
	similarityThreshold float64
	logger              *slog.Logger
}

// New builds a merger from the chunking settings. A zero similarity
// threshold selects the default.
func New(settings *conf.ChunkingSettings) *Merger {
	threshold := settings.OverlapSimilarityThreshold
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}
	logger := logging.ForService("merger")
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		overlapThreshold:    defaultOverlapThreshold,
		similarityThreshold: threshold,
		logger:              logger,
	}
}

// Merge combines chunk results, ordered or not, into one transcript.
// totalDuration is the full recording length.
func (m *Merger) Merge(chunks []ChunkResult, totalDuration float64) *Transcript {
	sorted := make([]ChunkResult, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var segments []provider.Segment
	for _, c := range sorted {
		if c.Response == nil {
			continue
		}
		for _, s := range c.Response.Segments {
			s.Start += c.Start
			s.End += c.Start
			for i := range s.Words {
				s.Words[i].Start += c.Start
				s.Words[i].End += c.Start
			}
			segments = append(segments, s)
		}
	}

	if len(segments) == 0 {
		return &Transcript{
			Segments: []provider.Segment{},
			Speakers: []SpeakerStat{},
			Metadata: Metadata{ChunksMerged: len(sorted)},
			Warnings: []string{"transcription produced no segments"},
		}
	}

	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })

	removed := 0
	if len(sorted) > 1 {
		segments, removed = m.dedupOverlaps(segments)
	}

	segments = normalizeSpeakers(segments)

	t := &Transcript{
		FullText: buildFullText(segments),
		Segments: segments,
		Speakers: speakerStats(segments),
		Metadata: Metadata{
			ChunksMerged:  len(sorted),
			TotalSegments: len(segments),
			DedupRemoved:  removed,
		},
	}
	t.Warnings = m.collectWarnings(sorted)

	m.logger.Info("transcript merged",
		"chunks", len(sorted), "segments", len(segments), "duration", totalDuration,
		"dedup_removed", removed, "warnings", len(t.Warnings))
	return t
}

// dedupOverlaps removes the duplicated speech that chunk overlap produces.
// A segment starting well inside the previous segment's span is either the
// same utterance heard twice (drop the shorter rendition) or distinct speech
// the overlap split mid-segment (truncate the earlier one).
func (m *Merger) dedupOverlaps(segments []provider.Segment) ([]provider.Segment, int) {
	out := make([]provider.Segment, 0, len(segments))
	removed := 0

	for _, s := range segments {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		prev := &out[len(out)-1]

		if s.Start < prev.End-m.overlapThreshold {
			if m.textsSimilar(prev.Text, s.Text) {
				removed++
				if len(s.Text) > len(prev.Text) {
					*prev = s
				}
				continue
			}
			if s.Start > prev.Start {
				prev.End = s.Start
			}
		}
		out = append(out, s)
	}
	return out, removed
}

// textsSimilar scores two texts with four signals and keeps the best:
// exact match, containment, word-set overlap, and character trigram overlap
// (spaces removed, which tolerates the tokenization drift between vendors).
func (m *Merger) textsSimilar(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	best := 0.0

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		best = math.Max(best, float64(len(shorter))/float64(len(longer)))
	}

	best = math.Max(best, jaccard(wordSet(a), wordSet(b)))
	best = math.Max(best, jaccard(trigramSet(a), trigramSet(b)))

	return best >= m.similarityThreshold
}

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func trigramSet(s string) map[string]struct{} {
	runes := []rune(strings.ReplaceAll(s, " ", ""))
	set := map[string]struct{}{}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// normalizeSpeakers relabels raw vendor speaker IDs as SPEAKER_00,
// SPEAKER_01, ... in order of first appearance.
func normalizeSpeakers(segments []provider.Segment) []provider.Segment {
	mapping := map[string]string{}
	next := 0
	for i := range segments {
		raw := segments[i].SpeakerID
		if raw == "" {
			raw = "SPEAKER_00"
		}
		normalized, ok := mapping[raw]
		if !ok {
			normalized = fmt.Sprintf("SPEAKER_%02d", next)
			mapping[raw] = normalized
			next++
		}
		segments[i].SpeakerID = normalized
	}
	return segments
}

// Same-speaker segments whose text already ends in one of these glue onto
// the next segment without a space.
var fullTextPunctuation = []string{".", "!", "?", ","}

// buildFullText renders segments as readable prose: a newline at each
// speaker change, a space between same-speaker segments unless the prior
// text already ends in punctuation.
func buildFullText(segments []provider.Segment) string {
	var b strings.Builder
	prevSpeaker := ""
	prevText := ""
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			if s.SpeakerID != prevSpeaker {
				b.WriteString("\n")
			} else if !endsWithAny(prevText, fullTextPunctuation) {
				b.WriteString(" ")
			}
		}
		b.WriteString(text)
		prevSpeaker = s.SpeakerID
		prevText = text
	}
	return b.String()
}

func endsWithAny(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func speakerStats(segments []provider.Segment) []SpeakerStat {
	byID := map[string]*SpeakerStat{}
	for _, s := range segments {
		stat, ok := byID[s.SpeakerID]
		if !ok {
			stat = &SpeakerStat{ID: s.SpeakerID}
			byID[s.SpeakerID] = stat
		}
		stat.TotalDuration += s.End - s.Start
		stat.SegmentCount++
	}

	stats := make([]SpeakerStat, 0, len(byID))
	for _, stat := range byID {
		stat.TotalDuration = math.Round(stat.TotalDuration*100) / 100
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// terminalPunctuation includes the Armenian full stop alongside the Latin
// sentence enders.
var terminalPunctuation = []string{".", "!", "?", "։"}

// collectWarnings checks each chunk's transcription for completeness: a
// transcript far too short for the chunk's audio, a last segment cut off
// mid-sentence, or a response recovered by the regex fallback.
func (m *Merger) collectWarnings(chunks []ChunkResult) []string {
	var warnings []string

	for _, c := range chunks {
		if c.Response == nil {
			continue
		}

		duration := c.End - c.Start
		if text := chunkText(c.Response); duration > 60 && len(text) < 100 {
			warnings = append(warnings, fmt.Sprintf(
				"chunk %d transcript is suspiciously short: %d characters for %.1f seconds of audio",
				c.Index, len(text), duration))
		}

		if n := len(c.Response.Segments); n > 0 {
			last := strings.TrimSpace(c.Response.Segments[n-1].Text)
			if last != "" && !endsWithAny(last, terminalPunctuation) {
				warnings = append(warnings, fmt.Sprintf(
					"chunk %d does not end with terminal punctuation; that span may be cut off", c.Index))
			}
		}

		if c.Response.Metadata != nil {
			if fb, ok := c.Response.Metadata["fallback"].(string); ok && fb == "regex" {
				warnings = append(warnings, fmt.Sprintf(
					"chunk %d transcript was recovered from a malformed provider response; timestamps for that span are approximate", c.Index))
			}
		}
	}

	return warnings
}

// chunkText is the chunk's transcript text, falling back to the joined
// segment texts for providers that leave the top-level field empty.
func chunkText(resp *provider.Response) string {
	if text := strings.TrimSpace(resp.Text); text != "" {
		return text
	}
	parts := make([]string, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
