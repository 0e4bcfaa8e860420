package provider

// Vendors overshoot clip boundaries often enough that the merger demands
// adapters normalize timestamps before returning. alignTimestamps rescales
// proportionally when the last segment overshoots the clip duration by more
// than 5%, clamps negatives to zero, and collapses degenerate spans to a
// tenth of a second.

const (
	overshootTolerance = 1.05
	minSegmentSpan     = 0.1
)

func alignTimestamps(segments []Segment, duration float64) []Segment {
	if len(segments) == 0 || duration <= 0 {
		return segments
	}

	maxEnd := 0.0
	for i := range segments {
		if segments[i].End > maxEnd {
			maxEnd = segments[i].End
		}
	}

	scale := 1.0
	if maxEnd > duration*overshootTolerance {
		scale = duration / maxEnd
	}

	for i := range segments {
		s := &segments[i]
		s.Start *= scale
		s.End *= scale

		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > duration {
			s.End = duration
		}
		if s.End <= s.Start {
			s.End = s.Start + minSegmentSpan
			if s.End > duration {
				s.End = duration
				if s.Start >= s.End {
					s.Start = s.End - minSegmentSpan
					if s.Start < 0 {
						s.Start = 0
					}
				}
			}
		}

		for j := range s.Words {
			w := &s.Words[j]
			w.Start *= scale
			w.End *= scale
			if w.Start < 0 {
				w.Start = 0
			}
			if w.End > duration {
				w.End = duration
			}
		}
	}

	return segments
}
