package transcribe

import (
	"strings"

	"meeting-minutes/internal/domain"
)

// AssignSpeakers resolves each ASR segment to the diarization segment with
// the largest overlap of their [start,end) intervals. Equal overlaps go to
// the segment that starts first; no positive overlap yields UnknownSpeaker.
// Segments whose trimmed text is empty are dropped; order is preserved.
func AssignSpeakers(segments []domain.ASRSegment, speakers []domain.DiarizationSegment) []domain.TranscriptLine {
	lines := make([]domain.TranscriptLine, 0, len(segments))
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		lines = append(lines, domain.TranscriptLine{
			Speaker: bestSpeaker(segment, speakers),
			Text:    text,
		})
	}
	return lines
}

// bestSpeaker picks the label with maximal overlap for one segment.
func bestSpeaker(segment domain.ASRSegment, speakers []domain.DiarizationSegment) string {
	var best *domain.DiarizationSegment
	bestOverlap := 0.0
	for i := range speakers {
		candidate := &speakers[i]
		overlap := overlapSeconds(segment.Start, segment.End, candidate.Start, candidate.End)
		if overlap <= 0 {
			continue
		}
		if best == nil || overlap > bestOverlap || overlap == bestOverlap && candidate.Start < best.Start {
			best = candidate
			bestOverlap = overlap
		}
	}
	if best == nil || strings.TrimSpace(best.Speaker) == "" {
		return domain.UnknownSpeaker
	}
	return best.Speaker
}

// overlapSeconds returns the length of the intersection of [aStart,aEnd)
// and [bStart,bEnd), or zero when they are disjoint.
func overlapSeconds(aStart, aEnd, bStart, bEnd float64) float64 {
	start := max(aStart, bStart)
	end := min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}
