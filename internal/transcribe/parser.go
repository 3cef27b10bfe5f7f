package transcribe

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"

	"meeting-minutes/internal/domain"
)

var speakerLinePattern = regexp.MustCompile(`^\[SPEAKER_(\d+)\]:\s*(.+)`)

// ParseTranscript decodes previously generated "[SPEAKER_NN]: text" lines.
// Lines that do not match, or match with empty text, are skipped. Lines are
// not length limited; only read errors abort the parse.
func ParseTranscript(r io.Reader) ([]domain.TranscriptLine, error) {
	lines := make([]domain.TranscriptLine, 0)
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if raw != "" {
			if line, ok := parseLine(raw); ok {
				lines = append(lines, line)
			}
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func parseLine(raw string) (domain.TranscriptLine, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return domain.TranscriptLine{}, false
	}
	match := speakerLinePattern.FindStringSubmatch(line)
	if match == nil {
		return domain.TranscriptLine{}, false
	}
	text := strings.TrimSpace(match[2])
	if text == "" {
		return domain.TranscriptLine{}, false
	}
	return domain.TranscriptLine{
		Speaker: "SPEAKER_" + match[1],
		Text:    text,
	}, true
}
