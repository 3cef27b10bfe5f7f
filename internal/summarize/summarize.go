package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"meeting-minutes/internal/domain"
)

const (
	maxTokens   = 1024
	temperature = 0.3
	// Local OpenAI-compatible servers accept any key.
	placeholderAPIKey = "ollama"
)

// SystemPrompt instructs the model to write German council minutes.
const SystemPrompt = `Du bist ein Experte für die Erstellung von Sitzungsprotokollen für deutsche Kommunalverwaltungen.

Deine Aufgabe ist es, aus einem Transkript eines Tagesordnungspunktes (TOP) eine prägnante Zusammenfassung zu erstellen.

Regeln:
- Schreibe in sachlichem, amtlichem Deutsch
- Fasse die wichtigsten Diskussionspunkte zusammen
- Erwähne getroffene Beschlüsse oder Abstimmungsergebnisse
- Nenne wichtige Positionen der Teilnehmer (ohne Namen, nur Funktionen wenn bekannt)
- Halte die Zusammenfassung auf 3-5 Absätze
- Vermeide wörtliche Zitate, paraphrasiere stattdessen
- Beginne direkt mit dem Inhalt, keine Einleitung wie "In dieser Sitzung..."
`

// ErrEmptyInput is returned when there is nothing to summarize.
var ErrEmptyInput = fmt.Errorf("%w: no transcript lines to summarize", domain.ErrValidation)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Error reports a failed language model call.
type Error struct {
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("summarization failed: %v", e.Cause)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ChatClient is the subset of the OpenAI client the service uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Service turns transcript excerpts into agenda item summaries.
type Service struct {
	client ChatClient
	model  string
	logger *slog.Logger
}

// NewService builds a service against the configured OpenAI-compatible server.
func NewService(settings domain.Settings, logger *slog.Logger) *Service {
	cfg := openai.DefaultConfig(placeholderAPIKey)
	cfg.BaseURL = settings.LLMBaseURL
	return NewServiceWithClient(openai.NewClientWithConfig(cfg), settings.LLMModel, logger)
}

// NewServiceWithClient builds a service on an existing chat client.
func NewServiceWithClient(client ChatClient, model string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client: client,
		model:  model,
		logger: logger.With("component", "summarize"),
	}
}

// Model returns the configured model name.
func (s *Service) Model() string {
	return s.model
}

// Summarize condenses lines belonging to the agenda item title.
func (s *Service) Summarize(ctx context.Context, title string, lines []domain.TranscriptLine) (string, error) {
	if len(lines) == 0 {
		return "", ErrEmptyInput
	}
	return s.summarizeText(ctx, title, FormatLines(lines))
}

// SummarizeAll summarizes every non-blank transcript excerpt keyed by agenda
// index. Missing titles default to "TOP <n>" with n counted from 1.
func (s *Service) SummarizeAll(ctx context.Context, titles []string, segments map[int]string) (map[int]string, error) {
	indexes := make([]int, 0, len(segments))
	for idx := range segments {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	summaries := make(map[int]string, len(segments))
	for _, idx := range indexes {
		text := segments[idx]
		if strings.TrimSpace(text) == "" {
			continue
		}
		title := fmt.Sprintf("TOP %d", idx+1)
		if idx >= 0 && idx < len(titles) {
			title = titles[idx]
		}
		summary, err := s.summarizeText(ctx, title, text)
		if err != nil {
			return summaries, fmt.Errorf("agenda item %d: %w", idx, err)
		}
		summaries[idx] = summary
	}
	return summaries, nil
}

func (s *Service) summarizeText(ctx context.Context, title, text string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(title, text)},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		s.logger.Warn("chat completion failed", "model", s.model, "error", err)
		return "", &Error{Cause: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Cause: errors.New("response contains no choices")}
	}

	summary := strings.TrimSpace(thinkBlock.ReplaceAllString(resp.Choices[0].Message.Content, ""))
	s.logger.Debug("summary generated", "title", title, "chars", len(summary))
	return summary, nil
}

// UserPrompt renders the per-item request.
func UserPrompt(title, text string) string {
	return fmt.Sprintf("Erstelle eine Zusammenfassung für folgenden Tagesordnungspunkt:\n\nTOP: %s\n\nTranskript:\n%s\n\nZusammenfassung:", title, text)
}

// FormatLines renders lines as "speaker: text", one per line.
func FormatLines(lines []domain.TranscriptLine) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line.Speaker)
		b.WriteString(": ")
		b.WriteString(line.Text)
	}
	return b.String()
}
