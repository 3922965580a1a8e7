package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
	"github.com/zhouzirui/care-relay/backend/internal/service/assistant"
	"github.com/zhouzirui/care-relay/backend/internal/service/session"
)

var (
	// ErrAssistantNotConfigured means the provider credential is missing.
	ErrAssistantNotConfigured = errors.New("assistant credential is not set")
	// ErrAssistantUnavailable means the assistant client failed to initialize.
	ErrAssistantUnavailable = errors.New("assistant initialization failed")
	// ErrAssistantFailed wraps any failure of the assistant call itself.
	ErrAssistantFailed = errors.New("assistant request failed")
)

// Service relays validated chat requests to per-session assistant threads.
type Service struct {
	sessions *session.Registry
	initErr  error
	log      zerolog.Logger
}

// NewService bootstraps the relay. sessions may be nil when initErr is
// set; every call then fails with the matching precondition error.
func NewService(sessions *session.Registry, initErr error, logger zerolog.Logger) *Service {
	return &Service{sessions: sessions, initErr: initErr, log: logger}
}

// Ready reports the startup precondition error, if any.
func (s *Service) Ready() error {
	switch {
	case s.initErr == nil && s.sessions != nil:
		return nil
	case errors.Is(s.initErr, assistant.ErrCredentialMissing):
		return ErrAssistantNotConfigured
	default:
		return ErrAssistantUnavailable
	}
}

// Chat validates req, runs one turn on the session's thread and extracts
// the plain-text answer.
func (s *Service) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.Ready(); err != nil {
		return nil, err
	}

	thread := s.sessions.GetOrCreate(req.SessionID)

	turn, err := thread.Run(ctx, req.Message)
	if err != nil {
		s.log.Error().Err(err).
			Str("session_id", req.SessionID).
			Str("thread_id", thread.ID()).
			Msg("assistant run failed")
		// 保留原始错误链，调用方可区分 context.Canceled 与上游故障
		return nil, fmt.Errorf("%w: %w", ErrAssistantFailed, err)
	}

	items := turn.Items
	if items == nil {
		items = []chat.Item{}
	}

	event := s.log.Info().
		Str("session_id", req.SessionID).
		Str("thread_id", thread.ID()).
		Int("items", len(items))
	if turn.Usage != nil {
		event = event.Int("input_tokens", turn.Usage.InputTokens).Int("output_tokens", turn.Usage.OutputTokens)
	}
	event.Msg("assistant turn completed")

	return &chat.Response{
		SessionID: req.SessionID,
		Answer:    ExtractAnswer(turn.FinalResponse, items),
		Items:     items,
	}, nil
}

// ExtractAnswer prefers a non-blank final response, then the text of the
// most recent agent message item, then "".
func ExtractAnswer(finalResponse string, items []chat.Item) string {
	if strings.TrimSpace(finalResponse) != "" {
		return finalResponse
	}
	return lastAgentMessage(items)
}

func lastAgentMessage(items []chat.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.Type() != chat.ItemAgentMessage {
			continue
		}
		for _, field := range []string{"content", "message", "text"} {
			if text, ok := item[field].(string); ok {
				return text
			}
		}
	}
	return ""
}
