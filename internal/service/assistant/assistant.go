// Package assistant adapts hosted chat models to the thread-based contract
// the relay depends on: a client starts threads, a thread runs turns and
// remembers its own history.
package assistant

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
)

var (
	// ErrCredentialMissing is returned when the provider credential is not configured.
	ErrCredentialMissing = errors.New("assistant credential is not set")
	// ErrUnknownProvider is returned for an unsupported ASSISTANT_PROVIDER.
	ErrUnknownProvider = errors.New("unknown assistant provider")
)

// Client starts conversations.
type Client interface {
	StartThread() Thread
}

// Thread is the conversation handle for one session.
type Thread interface {
	ID() string
	Run(ctx context.Context, input string) (*Turn, error)
}

// Usage reports token accounting for a turn when the provider supplies it.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Turn is the result of one Run.
type Turn struct {
	FinalResponse string
	Items         []chat.Item
	Usage         *Usage
}

// Role of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one remembered message.
type Entry struct {
	Role    Role
	Content string
}

// history is the bounded, goroutine-safe transcript shared by thread
// implementations. Snapshot is taken before a call and the exchange is
// appended after it succeeds, so the lock is never held across I/O.
type history struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.entries...)
}

func (h *history) append(entries ...Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entries...)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = append([]Entry(nil), h.entries[len(h.entries)-h.limit:]...)
	}
}

func newThreadID() string {
	return "thread_" + uuid.NewString()
}

func newItem(kind string) chat.Item {
	return chat.Item{"id": "item_" + uuid.NewString(), "type": kind}
}

func agentMessageItem(text string) chat.Item {
	item := newItem(chat.ItemAgentMessage)
	item["text"] = text
	return item
}

func reasoningItem(text string) chat.Item {
	item := newItem(chat.ItemReasoning)
	item["text"] = text
	return item
}

func toolCallItem(callID, name, arguments string) chat.Item {
	item := newItem(chat.ItemToolCall)
	item["callId"] = callID
	item["name"] = name
	item["arguments"] = arguments
	return item
}

// finish builds the turn and records the exchange in history.
func finish(h *history, input string, text string, items []chat.Item, usage *Usage) *Turn {
	if strings.TrimSpace(text) != "" {
		items = append(items, agentMessageItem(text))
	}
	if items == nil {
		items = []chat.Item{}
	}
	h.append(Entry{Role: RoleUser, Content: input}, Entry{Role: RoleAssistant, Content: text})
	return &Turn{FinalResponse: text, Items: items, Usage: usage}
}
