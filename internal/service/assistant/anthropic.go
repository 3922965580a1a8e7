package assistant

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
)

// DefaultAnthropicModel is used when ANTHROPIC_MODEL is empty.
const DefaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest

// AnthropicClient runs threads against the Messages API.
type AnthropicClient struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	opts      Options
}

// NewAnthropicClient builds a client; reqOpts are passed to the SDK
// (API key, base URL, retries).
func NewAnthropicClient(modelName string, maxTokens int64, opts Options, reqOpts ...option.RequestOption) *AnthropicClient {
	m := anthropic.Model(modelName)
	if modelName == "" {
		m = DefaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{
		api:       anthropic.NewClient(reqOpts...),
		model:     m,
		maxTokens: maxTokens,
		opts:      opts,
	}
}

// StartThread implements Client.
func (c *AnthropicClient) StartThread() Thread {
	return &anthropicThread{
		id:      newThreadID(),
		client:  c,
		history: newHistory(c.opts.HistoryLimit),
	}
}

type anthropicThread struct {
	id      string
	client  *AnthropicClient
	history *history
}

func (t *anthropicThread) ID() string { return t.id }

func (t *anthropicThread) Run(ctx context.Context, input string) (*Turn, error) {
	past := t.history.snapshot()
	messages := make([]anthropic.MessageParam, 0, len(past)+1)
	for _, entry := range past {
		// the API rejects empty text blocks
		if entry.Content == "" {
			continue
		}
		switch entry.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(entry.Content)))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(entry.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(input)))

	params := anthropic.MessageNewParams{
		Model:     t.client.model,
		MaxTokens: t.client.maxTokens,
		Messages:  messages,
	}
	if t.client.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: t.client.opts.SystemPrompt}}
	}

	msg, err := t.client.api.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic messages.new")
	}

	var (
		items []chat.Item
		text  string
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "thinking":
			items = append(items, reasoningItem(block.Thinking))
		case "tool_use":
			items = append(items, toolCallItem(block.ID, block.Name, string(block.Input)))
		}
	}

	usage := &Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return finish(t.history, input, text, items, usage), nil
}
