package assistant

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
)

// Options shapes every thread a client starts.
type Options struct {
	SystemPrompt string
	HistoryLimit int
}

// EinoClient runs threads through an eino chain: system prompt, history
// placeholder, user query, chat model.
type EinoClient struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	opts  Options
}

// NewEinoClient compiles the prompt chain around chatModel.
func NewEinoClient(ctx context.Context, chatModel model.BaseChatModel, opts Options) (*EinoClient, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compile chat chain")
	}

	return &EinoClient{chain: runnable, opts: opts}, nil
}

// StartThread implements Client.
func (c *EinoClient) StartThread() Thread {
	return &einoThread{
		id:      newThreadID(),
		client:  c,
		history: newHistory(c.opts.HistoryLimit),
	}
}

type einoThread struct {
	id      string
	client  *EinoClient
	history *history
}

func (t *einoThread) ID() string { return t.id }

func (t *einoThread) Run(ctx context.Context, input string) (*Turn, error) {
	past := t.history.snapshot()
	messages := make([]*schema.Message, 0, len(past))
	for _, entry := range past {
		switch entry.Role {
		case RoleUser:
			messages = append(messages, schema.UserMessage(entry.Content))
		case RoleAssistant:
			messages = append(messages, schema.AssistantMessage(entry.Content, nil))
		}
	}

	response, err := t.client.chain.Invoke(ctx, map[string]any{
		"system":  t.client.opts.SystemPrompt,
		"history": messages,
		"query":   input,
	})
	if err != nil {
		return nil, errors.Wrap(err, "run eino chain")
	}
	if response == nil {
		return nil, errors.New("chat model returned no message")
	}

	var items []chat.Item
	if response.ReasoningContent != "" {
		items = append(items, reasoningItem(response.ReasoningContent))
	}
	for _, call := range response.ToolCalls {
		items = append(items, toolCallItem(call.ID, call.Function.Name, call.Function.Arguments))
	}

	var usage *Usage
	if meta := response.ResponseMeta; meta != nil && meta.Usage != nil {
		usage = &Usage{
			InputTokens:  meta.Usage.PromptTokens,
			OutputTokens: meta.Usage.CompletionTokens,
		}
	}

	return finish(t.history, input, response.Content, items, usage), nil
}
