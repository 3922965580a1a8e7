// Package assistanttest provides an in-memory assistant.Client for tests.
package assistanttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
	"github.com/zhouzirui/care-relay/backend/internal/service/assistant"
)

// RunFunc produces the turn for one Run call.
type RunFunc func(ctx context.Context, threadID, input string) (*assistant.Turn, error)

// Client counts StartThread calls and answers every turn through Run,
// or echoes the input when Run is nil.
type Client struct {
	Run RunFunc

	mu      sync.Mutex
	threads []*Thread
}

// StartThread implements assistant.Client.
func (c *Client) StartThread() assistant.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Thread{id: fmt.Sprintf("thread-%d", len(c.threads)+1), client: c}
	c.threads = append(c.threads, t)
	return t
}

// Starts returns how many threads were started.
func (c *Client) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.threads)
}

// Threads returns the started threads in order.
func (c *Client) Threads() []*Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Thread(nil), c.threads...)
}

// Thread records every input it receives.
type Thread struct {
	id     string
	client *Client

	mu     sync.Mutex
	inputs []string
}

// ID implements assistant.Thread.
func (t *Thread) ID() string { return t.id }

// Run implements assistant.Thread.
func (t *Thread) Run(ctx context.Context, input string) (*assistant.Turn, error) {
	t.mu.Lock()
	t.inputs = append(t.inputs, input)
	t.mu.Unlock()

	if t.client.Run != nil {
		return t.client.Run(ctx, t.id, input)
	}
	return Echo(input), nil
}

// Inputs returns the recorded inputs.
func (t *Thread) Inputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.inputs...)
}

// Echo answers with "echo: <input>" both as final response and as an
// agent message item.
func Echo(input string) *assistant.Turn {
	text := "echo: " + input
	return &assistant.Turn{
		FinalResponse: text,
		Items:         []chat.Item{{"id": "item_1", "type": chat.ItemAgentMessage, "text": text}},
	}
}
