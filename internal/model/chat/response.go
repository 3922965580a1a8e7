package chat

// Item types produced by assistant turns.
const (
	ItemAgentMessage = "agent_message"
	ItemReasoning    = "reasoning"
	ItemToolCall     = "tool_call"
)

// Item is one loosely shaped unit of a turn's output. Items are passed
// through to the client unmodified.
type Item map[string]any

// Type returns the item's "type" field, or "" when absent or not a string.
func (i Item) Type() string {
	t, _ := i["type"].(string)
	return t
}

// Response is the body returned by POST /api/chat.
type Response struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
	Items     []Item `json:"items"`
}
