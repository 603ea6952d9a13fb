package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	ID        string
	Role      Role
	CreatedAt time.Time
	Content   []Content
}

// New stamps a fresh id and timestamp on a message with the given role and content.
// It does not validate; validation happens when the message enters an exchange.
func New(role Role, content ...Content) Message {
	items := make([]Content, len(content))
	for i, c := range content {
		if c != nil {
			items[i] = c.clone()
		}
	}
	return Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
		Content:   items,
	}
}

// User builds a user message holding a single text segment.
func User(text string) Message {
	return New(RoleUser, Text{Text: text})
}

// Assistant builds an assistant message holding a single text segment.
func Assistant(text string) Message {
	return New(RoleAssistant, Text{Text: text})
}

// WithToolResults builds a user message carrying the given tool results in order.
func WithToolResults(results ...ToolResult) Message {
	content := make([]Content, len(results))
	for i, r := range results {
		content[i] = r
	}
	return New(RoleUser, content...)
}

// Validate checks the role/content invariants and returns an *InvalidMessageError naming
// the first violated rule.
func (m Message) Validate() error {
	if len(m.Content) == 0 {
		return invalid("message must have at least one content item")
	}

	var hasText, hasToolUse, hasToolResult bool
	for _, c := range m.Content {
		switch v := c.(type) {
		case Text:
			hasText = true
		case ToolUse:
			if v.ID == "" {
				return invalid("tool use must have an id")
			}
			if v.Name == "" {
				return invalid("tool use must have a name")
			}
			hasToolUse = true
		case ToolResult:
			if v.ToolUseID == "" {
				return invalid("tool result must reference a tool use id")
			}
			hasToolResult = true
		case nil:
			return invalid("content item must not be nil")
		default:
			return invalid(fmt.Sprintf("unsupported content type %T", c))
		}
	}

	switch m.Role {
	case RoleUser:
		if hasToolUse {
			return invalid("user message must not contain tool use")
		}
		if !hasText && !hasToolResult {
			return invalid("user message must include text or tool result")
		}
	case RoleAssistant:
		if hasToolResult {
			return invalid("assistant message must not contain tool result")
		}
		if !hasText && !hasToolUse {
			return invalid("assistant message must include text or tool use")
		}
	default:
		return invalid(fmt.Sprintf("unknown role %q", m.Role))
	}
	return nil
}

// Text joins all text segments with newlines. It returns "" when there are none.
func (m Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if t, ok := c.(Text); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (m Message) HasToolUse() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolUse); ok {
			return true
		}
	}
	return false
}

func (m Message) HasToolResult() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolResult); ok {
			return true
		}
	}
	return false
}

// ToolUses returns the tool use items in content order.
func (m Message) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, c := range m.Content {
		if u, ok := c.(ToolUse); ok {
			uses = append(uses, u.clone().(ToolUse))
		}
	}
	return uses
}

// ToolResults returns the tool result items in content order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, c := range m.Content {
		if r, ok := c.(ToolResult); ok {
			results = append(results, r)
		}
	}
	return results
}

// Clone returns a deep copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = make([]Content, len(m.Content))
		for i, c := range m.Content {
			if c == nil {
				continue
			}
			out.Content[i] = c.clone()
		}
	}
	return out
}

// Summary renders the message for display in listings.
func (m Message) Summary() string {
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		if c != nil {
			parts = append(parts, c.String())
		}
	}
	return fmt.Sprintf("message:%s\n%s", m.Role, strings.Join(parts, "\n"))
}

type wireMessage struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	Content   []envelope `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	wire := wireMessage{
		ID:        m.ID,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
		Content:   make([]envelope, 0, len(m.Content)),
	}
	for _, c := range m.Content {
		e, err := encodeContent(c)
		if err != nil {
			return nil, err
		}
		wire.Content = append(wire.Content, e)
	}
	return json.Marshal(wire)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content := make([]Content, 0, len(wire.Content))
	for i, e := range wire.Content {
		c, err := decodeContent(e)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		content = append(content, c)
	}
	*m = Message{ID: wire.ID, Role: wire.Role, CreatedAt: wire.CreatedAt, Content: content}
	return nil
}
