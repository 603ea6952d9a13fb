package message

import (
	"encoding/json"
	"fmt"
)

// ContentKind discriminates the content variants carried by a message.
type ContentKind string

const (
	KindText       ContentKind = "text"
	KindToolUse    ContentKind = "tool_use"
	KindToolResult ContentKind = "tool_result"
)

// Content is one typed segment of a message. The set of variants is closed: Text, ToolUse
// and ToolResult.
type Content interface {
	Kind() ContentKind
	String() string
	clone() Content
}

// Text is free-form text written by the operator or the model.
type Text struct {
	Text string `json:"text"`
}

// ToolUse is a model request to invoke a registered tool.
type ToolUse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ToolResult carries the outcome of a ToolUse back to the model.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Output    string `json:"output"`
	IsError   bool   `json:"is_error"`
}

func (Text) Kind() ContentKind       { return KindText }
func (ToolUse) Kind() ContentKind    { return KindToolUse }
func (ToolResult) Kind() ContentKind { return KindToolResult }

func (t Text) String() string { return t.Text }

func (t ToolUse) String() string {
	params := string(t.Parameters)
	if params == "" {
		params = "{}"
	}
	return fmt.Sprintf("Tool use: %s with parameters: %s", t.Name, params)
}

func (t ToolResult) String() string {
	if t.IsError {
		return "Tool error: " + t.Output
	}
	return "Tool result: " + t.Output
}

func (t Text) clone() Content { return t }

func (t ToolUse) clone() Content {
	if t.Parameters != nil {
		t.Parameters = append(json.RawMessage(nil), t.Parameters...)
	}
	return t
}

func (t ToolResult) clone() Content { return t }

// Params decodes the tool parameters into a JSON object. A missing or null payload
// decodes to an empty map.
func (t ToolUse) Params() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if len(t.Parameters) == 0 || string(t.Parameters) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(t.Parameters, &params); err != nil {
		return nil, fmt.Errorf("tool parameters for %s are not a JSON object: %w", t.Name, err)
	}
	return params, nil
}

// NewToolUse builds a ToolUse from a Go value, marshaling it as the parameter payload.
func NewToolUse(id, name string, params interface{}) (ToolUse, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return ToolUse{}, fmt.Errorf("failed to marshal parameters for %s: %w", name, err)
	}
	return ToolUse{ID: id, Name: name, Parameters: raw}, nil
}

// ErrorResult builds an error-flagged ToolResult for the given tool use.
func ErrorResult(toolUseID, output string) ToolResult {
	return ToolResult{ToolUseID: toolUseID, Output: output, IsError: true}
}

// envelope is the wire form of a Content item.
type envelope struct {
	Type       ContentKind     `json:"type"`
	Text       *string         `json:"text,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	Output     *string         `json:"output,omitempty"`
	IsError    *bool           `json:"is_error,omitempty"`
}

func encodeContent(c Content) (envelope, error) {
	switch v := c.(type) {
	case Text:
		text := v.Text
		return envelope{Type: KindText, Text: &text}, nil
	case ToolUse:
		params := v.Parameters
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		return envelope{Type: KindToolUse, ID: v.ID, Name: v.Name, Parameters: params}, nil
	case ToolResult:
		output, isErr := v.Output, v.IsError
		return envelope{Type: KindToolResult, ToolUseID: v.ToolUseID, Output: &output, IsError: &isErr}, nil
	default:
		return envelope{}, fmt.Errorf("unsupported content type %T", c)
	}
}

func decodeContent(e envelope) (Content, error) {
	switch e.Type {
	case KindText:
		if e.Text == nil {
			return nil, fmt.Errorf("text content is missing the text field")
		}
		return Text{Text: *e.Text}, nil
	case KindToolUse:
		return ToolUse{ID: e.ID, Name: e.Name, Parameters: e.Parameters}, nil
	case KindToolResult:
		result := ToolResult{ToolUseID: e.ToolUseID}
		if e.Output != nil {
			result.Output = *e.Output
		}
		if e.IsError != nil {
			result.IsError = *e.IsError
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", e.Type)
	}
}
