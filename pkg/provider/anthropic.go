package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/goose/pkg/message"
	"github.com/harun/goose/pkg/toolexecutor"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider on the messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a client. An empty apiKey falls back to ANTHROPIC_API_KEY.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Generate(ctx context.Context, request Request) (*Response, error) {
	maxTokens := int64(request.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  toAnthropicMessages(request.History),
		MaxTokens: maxTokens,
	}
	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{{Text: request.SystemPrompt}}
	}
	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		reqParams.Tools = toAnthropicTools(request.Tools)
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	var content []message.Content
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, message.Text{Text: b.Text})
		case anthropic.ToolUseBlock:
			raw := b.JSON.Input.Raw()
			if raw == "" {
				raw = "{}"
			}
			if !json.Valid([]byte(raw)) {
				return nil, fmt.Errorf("failed to parse tool input for %s: invalid JSON", b.Name)
			}
			content = append(content, message.ToolUse{
				ID:         b.ID,
				Name:       b.Name,
				Parameters: json.RawMessage(raw),
			})
		}
	}

	return &Response{
		Message: message.New(message.RoleAssistant, content...),
		Usage: Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
		},
	}, nil
}

func toAnthropicMessages(history []message.Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, c := range msg.Content {
			switch v := c.(type) {
			case message.Text:
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			case message.ToolUse:
				input := v.Parameters
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, input, v.Name))
			case message.ToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(v.ToolUseID, v.Output, v.IsError))
			}
		}

		switch {
		case msg.Role == message.RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case len(messages) > 0 && messages[len(messages)-1].Role == anthropic.MessageParamRoleUser:
			// tool results kept after an interrupt are followed by the next operator turn
			prev := &messages[len(messages)-1]
			prev.Content = append(prev.Content, blocks...)
		default:
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

func toAnthropicTools(defs []toolexecutor.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := def.JSONSchema()
		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   def.Required(),
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}
