package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/goose/pkg/message"
	"github.com/harun/goose/pkg/toolexecutor"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider on the chat completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a client. An empty apiKey falls back to OPENAI_API_KEY.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Generate(ctx context.Context, request Request) (*Response, error) {
	messages, err := toOpenAIMessages(request.SystemPrompt, request.History)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		params.Tools = toOpenAITools(request.Tools)
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	var content []message.Content
	if choice.Message.Content != "" {
		content = append(content, message.Text{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, fmt.Errorf("failed to parse tool arguments for %s: invalid JSON", tc.Function.Name)
		}
		content = append(content, message.ToolUse{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: json.RawMessage(args),
		})
	}

	return &Response{
		Message: message.New(message.RoleAssistant, content...),
		Usage: Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		},
	}, nil
}

// toOpenAIMessages maps the history onto chat messages. Tool results become tool
// messages placed before any text of the same user turn, directly after the assistant
// tool calls they answer.
func toOpenAIMessages(system string, history []message.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	for _, msg := range history {
		switch msg.Role {
		case message.RoleUser:
			for _, result := range msg.ToolResults() {
				output := result.Output
				if result.IsError {
					output = "Error: " + output
				}
				messages = append(messages, openai.ToolMessage(output, result.ToolUseID))
			}
			if text := msg.Text(); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}

		case message.RoleAssistant:
			uses := msg.ToolUses()
			if len(uses) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Text()))
				continue
			}

			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(uses))
			for _, use := range uses {
				args := string(use.Parameters)
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   use.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      use.Name,
						Arguments: args,
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Text(),
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())

		default:
			return nil, fmt.Errorf("unsupported role %q in history", msg.Role)
		}
	}
	return messages, nil
}

func toOpenAITools(defs []toolexecutor.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.JSONSchema()),
			},
		})
	}
	return tools
}
