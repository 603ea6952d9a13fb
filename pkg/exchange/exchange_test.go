package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/goose/pkg/message"
	"github.com/harun/goose/pkg/moderation"
	"github.com/harun/goose/pkg/provider"
	"github.com/harun/goose/pkg/provider/providertest"
	"github.com/harun/goose/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *toolexecutor.Executor {
	t.Helper()
	reg := toolexecutor.NewRegistry()
	require.NoError(t, reg.Register(toolexecutor.ToolDefinition{
		Name:        "echo",
		Description: "Echo the input",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "text", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}))
	return toolexecutor.New(reg, toolexecutor.Options{Timeout: time.Second})
}

func setupTestExchange(t *testing.T, p provider.Provider) *Exchange {
	t.Helper()
	ex, err := New(Config{Provider: p, Executor: newTestExecutor(t), Model: "test-model"})
	require.NoError(t, err)
	return ex
}

func toolUse(t *testing.T, id, name string, params map[string]interface{}) message.ToolUse {
	t.Helper()
	use, err := message.NewToolUse(id, name, params)
	require.NoError(t, err)
	return use
}

func TestNew(t *testing.T) {
	_, err := New(Config{Executor: newTestExecutor(t)})
	assert.Error(t, err)

	_, err = New(Config{Provider: providertest.NewScripted()})
	assert.Error(t, err)
}

func TestAddMessage_IsAtomic(t *testing.T) {
	ex := setupTestExchange(t, providertest.NewScripted())
	require.NoError(t, ex.AddMessage(message.User("hello")))
	before := ex.HistorySnapshot()

	tests := []struct {
		name string
		msg  message.Message
	}{
		{name: "empty content", msg: message.New(message.RoleUser)},
		{name: "user with tool use", msg: message.New(message.RoleUser, toolUse(t, "t1", "echo", nil))},
		{name: "assistant with tool result", msg: message.New(message.RoleAssistant, message.ToolResult{ToolUseID: "t1"})},
		{name: "dangling tool result", msg: message.WithToolResults(message.ToolResult{ToolUseID: "missing", Output: "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ex.AddMessage(tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, message.ErrInvalidMessage)
			assert.Equal(t, before, ex.HistorySnapshot())
		})
	}
}

func TestAddMessage_ReferentialIntegrity(t *testing.T) {
	ex := setupTestExchange(t, providertest.NewScripted())
	require.NoError(t, ex.AddMessage(message.User("run it")))
	require.NoError(t, ex.AddMessage(message.New(message.RoleAssistant, toolUse(t, "call_1", "echo", map[string]interface{}{"text": "hi"}))))

	result := message.WithToolResults(message.ToolResult{ToolUseID: "call_1", Output: "hi"})
	require.NoError(t, ex.AddMessage(result))

	// once the assistant turn is gone its tool uses can no longer be answered
	_, err := ex.Rewind()
	require.NoError(t, err)
	_, err = ex.Rewind()
	require.NoError(t, err)
	assert.ErrorIs(t, ex.AddMessage(result), message.ErrInvalidMessage)
}

func TestRewind(t *testing.T) {
	t.Run("empty history", func(t *testing.T) {
		ex := setupTestExchange(t, providertest.NewScripted())
		_, err := ex.Rewind()
		assert.ErrorIs(t, err, ErrEmptyHistory)
	})

	t.Run("round trip", func(t *testing.T) {
		ex := setupTestExchange(t, providertest.NewScripted())
		require.NoError(t, ex.AddMessage(message.User("one")))
		require.NoError(t, ex.AddMessage(message.Assistant("two")))
		require.NoError(t, ex.AddMessage(message.User("three")))
		before := ex.HistorySnapshot()

		last, err := ex.Rewind()
		require.NoError(t, err)
		assert.Equal(t, "three", last.Text())
		assert.Equal(t, 2, ex.Len())

		require.NoError(t, ex.AddMessage(last))
		assert.Equal(t, before, ex.HistorySnapshot())
	})
}

func TestGenerate(t *testing.T) {
	use := toolUse(t, "call_1", "echo", map[string]interface{}{"text": "hi"})
	p := providertest.NewScripted(
		providertest.Step{
			Message: message.New(message.RoleAssistant, message.Text{Text: "calling echo"}, use),
			Usage:   provider.Usage{InputTokens: 10, OutputTokens: 4},
		},
	)
	ex := setupTestExchange(t, p)
	require.NoError(t, ex.AddMessage(message.User("say hi")))

	reply, err := ex.Generate(context.Background(), ex.Tools())
	require.NoError(t, err)

	assert.True(t, reply.HasToolUse())
	assert.Equal(t, "calling echo", reply.Text())
	assert.Equal(t, provider.Usage{InputTokens: 10, OutputTokens: 4}, ex.TokenUsage())
	assert.Equal(t, 2, ex.Len())

	last, ok := ex.Last()
	require.True(t, ok)
	assert.Equal(t, reply, last)

	requests := p.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "test-model", requests[0].Model)
	require.Len(t, requests[0].Tools, 1)
	assert.Equal(t, "echo", requests[0].Tools[0].Name)
	assert.Len(t, requests[0].History, 1)
}

// The backend fails on the second call: everything appended before it stays, nothing
// from the failed call is added.
func TestGenerate_ProviderFailureLeavesStateUnchanged(t *testing.T) {
	backendErr := errors.New("backend unavailable")
	p := providertest.NewScripted(
		providertest.Reply(7, message.Text{Text: "first answer"}),
		providertest.Fail(backendErr),
	)
	ex := setupTestExchange(t, p)

	require.NoError(t, ex.AddMessage(message.User("first")))
	_, err := ex.Generate(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, ex.AddMessage(message.User("second")))

	before := ex.HistorySnapshot()
	usage := ex.TokenUsage()

	_, err = ex.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, backendErr)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "scripted", perr.Provider)

	after := ex.HistorySnapshot()
	assert.Equal(t, before, after)
	require.Len(t, after, 3)
	assert.Equal(t, message.RoleUser, after[2].Role)
	assert.Equal(t, usage, ex.TokenUsage())
}

func TestGenerate_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		step providertest.Step
	}{
		{name: "empty content", step: providertest.Step{Message: message.New(message.RoleAssistant)}},
		{name: "user role", step: providertest.Step{Message: message.User("not me")}},
		{name: "tool use without id", step: providertest.Step{
			Message: message.New(message.RoleAssistant, message.ToolUse{Name: "echo"}),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := setupTestExchange(t, providertest.NewScripted(tt.step))
			require.NoError(t, ex.AddMessage(message.User("hi")))

			_, err := ex.Generate(context.Background(), nil)
			assert.ErrorIs(t, err, ErrProvider)
			assert.Equal(t, 1, ex.Len())
			assert.Equal(t, provider.Usage{}, ex.TokenUsage())
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	never := make(chan struct{})
	p := providertest.NewScripted(providertest.Step{Wait: never, Message: message.Assistant("late")})
	ex, err := New(Config{Provider: p, Executor: newTestExecutor(t), Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, ex.AddMessage(message.User("hi")))

	_, err = ex.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrProvider)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 20*time.Millisecond, terr.After)
	assert.Equal(t, 1, ex.Len())
}

func TestGenerate_CallerCancellation(t *testing.T) {
	never := make(chan struct{})
	p := providertest.NewScripted(providertest.Step{Wait: never})
	ex, err := New(Config{Provider: p, Executor: newTestExecutor(t), Timeout: time.Minute})
	require.NoError(t, err)
	require.NoError(t, ex.AddMessage(message.User("hi")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = ex.Generate(ctx, nil)
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, ex.Len())
}

func TestGenerate_CallsBackendOnce(t *testing.T) {
	m := &providertest.Mock{}
	m.On("Name").Return("mock")
	m.On("Generate", mock.Anything, mock.AnythingOfType("provider.Request")).
		Return(&provider.Response{Message: message.Assistant("ok"), Usage: provider.Usage{OutputTokens: 1}}, nil).
		Once()

	ex := setupTestExchange(t, m)
	require.NoError(t, ex.AddMessage(message.User("hi")))

	_, err := ex.Generate(context.Background(), nil)
	require.NoError(t, err)
	m.AssertNumberOfCalls(t, "Generate", 1)
}

func TestDispatchTool_DoesNotAppend(t *testing.T) {
	ex := setupTestExchange(t, providertest.NewScripted())
	require.NoError(t, ex.AddMessage(message.User("hi")))

	result := ex.DispatchTool(context.Background(), toolUse(t, "call_1", "echo", map[string]interface{}{"text": "hi"}))
	assert.False(t, result.IsError)
	assert.Equal(t, "hi", result.Output)
	assert.Equal(t, "call_1", result.ToolUseID)

	result = ex.DispatchTool(context.Background(), toolUse(t, "call_2", "nope", nil))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Output, "unknown tool: nope")

	assert.Equal(t, 1, ex.Len())
}

func TestHistorySnapshot_IsACopy(t *testing.T) {
	ex := setupTestExchange(t, providertest.NewScripted())
	require.NoError(t, ex.AddMessage(message.User("original")))

	snap := ex.HistorySnapshot()
	snap[0].Content[0] = message.Text{Text: "changed"}

	assert.Equal(t, "original", ex.HistorySnapshot()[0].Text())
	assert.Equal(t, 1, ex.Len())
}

func TestRestore(t *testing.T) {
	use := toolUse(t, "call_1", "echo", map[string]interface{}{"text": "x"})
	valid := []message.Message{
		message.User("go"),
		message.New(message.RoleAssistant, use),
		message.WithToolResults(message.ToolResult{ToolUseID: "call_1", Output: "x"}),
	}

	t.Run("valid log", func(t *testing.T) {
		ex := setupTestExchange(t, providertest.NewScripted())
		require.NoError(t, ex.Restore(valid))
		assert.Equal(t, 3, ex.Len())
	})

	t.Run("result before its tool use", func(t *testing.T) {
		ex := setupTestExchange(t, providertest.NewScripted())
		err := ex.Restore([]message.Message{valid[0], valid[2], valid[1]})
		assert.ErrorIs(t, err, message.ErrInvalidMessage)
		assert.Equal(t, 0, ex.Len())
	})

	t.Run("non-empty history", func(t *testing.T) {
		ex := setupTestExchange(t, providertest.NewScripted())
		require.NoError(t, ex.AddMessage(message.User("already here")))
		assert.Error(t, ex.Restore(valid))
		assert.Equal(t, 1, ex.Len())
	})
}

func TestConcurrentAccess(t *testing.T) {
	ex := setupTestExchange(t, providertest.NewScripted())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, ex.AddMessage(message.User(fmt.Sprintf("msg %d", i))))
		}(i)
		go func() {
			defer wg.Done()
			for _, msg := range ex.HistorySnapshot() {
				assert.NoError(t, msg.Validate())
			}
			_ = ex.TokenUsage()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, ex.Len())
}

func TestGenerate_ModeratorShapesRequestOnly(t *testing.T) {
	p := providertest.NewScripted(providertest.Reply(1, message.Text{Text: "short"}))
	ex, err := New(Config{
		Provider:  p,
		Executor:  newTestExecutor(t),
		Model:     "test-model",
		Moderator: moderation.NewTruncate(10),
	})
	require.NoError(t, err)

	require.NoError(t, ex.AddMessage(message.User(strings.Repeat("old ", 40))))
	require.NoError(t, ex.AddMessage(message.Assistant("ok")))
	require.NoError(t, ex.AddMessage(message.User("new question")))

	_, err = ex.Generate(context.Background(), nil)
	require.NoError(t, err)

	requests := p.Requests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].History, 1)
	assert.Equal(t, "new question", requests[0].History[0].Text())
	assert.Equal(t, 4, ex.Len())
}
