// Package toolexecutor declares the tools a model may call and executes validated calls.
//
// Invariants:
// - Tool names are unique and the registry is fixed once the session starts.
// - Required parameters are checked before any side effect runs.
// - Execute never returns an error: unknown tools, bad parameters, handler failures,
//   panics and timeouts all become error-flagged message.ToolResult values.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	_ = reg.Register(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	exec := toolexecutor.New(reg, toolexecutor.Options{Timeout: time.Minute})
//	result := exec.Execute(ctx, use)
package toolexecutor
