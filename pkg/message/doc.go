// Package message defines conversation turns exchanged between the operator, the model and
// the local tools.
//
// Invariants:
// - A user message carries Text and/or ToolResult content, never ToolUse.
// - An assistant message carries Text and/or ToolUse content, never ToolResult.
// - Messages are treated as immutable once built; holders hand out Clone()s.
//
// Usage:
//
//	msg := message.User("list files")
//	if err := msg.Validate(); err != nil {
//		return err
//	}
//	fmt.Println(msg.Text())
package message
