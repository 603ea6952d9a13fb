// Package session runs the interactive agent loop and persists its conversations.
//
// A Session owns one Exchange. Run reads operator turns until end of input; each turn
// goes through ProcessOneTurn, which alternates between asking the model for a reply and
// dispatching the tool calls in it until the model answers in plain text.
//
// Invariants:
// - Interrupt only raises a counter. The loop polls it at the start of each iteration,
//   before calling the model and before dispatching tools.
// - Recovery removes a trailing operator turn that has no reply yet. A trailing assistant
//   tool request, or the results of tools that already ran, are kept and the operator is
//   asked how to proceed instead.
// - All tool results of one assistant turn are returned to the model in one user message,
//   in the order the calls were made.
// - Store logs are append-only JSONL; a log is rewritten only when recovery removes a
//   message that was already written.
//
// Usage:
//
//	store, _ := session.NewStore("")
//	s, err := session.New(ctx, session.Config{
//		Name:     "r2d2",
//		Exchange: ex,
//		Store:    store,
//		Operator: console.New(os.Stdin, os.Stdout),
//	})
//	if err != nil {
//		return err
//	}
//	return s.Run(ctx)
package session
