// Package exchange owns the conversation history and token accounting of one session.
//
// Every mutation goes through an Exchange method. AddMessage validates before it appends,
// Generate appends the backend reply only after the call succeeded, and Rewind pops the
// most recent message. Readers get copies, never aliases of the stored messages.
// A configured moderation.Moderator shapes only the history sent to the backend.
//
// Usage:
//
//	ex, err := exchange.New(exchange.Config{
//		Provider: p,
//		Executor: executor,
//		Model:    "gpt-4o",
//	})
//	if err := ex.AddMessage(message.User("list files")); err != nil {
//		return err
//	}
//	reply, err := ex.Generate(ctx, ex.Tools())
//	for _, use := range reply.ToolUses() {
//		results = append(results, ex.DispatchTool(ctx, use))
//	}
package exchange
