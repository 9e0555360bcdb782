// Package agent contains the decision-making core: LLM providers, the
// credential-rotating fallback invoker, and the episode loop that alternates
// between model decisions and tool executions.
//
// Invariants:
// - One credential is in flight per logical model call.
// - Conversation turns within an episode are strictly ordered; tool
//   observations are appended in the order the decision requested them.
// - All provider and tool failures surface as data; nothing here terminates
//   the process.
//
// Usage:
//
//	inv, _ := agent.NewInvoker(agent.InvokerConfig{Pool: pool, Chain: chain})
//	loop, _ := agent.NewLoop(agent.LoopConfig{Invoker: inv, Registry: reg})
//	result := loop.RunEpisode(ctx, agent.Episode{Key: "q1", Prompt: url})
package agent
