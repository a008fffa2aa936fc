// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package agent implements the conversation orchestration core of jarvis.

# Overview

A conversation alternates between two external collaborators: a model that
produces the next turn, and a tool provider that executes the tools the model
asks for. The package splits that loop into three layers:

	┌─────────────────────────────────────────────────────────────┐
	│                         Driver                              │
	│   (loop, collaborator calls, timeouts, iteration bound)     │
	├─────────────────────────────────────────────────────────────┤
	│                      StateMachine                           │
	│        (current state + explicit transition table)          │
	├─────────────────────────────────────────────────────────────┤
	│                        Context                              │
	│  (messages, tools, pending tool calls, results, last error) │
	└─────────────────────────────────────────────────────────────┘

# State Machine

	ReadyToCallLlm ──ProcessInput──▶ AwaitingLlmResponse
	       ▲                            │        │
	       │              LlmRequestedTools   LlmRespondedWithContent
	       │                            ▼        ▼
	       └─ToolsExecutionCompleted─ ExecutingTools   Done
	                                    │
	            ToolsExecutionFailed / ErrorOccurred ──▶ Error

Any (state, event) pair missing from the table is rejected with
*ErrInvalidTransition and leaves the state unchanged. Done and Error reject
every event.

# Usage

	driver, err := agent.NewDriver(model, executor, agent.DefaultDriverConfig(),
	    agent.WithLogger(logger),
	    agent.WithObserver(collector),
	)
	if err != nil {
	    return err
	}

	res, err := driver.Run(ctx, []types.Message{
	    types.NewSystemMessage("You are Jarvis."),
	    types.NewUserMessage("What is the weather in Lisbon?"),
	}, tools)
	if err != nil {
	    // res.State == agent.StateError, res.Error carries the reason
	}
	fmt.Println(res.Content)

# Concurrency

A StateMachine has exactly one writer. A Driver holds no per-conversation
state and can run many conversations in parallel. Within one tool cycle the
Driver dispatches calls concurrently and joins them in request order.
*/
package agent
