// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

// Package mcp 实现 Model Context Protocol 客户端：JSON-RPC 2.0 消息、
// stdio / SSE / WebSocket 三种传输，以及把多个 MCP server 聚合为
// agent.ToolExecutor 的 ToolExecutor。
package mcp
