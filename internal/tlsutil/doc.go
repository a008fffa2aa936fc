// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

// Package tlsutil 集中管理出站 HTTP 客户端（模型 provider、MCP SSE/WebSocket）
// 与入站 HTTP 服务端的 TLS 配置：TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
