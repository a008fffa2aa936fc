// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package types 提供 jarvis 运行时的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、mcp、persistence
以及 api 等上层模块提供统一的类型契约。

# 核心类型

  - Message：按角色区分的对话消息（System / User / Assistant / Tool）
  - ToolDefinition：暴露给模型的工具定义（parameters 原样透传）
  - ToolCallRequest：模型发起的一次工具调用
  - ToolCallResult：工具执行结果（内容块 + is_error 标记）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - WithTraceID 等：请求级标识（trace / session / user / tenant）的 context 传递

# 编解码

EncodeMessage / DecodeMessage 在各角色变体与扁平 JSON 结构之间转换，
供 HTTP API 与持久化层使用。
*/
package types
