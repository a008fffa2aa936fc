// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Command jarvis 启动对话助手服务，并提供迁移与运维子命令。

# 子命令

  - serve：默认；加载配置、装配组件并运行 HTTP 服务直到收到信号
  - migrate：对 SQL 历史后端执行 golang-migrate 迁移
  - health：探测运行中实例的 /health
  - version：打印构建信息

# 组件装配

NewServer 依次构建遥测、Prometheus 指标、历史存储、MCP 工具执行器、
LLM provider（openaicompat -> 重试 -> 指标）、ChatModel 与会话驱动，
最后注册路由并套上中间件链：

	Recovery -> RequestID -> SecurityHeaders -> RequestLogger -> Metrics
	-> OTelTracing -> CORS -> RateLimiter -> Auth

任何一步失败都会释放已建立的连接。
*/
package main
