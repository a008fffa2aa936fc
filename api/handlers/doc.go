// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 jarvis HTTP API 的请求处理器实现。

# 概述

所有 Handler 均遵循标准 net/http 接口，由 cmd/jarvis 注册到路由并套上中间件链。

# 核心类型

  - HistoryHandler：POST /，追加一条消息并返回会话完整历史
  - ChatHandler：POST /v1/chat，加载历史、运行会话、持久化回答
  - HealthHandler：/health, /healthz, /ready, /version
  - Response：统一 JSON 错误/成功信封（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与字节数
  - HealthCheck：可插拔就绪检查，PingCheck 适配任意 ping 函数

# 错误映射

HTTPStatusForCode 把 types.ErrorCode 映射为状态码：会话失败
（MODEL_FAILED、ITERATION_LIMIT、TOOL_*）为 502，TIMEOUT 为 504，
存储失败为 500。
*/
package handlers
