// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package metrics 提供基于 Prometheus 的指标采集。

# 核心类型

  - Collector：持有独立 Registry 的收集器，实现 agent.Observer，
    记录状态迁移、模型调用、工具调用与会话结果。
  - InstrumentProvider：包装 llm.Provider，记录请求耗时与 token 用量。

HTTP 指标按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
Handler() 返回挂在 metrics 端口上的 /metrics 处理器。
*/
package metrics
