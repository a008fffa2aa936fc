// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package llm 是 jarvis 的模型接入层。

# 核心类型

  - [Provider]：一次非流式 chat completion 加健康检查
  - [RetryProvider]：对标记为可重试的 *types.Error 做指数退避重试
  - [ChatModel]：把 Provider 适配为 agent.ModelClient，负责
    types.Message 与 OpenAI 线格式之间的转换

具体的 HTTP 实现位于 llm/providers/openaicompat，token 计数位于
llm/tokenizer。

# 用法

	provider := openaicompat.New(openaicompat.Config{APIKey: key, DefaultModel: "gpt-4o-mini"}, logger)
	model := llm.NewChatModel(
	    llm.NewRetryProvider(provider, llm.DefaultRetryConfig(), logger),
	    llm.ChatModelConfig{Model: "gpt-4o-mini", SystemPrompt: "You are Jarvis."},
	    logger,
	)
	driver, _ := agent.NewDriver(model, executor, agent.DefaultDriverConfig())
*/
package llm
