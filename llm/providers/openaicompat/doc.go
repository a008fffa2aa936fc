// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

// Package openaicompat implements llm.Provider for any endpoint that speaks
// the OpenAI chat-completions format.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.LLM.APIKey,
//	    BaseURL:      cfg.LLM.BaseURL,
//	    DefaultModel: cfg.LLM.Model,
//	}, logger)
//
// HTTP failures are returned as *types.Error; 429, 408/504 and 5xx are
// marked retryable so llm.RetryProvider can back off and try again.
package openaicompat
