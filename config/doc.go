// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

// Package config 提供 jarvis 的配置加载：默认值 → YAML 文件 → 环境变量。
//
// 环境变量形如 JARVIS_<SECTION>__<FIELD>，例如 JARVIS_LLM__API_KEY、
// JARVIS_SERVER__PORT。HISTORY_DB_PATH 直接覆盖 history.path。
package config
