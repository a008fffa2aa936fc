// Package tokenizer 提供 prompt token 计数：OpenAI 系列模型使用 tiktoken，
// 其他模型回退到按字符估算。
package tokenizer
