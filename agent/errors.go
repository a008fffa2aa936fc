package agent

import "errors"

var (
	// ErrNoMessages 会话必须以至少一条消息开始
	ErrNoMessages = errors.New("conversation requires at least one message")

	// ErrModelNotSet 模型客户端未设置
	ErrModelNotSet = errors.New("model client not set")

	// ErrExecutorNotSet 工具执行器未设置
	ErrExecutorNotSet = errors.New("tool executor not set")

	// ErrIterationLimitExceeded 工具循环次数超过上限
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")

	// ErrUnexpectedState 驱动器在非可推进状态下被调用
	ErrUnexpectedState = errors.New("driver cannot advance from state")
)
