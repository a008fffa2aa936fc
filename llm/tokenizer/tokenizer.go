package tokenizer

import (
	"github.com/comigor/jarvis-go/types"
)

// Tokenizer 统一的 token 计数接口
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包括每条消息的角色与分隔符开销。
	CountMessages(messages []types.Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

const (
	perMessageOverhead      = 4 // <|start|>role\n content<|end|>\n
	conversationEndOverhead = 3
)

// ForModel returns a tiktoken tokenizer for OpenAI-family models and the
// character estimator for everything else.
func ForModel(model string) Tokenizer {
	if t, ok := newTiktokenForKnownModel(model); ok {
		return t
	}
	return NewEstimatorTokenizer(model)
}

// countWith 按消息逐条计数，tool 调用参数名也计入
func countWith(count func(string) (int, error), messages []types.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += perMessageOverhead
		n, err := count(msg.Text())
		if err != nil {
			return 0, err
		}
		total += n
		r, err := count(string(msg.Role()))
		if err != nil {
			return 0, err
		}
		total += r
		if am, ok := msg.(types.AssistantMessage); ok {
			for _, c := range am.ToolCalls {
				n, err := count(c.Name)
				if err != nil {
					return 0, err
				}
				total += n
			}
		}
	}
	return total + conversationEndOverhead, nil
}
