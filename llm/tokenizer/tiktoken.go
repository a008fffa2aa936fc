package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/comigor/jarvis-go/types"
)

// TiktokenTokenizer 为 OpenAI 系列模型封装 tiktoken.
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 将模型名称前缀映射到 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// encodingFor 返回最长前缀匹配的编码
func encodingFor(model string) (string, bool) {
	best, enc := "", ""
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, enc = prefix, e
		}
	}
	return enc, best != ""
}

func newTiktokenForKnownModel(model string) (*TiktokenTokenizer, bool) {
	enc, ok := encodingFor(model)
	if !ok {
		return nil, false
	}
	return &TiktokenTokenizer{model: model, encoding: enc}, true
}

// NewTiktokenTokenizer creates a tiktoken tokenizer; unknown models fall back
// to cl100k_base.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	if t, ok := newTiktokenForKnownModel(model); ok {
		return t
	}
	return &TiktokenTokenizer{model: model, encoding: "cl100k_base"}
}

// init lazily 初始化 tiktoken 编码(第一次使用时可能下载 BPE 数据).
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []types.Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return countWith(t.CountTokens, messages)
}

// Encoding returns the tiktoken encoding name.
func (t *TiktokenTokenizer) Encoding() string {
	return t.encoding
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
