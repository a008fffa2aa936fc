package tokenizer

import (
	"unicode"
	"unicode/utf8"

	"github.com/comigor/jarvis-go/types"
)

// EstimatorTokenizer is a character-count-based token estimator.
// CJK and ASCII runes are weighted differently, which beats a naive len/4.
type EstimatorTokenizer struct {
	model string
}

// NewEstimatorTokenizer creates a generic estimator.
func NewEstimatorTokenizer(model string) *EstimatorTokenizer {
	return &EstimatorTokenizer{model: model}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
		}
	}

	// CJK ~1.5 chars/token, others ~4 chars/token.
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) CountMessages(messages []types.Message) (int, error) {
	return countWith(e.CountTokens, messages)
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}
