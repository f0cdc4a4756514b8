package browser

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// tokenEncoding is the BPE used for token estimates.
const tokenEncoding = "cl100k_base"

// tokenCounter estimates token counts for extracted content. The encoding is
// loaded on first use; when it cannot be loaded every count falls back to a
// rune count divided by four.
type tokenCounter struct {
	load   func() (*tiktoken.Tiktoken, error)
	logger *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func newTokenCounter(logger *zap.Logger) *tokenCounter {
	return &tokenCounter{
		load:   func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding(tokenEncoding) },
		logger: logger,
	}
}

func (t *tokenCounter) init() error {
	t.once.Do(func() {
		enc, err := t.load()
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", tokenEncoding, err)
			t.logger.Warn("token encoding unavailable, estimating from length", zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count returns the token count of text.
func (t *tokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}
