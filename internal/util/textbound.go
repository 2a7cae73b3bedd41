// ABOUTME: Bounds text sent to embedding providers by token count
// ABOUTME: Uses tiktoken cl100k_base and cuts back to the nearest word boundary
package util

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// runesPerToken is the fallback budget used when the encoder cannot load
const runesPerToken = 4

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
	encMu   sync.Mutex
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// CountTokens returns the cl100k_base token count of text, or an estimate
// if the encoder is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	e, err := encoding()
	if err != nil {
		return (utf8.RuneCountInString(text) + runesPerToken - 1) / runesPerToken
	}
	encMu.Lock()
	defer encMu.Unlock()
	return len(e.Encode(text, nil, nil))
}

// BoundText truncates text to at most maxTokens tokens, preferring to cut at
// a word boundary. maxTokens <= 0 disables the bound.
func BoundText(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}

	e, err := encoding()
	if err != nil {
		return BoundRunes(text, maxTokens*runesPerToken)
	}

	encMu.Lock()
	tokens := e.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		encMu.Unlock()
		return text
	}
	prefix := e.Decode(tokens[:maxTokens])
	encMu.Unlock()

	return cutAtWord(text, strings.ToValidUTF8(prefix, ""))
}

// BoundRunes truncates text to at most maxRunes runes at a word boundary.
func BoundRunes(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return cutAtWord(text, string(runes[:maxRunes]))
}

// cutAtWord shortens prefix (a prefix of text) so it does not end mid-word.
func cutAtWord(text, prefix string) string {
	if strings.HasPrefix(text, prefix) {
		next, _ := utf8.DecodeRuneInString(text[len(prefix):])
		if unicode.IsSpace(next) {
			return strings.TrimRightFunc(prefix, unicode.IsSpace)
		}
	}

	i := strings.LastIndexFunc(prefix, unicode.IsSpace)
	if i <= 0 {
		// a single oversized word; keep the hard cut
		return prefix
	}
	return strings.TrimRightFunc(prefix[:i], unicode.IsSpace)
}
