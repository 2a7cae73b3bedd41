// ABOUTME: Deterministic in-process provider for tests and the synthetic benchmark
// ABOUTME: Vectors are derived from the text's vocabulary so similar texts embed nearby
package llm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/zeebo/blake3"

	"github.com/harper/chatlake/internal/vecmath"
)

// ErrFakeFailure is returned by FakeProvider for texts configured to fail
var ErrFakeFailure = errors.New("fake provider failure")

// FakeProvider embeds text as a normalized bag of hashed word vectors.
// Texts sharing vocabulary get high cosine similarity; identical texts get
// identical vectors on every run.
type FakeProvider struct {
	Dims  int
	Model string
	// FailWhen makes Embed fail for matching texts
	FailWhen func(text string) bool
	// Reply is returned by GenerateText when set
	Reply string
	// Unavailable makes IsAvailable report false
	Unavailable bool

	mu         sync.Mutex
	embedCalls int
	genCalls   int
}

// NewFakeProvider creates a fake with dims dimensions
func NewFakeProvider(dims int) *FakeProvider {
	return &FakeProvider{Dims: dims, Model: fmt.Sprintf("fake-%d", dims)}
}

// EmbeddingModel returns the fake's model name
func (f *FakeProvider) EmbeddingModel() string {
	return f.Model
}

// Embed returns a deterministic vector for text
func (f *FakeProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()

	if f.FailWhen != nil && f.FailWhen(text) {
		return nil, ErrFakeFailure
	}

	vec := make([]float64, f.Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		addWordVector(vec, w)
	}
	if vecmath.Norm(vec) == 0 {
		addWordVector(vec, text)
	}
	return vecmath.Normalize(vec), nil
}

// addWordVector adds a pseudo-random unit-scale vector seeded by word
func addWordVector(vec []float64, word string) {
	h := blake3.New()
	_, _ = h.Write([]byte(word))
	d := h.Digest()
	buf := make([]byte, 8)
	for i := range vec {
		_, _ = d.Read(buf)
		u := binary.LittleEndian.Uint64(buf)
		// map to [-1, 1)
		vec[i] += float64(u>>11)/float64(1<<53)*2 - 1
	}
}

// GenerateText returns Reply or a title built from the prompt's first words
func (f *FakeProvider) GenerateText(ctx context.Context, prompt string, _ GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.genCalls++
	f.mu.Unlock()

	if f.Reply != "" {
		return f.Reply, nil
	}
	words := strings.Fields(prompt)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " "), nil
}

// IsAvailable reports true unless Unavailable is set
func (f *FakeProvider) IsAvailable(context.Context) bool {
	return !f.Unavailable
}

// EmbedCalls returns how many times Embed was called
func (f *FakeProvider) EmbedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls
}

// GenerateCalls returns how many times GenerateText was called
func (f *FakeProvider) GenerateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls
}
