// ABOUTME: Text helpers shared by segmentation, naming, and lexical similarity
// ABOUTME: Token extraction uses prose part-of-speech tags with a plain word-split fallback
package core

import (
	"slices"
	"strings"
	"unicode"

	"github.com/tsawler/prose/v3"

	"github.com/harper/chatlake/internal/models"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true, "with": true,
	"you": true, "your": true, "are": true, "was": true, "have": true, "has": true,
	"not": true, "but": true, "can": true, "will": true, "would": true, "should": true,
	"what": true, "when": true, "how": true, "why": true, "which": true, "there": true,
	"their": true, "they": true, "them": true, "then": true, "than": true, "from": true,
	"into": true, "about": true, "also": true, "just": true, "like": true, "some": true,
	"any": true, "all": true, "one": true, "use": true, "using": true, "here": true,
	"thing": true, "things": true, "way": true, "lot": true, "sure": true, "yes": true,
}

// renderMessages joins messages as "role: content" paragraphs.
func renderMessages(msgs []models.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
	}
	return b.String()
}

func keepWord(w string) bool {
	if len(w) < 3 || stopwords[w] {
		return false
	}
	for _, r := range w {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// contentTokens returns lowercased nouns, verbs, and adjectives in order.
// When tagging fails every word is kept.
func contentTokens(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return plainTokens(text)
	}
	var out []string
	for _, tok := range doc.Tokens() {
		if !strings.HasPrefix(tok.Tag, "NN") && !strings.HasPrefix(tok.Tag, "VB") && !strings.HasPrefix(tok.Tag, "JJ") {
			continue
		}
		w := strings.ToLower(tok.Text)
		if keepWord(w) {
			out = append(out, w)
		}
	}
	return out
}

// nounTokens returns lowercased nouns only.
func nounTokens(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return plainTokens(text)
	}
	var out []string
	for _, tok := range doc.Tokens() {
		if !strings.HasPrefix(tok.Tag, "NN") {
			continue
		}
		w := strings.ToLower(tok.Text)
		if keepWord(w) {
			out = append(out, w)
		}
	}
	return out
}

func plainTokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := words[:0]
	for _, w := range words {
		if keepWord(w) {
			out = append(out, w)
		}
	}
	return out
}

// topKeywords returns the n most frequent noun tokens across texts,
// ties broken alphabetically. Role prefixes are ignored.
func topKeywords(texts []string, n int) []string {
	counts := map[string]int{}
	for _, t := range texts {
		for _, w := range nounTokens(t) {
			if w == models.RoleUser || w == models.RoleAssistant {
				continue
			}
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	slices.SortFunc(words, func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

// slugify lowercases s and joins its alphanumeric runs with dashes.
func slugify(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	slug := strings.Join(parts, "-")
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	if slug == "" {
		return "topic"
	}
	return slug
}
