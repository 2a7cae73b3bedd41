// ABOUTME: Streaming parser for chat export files
// ABOUTME: Walks the top-level JSON array one conversation at a time and hands each entry to a format variant
package exportfmt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"time"

	"github.com/harper/chatlake/internal/models"
)

// Supported export formats
const (
	FormatChatGPT  = "chatgpt"
	FormatClaude   = "claude"
	FormatChatlake = "chatlake"
)

// ParsedMessage is one message in source order
type ParsedMessage struct {
	Role      string
	Content   string
	Timestamp *time.Time
}

// ParsedConversation is one conversation decoded from an export entry
type ParsedConversation struct {
	ExternalID string
	Title      string
	Source     string
	Messages   []ParsedMessage
}

// Turns returns the (role, content) pairs that define the conversation key
func (c *ParsedConversation) Turns() []models.Turn {
	turns := make([]models.Turn, len(c.Messages))
	for i, m := range c.Messages {
		turns[i] = models.Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}

// Bounds returns the first and last message timestamps, if any
func (c *ParsedConversation) Bounds() (first, last *time.Time) {
	for i := range c.Messages {
		ts := c.Messages[i].Timestamp
		if ts == nil {
			continue
		}
		if first == nil || ts.Before(*first) {
			first = ts
		}
		if last == nil || ts.After(*last) {
			last = ts
		}
	}
	return first, last
}

// Parser decodes a single export entry
type Parser interface {
	Name() string
	ParseEntry(raw json.RawMessage) (*ParsedConversation, error)
}

var parsers = map[string]Parser{
	FormatChatGPT:  chatGPTParser{},
	FormatClaude:   claudeParser{},
	FormatChatlake: chatlakeParser{},
}

// Lookup returns the parser for format
func Lookup(format string) (Parser, error) {
	p, ok := parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownFormat, format)
	}
	return p, nil
}

// Formats lists the supported format names
func Formats() []string {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry is one element of the top-level array. Err is set when the entry
// was malformed; the stream continues past it.
type Entry struct {
	Index        int
	Conversation *ParsedConversation
	Err          error
}

// Stream yields every entry of the export in r. A non-nil error in the
// second position is terminal: the document is broken or ctx was cancelled.
func Stream(ctx context.Context, r io.Reader, format string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		p, err := Lookup(format)
		if err != nil {
			yield(Entry{Index: -1}, err)
			return
		}

		dec := json.NewDecoder(r)
		tok, err := dec.Token()
		if err != nil {
			yield(Entry{Index: -1}, fmt.Errorf("read export: %w", err))
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			yield(Entry{Index: -1}, errors.New("export must be a JSON array of conversations"))
			return
		}

		for index := 0; dec.More(); index++ {
			if err := ctx.Err(); err != nil {
				yield(Entry{Index: index}, err)
				return
			}

			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				yield(Entry{Index: index}, fmt.Errorf("entry %d: %w", index, err))
				return
			}

			conv, err := p.ParseEntry(raw)
			if err == nil && len(conv.Messages) == 0 {
				err = errors.New("conversation has no messages")
			}
			entry := Entry{Index: index, Conversation: conv, Err: err}
			if err != nil {
				entry.Conversation = nil
			}
			if !yield(entry, nil) {
				return
			}
		}

		if _, err := dec.Token(); err != nil {
			yield(Entry{Index: -1}, fmt.Errorf("unterminated export array: %w", err))
		}
	}
}

func unixTime(secs *float64) *time.Time {
	if secs == nil || *secs <= 0 {
		return nil
	}
	whole := int64(*secs)
	nanos := int64((*secs - float64(whole)) * 1e9)
	t := time.Unix(whole, nanos).UTC()
	return &t
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
