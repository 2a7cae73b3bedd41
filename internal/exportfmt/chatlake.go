// ABOUTME: Canonical chatlake export variant
// ABOUTME: Already flat; written by the synthetic generator and accepted for re-imports
package exportfmt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CanonicalMessage is one message of the canonical format
type CanonicalMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CanonicalConversation is one entry of the canonical format
type CanonicalConversation struct {
	ID       string             `json:"id"`
	Title    string             `json:"title,omitempty"`
	Source   string             `json:"source"`
	Messages []CanonicalMessage `json:"messages"`
}

type chatlakeParser struct{}

func (chatlakeParser) Name() string { return FormatChatlake }

func (chatlakeParser) ParseEntry(raw json.RawMessage) (*ParsedConversation, error) {
	var c CanonicalConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}

	conv := &ParsedConversation{
		ExternalID: c.ID,
		Title:      c.Title,
		Source:     c.Source,
	}
	if conv.Source == "" {
		conv.Source = FormatChatlake
	}
	for i, m := range c.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return nil, fmt.Errorf("message %d has no role", i)
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		conv.Messages = append(conv.Messages, ParsedMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: parseTime(m.Timestamp),
		})
	}
	return conv, nil
}
