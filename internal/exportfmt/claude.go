// ABOUTME: Claude export variant
// ABOUTME: Reads chat_messages in order, mapping the human sender to the user role
package exportfmt

import (
	"encoding/json"
	"strings"
)

type claudeConversation struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	ChatMessages []struct {
		Sender    string `json:"sender"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"chat_messages"`
}

type claudeParser struct{}

func (claudeParser) Name() string { return FormatClaude }

func (claudeParser) ParseEntry(raw json.RawMessage) (*ParsedConversation, error) {
	var c claudeConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}

	conv := &ParsedConversation{
		ExternalID: c.UUID,
		Title:      c.Name,
		Source:     FormatClaude,
	}
	for _, m := range c.ChatMessages {
		text := m.Text
		if text == "" {
			var parts []string
			for _, block := range m.Content {
				if block.Type == "text" && block.Text != "" {
					parts = append(parts, block.Text)
				}
			}
			text = strings.Join(parts, "\n")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		conv.Messages = append(conv.Messages, ParsedMessage{
			Role:      m.Sender,
			Content:   text,
			Timestamp: parseTime(m.CreatedAt),
		})
	}
	return conv, nil
}
