// ABOUTME: ChatGPT export variant
// ABOUTME: Linearises the mapping tree by walking from current_node back to the root
package exportfmt

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

type chatGPTNode struct {
	ID       string   `json:"id"`
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
	Message  *struct {
		Author struct {
			Role string `json:"role"`
		} `json:"author"`
		CreateTime *float64 `json:"create_time"`
		Content    struct {
			ContentType string            `json:"content_type"`
			Parts       []json.RawMessage `json:"parts"`
			Text        string            `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

type chatGPTConversation struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Title          string                 `json:"title"`
	CurrentNode    string                 `json:"current_node"`
	Mapping        map[string]chatGPTNode `json:"mapping"`
}

type chatGPTParser struct{}

func (chatGPTParser) Name() string { return FormatChatGPT }

func (chatGPTParser) ParseEntry(raw json.RawMessage) (*ParsedConversation, error) {
	var c chatGPTConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if len(c.Mapping) == 0 {
		return nil, errors.New("chatgpt entry has no mapping")
	}

	path, err := c.activePath()
	if err != nil {
		return nil, err
	}

	conv := &ParsedConversation{
		ExternalID: c.ConversationID,
		Title:      c.Title,
		Source:     FormatChatGPT,
	}
	if conv.ExternalID == "" {
		conv.ExternalID = c.ID
	}

	for _, id := range path {
		node := c.Mapping[id]
		if node.Message == nil {
			continue
		}
		text := strings.TrimSpace(node.text())
		if text == "" {
			continue
		}
		conv.Messages = append(conv.Messages, ParsedMessage{
			Role:      node.Message.Author.Role,
			Content:   text,
			Timestamp: unixTime(node.Message.CreateTime),
		})
	}
	return conv, nil
}

// activePath returns node ids from the root to the active leaf
func (c *chatGPTConversation) activePath() ([]string, error) {
	leaf := c.CurrentNode
	if _, ok := c.Mapping[leaf]; !ok {
		var err error
		if leaf, err = c.lastLeaf(); err != nil {
			return nil, err
		}
	}

	var path []string
	seen := make(map[string]bool)
	for id := leaf; id != ""; {
		if seen[id] {
			return nil, errors.New("chatgpt mapping contains a cycle")
		}
		seen[id] = true
		node, ok := c.Mapping[id]
		if !ok {
			return nil, errors.New("chatgpt mapping references a missing node")
		}
		path = append(path, id)
		if node.Parent == nil {
			break
		}
		id = *node.Parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// lastLeaf follows the newest child from the root when current_node is absent
func (c *chatGPTConversation) lastLeaf() (string, error) {
	roots := make([]string, 0, 1)
	for id, node := range c.Mapping {
		if node.Parent == nil || *node.Parent == "" {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return "", nil
	}
	sort.Strings(roots)

	id := roots[0]
	seen := map[string]bool{id: true}
	for {
		children := c.Mapping[id].Children
		if len(children) == 0 {
			return id, nil
		}
		next := children[len(children)-1]
		if _, ok := c.Mapping[next]; !ok {
			return id, nil
		}
		if seen[next] {
			return "", errors.New("chatgpt mapping children contain a cycle")
		}
		seen[next] = true
		id = next
	}
}

func (n chatGPTNode) text() string {
	if n.Message.Content.Text != "" {
		return n.Message.Content.Text
	}
	var parts []string
	for _, raw := range n.Message.Content.Parts {
		var s string
		// non-text parts (images, attachments) are objects and are skipped
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
