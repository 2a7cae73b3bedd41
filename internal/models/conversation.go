// ABOUTME: Canonical Conversation and Message records plus content-derived identity
// ABOUTME: ConversationKey hashes the ordered (role, content) pairs, never source ids
package models

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/harper/chatlake/internal/util"
)

// Well-known roles after normalization
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Conversation is a canonical thread identified by its ConversationKey
type Conversation struct {
	ID             string     `json:"id" yaml:"id"`
	Key            string     `json:"key" yaml:"key"`
	SourceSystem   string     `json:"source_system" yaml:"source_system"`
	ExternalID     string     `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	Title          string     `json:"title,omitempty" yaml:"title,omitempty"`
	FirstMessageAt *time.Time `json:"first_message_at,omitempty" yaml:"first_message_at,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty" yaml:"last_message_at,omitempty"`
	FirstBatchID   string     `json:"first_batch_id" yaml:"first_batch_id"`
	LastBatchID    string     `json:"last_batch_id" yaml:"last_batch_id"`
	MessageCount   int        `json:"message_count" yaml:"message_count"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
}

// Message is one turn. (ConversationID, Role, SequenceIndex, ContentHash) is unique.
type Message struct {
	ID             string     `json:"id" yaml:"id"`
	ConversationID string     `json:"conversation_id" yaml:"conversation_id"`
	Role           string     `json:"role" yaml:"role"`
	SequenceIndex  int        `json:"sequence_index" yaml:"sequence_index"`
	Content        string     `json:"content" yaml:"content"`
	ContentHash    string     `json:"content_hash" yaml:"content_hash"`
	Timestamp      *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	ArtifactID     string     `json:"artifact_id,omitempty" yaml:"artifact_id,omitempty"`
}

// Turn is the minimal (role, content) view used to derive identity
type Turn struct {
	Role    string
	Content string
}

// NormalizeRole lowercases a role and maps source aliases onto the well-known set.
func NormalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	switch r {
	case "human", "user":
		return RoleUser
	case "assistant", "ai", "model", "bot", "chatgpt", "claude":
		return RoleAssistant
	case "system", "developer":
		return RoleSystem
	case "tool", "function":
		return RoleTool
	}
	return r
}

// ConversationKey derives a deterministic identity from the ordered
// (role, content) pairs. Roles are normalized; content is hashed byte-exact.
// Every field is length-prefixed so no content can mimic a turn boundary.
func ConversationKey(turns []Turn) string {
	h := util.NewHasher()
	var buf []byte
	for _, t := range turns {
		role := NormalizeRole(t.Role)
		buf = binary.AppendUvarint(buf[:0], uint64(len(role)))
		buf = append(buf, role...)
		buf = binary.AppendUvarint(buf, uint64(len(t.Content)))
		buf = append(buf, t.Content...)
		_, _ = h.Write(buf)
	}
	return util.HexSum(h)
}
