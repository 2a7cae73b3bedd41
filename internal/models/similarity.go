// ABOUTME: ConversationSimilarity is an order-normalized relatedness edge
// ABOUTME: ConversationA < ConversationB always holds for stored edges
package models

import "time"

// ConversationSimilarity is one edge produced by a similarity run
type ConversationSimilarity struct {
	ID            string    `json:"id" yaml:"id"`
	RunID         string    `json:"run_id" yaml:"run_id"`
	ConversationA string    `json:"conversation_a" yaml:"conversation_a"`
	ConversationB string    `json:"conversation_b" yaml:"conversation_b"`
	Score         float64   `json:"score" yaml:"score"`
	Method        string    `json:"method" yaml:"method"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

// OrderPair returns the two ids with the lower one first.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
