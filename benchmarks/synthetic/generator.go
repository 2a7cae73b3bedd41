// ABOUTME: Deterministic synthetic export generator for the pipeline benchmark
// ABOUTME: Emits canonical-format conversations drawn from a fixed set of topic vocabularies

package synthetic

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/harper/chatlake/internal/exportfmt"
)

// Topic is a named vocabulary conversations are generated from
type Topic struct {
	Name  string
	Words []string
}

// Topics is the built-in topic catalogue
var Topics = []Topic{
	{"garden", []string{"tomatoes", "compost", "seedlings", "mulch", "raised", "beds", "basil", "watering", "soil", "harvest", "pruning", "trellis"}},
	{"golang", []string{"goroutines", "channels", "interfaces", "structs", "mutex", "errors", "modules", "generics", "context", "slices", "packages", "testing"}},
	{"travel", []string{"passport", "itinerary", "flights", "hostel", "luggage", "visa", "airport", "train", "museum", "booking", "currency", "layover"}},
	{"cooking", []string{"recipe", "simmer", "garlic", "onions", "skillet", "braise", "oven", "sauce", "dough", "knead", "spices", "roast"}},
	{"fitness", []string{"squats", "deadlift", "cardio", "stretching", "protein", "sprint", "rowing", "recovery", "treadmill", "kettlebell", "mobility", "endurance"}},
	{"finance", []string{"budget", "savings", "mortgage", "dividends", "index", "taxes", "retirement", "brokerage", "inflation", "expenses", "portfolio", "interest"}},
}

var fillers = []string{"please", "explain", "think", "about", "maybe", "really", "would", "could", "should", "today"}

// GeneratorConfig controls the synthetic export's shape
type GeneratorConfig struct {
	Topics                  int       `json:"topics"`
	ConversationsPerTopic   int       `json:"conversations_per_topic"`
	MessagesPerConversation int       `json:"messages_per_conversation"`
	Seed                    uint64    `json:"seed"`
	Start                   time.Time `json:"start"`
}

// DefaultGeneratorConfig returns a small but clusterable configuration
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Topics:                  4,
		ConversationsPerTopic:   10,
		MessagesPerConversation: 8,
		Seed:                    7,
		Start:                   time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	}
}

// Generate builds the conversations. The same config always yields the
// same conversations in the same order. Conversation IDs are "<topic>-<n>".
func Generate(cfg GeneratorConfig) ([]exportfmt.CanonicalConversation, error) {
	if cfg.Topics <= 0 || cfg.Topics > len(Topics) {
		return nil, fmt.Errorf("topics must be 1-%d, got %d", len(Topics), cfg.Topics)
	}
	if cfg.ConversationsPerTopic <= 0 || cfg.MessagesPerConversation < 2 {
		return nil, fmt.Errorf("need at least one conversation per topic and two messages each")
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	convs := make([]exportfmt.CanonicalConversation, 0, cfg.Topics*cfg.ConversationsPerTopic)
	at := cfg.Start
	if at.IsZero() {
		at = DefaultGeneratorConfig().Start
	}
	for n := 0; n < cfg.ConversationsPerTopic; n++ {
		for _, topic := range Topics[:cfg.Topics] {
			conv := exportfmt.CanonicalConversation{
				ID:     fmt.Sprintf("%s-%d", topic.Name, n),
				Title:  fmt.Sprintf("%s notes %d", topic.Name, n),
				Source: exportfmt.FormatChatlake,
			}
			for i := 0; i < cfg.MessagesPerConversation; i++ {
				role := "user"
				if i%2 == 1 {
					role = "assistant"
				}
				conv.Messages = append(conv.Messages, exportfmt.CanonicalMessage{
					Role:      role,
					Content:   sentence(rng, topic, n, i),
					Timestamp: at.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
				})
			}
			convs = append(convs, conv)
			at = at.Add(6 * time.Hour)
		}
	}
	return convs, nil
}

// sentence mixes topic words with a few fillers; the trailing marker keeps
// every message text distinct
func sentence(rng *rand.Rand, topic Topic, conv, msg int) string {
	words := make([]string, 0, 14)
	for i := 0; i < 10; i++ {
		words = append(words, topic.Words[rng.IntN(len(topic.Words))])
	}
	for i := 0; i < 3; i++ {
		words = append(words, fillers[rng.IntN(len(fillers))])
	}
	rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	return fmt.Sprintf("%s (ref %s %d.%d)", strings.Join(words, " "), topic.Name, conv, msg)
}

// WriteExport writes convs as a canonical export document
func WriteExport(w io.Writer, convs []exportfmt.CanonicalConversation) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(convs)
}

// TopicOf returns the topic encoded in a generated conversation ID
func TopicOf(externalID string) string {
	if i := strings.LastIndex(externalID, "-"); i > 0 {
		return externalID[:i]
	}
	return externalID
}
