// ABOUTME: Tests for conversation identity derivation
// ABOUTME: ConversationKey must depend only on ordered (role, content) pairs

package models

import "testing"

func TestConversationKey_Deterministic(t *testing.T) {
	turns := []Turn{
		{Role: "user", Content: "How do I profile a Go service?"},
		{Role: "assistant", Content: "Start with pprof."},
	}
	copyTurns := append([]Turn(nil), turns...)

	if ConversationKey(turns) != ConversationKey(copyTurns) {
		t.Error("identical sequences must produce identical keys")
	}
}

func TestConversationKey_Sensitivity(t *testing.T) {
	base := []Turn{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	}
	baseKey := ConversationKey(base)

	tests := []struct {
		name  string
		turns []Turn
		same  bool
	}{
		{"role alias normalizes", []Turn{{Role: "human", Content: "a"}, {Role: "Assistant", Content: "b"}}, true},
		{"edited content", []Turn{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b!"}}, false},
		{"reordered", []Turn{{Role: "assistant", Content: "b"}, {Role: "user", Content: "a"}}, false},
		{"extra message", append(append([]Turn(nil), base...), Turn{Role: "user", Content: "c"}), false},
		{"boundary shift", []Turn{{Role: "user", Content: "ab"}, {Role: "assistant", Content: ""}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConversationKey(tt.turns) == baseKey
			if got != tt.same {
				t.Errorf("key equality = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestConversationKey_ContentCannotForgeTurnBoundaries(t *testing.T) {
	tests := []struct {
		name string
		a, b []Turn
	}{
		{
			"separator bytes in content",
			[]Turn{{Role: "user", Content: "a\x1euser\x1fb"}},
			[]Turn{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}},
		},
		{
			"content shifted between turns",
			[]Turn{{Role: "user", Content: "ab"}, {Role: "assistant", Content: "c"}},
			[]Turn{{Role: "user", Content: "a"}, {Role: "assistant", Content: "bc"}},
		},
		{
			"empty trailing turn",
			[]Turn{{Role: "user", Content: "a"}},
			[]Turn{{Role: "user", Content: "a"}, {Role: "user", Content: ""}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ConversationKey(tt.a) == ConversationKey(tt.b) {
				t.Errorf("distinct turn sequences share key %s", ConversationKey(tt.a))
			}
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	tests := map[string]string{
		"Human":     RoleUser,
		" user ":    RoleUser,
		"assistant": RoleAssistant,
		"model":     RoleAssistant,
		"developer": RoleSystem,
		"function":  RoleTool,
		"narrator":  "narrator",
	}
	for in, want := range tests {
		if got := NormalizeRole(in); got != want {
			t.Errorf("NormalizeRole(%q) = %q, want %q", in, got, want)
		}
	}
}
