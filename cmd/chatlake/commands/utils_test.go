// ABOUTME: Tests for shared CLI helpers
// ABOUTME: Verifies truncate, formatTime, and validation helpers

package commands

import (
	"strings"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"very short maxLen", "hello", 2, "he"},
		{"empty string", "", 10, ""},
		{"unicode cut on runes", "你好世界！", 3, "你好世"},
		{"unicode truncated with ellipsis", "你好世界你好世界", 5, "你好..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		input    time.Time
		contains string
	}{
		{"just now", now.Add(-30 * time.Second), "just now"},
		{"minutes ago", now.Add(-5 * time.Minute), "5m ago"},
		{"hours ago", now.Add(-3 * time.Hour), "3h ago"},
		{"days ago", now.Add(-2 * 24 * time.Hour), "2d ago"},
		{"older shows date", now.Add(-14 * 24 * time.Hour), now.Add(-14 * 24 * time.Hour).Format(time.DateOnly)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatTime(tt.input); !strings.Contains(got, tt.contains) {
				t.Errorf("formatTime() = %q, want it to contain %q", got, tt.contains)
			}
		})
	}
}

func TestContainsString(t *testing.T) {
	runTypes := []string{"segmentation", "drift"}
	if !containsString(runTypes, "drift") {
		t.Error("containsString() = false for a present value")
	}
	if containsString(runTypes, "clustering") {
		t.Error("containsString() = true for an absent value")
	}
	if containsString(nil, "drift") {
		t.Error("containsString(nil) = true")
	}
}

func TestValidatePositiveInt(t *testing.T) {
	if err := validatePositiveInt(1, "limit"); err != nil {
		t.Errorf("validatePositiveInt(1) error = %v", err)
	}
	err := validatePositiveInt(0, "limit")
	if err == nil {
		t.Fatal("validatePositiveInt(0) should fail")
	}
	if !strings.Contains(err.Error(), "limit must be positive") {
		t.Errorf("error = %q, want it to mention the flag", err)
	}
	if err := validatePositiveInt(-5, "limit"); err == nil {
		t.Error("validatePositiveInt(-5) should fail")
	}
}
