package tray

import "testing"

func TestSelectorFromLabel(t *testing.T) {
	tests := []struct {
		label    string
		expected string
	}{
		{"0: Default Speaker (Default Speaker)", "0"},
		{"3: Built-in Output: Line 1 (Speaker)", "3"},
		{"12: USB Mic (Microphone)", "12"},
		{"no index here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := selectorFromLabel(tt.label); got != tt.expected {
				t.Errorf("expected selector %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSelectorOrDefault(t *testing.T) {
	if got := selectorOrDefault(""); got != "0" {
		t.Errorf("empty selector should mean the default device, got %q", got)
	}
	if got := selectorOrDefault("4"); got != "4" {
		t.Errorf("expected selector to pass through, got %q", got)
	}
}

func TestMeetingTitle(t *testing.T) {
	if meetingTitle(false) != "Start Meeting" {
		t.Errorf("unexpected idle title %q", meetingTitle(false))
	}
	if meetingTitle(true) != "Stop Meeting" {
		t.Errorf("unexpected recording title %q", meetingTitle(true))
	}
}

func TestEmojiForStatus(t *testing.T) {
	tests := map[string]string{
		"recording":  "🔴",
		"processing": "🟡",
		"idle":       "🟢",
		"error":      "⚪️",
		"unknown":    "🟢",
	}
	for status, want := range tests {
		if got := emojiForStatus(status); got != want {
			t.Errorf("status %q: expected %q, got %q", status, want, got)
		}
	}
}
