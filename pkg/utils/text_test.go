package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("multibyte truncate: got %q", got)
	}
}

func TestTailRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 3, "def"},
		{"abc", 10, "abc"},
		{"abc", 0, ""},
		{"añb", 2, "ñb"},
	}
	for _, tt := range tests {
		if got := TailRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("TailRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
