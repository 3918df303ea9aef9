package textutil

import "testing"

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		show int
		want string
	}{
		{"", 6, "***empty***"},
		{"abc", 6, "***"},
		{"sk-1234567890", 6, "sk-123*******"},
	}
	for _, tt := range tests {
		if got := MaskKey(tt.key, tt.show); got != tt.want {
			t.Errorf("MaskKey(%q, %d) = %q, want %q", tt.key, tt.show, got, tt.want)
		}
	}
}

func TestIsASCII(t *testing.T) {
	if !IsASCII("sk-abc123_DEF") {
		t.Error("plain key should be ASCII")
	}
	if IsASCII("sk-ключ") {
		t.Error("cyrillic key should not be ASCII")
	}
	if !IsASCII("") {
		t.Error("empty string is ASCII")
	}
}
