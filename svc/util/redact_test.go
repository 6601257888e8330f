package util

import (
	"strings"
	"testing"
)

func TestRedactIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.42", "192.168.1.0"},
		{"10.0.0.7:5555", "10.0.0.0"},
		{"2001:db8:abcd:12::1", "2001:db8::"},
	}
	for _, tt := range tests {
		if got := RedactIP(tt.in); got != tt.want {
			t.Errorf("RedactIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := RedactIP("not-an-ip"); !strings.HasPrefix(got, "hash:") {
		t.Errorf("RedactIP(garbage) = %q, want hash prefix", got)
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("mongodb://admin:hunter2@db:27017/markpaste")
	if strings.Contains(got, "hunter2") {
		t.Errorf("password leaked: %q", got)
	}
	if !strings.Contains(got, "db:27017") {
		t.Errorf("host lost: %q", got)
	}
	if RedactURL("") != "" {
		t.Error("empty input should stay empty")
	}
}

func TestRequestID(t *testing.T) {
	id := NewRequestID()
	if len(id) != 36 {
		t.Fatalf("NewRequestID() = %q, want uuid", id)
	}
}
