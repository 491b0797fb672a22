package logx

import (
	"strings"
	"testing"
)

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte(`{"level":"warn","message":"delivery failed","time":"x","chat":-100,"attempt":2}` + "\n"))
	want := "[WARN] delivery failed\n- attempt=2\n- chat=-100"
	if got != want {
		t.Fatalf("formatChatLine() = %q, want %q", got, want)
	}

	raw := formatChatLine([]byte("not json"))
	if raw != "not json" {
		t.Fatalf("formatChatLine(raw) = %q, want %q", raw, "not json")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 50)
	if got := truncate(long, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate() = %q, want 20 chars ending in ...", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
