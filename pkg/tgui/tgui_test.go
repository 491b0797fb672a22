package tgui

import "testing"

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		scope, action, payload string
	}{
		{"task", "claim", "1712345678901"},
		{"link", "toggle", "-100:-1002"},
		{"prompt", "cancel", ""},
	}
	for _, tc := range cases {
		d := Data(tc.scope, tc.action, tc.payload)
		if err := CheckData(d); err != nil {
			t.Fatalf("CheckData(%q) = %v", d, err)
		}
		s, a, p, ok := ParseData(d)
		if !ok || s != tc.scope || a != tc.action || p != tc.payload {
			t.Fatalf("ParseData(%q) = %q %q %q %v", d, s, a, p, ok)
		}
	}
	if _, _, _, ok := ParseData("nocolon"); ok {
		t.Fatalf("ParseData(nocolon) ok = true, want false")
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 6, "hello…"},
		{"привет", 3, "пр…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestEscape(t *testing.T) {
	t.Parallel()

	if got := B("a<b>"); got != "<b>a&lt;b&gt;</b>" {
		t.Fatalf("B() = %q", got)
	}
	if got := Lines(Esc("a"), "", Esc("b")); got != "a\nb" {
		t.Fatalf("Lines() = %q", got)
	}
}
