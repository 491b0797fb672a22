package transport

import "testing"

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		user, first string
		id          int64
		want        string
	}{
		{"alice", "Alice", 1, "@alice"},
		{"", "Bob", 2, "Bob"},
		{" ", "", 3, "3"},
	}
	for _, tc := range cases {
		if got := DisplayName(tc.user, tc.first, tc.id); got != tc.want {
			t.Fatalf("DisplayName(%q,%q,%d) = %q, want %q", tc.user, tc.first, tc.id, got, tc.want)
		}
	}
}
