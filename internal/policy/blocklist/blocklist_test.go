package blocklist

import "testing"

func TestBlocklist(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		bl := New([]string{"Intranet.Local"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		if !bl.IsBlocked("intranet.local") {
			t.Fatalf("expected intranet.local to be blocked")
		}
		if bl.IsBlocked("wiki.intranet.local") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		bl := New([]string{"*.corp", ".internal"})
		cases := []struct {
			host    string
			blocked bool
		}{
			{"hr.corp", true},
			{"a.b.corp", true},
			{"corp", true},
			{"metadata.internal", true},
			{"example.com", false},
			{"notcorp", false},
			{"", false},
		}
		for _, tc := range cases {
			if got := bl.IsBlocked(tc.host); got != tc.blocked {
				t.Fatalf("host %q blocked=%v, want %v", tc.host, got, tc.blocked)
			}
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		if bl := New([]string{" ", "*.", "."}); bl != nil {
			t.Fatalf("expected nil blocklist, got %+v", bl)
		}
	})

	t.Run("nil blocklist", func(t *testing.T) {
		var bl *Blocklist
		if bl.IsBlocked("anything") {
			t.Fatalf("nil blocklist should never block")
		}
	})
}
