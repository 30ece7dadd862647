package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"  report.pdf ":  "report.pdf",
		"a/b\\c:d*e":     "a-b-c-d-e",
		`what?"<>|.txt`:  "what.txt",
		"Cafe\u0301.txt": "Caf\u00e9.txt",
		"..":             "",
		"   ":            "",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPathKey(t *testing.T) {
	if got := PathKey("sip-1_a.b"); got != "sip-1_a.b" {
		t.Fatalf("plain key rewritten to %q", got)
	}
	for _, key := range []string{"../x", "a/b", ".hidden", "", "urn:sead:1"} {
		got := PathKey(key)
		if len(got) != 32 {
			t.Fatalf("PathKey(%q) = %q, want 32 hex chars", key, got)
		}
	}
	if PathKey("a/b") == PathKey("a/c") {
		t.Fatal("distinct keys collided")
	}
}
