package services_test

import (
	"errors"
	"strings"
	"testing"

	"sead/internal/services"
)

type classified struct{ kind string }

func (c classified) Error() string     { return "classified " + c.kind }
func (c classified) ErrorKind() string { return c.kind }

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrConflict, "ingest", "lock", "already running", base)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"ingest", "lock", "already running"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err       error
		kind      string
		retryable bool
	}{
		{services.Wrap(services.ErrValidation, "upload", "verify", "mismatch", nil), "validation", false},
		{services.Wrap(services.ErrNotFound, "stager", "get", "", nil), "not_found", false},
		{services.Wrap(nil, "archive", "put", "", errors.New("io")), "transient", true},
		{classified{kind: "validation"}, "validation", false},
		{classified{kind: "weird"}, "transient", true},
		{nil, "", false},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.kind {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.kind)
		}
		if got := services.Retryable(tc.err); got != tc.retryable {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.retryable)
		}
	}
}
