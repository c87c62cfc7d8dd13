package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsPrefixedUUID(t *testing.T) {
	a := New("req")
	b := New("req")
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if !strings.HasPrefix(a, "req-") {
		t.Fatalf("expected req- prefix, got %q", a)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(a, "req-")); err != nil {
		t.Fatalf("expected uuid suffix: %v", err)
	}
}
