package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesSortableUniqueIDs(t *testing.T) {
	provider := NewUUIDProvider()
	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct ids")
	}
	parsed, err := uuid.Parse(first)
	if err != nil {
		t.Fatalf("expected valid uuid: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected uuid v7, got %d", parsed.Version())
	}
}
