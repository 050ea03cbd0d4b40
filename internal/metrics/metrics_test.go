package metrics

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCounterIncrementPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	c := NewCounter(path)

	if got := c.Total(); got != 0 {
		t.Fatalf("expected zero total for missing file, got %d", got)
	}
	if got := c.Increment(3); got != 3 {
		t.Fatalf("expected 3 after increment, got %d", got)
	}

	reloaded := NewCounter(path)
	if got := reloaded.Total(); got != 3 {
		t.Fatalf("expected persisted total 3, got %d", got)
	}
	if got := reloaded.Increment(2); got != 5 {
		t.Fatalf("expected 5 after second increment, got %d", got)
	}
}

func TestCounterCorruptFileTreatedAsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	c := NewCounter(path)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := c.Increment(1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}
