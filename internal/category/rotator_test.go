package category

import "testing"

func TestNextCyclesThroughAllFive(t *testing.T) {
	r := NewRotator()
	var names []string
	for i := 0; i < 7; i++ {
		names = append(names, r.Next("alice").Name)
	}
	want := []string{
		rotation[0].Name, rotation[1].Name, rotation[2].Name, rotation[3].Name, rotation[4].Name,
		rotation[0].Name, rotation[1].Name,
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, names[i], want[i])
		}
	}
}

func TestNextIsIndependentPerKey(t *testing.T) {
	r := NewRotator()
	a1 := r.Next("alice")
	b1 := r.Next("bob")
	a2 := r.Next("alice")
	if a1.Name != rotation[0].Name || b1.Name != rotation[0].Name {
		t.Fatalf("expected both keys to start at index 0: %+v %+v", a1, b1)
	}
	if a2.Name != rotation[1].Name {
		t.Fatalf("expected alice's second call to advance to index 1, got %s", a2.Name)
	}
}

func TestEmptyKeyUsesGlobalCursor(t *testing.T) {
	r := NewRotator()
	first := r.Next("")
	second := r.Next(GlobalKey)
	if first.Name == second.Name {
		t.Fatal("expected empty key and explicit global key to share one advancing cursor")
	}
}

func TestEvictionPreservesActiveKey(t *testing.T) {
	r := NewRotator()
	for i := 0; i < evictThreshold+10; i++ {
		r.Next(keyFor(i))
	}
	if r.Size() > evictThreshold {
		t.Fatalf("expected eviction to cap size near %d, got %d", evictTarget, r.Size())
	}
	// The most recently used key must survive eviction.
	lastKey := keyFor(evictThreshold + 9)
	before := r.Size()
	r.Next(lastKey)
	after := r.Size()
	if after > before {
		t.Fatal("expected the active key to already be present, not newly inserted")
	}
}

func keyFor(i int) string {
	return string(rune('a'+i%26)) + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
