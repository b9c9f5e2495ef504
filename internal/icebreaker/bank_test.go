package icebreaker

import (
	"math/rand"
	"testing"
)

func TestPickReturnsDistinctPrompts(t *testing.T) {
	b := Default()

	for i := 0; i < 200; i++ {
		picked := b.Pick(PerRoom)
		if len(picked) != PerRoom {
			t.Fatalf("expected %d prompts, got %d", PerRoom, len(picked))
		}

		seen := make(map[string]bool)
		for _, p := range picked {
			if seen[p] {
				t.Fatalf("duplicate prompt in pick: %q", p)
			}
			seen[p] = true
		}
	}
}

func TestPickDrawsFromBank(t *testing.T) {
	inBank := make(map[string]bool, len(DefaultBank))
	for _, p := range DefaultBank {
		inBank[p] = true
	}

	for _, p := range Default().Pick(PerRoom) {
		if !inBank[p] {
			t.Errorf("picked prompt not in bank: %q", p)
		}
	}
}

func TestPickCappedAtBankSize(t *testing.T) {
	b := New([]string{"one", "two"}, nil)

	picked := b.Pick(5)
	if len(picked) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(picked))
	}
}

func TestPickCoversWholeBank(t *testing.T) {
	// With a seeded source over many picks, every prompt should appear at
	// least once, a smoke check that the shuffle is not biased toward a
	// fixed prefix.
	b := New(DefaultBank, rand.New(rand.NewSource(7)))

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		for _, p := range b.Pick(PerRoom) {
			seen[p] = true
		}
	}
	if len(seen) != len(DefaultBank) {
		t.Errorf("expected all %d prompts to appear, saw %d", len(DefaultBank), len(seen))
	}
}
