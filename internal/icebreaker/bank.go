// Package icebreaker holds the conversation-starter prompt bank and the
// random selection shown to each freshly matched room.
package icebreaker

import "math/rand"

// PerRoom is the number of prompts selected for each room.
const PerRoom = 3

// DefaultBank is the built-in prompt set.
var DefaultBank = []string{
	"What is your hobby?",
	"What do you do on weekends?",
	"What kind of music do you like?",
	"Do you prefer tea or coffee? Why?",
	"What was the last movie you watched?",
	"What is your favorite food?",
	"Do you like living in the city or countryside?",
	"What is one goal you have this year?",
	"What do you usually do after school/work?",
	"What app do you use the most?",
	"What sport do you like?",
	"Do you like reading books? Which genre?",
	"What place do you want to visit?",
	"What makes you happy?",
	"What is something you are learning now?",
}

// Bank is a prompt pool with its own random source, so selection can be made
// deterministic in tests.
type Bank struct {
	prompts []string
	rng     *rand.Rand
}

// New creates a Bank over the given prompts. A nil rng uses the shared
// math/rand source.
func New(prompts []string, rng *rand.Rand) *Bank {
	return &Bank{prompts: prompts, rng: rng}
}

// Default returns a Bank over DefaultBank using the shared random source.
func Default() *Bank {
	return New(DefaultBank, nil)
}

// Pick returns n distinct prompts chosen uniformly at random without
// replacement: the bank is copied, Fisher-Yates shuffled, and the first n
// entries taken. If n exceeds the bank size, the whole shuffled bank is
// returned.
func (b *Bank) Pick(n int) []string {
	copied := make([]string, len(b.prompts))
	copy(copied, b.prompts)

	shuffle := rand.Shuffle
	if b.rng != nil {
		shuffle = b.rng.Shuffle
	}
	shuffle(len(copied), func(i, j int) {
		copied[i], copied[j] = copied[j], copied[i]
	})

	if n > len(copied) {
		n = len(copied)
	}
	return copied[:n]
}
