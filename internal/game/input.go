package game

import (
	"math/rand"
	"sync"

	"github.com/blerps/blerps/internal/commit"
)

// Input samples the player's intent. Both calls are pure samplings.
type Input interface {
	CurrentChoice() commit.Choice
	CommitPressed() bool
}

// Fixed always plays the same choice, committing immediately.
type Fixed commit.Choice

// CurrentChoice implements Input.
func (f Fixed) CurrentChoice() commit.Choice { return commit.Choice(f) }

// CommitPressed implements Input.
func (Fixed) CommitPressed() bool { return true }

// Scripted plays its choices in turn, one per round, wrapping around.
type Scripted struct {
	mu      sync.Mutex
	choices []commit.Choice
	next    int
}

// NewScripted returns an input playing choices in order.
func NewScripted(choices ...commit.Choice) *Scripted {
	return &Scripted{choices: choices}
}

// CurrentChoice implements Input.
func (s *Scripted) CurrentChoice() commit.Choice {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.choices[s.next%len(s.choices)]
	s.next++
	return c
}

// CommitPressed implements Input.
func (*Scripted) CommitPressed() bool { return true }

// Random plays a uniformly random choice every round.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom returns a random player seeded with seed.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))} //nolint:gosec
}

// CurrentChoice implements Input.
func (r *Random) CurrentChoice() commit.Choice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return commit.AllChoices[r.rng.Intn(len(commit.AllChoices))]
}

// CommitPressed implements Input.
func (*Random) CommitPressed() bool { return true }
