package commit

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Choice is one of the three canonical moves.
type Choice string

const (
	Rock     Choice = "rock"
	Paper    Choice = "paper"
	Scissors Choice = "scissors"
)

// AllChoices lists the canonical moves in a stable order.
var AllChoices = []Choice{Rock, Paper, Scissors}

// ErrNonCanonical is returned when bytes or text do not name a canonical move.
var ErrNonCanonical = errors.New("not a canonical choice")

// PaddedSize is the serialized width of a choice.
const PaddedSize = 8

// ParseChoice accepts a canonical move name, case-insensitively, or its
// first letter.
func ParseChoice(s string) (Choice, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllChoices {
		if s == string(c) || (len(s) == 1 && s[0] == c[0]) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrNonCanonical)
}

// Valid reports whether c is a canonical move.
func (c Choice) Valid() bool {
	return c == Rock || c == Paper || c == Scissors
}

// Beats reports whether c wins against other.
func (c Choice) Beats(other Choice) bool {
	switch c {
	case Rock:
		return other == Scissors
	case Paper:
		return other == Rock
	case Scissors:
		return other == Paper
	}
	return false
}

// Pad serializes c as lowercase ASCII zero-padded to PaddedSize bytes.
func Pad(c Choice) ([PaddedSize]byte, error) {
	var out [PaddedSize]byte
	if !c.Valid() {
		return out, fmt.Errorf("%q: %w", string(c), ErrNonCanonical)
	}
	copy(out[:], c)
	return out, nil
}

// Unpad strips the trailing zeros of b and checks the result is canonical.
func Unpad(b [PaddedSize]byte) (Choice, error) {
	c := Choice(bytes.TrimRight(b[:], "\x00"))
	if !c.Valid() {
		return "", ErrNonCanonical
	}
	return c, nil
}
