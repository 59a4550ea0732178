package game

import (
	"errors"

	"github.com/blerps/blerps/internal/commit"
	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/peer"
)

// Reasons a peer's choice is void for a round.
const (
	ReasonMissingEnc    = "missing_enc"
	ReasonMissingKey    = "missing_key"
	ReasonRoundMismatch = "round_mismatch"
	ReasonNonCanonical  = "non_canonical"
)

// Points awarded per pairing.
const (
	WinPoints  = 2
	DrawPoints = 1
)

// Outcome is a player's choice as seen by the local player, or the invalid
// sentinel with the reason it was voided.
type Outcome struct {
	Choice commit.Choice `json:"choice,omitempty"`
	Valid  bool          `json:"valid"`
	Reason string        `json:"reason,omitempty"`
}

// Invalid returns the invalid sentinel.
func Invalid(reason string) Outcome {
	return Outcome{Reason: reason}
}

func (o Outcome) String() string {
	if !o.Valid {
		return "invalid"
	}
	return string(o.Choice)
}

// Slot holds the latest frames of one player for a round.
type Slot struct {
	Enc *frame.Frame
	Key *frame.Frame
	End *frame.Frame
}

// RoundRecord gathers what every player sent during one round.
//
// Slots latch on the current round: a frame of the current round replaces
// a frame of another round but is never replaced itself, and frames of
// other rounds only fill empty slots.
type RoundRecord struct {
	Round uint8
	slots map[peer.Address]*Slot
}

// NewRoundRecord returns an empty record for round.
func NewRoundRecord(round uint8) *RoundRecord {
	return &RoundRecord{Round: round, slots: make(map[peer.Address]*Slot)}
}

// Observe files f, received from addr, in its slot.
func (r *RoundRecord) Observe(addr peer.Address, f frame.Frame) {
	s, ok := r.slots[addr]
	if !ok {
		s = new(Slot)
		r.slots[addr] = s
	}
	var target **frame.Frame
	switch f.Kind {
	case frame.EncData:
		target = &s.Enc
	case frame.KeyData:
		target = &s.Key
	case frame.RoundEnd:
		target = &s.End
	default:
		return
	}
	cur := *target
	if cur == nil || (cur.Round != r.Round && f.Round == r.Round) {
		latched := f
		*target = &latched
	}
}

// Slot returns the frames of addr.
func (r *RoundRecord) Slot(addr peer.Address) (Slot, bool) {
	s, ok := r.slots[addr]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// Open recovers the choice of addr, returning the invalid sentinel when the
// commitment is missing, inconsistent or does not open to a canonical move.
func (r *RoundRecord) Open(addr peer.Address) Outcome {
	s, ok := r.slots[addr]
	switch {
	case !ok || s.Enc == nil:
		return Invalid(ReasonMissingEnc)
	case s.Key == nil:
		return Invalid(ReasonMissingKey)
	case s.Enc.Round != r.Round || s.Key.Round != r.Round:
		return Invalid(ReasonRoundMismatch)
	}
	ct, err := commit.CiphertextFromBytes(s.Enc.Payload)
	if err != nil {
		return Invalid(ReasonNonCanonical)
	}
	key, err := commit.KeyFromBytes(s.Key.Payload)
	if err != nil {
		return Invalid(ReasonNonCanonical)
	}
	choice, err := commit.Open(ct, key)
	if err != nil {
		return Invalid(ReasonNonCanonical)
	}
	return Outcome{Choice: choice, Valid: true}
}

// Outcomes opens every remote player's commitment. The local player's own
// choice is taken as is.
func (r *RoundRecord) Outcomes(reg *peer.Registry, own commit.Choice) map[peer.Address]Outcome {
	out := make(map[peer.Address]Outcome, reg.Len())
	for _, p := range reg.Peers() {
		if p.Local {
			out[p.Address] = Outcome{Choice: own, Valid: true}
			continue
		}
		out[p.Address] = r.Open(p.Address)
	}
	return out
}

// ErrMissingOutcome is returned when scoring a player without an outcome.
var ErrMissingOutcome = errors.New("no outcome for player")

// Score computes the points of every pairing, walking players in registry
// order. Pairs with an invalid side are void.
func Score(players []*peer.Peer, outcomes map[peer.Address]Outcome) (map[peer.Address]int, error) {
	deltas := make(map[peer.Address]int, len(players))
	for _, p := range players {
		if _, ok := outcomes[p.Address]; !ok {
			return nil, ErrMissingOutcome
		}
		deltas[p.Address] = 0
	}
	for i, a := range players {
		for _, b := range players[i+1:] {
			oa, ob := outcomes[a.Address], outcomes[b.Address]
			if !oa.Valid || !ob.Valid {
				continue
			}
			switch {
			case oa.Choice == ob.Choice:
				deltas[a.Address] += DrawPoints
				deltas[b.Address] += DrawPoints
			case oa.Choice.Beats(ob.Choice):
				deltas[a.Address] += WinPoints
			default:
				deltas[b.Address] += WinPoints
			}
		}
	}
	return deltas, nil
}
