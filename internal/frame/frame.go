// Package frame implements the fixed-layout advertisement frames exchanged
// by players. A frame always fits in a single legacy BLE advertising payload.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one of the four frame variants.
type Kind uint8

const (
	// JoinGame announces the intent to play a given game.
	JoinGame Kind = iota + 1
	// EncData carries the encrypted choice of the commit phase.
	EncData
	// KeyData carries the round key of the reveal phase.
	KeyData
	// RoundEnd is the final acknowledgement beacon of a round.
	RoundEnd
)

func (k Kind) String() string {
	switch k {
	case JoinGame:
		return "JoinGame"
	case EncData:
		return "EncData"
	case KeyData:
		return "KeyData"
	case RoundEnd:
		return "RoundEnd"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const (
	// MaxAdvertisementSize is the largest payload a legacy advertisement carries.
	MaxAdvertisementSize = 31
	// TagSize is the length of the type prefix of every frame.
	TagSize = 2
	// GameIDSize is the width of the JoinGame tag.
	GameIDSize = 3
	// PayloadSize is the width of the ciphertext and key fields.
	PayloadSize = 8

	joinSize     = TagSize + GameIDSize
	dataSize     = TagSize + 3 + PayloadSize
	roundEndSize = TagSize + 3
)

var tags = map[Kind][TagSize]byte{
	JoinGame: {0x52, 0x4a},
	EncData:  {0x52, 0x45},
	KeyData:  {0x52, 0x4b},
	RoundEnd: {0x52, 0x52},
}

var (
	// ErrFieldWidth is returned when a field is wider than its wire slot.
	ErrFieldWidth = errors.New("frame field exceeds its declared width")
	// ErrUnknownKind is returned when encoding a frame without a valid kind.
	ErrUnknownKind = errors.New("unknown frame kind")
)

// Frame is the tagged union of all advertisement variants. GameID is only
// used by JoinGame; Sequence, Ack and Round by the three others; Payload
// holds the ciphertext of EncData and the key of KeyData.
type Frame struct {
	Kind     Kind
	GameID   []byte
	Sequence uint8
	Ack      uint8
	Round    uint8
	Payload  []byte
}

// NewJoin returns a JoinGame frame for the given game tag.
func NewJoin(gameID []byte) Frame {
	return Frame{Kind: JoinGame, GameID: gameID}
}

// NewEncData returns the commit frame of a round.
func NewEncData(seq, ack, round uint8, ciphertext []byte) Frame {
	return Frame{Kind: EncData, Sequence: seq, Ack: ack, Round: round, Payload: ciphertext}
}

// NewKeyData returns the reveal frame of a round.
func NewKeyData(seq, ack, round uint8, key []byte) Frame {
	return Frame{Kind: KeyData, Sequence: seq, Ack: ack, Round: round, Payload: key}
}

// NewRoundEnd returns the final acknowledgement frame of a round.
func NewRoundEnd(seq, ack, round uint8) Frame {
	return Frame{Kind: RoundEnd, Sequence: seq, Ack: ack, Round: round}
}

// Sequenced reports whether the frame carries sequence and ack fields.
func (f Frame) Sequenced() bool {
	return f.Kind == EncData || f.Kind == KeyData || f.Kind == RoundEnd
}

// WithAck returns a copy of f carrying a different ack.
func (f Frame) WithAck(ack uint8) Frame {
	f.Ack = ack
	return f
}

// Equal reports whether f and o carry the same fields.
func (f Frame) Equal(o Frame) bool {
	return f.Kind == o.Kind &&
		f.Sequence == o.Sequence &&
		f.Ack == o.Ack &&
		f.Round == o.Round &&
		bytes.Equal(f.GameID, o.GameID) &&
		bytes.Equal(f.Payload, o.Payload)
}

func (f Frame) String() string {
	switch f.Kind {
	case JoinGame:
		return fmt.Sprintf("JoinGame{game:%q}", f.GameID)
	case RoundEnd:
		return fmt.Sprintf("RoundEnd{seq:%d ack:%d round:%d}", f.Sequence, f.Ack, f.Round)
	default:
		return fmt.Sprintf("%s{seq:%d ack:%d round:%d payload:%x}", f.Kind, f.Sequence, f.Ack, f.Round, f.Payload)
	}
}

// NextSequence returns the sequence number following s. Sequences start at
// 1 and wrap from 255 back to 1; 0 is reserved to mean "nothing received".
func NextSequence(s uint8) uint8 {
	if s == 255 {
		return 1
	}
	return s + 1
}

// KindSet is a small set of frame kinds, used to describe which variants a
// scan accepts.
type KindSet uint8

// Of returns the set containing kinds.
func Of(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return s&(1<<k) != 0
}

func (s KindSet) String() string {
	var names []string
	for _, k := range []Kind{JoinGame, EncData, KeyData, RoundEnd} {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}
