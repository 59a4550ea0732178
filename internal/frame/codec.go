package frame

import "bytes"

// Encode serializes f. Short GameID and Payload fields are zero-padded to
// their slot; longer ones are rejected with ErrFieldWidth.
func Encode(f Frame) ([]byte, error) {
	tag, ok := tags[f.Kind]
	if !ok {
		return nil, ErrUnknownKind
	}

	switch f.Kind {
	case JoinGame:
		if len(f.GameID) > GameIDSize {
			return nil, ErrFieldWidth
		}
		buff := make([]byte, joinSize)
		copy(buff, tag[:])
		copy(buff[TagSize:], f.GameID)
		return buff, nil
	case EncData, KeyData:
		if len(f.Payload) > PayloadSize {
			return nil, ErrFieldWidth
		}
		buff := make([]byte, dataSize)
		putHeader(buff, tag, f)
		copy(buff[TagSize+3:], f.Payload)
		return buff, nil
	default:
		buff := make([]byte, roundEndSize)
		putHeader(buff, tag, f)
		return buff, nil
	}
}

func putHeader(buff []byte, tag [TagSize]byte, f Frame) {
	copy(buff, tag[:])
	buff[TagSize] = f.Sequence
	buff[TagSize+1] = f.Ack
	buff[TagSize+2] = f.Round
}

// MustEncode is Encode for frames built by this process, which are always
// well formed.
func MustEncode(f Frame) []byte {
	b, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses b. It returns false when the prefix matches no known kind or
// when the length is wrong for the matched kind.
func Decode(b []byte) (Frame, bool) {
	kind, ok := PeekKind(b)
	if !ok {
		return Frame{}, false
	}

	switch kind {
	case JoinGame:
		if len(b) != joinSize {
			return Frame{}, false
		}
		return Frame{Kind: JoinGame, GameID: clone(b[TagSize:joinSize])}, true
	case EncData, KeyData:
		if len(b) != dataSize {
			return Frame{}, false
		}
		f := readHeader(kind, b)
		f.Payload = clone(b[TagSize+3 : dataSize])
		return f, true
	default:
		if len(b) != roundEndSize {
			return Frame{}, false
		}
		return readHeader(kind, b), true
	}
}

// PeekKind returns the kind announced by the tag of b without checking the
// rest of the frame.
func PeekKind(b []byte) (Kind, bool) {
	if len(b) < TagSize {
		return 0, false
	}
	for k, tag := range tags {
		if bytes.Equal(b[:TagSize], tag[:]) {
			return k, true
		}
	}
	return 0, false
}

func readHeader(kind Kind, b []byte) Frame {
	return Frame{
		Kind:     kind,
		Sequence: b[TagSize],
		Ack:      b[TagSize+1],
		Round:    b[TagSize+2],
	}
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
