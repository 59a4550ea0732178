package peer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressSize is the width of a BLE device address.
const AddressSize = 6

// Address is the stable identity of a player: its 6-byte radio address.
type Address [AddressSize]byte

// String renders a as colon separated hex, most significant byte first.
func (a Address) String() string {
	parts := make([]string, AddressSize)
	for i := range a {
		parts[i] = hex.EncodeToString(a[i : i+1])
	}
	return strings.Join(parts, ":")
}

// ParseAddress parses the output of Address.String.
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != AddressSize {
		return a, fmt.Errorf("address %q: want %d octets", s, AddressSize)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return a, fmt.Errorf("address %q: invalid octet %q", s, p)
		}
		a[i] = b[0]
	}
	return a, nil
}

// RandomAddress returns a random static address: the two most significant
// bits are set, as BLE requires for that address type.
func RandomAddress() (Address, error) {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		return a, err
	}
	a[0] |= 0xc0
	return a, nil
}

// MarshalText lets addresses be used as map keys in encoded records.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
