// Package commit implements the commit-reveal scheme protecting a player's
// choice: the choice is broadcast encrypted under a fresh round key, and the
// key is only released once the commit phase is over.
//
// The cipher is ChaCha20 keyed with the 8-byte round key repeated four times
// and a fixed, public nonce. The nonce is only safe because a round key is
// never used twice; keys can only be obtained from NewRoundKey.
package commit

import (
	"crypto/rand"
	"fmt"

	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/chacha20"
)

const (
	// KeySize is the width of a round key on the wire.
	KeySize = 8
	// ExpansionFactor is how many times the round key is repeated to build
	// the cipher key.
	ExpansionFactor = 4
	// CipherKeySize is the ChaCha20 key length.
	CipherKeySize = KeySize * ExpansionFactor
	// CiphertextSize equals the padded plaintext size: the stream cipher
	// does not expand.
	CiphertextSize = PaddedSize
	// Algorithm is the only supported cipher.
	Algorithm = "chacha20"
)

// Nonce is the well-known 12-byte nonce shared by every encryption.
var Nonce = [chacha20.NonceSize]byte{'b', 'l', 'e', 'r', 'p', 's', '-', 'n', 'o', 'n', 'c', 'e'}

// RoundKey is the one-time key of a single (round, player) commitment.
type RoundKey [KeySize]byte

// Ciphertext is an encrypted padded choice.
type Ciphertext [CiphertextSize]byte

// NewRoundKey draws a fresh key from the system's cryptographic RNG.
func NewRoundKey() (RoundKey, error) {
	var k RoundKey
	b := random.Bits(KeySize*8, false, random.New(rand.Reader))
	if len(b) != KeySize {
		return k, fmt.Errorf("round key: got %d random bytes, want %d", len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromBytes rebuilds a round key received from a peer.
func KeyFromBytes(b []byte) (RoundKey, error) {
	var k RoundKey
	if len(b) != KeySize {
		return k, fmt.Errorf("round key: invalid length %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// CiphertextFromBytes rebuilds a ciphertext received from a peer.
func CiphertextFromBytes(b []byte) (Ciphertext, error) {
	var c Ciphertext
	if len(b) != CiphertextSize {
		return c, fmt.Errorf("ciphertext: invalid length %d", len(b))
	}
	copy(c[:], b)
	return c, nil
}

// Expand repeats k ExpansionFactor times into a cipher key.
func Expand(k RoundKey) [CipherKeySize]byte {
	var out [CipherKeySize]byte
	for i := 0; i < ExpansionFactor; i++ {
		copy(out[i*KeySize:], k[:])
	}
	return out
}

func xor(k RoundKey, in []byte) ([]byte, error) {
	key := Expand(k)
	c, err := chacha20.NewUnauthenticatedCipher(key[:], Nonce[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	c.XORKeyStream(out, in)
	return out, nil
}

// Seal encrypts the padded choice under k.
func Seal(choice Choice, k RoundKey) (Ciphertext, error) {
	var ct Ciphertext
	plain, err := Pad(choice)
	if err != nil {
		return ct, err
	}
	out, err := xor(k, plain[:])
	if err != nil {
		return ct, err
	}
	copy(ct[:], out)
	return ct, nil
}

// Open decrypts ct with k and returns the committed choice. ErrNonCanonical
// means the opening does not match any move, either because the key does not
// belong to the ciphertext or because the sender committed garbage.
func Open(ct Ciphertext, k RoundKey) (Choice, error) {
	out, err := xor(k, ct[:])
	if err != nil {
		return "", err
	}
	var plain [PaddedSize]byte
	copy(plain[:], out)
	return Unpad(plain)
}
