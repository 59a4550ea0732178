package commit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		k, err := NewRoundKey()
		require.NoError(t, err)
		for _, c := range AllChoices {
			ct, err := Seal(c, k)
			require.NoError(t, err)
			got, err := Open(ct, k)
			require.NoError(t, err)
			require.Equal(t, c, got)
		}
	}
}

func TestSealIsDeterministicPerKey(t *testing.T) {
	k := RoundKey{1, 2, 3, 4, 5, 6, 7, 8}
	a, err := Seal(Paper, k)
	require.NoError(t, err)
	b, err := Seal(Paper, k)
	require.NoError(t, err)
	require.Equal(t, a, b)

	plain, err := Pad(Paper)
	require.NoError(t, err)
	require.NotEqual(t, plain[:], a[:])
}

func TestOpenWithWrongKey(t *testing.T) {
	k := RoundKey{1, 2, 3, 4, 5, 6, 7, 8}
	ct, err := Seal(Rock, k)
	require.NoError(t, err)

	other := RoundKey{8, 7, 6, 5, 4, 3, 2, 1}
	_, err = Open(ct, other)
	require.ErrorIs(t, err, ErrNonCanonical)
}

func TestExpand(t *testing.T) {
	k := RoundKey{1, 2, 3, 4, 5, 6, 7, 8}
	e := Expand(k)
	require.Len(t, e, 32)
	for i := 0; i < ExpansionFactor; i++ {
		require.Equal(t, k[:], e[i*KeySize:(i+1)*KeySize])
	}
}

func TestNewRoundKeyIsFresh(t *testing.T) {
	seen := make(map[RoundKey]bool)
	for i := 0; i < 100; i++ {
		k, err := NewRoundKey()
		require.NoError(t, err)
		require.False(t, seen[k], "round key reused")
		seen[k] = true
	}
}

func TestPadUnpad(t *testing.T) {
	p, err := Pad(Scissors)
	require.NoError(t, err)
	require.Equal(t, [PaddedSize]byte{'s', 'c', 'i', 's', 's', 'o', 'r', 's'}, p)

	p, err = Pad(Rock)
	require.NoError(t, err)
	require.Equal(t, [PaddedSize]byte{'r', 'o', 'c', 'k'}, p)
	c, err := Unpad(p)
	require.NoError(t, err)
	require.Equal(t, Rock, c)

	_, err = Pad("lizard")
	require.ErrorIs(t, err, ErrNonCanonical)

	_, err = Unpad([PaddedSize]byte{'R', 'o', 'c', 'k'})
	require.ErrorIs(t, err, ErrNonCanonical)
	_, err = Unpad([PaddedSize]byte{'r', 'o', 'c', 'k', 0, 'x'})
	require.ErrorIs(t, err, ErrNonCanonical)
}

func TestBytesHelpers(t *testing.T) {
	_, err := KeyFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
	k, err := KeyFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	require.Equal(t, RoundKey{1, 2, 3, 4, 5, 6, 7, 8}, k)

	_, err = CiphertextFromBytes(make([]byte, 9))
	require.Error(t, err)
}

func TestOutcomeRelation(t *testing.T) {
	require.True(t, Rock.Beats(Scissors))
	require.True(t, Paper.Beats(Rock))
	require.True(t, Scissors.Beats(Paper))
	for _, c := range AllChoices {
		require.False(t, c.Beats(c))
	}
	require.False(t, Rock.Beats(Paper))
}

func TestParseChoice(t *testing.T) {
	tests := map[string]Choice{"rock": Rock, " Paper ": Paper, "s": Scissors, "R": Rock}
	for in, want := range tests {
		got, err := ParseChoice(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseChoice("spock")
	require.ErrorIs(t, err, ErrNonCanonical)
}
