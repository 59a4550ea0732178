package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func addr(b byte) Address {
	return Address{0xc0, 0, 0, 0, 0, b}
}

func TestRegistryOrderAndCapacity(t *testing.T) {
	r, err := NewRegistry(3, addr(1), "me")
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
	require.True(t, r.Local().Local)

	p, added, err := r.Add(addr(2), "bob")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, 1, p.Index)

	_, added, err = r.Add(addr(3), "")
	require.NoError(t, err)
	require.True(t, added)
	require.True(t, r.Full())

	_, _, err = r.Add(addr(4), "dave")
	require.ErrorIs(t, err, ErrRegistryFull)

	idx, err := r.Index(addr(3))
	require.NoError(t, err)
	require.Equal(t, 2, idx)
	_, err = r.Index(addr(9))
	require.ErrorIs(t, err, ErrUnknownPeer)

	others := r.Others()
	require.Len(t, others, 2)
	require.Equal(t, addr(2), others[0].Address)
	require.Equal(t, addr(3), others[1].Address)
}

func TestDuplicateJoinRefreshesName(t *testing.T) {
	r, err := NewRegistry(4, addr(1), "me")
	require.NoError(t, err)
	_, _, err = r.Add(addr(2), "")
	require.NoError(t, err)

	p, added, err := r.Add(addr(2), "bob")
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, "bob", p.Name)
	require.Equal(t, 2, r.Len())

	// an empty name never erases a known one
	p, _, err = r.Add(addr(2), "")
	require.NoError(t, err)
	require.Equal(t, "bob", p.Name)
}

func TestNameCache(t *testing.T) {
	r, err := NewRegistry(4, addr(1), "me")
	require.NoError(t, err)
	r.NoteName(addr(5), "eve")
	p, _, err := r.Add(addr(5), "")
	require.NoError(t, err)
	require.Equal(t, "eve", p.Name)

	r.NoteName(addr(5), "eve2")
	require.Equal(t, "eve2", p.Name)
}

func TestFreeze(t *testing.T) {
	r, err := NewRegistry(4, addr(1), "me")
	require.NoError(t, err)
	_, _, err = r.Add(addr(2), "bob")
	require.NoError(t, err)
	r.Freeze()
	require.True(t, r.Frozen())

	_, _, err = r.Add(addr(3), "carol")
	require.ErrorIs(t, err, ErrFrozen)

	// known players can still refresh their names
	_, _, err = r.Add(addr(2), "bobby")
	require.NoError(t, err)
}

func TestSequencesAndAcks(t *testing.T) {
	r, err := NewRegistry(4, addr(1), "me")
	require.NoError(t, err)
	_, _, err = r.Add(addr(2), "")
	require.NoError(t, err)
	_, _, err = r.Add(addr(3), "")
	require.NoError(t, err)

	for _, s := range []uint8{1, 3, 2, 3, 5} {
		require.NoError(t, r.RecordSequence(addr(2), s))
	}
	require.Equal(t, uint8(5), r.HighestSequence(addr(2)))
	require.Equal(t, uint8(3), r.ContiguousAck(addr(2)))

	require.NoError(t, r.RecordSequence(addr(3), 2))
	require.Equal(t, uint8(0), r.ContiguousAck(addr(3)))
	require.Equal(t, uint8(0), r.MinContiguousAck())

	// an older sequence never lowers the maximum
	require.NoError(t, r.RecordSequence(addr(2), 4))
	require.Equal(t, uint8(5), r.HighestSequence(addr(2)))
	require.Equal(t, uint8(5), r.ContiguousAck(addr(2)))

	require.NoError(t, r.RecordAck(addr(2), 4))
	require.NoError(t, r.RecordAck(addr(2), 2))
	require.True(t, r.AckedAtLeast(addr(2), 4))
	require.False(t, r.AckedAtLeast(addr(2), 5))
	require.False(t, r.AckedAtLeast(addr(9), 1))

	require.ErrorIs(t, r.RecordSequence(addr(9), 1), ErrUnknownPeer)
	require.ErrorIs(t, r.RecordAck(addr(9), 1), ErrUnknownPeer)
}

func TestScores(t *testing.T) {
	r, err := NewRegistry(2, addr(1), "me")
	require.NoError(t, err)
	_, _, err = r.Add(addr(2), "")
	require.NoError(t, err)

	require.NoError(t, r.AddScore(addr(1), 2))
	require.NoError(t, r.AddScore(addr(2), 1))
	require.NoError(t, r.AddScore(addr(2), 1))
	require.Equal(t, map[Address]int{addr(1): 2, addr(2): 2}, r.Scores())
	require.ErrorIs(t, r.AddScore(addr(7), 1), ErrUnknownPeer)
}

func TestAddressText(t *testing.T) {
	a := Address{0xc1, 0x02, 0xab, 0xcd, 0xef, 0x10}
	require.Equal(t, "c1:02:ab:cd:ef:10", a.String())
	parsed, err := ParseAddress(a.String())
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	_, err = ParseAddress("c1:02")
	require.Error(t, err)
	_, err = ParseAddress("zz:02:ab:cd:ef:10")
	require.Error(t, err)

	r, err := RandomAddress()
	require.NoError(t, err)
	require.Equal(t, byte(0xc0), r[0]&0xc0)
}

func TestMinContiguousAck(t *testing.T) {
	r, err := NewRegistry(4, addr(1), "me")
	require.NoError(t, err)
	require.Equal(t, uint8(0), r.MinContiguousAck())
	for _, a := range []Address{addr(2), addr(3), addr(4)} {
		_, _, err = r.Add(a, "")
		require.NoError(t, err)
	}

	// every player sends the same numbers: hearing 1 from two players does
	// not ack the third
	require.NoError(t, r.RecordSequence(addr(2), 1))
	require.NoError(t, r.RecordSequence(addr(3), 1))
	require.Equal(t, uint8(0), r.MinContiguousAck())

	require.NoError(t, r.RecordSequence(addr(4), 1))
	require.Equal(t, uint8(1), r.MinContiguousAck())

	require.NoError(t, r.RecordSequence(addr(2), 2))
	require.NoError(t, r.RecordSequence(addr(3), 2))
	require.NoError(t, r.RecordSequence(addr(4), 3))
	require.Equal(t, uint8(1), r.MinContiguousAck())
	require.NoError(t, r.RecordSequence(addr(4), 2))
	require.Equal(t, uint8(2), r.MinContiguousAck())
}

func TestSettle(t *testing.T) {
	r, err := NewRegistry(4, addr(1), "me")
	require.NoError(t, err)
	_, _, err = r.Add(addr(2), "")
	require.NoError(t, err)
	_, _, err = r.Add(addr(3), "")
	require.NoError(t, err)

	// the round end of addr(3) was missed
	for _, s := range []uint8{1, 2, 3, 4} {
		require.NoError(t, r.RecordSequence(addr(2), s))
	}
	for _, s := range []uint8{1, 2, 4} {
		require.NoError(t, r.RecordSequence(addr(3), s))
	}
	require.Equal(t, uint8(2), r.MinContiguousAck())

	r.Settle(3)
	require.Equal(t, uint8(4), r.MinContiguousAck())
	require.Equal(t, uint8(4), r.HighestSequence(addr(3)))
	require.Equal(t, uint8(0), r.ContiguousAck(addr(1)))

	r.Settle(255)
	require.Equal(t, uint8(255), r.MinContiguousAck())
}
