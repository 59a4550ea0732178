// Package peer holds the registry of players taking part in a game.
package peer

import (
	"errors"
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

// MaxPeers is the registry capacity, including the local player.
const MaxPeers = 8

// nameCacheSize bounds the names remembered for addresses that are not (yet)
// registered.
const nameCacheSize = 32

var (
	// ErrRegistryFull is returned when adding a ninth player.
	ErrRegistryFull = errors.New("peer registry is full")
	// ErrFrozen is returned when adding a player after discovery ended.
	ErrFrozen = errors.New("peer registry is frozen")
	// ErrUnknownPeer is returned for addresses that are not registered.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Peer is a registered player.
type Peer struct {
	Address Address
	Name    string
	Index   int
	Score   int
	Local   bool

	// sequence numbers received from this peer, ascending and unique
	seqs []uint8
	// highest ack this peer sent us
	ack uint8
}

// Registry is the indexed set of players. Index order is the order of first
// sighting and never changes; it drives pairwise iteration.
type Registry struct {
	capacity int
	peers    []*Peer
	byAddr   map[Address]*Peer
	names    *lru.Cache
	frozen   bool
}

// NewRegistry returns a registry holding at most capacity players; the local
// player is registered first.
func NewRegistry(capacity int, local Address, localName string) (*Registry, error) {
	if capacity < 1 || capacity > MaxPeers {
		capacity = MaxPeers
	}
	names, err := lru.New(nameCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		capacity: capacity,
		byAddr:   make(map[Address]*Peer, capacity),
		names:    names,
	}
	p, _, err := r.Add(local, localName)
	if err != nil {
		return nil, err
	}
	p.Local = true
	return r, nil
}

// Add registers addr, or refreshes its name if it is already known. The
// returned bool is true when a new player was added.
func (r *Registry) Add(addr Address, name string) (*Peer, bool, error) {
	if p, ok := r.byAddr[addr]; ok {
		if name != "" {
			p.Name = name
		}
		return p, false, nil
	}
	if r.frozen {
		return nil, false, ErrFrozen
	}
	if len(r.peers) >= r.capacity {
		return nil, false, ErrRegistryFull
	}
	if name == "" {
		if cached, ok := r.names.Get(addr); ok {
			name = cached.(string)
		}
	}
	p := &Peer{Address: addr, Name: name, Index: len(r.peers)}
	r.peers = append(r.peers, p)
	r.byAddr[addr] = p
	return p, true, nil
}

// NoteName records a name seen in a scan response for addr.
func (r *Registry) NoteName(addr Address, name string) {
	if name == "" {
		return
	}
	if p, ok := r.byAddr[addr]; ok {
		p.Name = name
		return
	}
	r.names.Add(addr, name)
}

// Freeze closes the registry to new players.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Full reports whether the registry reached its capacity.
func (r *Registry) Full() bool {
	return len(r.peers) >= r.capacity
}

// Len returns the number of players, local one included.
func (r *Registry) Len() int {
	return len(r.peers)
}

// Capacity returns the maximum number of players.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Get returns the player registered under addr.
func (r *Registry) Get(addr Address) (*Peer, bool) {
	p, ok := r.byAddr[addr]
	return p, ok
}

// Contains reports whether addr is registered.
func (r *Registry) Contains(addr Address) bool {
	_, ok := r.byAddr[addr]
	return ok
}

// Index returns the stable index of addr.
func (r *Registry) Index(addr Address) (int, error) {
	p, ok := r.byAddr[addr]
	if !ok {
		return -1, ErrUnknownPeer
	}
	return p.Index, nil
}

// Local returns the local player.
func (r *Registry) Local() *Peer {
	return r.peers[0]
}

// Peers returns every player in index order.
func (r *Registry) Peers() []*Peer {
	out := make([]*Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Others returns every remote player in index order.
func (r *Registry) Others() []*Peer {
	out := make([]*Peer, 0, len(r.peers)-1)
	for _, p := range r.peers {
		if !p.Local {
			out = append(out, p)
		}
	}
	return out
}

// RecordSequence notes that seq was received from addr. Duplicates are
// ignored so the recorded maximum never regresses.
func (r *Registry) RecordSequence(addr Address, seq uint8) error {
	p, ok := r.byAddr[addr]
	if !ok {
		return ErrUnknownPeer
	}
	p.record(seq)
	return nil
}

func (p *Peer) record(seq uint8) {
	if seq == 0 {
		return
	}
	i := sort.Search(len(p.seqs), func(i int) bool { return p.seqs[i] >= seq })
	if i < len(p.seqs) && p.seqs[i] == seq {
		return
	}
	p.seqs = append(p.seqs, 0)
	copy(p.seqs[i+1:], p.seqs[i:])
	p.seqs[i] = seq
}

// HighestSequence returns the largest sequence number received from addr.
func (r *Registry) HighestSequence(addr Address) uint8 {
	p, ok := r.byAddr[addr]
	if !ok || len(p.seqs) == 0 {
		return 0
	}
	return p.seqs[len(p.seqs)-1]
}

// ContiguousAck returns the largest s such that 1..s were all received from
// addr.
func (r *Registry) ContiguousAck(addr Address) uint8 {
	p, ok := r.byAddr[addr]
	if !ok {
		return 0
	}
	var s uint8
	for _, seq := range p.seqs {
		if seq != s+1 {
			break
		}
		s = seq
	}
	return s
}

// MinContiguousAck is the cumulative ack advertised by the local player: the
// largest s such that 1..s were received from every remote player. A single
// remote player that was not heard keeps it at 0.
func (r *Registry) MinContiguousAck() uint8 {
	var (
		low  uint8
		seen bool
	)
	for _, p := range r.peers {
		if p.Local {
			continue
		}
		s := r.ContiguousAck(p.Address)
		if !seen || s < low {
			low, seen = s, true
		}
	}
	return low
}

// Settle marks 1..seq as received from every remote player, so frames of a
// resolved round that were missed no longer hold the ack back.
func (r *Registry) Settle(seq uint8) {
	for _, p := range r.peers {
		if p.Local {
			continue
		}
		for s := uint8(1); s != 0 && s <= seq; s++ {
			p.record(s)
		}
	}
}

// RecordAck notes an ack sent by addr, keeping the highest one.
func (r *Registry) RecordAck(addr Address, ack uint8) error {
	p, ok := r.byAddr[addr]
	if !ok {
		return ErrUnknownPeer
	}
	if ack > p.ack {
		p.ack = ack
	}
	return nil
}

// AckedAtLeast reports whether addr has acknowledged seq.
func (r *Registry) AckedAtLeast(addr Address, seq uint8) bool {
	p, ok := r.byAddr[addr]
	return ok && p.ack >= seq
}

// AddScore credits points to addr.
func (r *Registry) AddScore(addr Address, points int) error {
	p, ok := r.byAddr[addr]
	if !ok {
		return ErrUnknownPeer
	}
	p.Score += points
	return nil
}

// Scores returns the cumulative score of every player.
func (r *Registry) Scores() map[Address]int {
	out := make(map[Address]int, len(r.peers))
	for _, p := range r.peers {
		out[p.Address] = p.Score
	}
	return out
}
