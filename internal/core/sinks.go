package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/blerps/blerps/internal/game"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/store/boltdb"
)

// Journal writes every resolution to the results journal.
type Journal struct {
	store   *boltdb.BoltStore
	session string
	players func() *peer.Registry
	clock   clock.Clock
}

// NewJournal returns a sink journaling the rounds of session.
func NewJournal(store *boltdb.BoltStore, session string, players func() *peer.Registry, c clock.Clock) *Journal {
	return &Journal{store: store, session: session, players: players, clock: c}
}

// RoundResolved implements game.ResultSink.
func (j *Journal) RoundResolved(ctx context.Context, res *game.Resolution) error {
	return j.store.Put(ctx, ToRecord(j.session, j.players(), res, j.clock.Now()))
}

// ToRecord flattens a resolution in registry order.
func ToRecord(session string, reg *peer.Registry, res *game.Resolution, at time.Time) *boltdb.Record {
	r := &boltdb.Record{
		Session:  session,
		Round:    res.Round,
		Resolved: at.Unix(),
	}
	for _, p := range reg.Peers() {
		o := res.Choices[p.Address]
		e := boltdb.Entry{
			Address: p.Address.String(),
			Name:    p.Name,
			Choice:  string(o.Choice),
			Valid:   o.Valid,
			Reason:  o.Reason,
			Delta:   res.Deltas[p.Address],
		}
		if k, ok := res.Keys[p.Address]; ok {
			e.Key = append([]byte(nil), k[:]...)
		}
		if c, ok := res.Ciphertexts[p.Address]; ok {
			e.Ciphertext = append([]byte(nil), c[:]...)
		}
		r.Entries = append(r.Entries, e)
	}
	return r
}

// Scoreboard prints one line per player after every round.
type Scoreboard struct {
	w       io.Writer
	players func() *peer.Registry
}

// NewScoreboard returns a sink printing to w.
func NewScoreboard(w io.Writer, players func() *peer.Registry) *Scoreboard {
	return &Scoreboard{w: w, players: players}
}

// RoundResolved implements game.ResultSink.
func (s *Scoreboard) RoundResolved(_ context.Context, res *game.Resolution) error {
	var b strings.Builder
	fmt.Fprintf(&b, "round %d\n", res.Round)
	for _, p := range s.players().Peers() {
		name := p.Address.String()
		if p.Name != "" {
			name = fmt.Sprintf("%s (%s)", p.Name, name)
		}
		if p.Local {
			name += " *"
		}
		fmt.Fprintf(&b, "  %-32s %-9s %+d  total %d\n", name, res.Choices[p.Address], res.Deltas[p.Address], p.Score)
	}
	_, err := io.WriteString(s.w, b.String())
	return err
}
