// Package game sequences the rounds of a game: discovery, then for every
// round a commit, a reveal and a final acknowledgement phase followed by the
// resolution of every pairing.
package game

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/broadcast"
	"github.com/blerps/blerps/internal/commit"
	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/metrics"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio"
)

// Phase names.
const (
	PhaseDiscovery = "discovery"
	PhaseAnnounce  = "announce"
	PhaseCommit    = "commit"
	PhaseReveal    = "reveal"
	PhaseFinalAck  = "final-ack"
)

var (
	// ErrNoPeers is returned when discovery heard nobody.
	ErrNoPeers = errors.New("no other player joined")
	// ErrInvalidChoice is returned when the input yields a non-canonical move.
	ErrInvalidChoice = errors.New("input returned an invalid choice")
	// ErrGameOver is returned when playing past the last round.
	ErrGameOver = errors.New("all rounds were played")
)

// Resolution is emitted at the end of every round.
type Resolution struct {
	Round       uint8
	Choices     map[peer.Address]Outcome
	Deltas      map[peer.Address]int
	Keys        map[peer.Address]commit.RoundKey
	Ciphertexts map[peer.Address]commit.Ciphertext
}

// ResultSink consumes resolutions, e.g. a display or a journal.
type ResultSink interface {
	RoundResolved(ctx context.Context, res *Resolution) error
}

// Deps are the collaborators of a session.
type Deps struct {
	Radio radio.Radio
	Input Input
	Clock clock.Clock
	// Rand drives the broadcast windows.
	Rand  *rand.Rand
	Sinks []ResultSink
	// Cancel ends the current phase early when it returns true.
	Cancel func() bool
}

// Session is one game, from discovery to the last round. It is driven by a
// single goroutine; only Status may be called concurrently.
type Session struct {
	l      log.Logger
	params Params
	radio  radio.Radio
	reg    *peer.Registry
	engine *broadcast.Engine
	clock  clock.Clock
	input  Input
	sinks  []ResultSink
	cancel func() bool

	round uint8
	seq   uint8
	// early holds frames of rounds not played yet
	early map[peer.Address][]frame.Frame

	mu     sync.Mutex
	status Status
}

// NewSession builds a session playing on d.Radio.
func NewSession(l log.Logger, p Params, d Deps) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if d.Radio == nil || d.Input == nil {
		return nil, errors.New("a radio and an input are required")
	}
	c := d.Clock
	if c == nil {
		c = clock.NewRealClock()
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	local := d.Radio.LocalAddress()
	reg, err := peer.NewRegistry(p.MaxPeers, local, p.PlayerName)
	if err != nil {
		return nil, err
	}
	l = l.Named("game").With("player", local)
	engine := broadcast.NewEngine(l, d.Radio, reg, broadcast.Config{
		Clock:       c,
		Rand:        d.Rand,
		ScanQuantum: p.ScanQuantum,
		BufferSize:  p.BufferSize,
		RSSIFloor:   p.RSSIFloor,
	})
	s := &Session{
		l:      l,
		params: p,
		radio:  d.Radio,
		reg:    reg,
		engine: engine,
		clock:  c,
		input:  d.Input,
		sinks:  d.Sinks,
		cancel: d.Cancel,
		early:  make(map[peer.Address][]frame.Frame),
	}
	s.snapshot("", nil)
	return s, nil
}

// Registry returns the players of the game.
func (s *Session) Registry() *peer.Registry {
	return s.reg
}

// Round returns the last round started.
func (s *Session) Round() uint8 {
	return s.round
}

// Scores returns the cumulative score of every player.
func (s *Session) Scores() map[peer.Address]int {
	return s.reg.Scores()
}

// Discover advertises JoinGame and registers every player heard with the
// same game id, then freezes the registry.
func (s *Session) Discover(ctx context.Context) error {
	if s.params.PlayerName != "" {
		if err := s.radio.SetLocalName(s.params.PlayerName); err != nil {
			s.l.Warnw("setting local name", "err", err)
		}
	}
	gameID := make([]byte, frame.GameIDSize)
	copy(gameID, s.params.GameID)
	s.snapshot(PhaseDiscovery, nil)

	req := &broadcast.Request{
		Phase:       PhaseDiscovery,
		Outgoing:    frame.NewJoin(gameID),
		Accept:      frame.Of(frame.JoinGame),
		TargetPeers: s.params.MaxPeers - 1,
		MaxDuration: s.params.JoinDuration,
		AdInterval:  s.params.AdInterval,
		ActiveScan:  true,
		Cancel:      s.cancel,
		Admit: func(addr peer.Address, f frame.Frame) bool {
			if !bytes.Equal(f.GameID, gameID) {
				return false
			}
			p, added, err := s.reg.Add(addr, "")
			if err != nil {
				return false
			}
			if added {
				s.l.Infow("player joined", "peer", addr, "index", p.Index)
				s.snapshot(PhaseDiscovery, nil)
			}
			return true
		},
	}
	_, err := s.engine.BroadcastAndCollect(ctx, req)
	if err == nil && s.params.JoinLinger > 0 {
		// Players heard early may not have heard us yet: keep announcing
		// without suppression before moving on.
		linger := *req
		linger.Phase = PhaseAnnounce
		linger.TargetPeers = s.params.MaxPeers
		linger.MaxDuration = s.params.JoinLinger
		linger.AlwaysAdvertise = true
		s.snapshot(PhaseAnnounce, nil)
		_, err = s.engine.BroadcastAndCollect(ctx, &linger)
	}
	s.reg.Freeze()
	metrics.GamePeers.Set(float64(s.reg.Len()))
	s.snapshot(PhaseDiscovery, nil)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	for _, p := range s.reg.Others() {
		s.l.Infow("player registered", "peer", p.Address, "name", p.Name, "index", p.Index)
	}
	if s.reg.Len() < 2 {
		return ErrNoPeers
	}
	return nil
}

// PlayRound plays the next round and returns its resolution. Phase timeouts
// are not errors: players whose data is missing are void for the round.
func (s *Session) PlayRound(ctx context.Context) (*Resolution, error) {
	if int(s.round) >= s.params.TotalRounds {
		return nil, ErrGameOver
	}
	s.round++
	round := s.round
	rec := NewRoundRecord(round)
	s.replayEarly(rec)
	l := s.l.With("round", round)

	choice, err := s.awaitCommit(ctx)
	if err != nil {
		return nil, err
	}
	key, err := commit.NewRoundKey()
	if err != nil {
		return nil, err
	}
	ct, err := commit.Seal(choice, key)
	if err != nil {
		return nil, err
	}
	l.Infow("choice committed", "ciphertext", ct)

	others := s.reg.Len() - 1
	phases := []struct {
		name     string
		out      frame.Frame
		accept   frame.KindSet
		duration time.Duration
		acks     bool
	}{
		{PhaseCommit, frame.NewEncData(s.nextSequence(), 0, round, ct[:]),
			frame.Of(frame.EncData, frame.KeyData), s.params.CommitDuration, true},
		{PhaseReveal, frame.NewKeyData(s.nextSequence(), 0, round, key[:]),
			frame.Of(frame.EncData, frame.KeyData, frame.RoundEnd), s.params.RevealDuration, true},
		{PhaseFinalAck, frame.NewRoundEnd(s.nextSequence(), 0, round),
			frame.Of(frame.EncData, frame.KeyData, frame.RoundEnd), s.params.AckDuration, false},
	}
	for _, ph := range phases {
		s.snapshot(ph.name, nil)
		col, err := s.engine.BroadcastAndCollect(ctx, &broadcast.Request{
			Phase:       ph.name,
			Outgoing:    ph.out,
			Accept:      ph.accept,
			TargetPeers: others,
			MaxDuration: ph.duration,
			AdInterval:  s.params.AdIntervalFor(s.reg.Len()),
			RequireAcks: ph.acks,
			Cancel:      s.cancel,
		})
		if col != nil {
			s.absorb(rec, col)
		}
		if err != nil {
			return nil, fmt.Errorf("round %d %s: %w", round, ph.name, err)
		}
	}

	res, err := s.resolve(rec, choice, key, ct)
	if err != nil {
		return nil, err
	}
	// Every player numbers its frames the same way: what is missing from
	// this round will not be sent again.
	s.reg.Settle(s.seq)
	for _, sink := range s.sinks {
		if err := sink.RoundResolved(ctx, res); err != nil {
			l.Errorw("delivering resolution", "err", err)
		}
	}
	s.snapshot("", res)
	return res, nil
}

// Run plays a whole game and returns the final scores.
func (s *Session) Run(ctx context.Context) (map[peer.Address]int, error) {
	if err := s.Discover(ctx); err != nil {
		return nil, err
	}
	for int(s.round) < s.params.TotalRounds {
		if _, err := s.PlayRound(ctx); err != nil {
			return s.Scores(), err
		}
	}
	s.l.Infow("game over", "rounds", s.round, "score", s.reg.Local().Score)
	return s.Scores(), nil
}

// awaitCommit polls the input until the player commits.
func (s *Session) awaitCommit(ctx context.Context) (commit.Choice, error) {
	for !s.input.CommitPressed() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.clock.After(s.params.PollInterval):
		}
	}
	choice := s.input.CurrentChoice()
	if !choice.Valid() {
		return "", fmt.Errorf("%q: %w", choice, ErrInvalidChoice)
	}
	return choice, nil
}

func (s *Session) nextSequence() uint8 {
	s.seq = frame.NextSequence(s.seq)
	return s.seq
}

// absorb files the frames of a phase into the round record, keeping frames
// of later rounds for when those rounds start.
func (s *Session) absorb(rec *RoundRecord, col *broadcast.Collection) {
	for addr, received := range col.Frames {
		for _, r := range received {
			rec.Observe(addr, r.Frame)
			if r.Frame.Sequenced() && r.Frame.Round > rec.Round && !s.hasEarly(addr, r.Frame) {
				s.early[addr] = append(s.early[addr], r.Frame)
			}
		}
	}
}

func (s *Session) hasEarly(addr peer.Address, f frame.Frame) bool {
	for _, e := range s.early[addr] {
		if e.Equal(f) {
			return true
		}
	}
	return false
}

func (s *Session) replayEarly(rec *RoundRecord) {
	for addr, frames := range s.early {
		kept := frames[:0]
		for _, f := range frames {
			switch {
			case f.Round == rec.Round:
				rec.Observe(addr, f)
			case f.Round > rec.Round:
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(s.early, addr)
		} else {
			s.early[addr] = kept
		}
	}
}

func (s *Session) resolve(rec *RoundRecord, own commit.Choice, key commit.RoundKey, ct commit.Ciphertext) (*Resolution, error) {
	local := s.reg.Local().Address
	res := &Resolution{
		Round:       rec.Round,
		Choices:     rec.Outcomes(s.reg, own),
		Keys:        map[peer.Address]commit.RoundKey{local: key},
		Ciphertexts: map[peer.Address]commit.Ciphertext{local: ct},
	}
	for _, p := range s.reg.Others() {
		slot, ok := rec.Slot(p.Address)
		if !ok {
			continue
		}
		if slot.Enc != nil {
			if c, err := commit.CiphertextFromBytes(slot.Enc.Payload); err == nil {
				res.Ciphertexts[p.Address] = c
			}
		}
		if slot.Key != nil {
			if k, err := commit.KeyFromBytes(slot.Key.Payload); err == nil {
				res.Keys[p.Address] = k
			}
		}
	}
	deltas, err := Score(s.reg.Peers(), res.Choices)
	if err != nil {
		return nil, err
	}
	res.Deltas = deltas

	metrics.RoundsPlayed.Inc()
	for _, p := range s.reg.Peers() {
		o := res.Choices[p.Address]
		if !o.Valid {
			metrics.InvalidChoices.WithLabelValues(o.Reason).Inc()
			s.l.Warnw("choice voided", "round", rec.Round, "peer", p.Address, "reason", o.Reason)
		}
		if err := s.reg.AddScore(p.Address, deltas[p.Address]); err != nil {
			return nil, err
		}
		metrics.PeerScore.WithLabelValues(p.Address.String()).Set(float64(p.Score))
	}
	s.l.Infow("round resolved", "round", rec.Round, "choice", own, "delta", deltas[local])
	return res, nil
}
