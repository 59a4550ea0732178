package game

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/blerps/blerps/common/testlogger"
	"github.com/blerps/blerps/internal/broadcast"
	"github.com/blerps/blerps/internal/commit"
	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio/sim"
)

type collector struct {
	sync.Mutex
	res []*Resolution
}

func (c *collector) RoundResolved(_ context.Context, r *Resolution) error {
	c.Lock()
	defer c.Unlock()
	c.res = append(c.res, r)
	return nil
}

func (c *collector) last(t *testing.T) *Resolution {
	c.Lock()
	defer c.Unlock()
	require.NotEmpty(t, c.res)
	return c.res[len(c.res)-1]
}

type player struct {
	addr    peer.Address
	session *Session
	sink    *collector
	choices []commit.Choice
	scores  map[peer.Address]int
	err     error
}

func testParams(players, rounds int) Params {
	p := DefaultParams()
	p.MaxPeers = players
	p.TotalRounds = rounds
	p.JoinDuration = 3 * time.Second
	p.JoinLinger = 300 * time.Millisecond
	p.CommitDuration = 3 * time.Second
	p.RevealDuration = 2 * time.Second
	p.AckDuration = 500 * time.Millisecond
	return p
}

func playerAddress(i int) peer.Address {
	return peer.Address{0xc0, 0, 0, 0, 0, byte(i + 1)}
}

// playGame runs one session per choice list on a shared medium until every
// session returns.
func playGame(t *testing.T, m *sim.Medium, p Params, choices ...[]commit.Choice) []*player {
	players := make([]*player, len(choices))
	for i, cs := range choices {
		addr := playerAddress(i)
		sink := new(collector)
		s, err := NewSession(testlogger.New(t), p, Deps{
			Radio: m.NewRadio(addr),
			Input: NewScripted(cs...),
			Rand:  rand.New(rand.NewSource(int64(i) + 1)),
			Sinks: []ResultSink{sink},
		})
		require.NoError(t, err)
		players[i] = &player{addr: addr, session: s, sink: sink, choices: cs}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	var wg sync.WaitGroup
	for _, pl := range players {
		wg.Add(1)
		go func(pl *player) {
			defer wg.Done()
			pl.scores, pl.err = pl.session.Run(ctx)
		}(pl)
	}
	wg.Wait()
	for _, pl := range players {
		require.NoError(t, pl.err, "player %s", pl.addr)
		require.Equal(t, len(players), pl.session.Registry().Len())
	}
	return players
}

// requireIntegrity checks every valid view of a player matches what that
// player actually chose.
func requireIntegrity(t *testing.T, players []*player) {
	actual := make(map[peer.Address][]commit.Choice)
	for _, pl := range players {
		actual[pl.addr] = pl.choices
	}
	for _, pl := range players {
		for _, res := range pl.sink.res {
			for addr, o := range res.Choices {
				if !o.Valid {
					continue
				}
				cs := actual[addr]
				require.Equal(t, cs[int(res.Round-1)%len(cs)], o.Choice, "%s view of %s", pl.addr, addr)
			}
		}
	}
}

// requireAllValid checks no player saw a void choice in any round.
func requireAllValid(t *testing.T, players []*player) {
	for _, pl := range players {
		for _, res := range pl.sink.res {
			require.Len(t, res.Choices, len(players))
			for addr, o := range res.Choices {
				require.True(t, o.Valid, "round %d: %s view of %s: %s", res.Round, pl.addr, addr, o.Reason)
			}
		}
	}
}

func TestTwoPlayersBothRock(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(1))
	players := playGame(t, m, testParams(2, 1),
		[]commit.Choice{commit.Rock}, []commit.Choice{commit.Rock})

	a, b := players[0], players[1]
	for _, pl := range players {
		res := pl.sink.last(t)
		require.Equal(t, uint8(1), res.Round)
		require.Equal(t, valid(commit.Rock), res.Choices[a.addr])
		require.Equal(t, valid(commit.Rock), res.Choices[b.addr])
		require.Equal(t, map[peer.Address]int{a.addr: 1, b.addr: 1}, res.Deltas)
		require.Equal(t, map[peer.Address]int{a.addr: 1, b.addr: 1}, pl.scores)
	}
}

func TestTwoPlayersRockBeatsScissors(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(2))
	players := playGame(t, m, testParams(2, 1),
		[]commit.Choice{commit.Rock}, []commit.Choice{commit.Scissors})

	a, b := players[0], players[1]
	for _, pl := range players {
		res := pl.sink.last(t)
		require.Equal(t, map[peer.Address]Outcome{
			a.addr: valid(commit.Rock),
			b.addr: valid(commit.Scissors),
		}, res.Choices)
		require.Equal(t, 2, res.Deltas[a.addr])
		require.Equal(t, 0, res.Deltas[b.addr])
	}
	requireIntegrity(t, players)
}

func TestThreePlayersCycle(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(3))
	players := playGame(t, m, testParams(3, 1),
		[]commit.Choice{commit.Rock}, []commit.Choice{commit.Paper}, []commit.Choice{commit.Scissors})

	for _, pl := range players {
		res := pl.sink.last(t)
		for _, other := range players {
			require.True(t, res.Choices[other.addr].Valid)
			require.Equal(t, 2, res.Deltas[other.addr])
		}
	}
	requireIntegrity(t, players)
}

func TestDroppedEncDataVoidsSender(t *testing.T) {
	a, b := playerAddress(0), playerAddress(1)
	drop := func(from, to peer.Address, payload []byte) sim.Action {
		if kind, ok := frame.PeekKind(payload); ok && kind == frame.EncData && from == b && to == a {
			return sim.Drop
		}
		return sim.Deliver
	}
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(4), sim.WithRule(drop))
	p := testParams(3, 1)
	p.CommitDuration = 1500 * time.Millisecond
	p.RevealDuration = 4 * time.Second
	p.AckDuration = time.Second
	players := playGame(t, m, p,
		[]commit.Choice{commit.Rock}, []commit.Choice{commit.Paper}, []commit.Choice{commit.Scissors})

	c := players[2].addr
	resA := players[0].sink.last(t)
	require.Equal(t, Invalid(ReasonMissingEnc), resA.Choices[b])
	require.Equal(t, valid(commit.Rock), resA.Choices[a])
	require.Equal(t, valid(commit.Scissors), resA.Choices[c])
	// Only A against C counts in A's view: rock beats scissors.
	require.Equal(t, map[peer.Address]int{a: 2, b: 0, c: 0}, resA.Deltas)
	require.NotContains(t, resA.Ciphertexts, b)
	require.Contains(t, resA.Keys, b)

	for _, pl := range players[1:] {
		res := pl.sink.last(t)
		for _, other := range players {
			require.True(t, res.Choices[other.addr].Valid, "%s view of %s", pl.addr, other.addr)
		}
		require.Equal(t, map[peer.Address]int{a: 2, b: 2, c: 2}, res.Deltas)
	}
	requireIntegrity(t, players)
}

func TestDuplicatedKeyDataIsHarmless(t *testing.T) {
	a := playerAddress(0)
	dup := func(_, to peer.Address, payload []byte) sim.Action {
		if kind, ok := frame.PeekKind(payload); ok && kind == frame.KeyData && to == a {
			return sim.Duplicate
		}
		return sim.Deliver
	}
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(5), sim.WithRule(dup))
	players := playGame(t, m, testParams(2, 1),
		[]commit.Choice{commit.Rock}, []commit.Choice{commit.Scissors})

	res := players[0].sink.last(t)
	require.Equal(t, valid(commit.Rock), res.Choices[a])
	require.Equal(t, valid(commit.Scissors), res.Choices[players[1].addr])
	require.Equal(t, map[peer.Address]int{a: 2, players[1].addr: 0}, res.Deltas)
	require.NotZero(t, m.Deliveries(a))
}

func TestSequencesAreMonotonic(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[peer.Address]uint8)
	var regressions []string
	watch := func(from, _ peer.Address, payload []byte) sim.Action {
		f, ok := frame.Decode(payload)
		if !ok || !f.Sequenced() {
			return sim.Deliver
		}
		mu.Lock()
		defer mu.Unlock()
		if f.Sequence < seen[from] {
			regressions = append(regressions, from.String())
		}
		seen[from] = f.Sequence
		return sim.Deliver
	}
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(6), sim.WithRule(watch))
	rounds := 3
	players := playGame(t, m, testParams(2, rounds),
		[]commit.Choice{commit.Rock, commit.Paper, commit.Scissors},
		[]commit.Choice{commit.Paper, commit.Paper, commit.Rock})

	require.Empty(t, regressions)
	for _, pl := range players {
		require.LessOrEqual(t, seen[pl.addr], uint8(rounds*FramesPerRound))
		require.Len(t, pl.sink.res, rounds)
		for i, res := range pl.sink.res {
			require.Equal(t, uint8(i+1), res.Round)
		}
	}
	requireIntegrity(t, players)

	// Rounds: A(rock) vs B(paper), A(paper) vs B(paper), A(scissors) vs B(rock).
	a, b := players[0].addr, players[1].addr
	for _, pl := range players {
		require.Equal(t, map[peer.Address]int{a: 1, b: 5}, pl.scores)
	}
}

func TestEightPlayers(t *testing.T) {
	var mu sync.Mutex
	largest := 0
	size := func(_, _ peer.Address, payload []byte) sim.Action {
		mu.Lock()
		defer mu.Unlock()
		if len(payload) > largest {
			largest = len(payload)
		}
		return sim.Deliver
	}
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(8), sim.WithRule(size))
	p := testParams(peer.MaxPeers, 1)
	p.JoinDuration = 5 * time.Second
	p.CommitDuration = 5 * time.Second
	p.RevealDuration = 4 * time.Second
	p.AckDuration = time.Second
	require.Equal(t, 56*time.Millisecond, p.AdIntervalFor(peer.MaxPeers))

	choices := make([][]commit.Choice, peer.MaxPeers)
	for i := range choices {
		choices[i] = []commit.Choice{commit.AllChoices[i%3]}
	}
	players := playGame(t, m, p, choices...)

	require.LessOrEqual(t, largest, frame.MaxAdvertisementSize)
	requireIntegrity(t, players)
	requireAllValid(t, players)
	for _, pl := range players {
		require.Len(t, pl.sink.res, 1)
	}
}

func TestFourPlayersWithoutLoss(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(20))
	rounds := 3
	players := playGame(t, m, testParams(4, rounds),
		[]commit.Choice{commit.Rock, commit.Paper, commit.Scissors},
		[]commit.Choice{commit.Rock, commit.Paper, commit.Rock},
		[]commit.Choice{commit.Paper, commit.Paper, commit.Rock},
		[]commit.Choice{commit.Scissors, commit.Paper, commit.Paper})

	requireAllValid(t, players)
	requireIntegrity(t, players)
	want := map[peer.Address]int{
		players[0].addr: 8,
		players[1].addr: 9,
		players[2].addr: 10,
		players[3].addr: 9,
	}
	for _, pl := range players {
		require.Len(t, pl.sink.res, rounds)
		require.Equal(t, want, pl.scores, "scores seen by %s", pl.addr)
		require.Equal(t, uint8(rounds*FramesPerRound), pl.session.Registry().MinContiguousAck())
	}
}

func TestFutureFramesAreKeptOnce(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock())
	s, err := NewSession(testlogger.New(t), testParams(2, 2), Deps{
		Radio: m.NewRadio(playerAddress(0)),
		Input: Fixed(commit.Rock),
	})
	require.NoError(t, err)

	b := playerAddress(1)
	next := frame.NewEncData(4, 3, 2, []byte("bbbbbbbb"))
	col := &broadcast.Collection{Frames: map[peer.Address][]broadcast.Received{
		b: {{Frame: frame.NewKeyData(2, 1, 1, []byte("kkkkkkkk"))}, {Frame: next}},
	}}
	rec := NewRoundRecord(1)
	for i := 0; i < 3; i++ {
		s.absorb(rec, col)
	}
	require.Len(t, s.early[b], 1)

	// the same frame with a newer ack is a different advert
	col.Frames[b] = append(col.Frames[b], broadcast.Received{Frame: next.WithAck(4)})
	s.absorb(rec, col)
	require.Len(t, s.early[b], 2)

	rec2 := NewRoundRecord(2)
	s.replayEarly(rec2)
	require.Empty(t, s.early)
}

func TestDiscoveryAlone(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock())
	p := testParams(2, 1)
	p.JoinDuration = 200 * time.Millisecond
	p.JoinLinger = 0
	s, err := NewSession(testlogger.New(t), p, Deps{Radio: m.NewRadio(playerAddress(0)), Input: Fixed(commit.Rock)})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrNoPeers)
	require.True(t, s.Registry().Frozen())
}

func TestDiscoveryIgnoresOtherGames(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock())
	other := m.NewRadio(playerAddress(5))
	require.NoError(t, other.StartAdvertising(frame.MustEncode(frame.NewJoin([]byte("XYZ"))), 0))

	p := testParams(2, 1)
	p.JoinDuration = 300 * time.Millisecond
	p.JoinLinger = 0
	s, err := NewSession(testlogger.New(t), p, Deps{Radio: m.NewRadio(playerAddress(0)), Input: Fixed(commit.Rock)})
	require.NoError(t, err)
	require.ErrorIs(t, s.Discover(context.Background()), ErrNoPeers)
	require.Equal(t, 1, s.Registry().Len())
}

func TestPlayRoundPastLastRound(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock())
	p := testParams(2, 1)
	s, err := NewSession(testlogger.New(t), p, Deps{Radio: m.NewRadio(playerAddress(0)), Input: Fixed(commit.Rock)})
	require.NoError(t, err)
	s.round = 1
	_, err = s.PlayRound(context.Background())
	require.ErrorIs(t, err, ErrGameOver)
}

type neverPressed struct{}

func (neverPressed) CurrentChoice() commit.Choice { return commit.Rock }
func (neverPressed) CommitPressed() bool          { return false }

func TestAwaitCommitPollsInput(t *testing.T) {
	fc := clock.NewFakeClock()
	m := sim.NewMedium(fc)
	s, err := NewSession(testlogger.New(t), testParams(2, 1), Deps{
		Radio: m.NewRadio(playerAddress(0)),
		Input: neverPressed{},
		Clock: fc,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.awaitCommit(ctx)
		done <- err
	}()
	fc.BlockUntil(1)
	fc.Advance(DefaultPollInterval)
	fc.BlockUntil(1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestInvalidInputChoice(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock())
	s, err := NewSession(testlogger.New(t), testParams(2, 1), Deps{
		Radio: m.NewRadio(playerAddress(0)),
		Input: Fixed("lizard"),
	})
	require.NoError(t, err)
	_, err = s.awaitCommit(context.Background())
	require.ErrorIs(t, err, ErrInvalidChoice)
}

func TestStatusSnapshot(t *testing.T) {
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(9))
	players := playGame(t, m, testParams(2, 1),
		[]commit.Choice{commit.Paper}, []commit.Choice{commit.Rock})

	st := players[0].session.Snapshot()
	require.Equal(t, uint8(1), st.Round)
	require.True(t, st.Frozen)
	require.Len(t, st.Players, 2)
	require.Equal(t, players[0].addr, st.Players[0].Address)
	require.Equal(t, 2, st.Players[0].Score)
	require.Equal(t, "paper", st.Players[0].Last)
	require.Equal(t, "rock", st.Players[1].Last)
	require.IsType(t, Status{}, players[0].session.Status())
}
