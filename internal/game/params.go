package game

import (
	"errors"
	"time"

	"github.com/blerps/blerps/internal/broadcast"
	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio"
)

// Default phase budgets.
const (
	DefaultJoinDuration   = 20 * time.Second
	DefaultCommitDuration = 12 * time.Second
	DefaultRevealDuration = 4 * time.Second
	DefaultAckDuration    = 1500 * time.Millisecond
	DefaultJoinLinger     = time.Second
)

const (
	// DefaultAdInterval is the BLE minimum advertising interval plus epsilon.
	DefaultAdInterval = 20010 * time.Microsecond
	// CongestionPerPeer scales the interval of crowded games.
	CongestionPerPeer = 7 * time.Millisecond
	// CongestionThreshold is the player count above which the interval grows.
	CongestionThreshold = 4
	// DefaultPollInterval is how often the input is sampled before a commit.
	DefaultPollInterval = 50 * time.Millisecond
	// FramesPerRound is the number of sequenced frames a player sends per round.
	FramesPerRound = 3
)

// DefaultGameID tags the JoinGame frames of this game.
var DefaultGameID = []byte("RPS")

// ErrTooManyFrames is returned when a game would wrap sequence numbers.
var ErrTooManyFrames = errors.New("total rounds would wrap sequence numbers")

// Params are the game rules shared by every player.
type Params struct {
	GameID      []byte
	PlayerName  string
	MaxPeers    int
	TotalRounds int

	JoinDuration   time.Duration
	CommitDuration time.Duration
	RevealDuration time.Duration
	AckDuration    time.Duration
	AdInterval     time.Duration
	PollInterval   time.Duration
	// JoinLinger is how long JoinGame keeps being advertised once
	// discovery ended.
	JoinLinger time.Duration

	RSSIFloor   int
	BufferSize  int
	ScanQuantum time.Duration
}

// DefaultParams returns the standard game rules.
func DefaultParams() Params {
	return Params{
		GameID:         DefaultGameID,
		MaxPeers:       4,
		TotalRounds:    3,
		JoinDuration:   DefaultJoinDuration,
		JoinLinger:     DefaultJoinLinger,
		CommitDuration: DefaultCommitDuration,
		RevealDuration: DefaultRevealDuration,
		AckDuration:    DefaultAckDuration,
		AdInterval:     DefaultAdInterval,
		PollInterval:   DefaultPollInterval,
		RSSIFloor:      radio.DefaultRSSIFloor,
		BufferSize:     radio.DefaultBufferSize,
		ScanQuantum:    broadcast.DefaultScanQuantum,
	}
}

// AdIntervalFor returns the advertising interval for a game of the given
// size: the base interval, raised to peers*7ms above four players.
func (p Params) AdIntervalFor(peers int) time.Duration {
	interval := p.AdInterval
	if peers > CongestionThreshold {
		if scaled := time.Duration(peers) * CongestionPerPeer; scaled > interval {
			interval = scaled
		}
	}
	return interval
}

// Validate checks the rules are playable.
func (p Params) Validate() error {
	switch {
	case len(p.GameID) == 0 || len(p.GameID) > frame.GameIDSize:
		return frame.ErrFieldWidth
	case p.MaxPeers < 2 || p.MaxPeers > peer.MaxPeers:
		return errors.New("max peers must be between 2 and 8")
	case p.TotalRounds < 1:
		return errors.New("at least one round must be played")
	case p.TotalRounds*FramesPerRound > 255:
		return ErrTooManyFrames
	}
	return nil
}
