package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blerps/blerps/internal/commit"
	"github.com/blerps/blerps/internal/frame"
)

func TestAdIntervalFor(t *testing.T) {
	p := DefaultParams()
	var tests = []struct {
		peers int
		want  time.Duration
	}{
		{2, DefaultAdInterval},
		{4, DefaultAdInterval},
		{5, 35 * time.Millisecond},
		{8, 56 * time.Millisecond},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, p.AdIntervalFor(tt.peers), "%d peers", tt.peers)
	}

	p.AdInterval = 100 * time.Millisecond
	require.Equal(t, 100*time.Millisecond, p.AdIntervalFor(8))
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	var tests = []struct {
		name   string
		modify func(*Params)
	}{
		{"empty game id", func(p *Params) { p.GameID = nil }},
		{"long game id", func(p *Params) { p.GameID = []byte("RPSX") }},
		{"one player", func(p *Params) { p.MaxPeers = 1 }},
		{"nine players", func(p *Params) { p.MaxPeers = 9 }},
		{"no rounds", func(p *Params) { p.TotalRounds = 0 }},
		{"sequence wrap", func(p *Params) { p.TotalRounds = 86 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			require.Error(t, p.Validate())
		})
	}

	p := DefaultParams()
	p.TotalRounds = 85
	require.NoError(t, p.Validate())
	p.TotalRounds = 86
	require.ErrorIs(t, p.Validate(), ErrTooManyFrames)
	p = DefaultParams()
	p.GameID = []byte("RPSX")
	require.ErrorIs(t, p.Validate(), frame.ErrFieldWidth)
}

func TestInputs(t *testing.T) {
	s := NewScripted(commit.Rock, commit.Paper)
	require.True(t, s.CommitPressed())
	require.Equal(t, commit.Rock, s.CurrentChoice())
	require.Equal(t, commit.Paper, s.CurrentChoice())
	require.Equal(t, commit.Rock, s.CurrentChoice())

	require.Equal(t, commit.Scissors, Fixed(commit.Scissors).CurrentChoice())

	r := NewRandom(1)
	for i := 0; i < 10; i++ {
		require.True(t, r.CurrentChoice().Valid())
	}
}
