package game

import (
	"sort"

	"github.com/blerps/blerps/internal/peer"
)

// PlayerStatus is one line of the scoreboard.
type PlayerStatus struct {
	Address peer.Address `json:"address"`
	Name    string       `json:"name,omitempty"`
	Score   int          `json:"score"`
	Local   bool         `json:"local,omitempty"`
	Last    string       `json:"last_choice,omitempty"`
}

// Status is a point-in-time view of a session, safe to share with other
// goroutines.
type Status struct {
	Round       uint8          `json:"round"`
	TotalRounds int            `json:"total_rounds"`
	Phase       string         `json:"phase,omitempty"`
	Frozen      bool           `json:"frozen"`
	Players     []PlayerStatus `json:"players"`
}

// Status returns the latest snapshot of the session.
func (s *Session) Status() interface{} {
	return s.Snapshot()
}

// Snapshot returns the latest snapshot of the session.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.status
	out.Players = append([]PlayerStatus(nil), s.status.Players...)
	return out
}

// snapshot refreshes the shared view. It runs on the session goroutine.
func (s *Session) snapshot(phase string, res *Resolution) {
	peers := s.reg.Peers()
	players := make([]PlayerStatus, 0, len(peers))
	s.mu.Lock()
	defer s.mu.Unlock()
	last := make(map[peer.Address]string, len(s.status.Players))
	for _, p := range s.status.Players {
		last[p.Address] = p.Last
	}
	for _, p := range peers {
		ps := PlayerStatus{
			Address: p.Address,
			Name:    p.Name,
			Score:   p.Score,
			Local:   p.Local,
			Last:    last[p.Address],
		}
		if res != nil {
			if o, ok := res.Choices[p.Address]; ok {
				ps.Last = o.String()
			}
		}
		players = append(players, ps)
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })
	s.status = Status{
		Round:       s.round,
		TotalRounds: s.params.TotalRounds,
		Phase:       phase,
		Frozen:      s.reg.Frozen(),
		Players:     players,
	}
}
