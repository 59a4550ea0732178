package core

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/fs"
	"github.com/blerps/blerps/internal/game"
	"github.com/blerps/blerps/internal/metrics"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio"
	"github.com/blerps/blerps/internal/store/boltdb"
)

// Player runs one game on a radio: the session, its journal and its status
// server.
type Player struct {
	conf    *Config
	log     log.Logger
	id      string
	session *game.Session
	store   *boltdb.BoltStore
	status  *http.Server
}

// NewPlayer validates conf and wires a session playing on r with input in.
func NewPlayer(ctx context.Context, conf *Config, r radio.Radio, in game.Input) (*Player, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	p := &Player{
		conf: conf,
		id:   id,
		log:  conf.Logger().Named("player").With("session", id),
	}

	sinks := append([]game.ResultSink(nil), conf.sinks...)
	if folder := conf.DBFolder(); folder != "" {
		dir, err := fs.CreateSecureFolder(folder)
		if err != nil {
			return nil, err
		}
		store, err := boltdb.NewBoltStore(ctx, p.log, dir, conf.boltOpts)
		if err != nil {
			return nil, err
		}
		p.store = store
		sinks = append(sinks, NewJournal(store, id, p.players, conf.Clock()))
	}

	session, err := game.NewSession(p.log, conf.Params(), game.Deps{
		Radio:  r,
		Input:  in,
		Clock:  conf.Clock(),
		Sinks:  sinks,
		Cancel: conf.cancel,
	})
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	p.session = session

	if addr := conf.MetricsListen(); addr != "" {
		status, err := metrics.Start(p.log, addr, session)
		if err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
		p.status = status
	}
	return p, nil
}

// ID returns the unique id of this game in the journal.
func (p *Player) ID() string {
	return p.id
}

// Session returns the game session.
func (p *Player) Session() *game.Session {
	return p.session
}

// Store returns the journal, nil when disabled.
func (p *Player) Store() *boltdb.BoltStore {
	return p.store
}

func (p *Player) players() *peer.Registry {
	return p.session.Registry()
}

// Play discovers the other players, journals the game and plays every
// round. It returns the final scores.
func (p *Player) Play(ctx context.Context) (map[peer.Address]int, error) {
	if err := p.session.Discover(ctx); err != nil {
		return nil, err
	}
	if p.store != nil {
		if err := p.store.BeginSession(ctx, p.describe()); err != nil {
			return nil, err
		}
	}
	params := p.conf.Params()
	for i := 0; i < params.TotalRounds; i++ {
		res, err := p.session.PlayRound(ctx)
		if err != nil {
			p.log.Errorw("game aborted", "round", i+1, "err", err)
			return p.session.Scores(), err
		}
		p.log.Debugw("round done", "round", res.Round)
	}
	return p.session.Scores(), nil
}

func (p *Player) describe() *boltdb.Session {
	reg := p.session.Registry()
	params := p.conf.Params()
	s := &boltdb.Session{
		ID:      p.id,
		Started: p.conf.Clock().Now().Unix(),
		GameID:  string(params.GameID),
		Local:   reg.Local().Address.String(),
		Rounds:  params.TotalRounds,
	}
	for _, pl := range reg.Peers() {
		s.Players = append(s.Players, pl.Address.String())
	}
	return s
}

// Close stops the status server and closes the journal.
func (p *Player) Close(ctx context.Context) error {
	var result *multierror.Error
	if p.status != nil {
		if err := p.status.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if p.store != nil {
		if err := p.store.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
