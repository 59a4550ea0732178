package blerps

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	clock "github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/core"
	"github.com/blerps/blerps/internal/game"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio/sim"
)

// simulateCmd plays a game between random players sharing a simulated
// medium. Only the first player journals the game and prints the rounds.
func simulateCmd(c *cli.Context, l log.Logger) error {
	ctx := c.Context
	base, err := contextToConfig(c, l)
	if err != nil {
		return err
	}
	n := base.Params().MaxPeers
	seed := c.Int64(seedFlag.Name)
	m := sim.NewMedium(clock.NewRealClock(), sim.WithSeed(seed), sim.WithLoss(c.Float64(lossFlag.Name)))

	players := make([]*core.Player, n)
	defer func() {
		for _, p := range players {
			if p == nil {
				continue
			}
			if err := p.Close(ctx); err != nil {
				l.Warnw("closing player", "err", err)
			}
		}
	}()
	for i := range players {
		opts := []core.ConfigOption{core.WithPlayerName(fmt.Sprintf("bot-%d", i+1))}
		if i == 0 {
			first := func() *peer.Registry { return players[0].Session().Registry() }
			opts = append(opts, core.WithResultSinks(core.NewScoreboard(c.App.Writer, first)))
		} else {
			opts = append(opts, core.WithDBFolder(""), core.WithMetricsListen(""))
		}
		conf, err := contextToConfig(c, l.Named(fmt.Sprintf("bot-%d", i+1)), opts...)
		if err != nil {
			return err
		}
		addr := peer.Address{0xb1, 0xe2, 0x00, 0x00, 0x00, byte(i + 1)}
		p, err := core.NewPlayer(ctx, conf, m.NewRadio(addr), game.NewRandom(seed+int64(i)))
		if err != nil {
			return err
		}
		players[i] = p
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var result *multierror.Error
	scores := make([]map[peer.Address]int, n)
	for i, p := range players {
		wg.Add(1)
		go func(i int, p *core.Player) {
			defer wg.Done()
			s, err := p.Play(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("bot-%d: %w", i+1, err))
			}
			scores[i] = s
		}(i, p)
	}
	wg.Wait()
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	printScores(c.App.Writer, players[0].Session().Registry(), scores[0])
	if players[0].Store() != nil {
		fmt.Fprintf(c.App.Writer, "recorded as session %s\n", players[0].ID())
	}
	return nil
}
