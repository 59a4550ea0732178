// Package blerps is the command line of the rock-paper-scissors game played
// over advertisements.
package blerps

import (
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v2"

	"github.com/blerps/blerps/common"
	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/core"
	"github.com/blerps/blerps/internal/fs"
	"github.com/blerps/blerps/internal/game"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio/mcast"
)

// Automatically set through -ldflags
// Example: go install -ldflags "-X github.com/blerps/blerps/internal/rps-cli.buildDate=$(date -u +%d/%m/%Y@%H:%M:%S) -X github.com/blerps/blerps/internal/rps-cli.gitCommit=$(git rev-parse HEAD)"
var (
	gitCommit = "none"
	buildDate = "unknown"
)

var SetVersionPrinter sync.Once

const refreshRate = 100 * time.Millisecond

func banner(w io.Writer) {
	version := common.GetAppVersion()
	_, _ = fmt.Fprintf(w, "blerps %s (date %v, commit %v)\n", version.String(), buildDate, gitCommit)
}

var folderFlag = &cli.StringFlag{
	Name:    "folder",
	Value:   core.DefaultConfigFolder(),
	Usage:   "Folder holding the configuration file and the results journal, with absolute path.",
	EnvVars: []string{"BLERPS_FOLDER"},
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "TOML configuration file. Defaults to blerps.toml in the folder when present.",
	EnvVars: []string{"BLERPS_CONFIG"},
}

var verboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Usage:   "If set, verbosity is at the debug level",
	EnvVars: []string{"BLERPS_VERBOSE"},
}

var jsonFlag = &cli.BoolFlag{
	Name:    "json",
	Usage:   "Log in JSON instead of the console format.",
	EnvVars: []string{"BLERPS_JSON"},
}

var playersFlag = &cli.IntFlag{
	Name:    "players",
	Usage:   "Number of players in the game, including this one (2 to 8).",
	EnvVars: []string{"BLERPS_PLAYERS"},
}

var roundsFlag = &cli.IntFlag{
	Name:    "rounds",
	Usage:   "Number of rounds to play.",
	EnvVars: []string{"BLERPS_ROUNDS"},
}

var nameFlag = &cli.StringFlag{
	Name:    "name",
	Usage:   "Name shown to the other players.",
	EnvVars: []string{"BLERPS_NAME"},
}

var gameIDFlag = &cli.StringFlag{
	Name:    "game-id",
	Usage:   "Tag of the game to join, up to 3 characters.",
	EnvVars: []string{"BLERPS_GAME_ID"},
}

var metricsFlag = &cli.StringFlag{
	Name:    "metrics",
	Usage:   "Launch a metrics and status server at the specified (host:)port.",
	EnvVars: []string{"BLERPS_METRICS"},
}

var groupFlag = &cli.StringFlag{
	Name:    "group",
	Value:   mcast.DefaultGroup,
	Usage:   "Multicast group standing in for the advertising channel.",
	EnvVars: []string{"BLERPS_GROUP"},
}

var ifaceFlag = &cli.StringFlag{
	Name:    "iface",
	Usage:   "Network interface to join the multicast group on. All interfaces when empty.",
	EnvVars: []string{"BLERPS_IFACE"},
}

var addressFlag = &cli.StringFlag{
	Name:  "address",
	Usage: "Local address, as aa:bb:cc:dd:ee:ff. A random one is drawn when empty.",
}

var randomFlag = &cli.BoolFlag{
	Name:  "random",
	Usage: "Play random choices instead of reading them from the standard input.",
}

var noJournalFlag = &cli.BoolFlag{
	Name:  "no-journal",
	Usage: "Do not record the game in the results journal.",
}

var lossFlag = &cli.Float64Flag{
	Name:  "loss",
	Usage: "Probability of dropping an advertisement on the simulated medium.",
}

var seedFlag = &cli.Int64Flag{
	Name:  "seed",
	Usage: "Seed of the simulated medium and of the random players.",
	Value: 1,
}

var sessionFlag = &cli.StringFlag{
	Name:  "session",
	Usage: "Show the rounds of this session instead of listing sessions. Use 'last' for the latest one.",
}

var appCommands = []*cli.Command{
	{
		Name:  "play",
		Usage: "Join a game on the local network and play it.",
		Flags: toArray(folderFlag, configFlag, verboseFlag, jsonFlag,
			playersFlag, roundsFlag, nameFlag, gameIDFlag, metricsFlag,
			groupFlag, ifaceFlag, addressFlag, randomFlag, noJournalFlag),
		Action: func(c *cli.Context) error {
			banner(c.App.Writer)
			l := log.New(nil, logLevel(c), logJSON(c)).
				Named("playCmd")
			return playCmd(c, l)
		},
	},
	{
		Name:  "simulate",
		Usage: "Play a whole game between random players on a simulated medium.",
		Flags: toArray(folderFlag, configFlag, verboseFlag, jsonFlag,
			playersFlag, roundsFlag, gameIDFlag, lossFlag, seedFlag, noJournalFlag),
		Action: func(c *cli.Context) error {
			banner(c.App.Writer)
			l := log.New(nil, logLevel(c), logJSON(c)).
				Named("simulateCmd")
			return simulateCmd(c, l)
		},
	},
	{
		Name:  "history",
		Usage: "Show the games recorded in the results journal.",
		Flags: toArray(folderFlag, configFlag, verboseFlag, sessionFlag),
		Action: func(c *cli.Context) error {
			l := log.New(nil, logLevel(c), logJSON(c)).
				Named("historyCmd")
			return historyCmd(c, l)
		},
	},
}

// CLI runs the blerps command line.
func CLI() *cli.App {
	version := common.GetAppVersion()

	app := cli.NewApp()
	app.Name = "blerps"

	SetVersionPrinter.Do(func() {
		cli.VersionPrinter = func(c *cli.Context) {
			fmt.Fprintf(c.App.Writer, "blerps %s (date %v, commit %v)\n", version, buildDate, gitCommit)
		}
	})

	app.ExitErrHandler = func(context *cli.Context, err error) {
		// override to prevent default behavior of calling OS.exit(1),
		// when tests expect to be able to run multiple commands.
	}
	app.Version = version.String()
	app.Usage = "rock-paper-scissors over advertisements"
	// we need to copy the underlying commands to avoid races, cli sadly doesn't support concurrent executions well
	appComm := make([]*cli.Command, len(appCommands))
	for i, p := range appCommands {
		v := *p
		appComm[i] = &v
	}
	app.Commands = appComm
	verbFlag := *verboseFlag
	foldFlag := *folderFlag
	app.Flags = toArray(&verbFlag, &foldFlag)
	return app
}

func playCmd(c *cli.Context, l log.Logger) error {
	ctx := c.Context
	var player *core.Player
	board := core.NewScoreboard(c.App.Writer, func() *peer.Registry { return player.Session().Registry() })
	conf, err := contextToConfig(c, l, core.WithResultSinks(board))
	if err != nil {
		return err
	}

	addr, err := localAddress(c)
	if err != nil {
		return err
	}
	r, err := mcast.New(l, c.String(groupFlag.Name), c.String(ifaceFlag.Name), addr)
	if err != nil {
		return fmt.Errorf("can't open the radio: %w", err)
	}
	defer r.Close()

	var in game.Input
	if c.Bool(randomFlag.Name) {
		in = game.NewRandom(time.Now().UnixNano())
	} else {
		in = NewLineInput(c.App.Reader, c.App.ErrWriter)
	}

	player, err = core.NewPlayer(ctx, conf, r, in)
	if err != nil {
		return err
	}
	defer func() {
		if err := player.Close(ctx); err != nil {
			l.Warnw("closing player", "err", err)
		}
	}()

	fmt.Fprintf(c.App.Writer, "playing as %s, waiting for %d players\n", addr, conf.Params().MaxPeers)
	stop := spin(c.App.ErrWriter, player.Session())
	scores, err := player.Play(ctx)
	stop()
	if err != nil {
		return err
	}
	printScores(c.App.Writer, player.Session().Registry(), scores)
	return nil
}

// spin shows discovery progress until the registry freezes or the returned
// function is called.
func spin(w io.Writer, s *game.Session) func() {
	sp := spinner.New(spinner.CharSets[9], refreshRate, spinner.WithWriter(w))
	sp.PreUpdate = func(spin *spinner.Spinner) {
		st := s.Snapshot()
		spin.Suffix = fmt.Sprintf("  %s: %d player(s) found", st.Phase, len(st.Players))
	}
	sp.Start()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			sp.Stop()
		})
	}
	go func() {
		t := time.NewTicker(refreshRate)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if s.Snapshot().Frozen {
					stop()
					// we need an empty line to not clash with the spinner
					fmt.Fprintln(w)
					return
				}
			}
		}
	}()
	return stop
}

func printScores(w io.Writer, reg *peer.Registry, scores map[peer.Address]int) {
	fmt.Fprintln(w, "final scores")
	for _, p := range reg.Peers() {
		name := p.Name
		if name == "" {
			name = p.Address.String()
		}
		marker := ""
		if p.Local {
			marker = " (you)"
		}
		fmt.Fprintf(w, "  %-20s %3d%s\n", name, scores[p.Address], marker)
	}
}

func localAddress(c *cli.Context) (peer.Address, error) {
	if c.IsSet(addressFlag.Name) {
		return peer.ParseAddress(c.String(addressFlag.Name))
	}
	return peer.RandomAddress()
}

func isVerbose(c *cli.Context) bool {
	return c.IsSet(verboseFlag.Name)
}

func logLevel(c *cli.Context) int {
	if isVerbose(c) {
		return log.DebugLevel
	}

	return log.ErrorLevel
}

func logJSON(c *cli.Context) bool {
	return c.Bool(jsonFlag.Name)
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

// configFile returns the configuration file to load, if any.
func configFile(c *cli.Context) string {
	if c.IsSet(configFlag.Name) {
		return c.String(configFlag.Name)
	}
	p := path.Join(c.String(folderFlag.Name), core.DefaultConfigFileName)
	if ok, err := fs.Exists(p); err == nil && ok {
		return p
	}
	return ""
}

// configOptions puts the file options first so that flags override them.
func configOptions(c *cli.Context, l log.Logger) ([]core.ConfigOption, error) {
	opts, err := fileOptions(c)
	if err != nil {
		return nil, err
	}
	if c.IsSet(folderFlag.Name) {
		opts = append([]core.ConfigOption{core.WithConfigFolder(c.String(folderFlag.Name))}, opts...)
	}
	if c.IsSet(playersFlag.Name) {
		opts = append(opts, core.WithMaxPeers(c.Int(playersFlag.Name)))
	}
	if c.IsSet(roundsFlag.Name) {
		opts = append(opts, core.WithTotalRounds(c.Int(roundsFlag.Name)))
	}
	if c.IsSet(nameFlag.Name) {
		opts = append(opts, core.WithPlayerName(c.String(nameFlag.Name)))
	}
	if c.IsSet(gameIDFlag.Name) {
		opts = append(opts, core.WithGameID(c.String(gameIDFlag.Name)))
	}
	if c.IsSet(metricsFlag.Name) {
		opts = append(opts, core.WithMetricsListen(c.String(metricsFlag.Name)))
	}
	if c.Bool(noJournalFlag.Name) {
		opts = append(opts, core.WithDBFolder(""))
	}
	return append(opts, core.WithLogger(l)), nil
}

func fileOptions(c *cli.Context) ([]core.ConfigOption, error) {
	file := configFile(c)
	if file == "" {
		return nil, nil
	}
	return core.LoadConfigFile(file)
}

func contextToConfig(c *cli.Context, l log.Logger, extra ...core.ConfigOption) (*core.Config, error) {
	opts, err := configOptions(c, l)
	if err != nil {
		return nil, err
	}
	conf := core.NewConfig(l, append(opts, extra...)...)
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
