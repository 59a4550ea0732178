package core

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	clock "github.com/jonboulle/clockwork"
	bolt "go.etcd.io/bbolt"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/commit"
	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/game"
)

// ConfigOption is a function that applies a specific setting to a Config.
type ConfigOption func(*Config)

// Config holds all relevant information for a player to run.
type Config struct {
	configFolder  string
	dbFolder      string
	metricsListen string
	params        game.Params
	cryptoAlg     string
	keyBytes      int
	keyExpansion  int
	boltOpts      *bolt.Options
	sinks         []game.ResultSink
	cancel        func() bool
	logger        log.Logger
	clock         clock.Clock
}

// NewConfig returns the config to pass to a player with the default options
// set and the updated values given by the options.
func NewConfig(l log.Logger, opts ...ConfigOption) *Config {
	if l == nil {
		l = log.DefaultLogger()
	}
	d := &Config{
		configFolder: DefaultConfigFolder(),
		params:       game.DefaultParams(),
		cryptoAlg:    DefaultCryptoAlgorithm,
		keyBytes:     commit.KeySize,
		keyExpansion: commit.ExpansionFactor,
		logger:       l,
		clock:        clock.NewRealClock(),
	}
	d.dbFolder = path.Join(d.configFolder, DefaultDBFolder)
	for i := range opts {
		opts[i](d)
	}
	return d
}

// ConfigFolder returns the folder holding the player's files.
func (d *Config) ConfigFolder() string {
	return d.configFolder
}

// DBFolder returns the folder of the results journal. An empty folder
// disables the journal.
func (d *Config) DBFolder() string {
	return d.dbFolder
}

// MetricsListen returns the address of the status server, empty if disabled.
func (d *Config) MetricsListen() string {
	return d.metricsListen
}

// Params returns the game rules.
func (d *Config) Params() game.Params {
	return d.params
}

// Logger returns the logger associated with this config.
func (d *Config) Logger() log.Logger {
	return d.logger
}

// Clock returns the clock driving the protocol.
func (d *Config) Clock() clock.Clock {
	return d.clock
}

// Validate reports every invalid setting at once.
func (d *Config) Validate() error {
	var result *multierror.Error
	if err := d.params.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if d.cryptoAlg != commit.Algorithm {
		result = multierror.Append(result, fmt.Errorf("crypto algorithm %q: only %q is supported", d.cryptoAlg, commit.Algorithm))
	}
	if d.keyBytes != commit.KeySize {
		result = multierror.Append(result, fmt.Errorf("key bytes must be %d, got %d", commit.KeySize, d.keyBytes))
	}
	if d.keyExpansion != commit.ExpansionFactor {
		result = multierror.Append(result, fmt.Errorf("key expansion factor must be %d, got %d", commit.ExpansionFactor, d.keyExpansion))
	}
	if d.keyBytes*d.keyExpansion != commit.CipherKeySize {
		result = multierror.Append(result, fmt.Errorf("expanded key must be %d bytes", commit.CipherKeySize))
	}
	for _, dur := range []struct {
		name  string
		value time.Duration
	}{
		{"join duration", d.params.JoinDuration},
		{"commit duration", d.params.CommitDuration},
		{"reveal duration", d.params.RevealDuration},
		{"ack duration", d.params.AckDuration},
		{"ad interval", d.params.AdInterval},
	} {
		if dur.value <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be positive", dur.name))
		}
	}
	if d.params.BufferSize < frame.MaxAdvertisementSize {
		result = multierror.Append(result, errors.New("scan buffer cannot hold a single advertisement"))
	}
	return result.ErrorOrNil()
}

// WithConfigFolder sets the base configuration folder; the journal moves to
// its db sub-folder.
func WithConfigFolder(folder string) ConfigOption {
	return func(d *Config) {
		d.configFolder = folder
		d.dbFolder = path.Join(folder, DefaultDBFolder)
	}
}

// WithDBFolder sets the folder of the journal; empty disables it.
func WithDBFolder(folder string) ConfigOption {
	return func(d *Config) {
		d.dbFolder = folder
	}
}

// WithMetricsListen enables the status server on addr.
func WithMetricsListen(addr string) ConfigOption {
	return func(d *Config) {
		d.metricsListen = addr
	}
}

// WithMaxPeers sets the number of players expected, local one included.
func WithMaxPeers(n int) ConfigOption {
	return func(d *Config) {
		d.params.MaxPeers = n
	}
}

// WithTotalRounds sets the number of rounds of a game.
func WithTotalRounds(n int) ConfigOption {
	return func(d *Config) {
		d.params.TotalRounds = n
	}
}

// WithRSSIFloor sets the weakest signal accepted, in dBm.
func WithRSSIFloor(dbm int) ConfigOption {
	return func(d *Config) {
		d.params.RSSIFloor = dbm
	}
}

// WithAdInterval sets the base advertising interval.
func WithAdInterval(interval time.Duration) ConfigOption {
	return func(d *Config) {
		d.params.AdInterval = interval
	}
}

// WithPhaseDurations sets the budgets of the discovery, commit, reveal and
// final-ack phases.
func WithPhaseDurations(join, commitPhase, reveal, ack time.Duration) ConfigOption {
	return func(d *Config) {
		d.params.JoinDuration = join
		d.params.CommitDuration = commitPhase
		d.params.RevealDuration = reveal
		d.params.AckDuration = ack
	}
}

// WithJoinLinger sets how long JoinGame keeps being advertised after
// discovery.
func WithJoinLinger(linger time.Duration) ConfigOption {
	return func(d *Config) {
		d.params.JoinLinger = linger
	}
}

// WithGameID sets the tag of the game to join.
func WithGameID(id string) ConfigOption {
	return func(d *Config) {
		d.params.GameID = []byte(id)
	}
}

// WithPlayerName sets the name sent in scan responses.
func WithPlayerName(name string) ConfigOption {
	return func(d *Config) {
		d.params.PlayerName = name
	}
}

// WithScanBuffer sets the scan buffer budget of a phase, in bytes.
func WithScanBuffer(size int) ConfigOption {
	return func(d *Config) {
		d.params.BufferSize = size
	}
}

// WithScanQuantum sets the driver scan timeout.
func WithScanQuantum(q time.Duration) ConfigOption {
	return func(d *Config) {
		d.params.ScanQuantum = q
	}
}

// WithCrypto sets the commitment cipher parameters. Only the defaults are
// valid; other values are reported by Validate.
func WithCrypto(algorithm string, keyBytes, expansion int) ConfigOption {
	return func(d *Config) {
		d.cryptoAlg = algorithm
		d.keyBytes = keyBytes
		d.keyExpansion = expansion
	}
}

// WithBoltOptions applies boltdb options when opening the journal.
func WithBoltOptions(opts *bolt.Options) ConfigOption {
	return func(d *Config) {
		d.boltOpts = opts
	}
}

// WithResultSinks adds consumers of the round resolutions.
func WithResultSinks(sinks ...game.ResultSink) ConfigOption {
	return func(d *Config) {
		d.sinks = append(d.sinks, sinks...)
	}
}

// WithCancel sets the end-of-scan callback.
func WithCancel(fn func() bool) ConfigOption {
	return func(d *Config) {
		d.cancel = fn
	}
}

// WithClock sets the clock driving the protocol.
func WithClock(c clock.Clock) ConfigOption {
	return func(d *Config) {
		d.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) ConfigOption {
	return func(d *Config) {
		d.logger = l
	}
}

// FileConfig is the TOML configuration file. Absent keys keep their default.
type FileConfig struct {
	MaxPeers           *int     `toml:"max_peers"`
	TotalRounds        *int     `toml:"total_rounds"`
	RSSIFloor          *int     `toml:"rssi_floor_dbm"`
	AdInterval         *float64 `toml:"ad_interval_s"`
	JoinDuration       *float64 `toml:"join_duration_s"`
	CommitDuration     *float64 `toml:"commit_duration_s"`
	RevealDuration     *float64 `toml:"reveal_duration_s"`
	AckDuration        *float64 `toml:"ack_duration_s"`
	CryptoAlgorithm    *string  `toml:"crypto_algorithm"`
	KeyBytes           *int     `toml:"key_bytes"`
	KeyExpansionFactor *int     `toml:"key_expansion_factor"`
	GameID             *string  `toml:"game_id"`
	PlayerName         *string  `toml:"player_name"`
	ScanBufferSize     *int     `toml:"scan_buffer_size"`
	ScanQuantum        *int     `toml:"scan_quantum_ms"`
	DBFolder           *string  `toml:"db_folder"`
	MetricsListen      *string  `toml:"metrics_listen"`
}

// ErrUnknownKey is returned for configuration keys that are not understood.
var ErrUnknownKey = errors.New("unknown configuration key")

// LoadConfigFile decodes the TOML file at p into options to pass to
// NewConfig after the defaults.
func LoadConfigFile(p string) ([]ConfigOption, error) {
	var fc FileConfig
	md, err := toml.DecodeFile(p, &fc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", p, ErrUnknownKey, undecoded[0].String())
	}
	return fc.Options(), nil
}

// Options converts the keys present in the file into options.
func (fc *FileConfig) Options() []ConfigOption {
	var opts []ConfigOption
	if fc.MaxPeers != nil {
		opts = append(opts, WithMaxPeers(*fc.MaxPeers))
	}
	if fc.TotalRounds != nil {
		opts = append(opts, WithTotalRounds(*fc.TotalRounds))
	}
	if fc.RSSIFloor != nil {
		opts = append(opts, WithRSSIFloor(*fc.RSSIFloor))
	}
	if fc.AdInterval != nil {
		opts = append(opts, WithAdInterval(seconds(*fc.AdInterval)))
	}
	durations := []struct {
		value *float64
		set   func(*game.Params, time.Duration)
	}{
		{fc.JoinDuration, func(p *game.Params, d time.Duration) { p.JoinDuration = d }},
		{fc.CommitDuration, func(p *game.Params, d time.Duration) { p.CommitDuration = d }},
		{fc.RevealDuration, func(p *game.Params, d time.Duration) { p.RevealDuration = d }},
		{fc.AckDuration, func(p *game.Params, d time.Duration) { p.AckDuration = d }},
	}
	for _, dur := range durations {
		if dur.value == nil {
			continue
		}
		v, set := seconds(*dur.value), dur.set
		opts = append(opts, func(d *Config) { set(&d.params, v) })
	}
	if fc.CryptoAlgorithm != nil || fc.KeyBytes != nil || fc.KeyExpansionFactor != nil {
		alg, kb, kx := DefaultCryptoAlgorithm, commit.KeySize, commit.ExpansionFactor
		if fc.CryptoAlgorithm != nil {
			alg = *fc.CryptoAlgorithm
		}
		if fc.KeyBytes != nil {
			kb = *fc.KeyBytes
		}
		if fc.KeyExpansionFactor != nil {
			kx = *fc.KeyExpansionFactor
		}
		opts = append(opts, WithCrypto(alg, kb, kx))
	}
	if fc.GameID != nil {
		opts = append(opts, WithGameID(*fc.GameID))
	}
	if fc.PlayerName != nil {
		opts = append(opts, WithPlayerName(*fc.PlayerName))
	}
	if fc.ScanBufferSize != nil {
		opts = append(opts, WithScanBuffer(*fc.ScanBufferSize))
	}
	if fc.ScanQuantum != nil {
		opts = append(opts, WithScanQuantum(time.Duration(*fc.ScanQuantum)*time.Millisecond))
	}
	if fc.DBFolder != nil {
		opts = append(opts, WithDBFolder(*fc.DBFolder))
	}
	if fc.MetricsListen != nil {
		opts = append(opts, WithMetricsListen(*fc.MetricsListen))
	}
	return opts
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
