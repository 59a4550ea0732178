// Package broadcast drives a half-duplex radio toward reliable group
// delivery. One call to BroadcastAndCollect advertises a single frame while
// collecting the frames of the other players, until every expected player was
// heard (and, when required, acknowledged our frame) or the budget elapses.
package broadcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/metrics"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio"
)

const (
	// AdvertiseProbability is the chance that a window advertises.
	AdvertiseProbability = 0.6
	// AdvertiseWindow is the length of an advertising window.
	AdvertiseWindow = 900 * time.Millisecond
	// SuppressMin and SuppressSpread bound the length of a silent window.
	SuppressMin    = 50 * time.Millisecond
	SuppressSpread = 100 * time.Millisecond
	// DefaultScanQuantum is the driver scan timeout. Completion and
	// cancellation are evaluated between quanta.
	DefaultScanQuantum = 30 * time.Millisecond
)

// ErrScanBufferFull is returned when the frames stored during one call
// exceed the scan buffer. It is fatal to the game.
var ErrScanBufferFull = errors.New("scan buffer full")

// State is the position of a call in its sub-machine.
type State int

const (
	// AwaitingReceive collects frames until every expected player was heard.
	AwaitingReceive State = iota
	// AwaitingAcks keeps advertising until every player acknowledged us.
	AwaitingAcks
	// Complete means the phase succeeded.
	Complete
	// Timeout means the budget elapsed or the call was cancelled.
	Timeout
)

func (s State) String() string {
	switch s {
	case AwaitingReceive:
		return "awaiting_receive"
	case AwaitingAcks:
		return "awaiting_acks"
	case Complete:
		return "complete"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the engine's tunables. Zero fields take their default, except
// RSSIFloor which is used as given.
type Config struct {
	Clock       clock.Clock
	Rand        *rand.Rand
	ScanQuantum time.Duration
	BufferSize  int
	RSSIFloor   int
}

// Request describes one phase.
type Request struct {
	// Phase names the call in logs and metrics.
	Phase string
	// Outgoing is advertised for the whole call, its ack field refreshed.
	Outgoing frame.Frame
	// Accept is the set of kinds collected.
	Accept frame.KindSet
	// TargetPeers is the number of distinct players expected to send a
	// frame of the outgoing kind.
	TargetPeers int
	MaxDuration time.Duration
	AdInterval  time.Duration
	// RequireAcks holds the call until every target player acked Outgoing.
	RequireAcks bool
	// ActiveScan requests scan responses, which carry player names.
	ActiveScan bool
	// AlwaysAdvertise disables suppress windows.
	AlwaysAdvertise bool
	// Cancel is polled during scans; returning true ends the call as a
	// timeout.
	Cancel func() bool
	// Admit filters senders; nil admits registered players only.
	Admit func(addr peer.Address, f frame.Frame) bool
}

// Received is one stored frame.
type Received struct {
	Frame frame.Frame
	Raw   []byte
	RSSI  int
	At    time.Time
}

// Collection is the result of a call.
type Collection struct {
	State State
	// Frames holds the distinct frames of each sender, in arrival order.
	Frames map[peer.Address][]Received
	// Senders lists the players heard with the outgoing kind, in order.
	Senders []peer.Address
	// Acked lists the senders that acknowledged Outgoing.
	Acked []peer.Address
	// Outgoing is the frame as last advertised.
	Outgoing frame.Frame
	Elapsed  time.Duration

	bytes int
}

// NewCollection returns an empty collection for req.
func NewCollection(req *Request) *Collection {
	return &Collection{
		State:    AwaitingReceive,
		Frames:   make(map[peer.Address][]Received),
		Outgoing: req.Outgoing,
	}
}

// Latest returns the last frame of kind k received from addr.
func (c *Collection) Latest(addr peer.Address, k frame.Kind) (frame.Frame, bool) {
	frames := c.Frames[addr]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Frame.Kind == k {
			return frames[i].Frame, true
		}
	}
	return frame.Frame{}, false
}

// Engine runs broadcast phases on one radio.
type Engine struct {
	l       log.Logger
	radio   radio.Radio
	reg     *peer.Registry
	clock   clock.Clock
	rng     *rand.Rand
	quantum time.Duration
	buffer  int
	floor   int
}

// NewEngine returns an engine advertising on r and recording sequence
// numbers and acks in reg.
func NewEngine(l log.Logger, r radio.Radio, reg *peer.Registry, c Config) *Engine {
	e := &Engine{
		l:       l.Named("broadcast"),
		radio:   r,
		reg:     reg,
		clock:   c.Clock,
		rng:     c.Rand,
		quantum: c.ScanQuantum,
		buffer:  c.BufferSize,
		floor:   c.RSSIFloor,
	}
	if e.clock == nil {
		e.clock = clock.NewRealClock()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	if e.quantum <= 0 {
		e.quantum = DefaultScanQuantum
	}
	if e.buffer <= 0 {
		e.buffer = radio.DefaultBufferSize
	}
	return e
}

// call is the state of one BroadcastAndCollect.
type call struct {
	req         *Request
	col         *Collection
	payload     []byte
	advertising bool
	err         error
}

// BroadcastAndCollect runs one phase. A cancelled or expired phase is not an
// error: the collection is returned in the Timeout state. Errors are radio
// failures, ErrScanBufferFull and the context's error.
func (e *Engine) BroadcastAndCollect(ctx context.Context, req *Request) (*Collection, error) {
	start := e.clock.Now()
	deadline := start.Add(req.MaxDuration)
	c := &call{req: req, col: NewCollection(req)}
	c.col.Outgoing = c.col.Outgoing.WithAck(e.reg.MinContiguousAck())
	payload, err := frame.Encode(c.col.Outgoing)
	if err != nil {
		return nil, err
	}
	c.payload = payload
	params := radio.ScanParams{
		Accept:     req.Accept,
		RSSIFloor:  e.floor,
		BufferSize: e.buffer,
		Active:     req.ActiveScan,
	}

	defer func() {
		if err := e.radio.StopAdvertising(); err != nil {
			e.l.Debugw("stopping advertisement", "err", err)
		}
		if err := e.radio.StopScan(); err != nil {
			e.l.Debugw("stopping scan", "err", err)
		}
	}()

	e.advance(c.col, req)
	for c.col.State == AwaitingReceive || c.col.State == AwaitingAcks {
		window := e.clock.Now().Add(e.pickWindow(c))
		if err := e.setAdvertising(c, c.advertising); err != nil {
			return c.col, err
		}
		for c.col.State == AwaitingReceive || c.col.State == AwaitingAcks {
			now := e.clock.Now()
			if !now.Before(deadline) {
				c.col.State = Timeout
				break
			}
			if !now.Before(window) {
				break
			}
			params.Timeout = minDuration(e.quantum, window.Sub(now), deadline.Sub(now))
			err := e.radio.Scan(ctx, params, func(ad radio.Advert) bool {
				return e.onAdvert(c, ad)
			})
			if c.err != nil {
				return e.finish(c, start), c.err
			}
			if err != nil {
				c.col.State = Timeout
				if ctxErr := ctx.Err(); ctxErr != nil {
					return e.finish(c, start), ctxErr
				}
				return e.finish(c, start), fmt.Errorf("scanning: %w", err)
			}
			if ctx.Err() != nil {
				c.col.State = Timeout
				return e.finish(c, start), ctx.Err()
			}
			if req.Cancel != nil && req.Cancel() {
				c.col.State = Timeout
			}
		}
	}
	return e.finish(c, start), nil
}

func (e *Engine) finish(c *call, start time.Time) *Collection {
	col := c.col
	col.Elapsed = e.clock.Since(start)
	col.Acked = col.Acked[:0]
	if c.req.Outgoing.Sequenced() {
		for _, addr := range col.Senders {
			if e.reg.AckedAtLeast(addr, c.req.Outgoing.Sequence) {
				col.Acked = append(col.Acked, addr)
			}
		}
	}
	metrics.PhaseDuration.WithLabelValues(c.req.Phase, col.State.String()).Observe(col.Elapsed.Seconds())
	e.l.Infow("phase ended",
		"phase", c.req.Phase,
		"state", col.State,
		"senders", len(col.Senders),
		"target", c.req.TargetPeers,
		"acked", len(col.Acked),
		"elapsed", col.Elapsed)
	return col
}

// pickWindow draws the next window and records whether it advertises.
func (e *Engine) pickWindow(c *call) time.Duration {
	if c.req.AlwaysAdvertise || e.rng.Float64() < AdvertiseProbability {
		c.advertising = true
		metrics.AdvertWindows.WithLabelValues("advertise").Inc()
		return AdvertiseWindow
	}
	c.advertising = false
	metrics.AdvertWindows.WithLabelValues("suppress").Inc()
	return SuppressMin + time.Duration(e.rng.Int63n(int64(SuppressSpread)+1))
}

// setAdvertising puts the radio in the wanted mode. Restarting is used to
// swap the payload.
func (e *Engine) setAdvertising(c *call, on bool) error {
	if err := e.radio.StopAdvertising(); err != nil {
		e.l.Debugw("stopping advertisement", "err", err)
	}
	if !on {
		return nil
	}
	err := e.radio.StartAdvertising(c.payload, c.req.AdInterval)
	if err != nil && !errors.Is(err, radio.ErrAlreadyAdvertising) {
		return fmt.Errorf("advertising: %w", err)
	}
	return nil
}

// onAdvert is the scan callback. It returns false to end the scan.
func (e *Engine) onAdvert(c *call, ad radio.Advert) bool {
	if err := e.Receive(c.col, c.req, ad); err != nil {
		c.err = err
		return false
	}
	prev := c.col.State
	e.advance(c.col, c.req)
	if c.col.State != prev {
		e.l.Debugw("phase state", "phase", c.req.Phase, "from", prev, "to", c.col.State)
	}
	if c.col.State == AwaitingReceive || c.col.State == AwaitingAcks {
		if err := e.refreshAck(c); err != nil {
			c.err = err
			return false
		}
	}
	if c.req.Cancel != nil && c.req.Cancel() {
		c.col.State = Timeout
	}
	return c.col.State == AwaitingReceive || c.col.State == AwaitingAcks
}

// Receive is the receive handler: it decodes ad, discards duplicates and
// stores new frames in col, recording sequence numbers and acks in the
// registry. Applying it twice to the same advert leaves col and the
// registry unchanged the second time.
func (e *Engine) Receive(col *Collection, req *Request, ad radio.Advert) error {
	f, ok := frame.Decode(ad.Payload)
	if !ok {
		metrics.FramesRejected.WithLabelValues("malformed").Inc()
		return nil
	}
	if !req.Accept.Has(f.Kind) {
		metrics.FramesRejected.WithLabelValues("kind").Inc()
		return nil
	}
	if !e.admit(req, ad.Address, f) {
		metrics.FramesRejected.WithLabelValues("sender").Inc()
		return nil
	}
	e.reg.NoteName(ad.Address, ad.Name)

	stored := col.Frames[ad.Address]
	for _, r := range stored {
		if bytes.Equal(r.Raw, ad.Payload) {
			metrics.FramesDuplicate.Inc()
			return nil
		}
	}
	if col.bytes+len(ad.Payload) > e.buffer {
		return ErrScanBufferFull
	}
	col.bytes += len(ad.Payload)
	col.Frames[ad.Address] = append(stored, Received{
		Frame: f,
		Raw:   append([]byte(nil), ad.Payload...),
		RSSI:  ad.RSSI,
		At:    e.clock.Now(),
	})
	metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()
	e.l.Debugw("frame received", "from", ad.Address, "frame", f, "rssi", ad.RSSI)

	if f.Sequenced() {
		e.record(ad.Address, f)
	}
	if e.countsAsSender(req, f) && !containsAddress(col.Senders, ad.Address) {
		col.Senders = append(col.Senders, ad.Address)
	}
	return nil
}

// record notes the sequence and ack of f. Senders admitted by a custom
// filter may not be registered yet.
func (e *Engine) record(addr peer.Address, f frame.Frame) {
	if err := e.reg.RecordSequence(addr, f.Sequence); err != nil {
		e.l.Debugw("not recording sequence", "from", addr, "err", err)
		return
	}
	if err := e.reg.RecordAck(addr, f.Ack); err != nil {
		e.l.Debugw("not recording ack", "from", addr, "err", err)
	}
}

func (e *Engine) admit(req *Request, addr peer.Address, f frame.Frame) bool {
	if addr == e.reg.Local().Address {
		return false
	}
	if req.Admit != nil {
		return req.Admit(addr, f)
	}
	return e.reg.Contains(addr)
}

// countsAsSender reports whether f answers the outgoing frame: same kind
// and, for sequenced kinds, same round.
func (e *Engine) countsAsSender(req *Request, f frame.Frame) bool {
	if f.Kind != req.Outgoing.Kind {
		return false
	}
	return !f.Sequenced() || f.Round == req.Outgoing.Round
}

// advance evaluates the transitions of the sub-machine.
func (e *Engine) advance(col *Collection, req *Request) {
	switch col.State {
	case AwaitingReceive:
		if len(col.Senders) < req.TargetPeers {
			return
		}
		if !req.RequireAcks || !req.Outgoing.Sequenced() {
			col.State = Complete
			return
		}
		col.State = AwaitingAcks
		fallthrough
	case AwaitingAcks:
		for _, addr := range col.Senders {
			if !e.reg.AckedAtLeast(addr, req.Outgoing.Sequence) {
				return
			}
		}
		col.State = Complete
	}
}

// refreshAck rewrites the outgoing ack and restarts the advertisement when
// the payload changed. The ack only covers what every player sent us.
func (e *Engine) refreshAck(c *call) error {
	if !c.col.Outgoing.Sequenced() {
		return nil
	}
	ack := e.reg.MinContiguousAck()
	if ack == c.col.Outgoing.Ack {
		return nil
	}
	c.col.Outgoing = c.col.Outgoing.WithAck(ack)
	payload, err := frame.Encode(c.col.Outgoing)
	if err != nil {
		return err
	}
	c.payload = payload
	if c.advertising {
		return e.setAdvertising(c, true)
	}
	return nil
}

func containsAddress(list []peer.Address, addr peer.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func minDuration(ds ...time.Duration) time.Duration {
	m := ds[0]
	for _, d := range ds[1:] {
		if d < m {
			m = d
		}
	}
	return m
}
