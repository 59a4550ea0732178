// Package sim provides an in-memory radio medium shared by simulated
// devices. Every device sees the current advertisement of every other
// advertising device once per scan tick, subject to loss and to optional
// delivery rules used to script faults.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio"
)

// DefaultTick is how often a scanning device samples the medium.
const DefaultTick = 10 * time.Millisecond

// DefaultRSSI is the signal strength of every delivery unless overridden.
const DefaultRSSI = -50

// Action is the fate of one delivery.
type Action int

const (
	Deliver Action = iota
	Drop
	Duplicate
)

// Rule decides what happens to payload sent from one device to another.
// Rules run in registration order; the first non-Deliver action wins.
type Rule func(from, to peer.Address, payload []byte) Action

// Medium connects simulated radios.
type Medium struct {
	sync.Mutex
	clock    clock.Clock
	rng      *rand.Rand
	loss     float64
	tick     time.Duration
	rssi     func(from, to peer.Address) int
	rules    []Rule
	devices  map[peer.Address]*Radio
	order    []peer.Address
	delivery map[peer.Address]int
}

// Option configures a Medium.
type Option func(*Medium)

// WithLoss drops each delivery with probability p.
func WithLoss(p float64) Option {
	return func(m *Medium) { m.loss = p }
}

// WithSeed makes loss and delivery order reproducible.
func WithSeed(seed int64) Option {
	return func(m *Medium) { m.rng = rand.New(rand.NewSource(seed)) } //nolint:gosec
}

// WithTick sets the scan sampling period.
func WithTick(d time.Duration) Option {
	return func(m *Medium) { m.tick = d }
}

// WithRSSI sets the signal strength model.
func WithRSSI(fn func(from, to peer.Address) int) Option {
	return func(m *Medium) { m.rssi = fn }
}

// WithRule appends a delivery rule.
func WithRule(r Rule) Option {
	return func(m *Medium) { m.rules = append(m.rules, r) }
}

// NewMedium returns an empty medium driven by c.
func NewMedium(c clock.Clock, opts ...Option) *Medium {
	m := &Medium{
		clock:    c,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
		tick:     DefaultTick,
		rssi:     func(peer.Address, peer.Address) int { return DefaultRSSI },
		devices:  make(map[peer.Address]*Radio),
		delivery: make(map[peer.Address]int),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddRule appends a delivery rule to a running medium.
func (m *Medium) AddRule(r Rule) {
	m.Lock()
	defer m.Unlock()
	m.rules = append(m.rules, r)
}

// NewRadio attaches a device with the given address.
func (m *Medium) NewRadio(addr peer.Address) *Radio {
	m.Lock()
	defer m.Unlock()
	r := &Radio{medium: m, addr: addr}
	m.devices[addr] = r
	m.order = append(m.order, addr)
	return r
}

// Deliveries returns how many adverts addr has received so far.
func (m *Medium) Deliveries(addr peer.Address) int {
	m.Lock()
	defer m.Unlock()
	return m.delivery[addr]
}

// sample returns what to deliver to the device at addr during one tick.
func (m *Medium) sample(to peer.Address, params radio.ScanParams) []radio.Advert {
	m.Lock()
	defer m.Unlock()
	var out []radio.Advert
	for _, i := range m.rng.Perm(len(m.order)) {
		from := m.devices[m.order[i]]
		if from.addr == to {
			continue
		}
		payload, name, ok := from.current()
		if !ok {
			continue
		}
		if m.loss > 0 && m.rng.Float64() < m.loss {
			continue
		}
		action := Deliver
		for _, rule := range m.rules {
			if a := rule(from.addr, to, payload); a != Deliver {
				action = a
				break
			}
		}
		if action == Drop {
			continue
		}
		ad := radio.Advert{
			Address: from.addr,
			RSSI:    m.rssi(from.addr, to),
			Payload: payload,
		}
		if params.Active {
			ad.Name = name
		}
		if !radio.Admit(params, ad) {
			continue
		}
		out = append(out, ad)
		if action == Duplicate {
			dup := ad
			dup.Payload = append([]byte(nil), payload...)
			out = append(out, dup)
		}
	}
	m.delivery[to] += len(out)
	return out
}

// Radio is one simulated device.
type Radio struct {
	medium *Medium

	mu          sync.Mutex
	addr        peer.Address
	name        string
	payload     []byte
	advertising bool
	scanning    bool
}

var _ radio.Radio = (*Radio)(nil)

func (r *Radio) current() ([]byte, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.advertising {
		return nil, "", false
	}
	return append([]byte(nil), r.payload...), r.name, true
}

// StartAdvertising implements radio.Radio.
func (r *Radio) StartAdvertising(payload []byte, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.advertising {
		return radio.ErrAlreadyAdvertising
	}
	if len(payload) > frame.MaxAdvertisementSize {
		return frame.ErrFieldWidth
	}
	r.payload = append([]byte(nil), payload...)
	r.advertising = true
	return nil
}

// StopAdvertising implements radio.Radio.
func (r *Radio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertising = false
	return nil
}

// Advertising reports whether the device is currently advertising.
func (r *Radio) Advertising() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advertising
}

// Scan implements radio.Radio.
func (r *Radio) Scan(ctx context.Context, params radio.ScanParams, fn func(radio.Advert) bool) error {
	r.mu.Lock()
	r.scanning = true
	r.mu.Unlock()
	defer func() {
		_ = r.StopScan()
	}()

	c := r.medium.clock
	deadline := c.Now().Add(params.Timeout)
	for {
		for _, ad := range r.medium.sample(r.addr, params) {
			if !fn(ad) {
				return nil
			}
		}
		remaining := deadline.Sub(c.Now())
		if remaining <= 0 {
			return nil
		}
		wait := r.medium.tick
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(wait):
		}
	}
}

// StopScan implements radio.Radio.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanning = false
	return nil
}

// LocalAddress implements radio.Radio.
func (r *Radio) LocalAddress() peer.Address {
	return r.addr
}

// SetLocalName implements radio.Radio.
func (r *Radio) SetLocalName(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
	return nil
}
