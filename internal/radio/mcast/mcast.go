// Package mcast emulates the advertising radio over UDP multicast so that
// players on the same LAN (or processes on the same host) can play together.
//
// Each datagram carries the sender address, its name and the advertised
// payload:
//
//	[address:6][name length:1][name][payload]
package mcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/ipv4"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/peer"
	"github.com/blerps/blerps/internal/radio"
)

// DefaultGroup is the multicast group players meet on.
const DefaultGroup = "239.66.76.82:47982"

// RSSI reported for every datagram: the network has no signal strength.
const RSSI = -40

const (
	maxNameLen   = 29
	maxDatagram  = peer.AddressSize + 1 + maxNameLen + frame.MaxAdvertisementSize
	minInterval  = 5 * time.Millisecond
	readQuantum  = 25 * time.Millisecond
	multicastTTL = 1
)

// Radio is a multicast-backed radio.
type Radio struct {
	l     log.Logger
	addr  peer.Address
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	group *net.UDPAddr

	mu      sync.Mutex
	name    string
	stop    chan struct{}
	stopped chan struct{}
	closed  bool
}

var _ radio.Radio = (*Radio)(nil)

// New joins group on the interface named iface (all interfaces when empty)
// and returns a radio advertising as addr.
func New(l log.Logger, group, iface string, addr peer.Address) (*Radio, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("resolving multicast group: %w", err)
	}
	var ifi *net.Interface
	if iface != "" {
		if ifi, err = net.InterfaceByName(iface); err != nil {
			return nil, fmt.Errorf("interface %q: %w", iface, err)
		}
	}
	conn, err := net.ListenMulticastUDP("udp4", ifi, gaddr)
	if err != nil {
		return nil, fmt.Errorf("joining %s: %w", group, err)
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pconn.SetMulticastTTL(multicastTTL); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ifi != nil {
		if err := pconn.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return &Radio{
		l:     l.Named("mcast"),
		addr:  addr,
		conn:  conn,
		pconn: pconn,
		group: gaddr,
	}, nil
}

func (r *Radio) datagram(payload []byte) []byte {
	r.mu.Lock()
	name := r.name
	r.mu.Unlock()
	out := make([]byte, 0, peer.AddressSize+1+len(name)+len(payload))
	out = append(out, r.addr[:]...)
	out = append(out, byte(len(name)))
	out = append(out, name...)
	return append(out, payload...)
}

func parseDatagram(b []byte) (radio.Advert, error) {
	var ad radio.Advert
	if len(b) < peer.AddressSize+1 {
		return ad, errors.New("short datagram")
	}
	copy(ad.Address[:], b)
	n := int(b[peer.AddressSize])
	rest := b[peer.AddressSize+1:]
	if n > maxNameLen || len(rest) < n {
		return ad, errors.New("invalid name length")
	}
	ad.Name = string(rest[:n])
	ad.Payload = append([]byte(nil), rest[n:]...)
	ad.RSSI = RSSI
	return ad, nil
}

// StartAdvertising implements radio.Radio.
func (r *Radio) StartAdvertising(payload []byte, interval time.Duration) error {
	if len(payload) > frame.MaxAdvertisementSize {
		return frame.ErrFieldWidth
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return radio.ErrClosed
	}
	if r.stop != nil {
		return radio.ErrAlreadyAdvertising
	}
	if interval < minInterval {
		interval = minInterval
	}
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.advertise(append([]byte(nil), payload...), interval, r.stop, r.stopped)
	return nil
}

func (r *Radio) advertise(payload []byte, interval time.Duration, stop, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.pconn.WriteTo(r.datagram(payload), nil, r.group); err != nil {
			r.l.Debugw("advertising", "err", err)
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// StopAdvertising implements radio.Radio.
func (r *Radio) StopAdvertising() error {
	r.mu.Lock()
	stop, stopped := r.stop, r.stopped
	r.stop, r.stopped = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-stopped
	return nil
}

// Scan implements radio.Radio.
func (r *Radio) Scan(ctx context.Context, params radio.ScanParams, fn func(radio.Advert) bool) error {
	deadline := time.Now().Add(params.Timeout)
	buff := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		if !now.Before(deadline) {
			return nil
		}
		next := now.Add(readQuantum)
		if next.After(deadline) {
			next = deadline
		}
		if err := r.pconn.SetReadDeadline(next); err != nil {
			return err
		}
		n, _, _, err := r.pconn.ReadFrom(buff)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return err
		}
		ad, err := parseDatagram(buff[:n])
		if err != nil || ad.Address == r.addr {
			continue
		}
		if !params.Active {
			ad.Name = ""
		}
		if !radio.Admit(params, ad) {
			continue
		}
		if !fn(ad) {
			return nil
		}
	}
}

// StopScan implements radio.Radio. Scans end on their own.
func (r *Radio) StopScan() error {
	return nil
}

// truncateName cuts name to maxNameLen bytes without splitting a rune.
func truncateName(name string) string {
	if len(name) <= maxNameLen {
		return name
	}
	n := maxNameLen
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}

// LocalAddress implements radio.Radio.
func (r *Radio) LocalAddress() peer.Address {
	return r.addr
}

// SetLocalName implements radio.Radio.
func (r *Radio) SetLocalName(name string) error {
	name = truncateName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
	return nil
}

// Close stops advertising and leaves the group.
func (r *Radio) Close() error {
	err := r.StopAdvertising()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
