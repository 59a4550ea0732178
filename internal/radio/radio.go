// Package radio defines the contract between the protocol and the radio
// driver. The driver is half-duplex from the protocol's point of view: it
// advertises a single payload and scans for the payloads of others.
package radio

import (
	"context"
	"errors"
	"time"

	"github.com/blerps/blerps/internal/frame"
	"github.com/blerps/blerps/internal/peer"
)

// DefaultRSSIFloor is the weakest signal accepted, in dBm.
const DefaultRSSIFloor = -90

// DefaultBufferSize is the scan buffer size requested from the driver.
const DefaultBufferSize = 1800

var (
	// ErrAlreadyAdvertising is returned by drivers asked to advertise while
	// already doing so. Callers treat it as success.
	ErrAlreadyAdvertising = errors.New("radio already advertising")
	// ErrClosed is returned by drivers used after Close.
	ErrClosed = errors.New("radio closed")
)

// Advert is one received advertisement.
type Advert struct {
	Address peer.Address
	RSSI    int
	Payload []byte
	// Name is only set when an active scan obtained a scan response.
	Name string
}

// ScanParams configures a scan window.
type ScanParams struct {
	// Accept restricts delivered adverts to these frame kinds.
	Accept frame.KindSet
	// RSSIFloor drops adverts strictly weaker than this, in dBm.
	RSSIFloor int
	// BufferSize is a hint for the driver's receive buffer.
	BufferSize int
	// Active requests scan responses, which carry names.
	Active bool
	// Timeout bounds the scan window.
	Timeout time.Duration
}

// Radio is the driver consumed by the broadcast engine.
type Radio interface {
	// StartAdvertising broadcasts payload every interval until stopped.
	StartAdvertising(payload []byte, interval time.Duration) error
	StopAdvertising() error
	// Scan delivers adverts matching params to fn until the timeout
	// elapses, ctx is done or fn returns false.
	Scan(ctx context.Context, params ScanParams, fn func(Advert) bool) error
	StopScan() error
	LocalAddress() peer.Address
	SetLocalName(name string) error
}

// Admit applies the driver-side filters of params to a received advert:
// the RSSI floor (inclusive) and the accepted frame kinds.
func Admit(params ScanParams, ad Advert) bool {
	if ad.RSSI < params.RSSIFloor {
		return false
	}
	kind, ok := frame.PeekKind(ad.Payload)
	if !ok {
		return false
	}
	return params.Accept.Has(kind)
}
