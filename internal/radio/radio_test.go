package radio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blerps/blerps/internal/frame"
)

func TestAdmit(t *testing.T) {
	enc := frame.MustEncode(frame.NewEncData(1, 0, 1, make([]byte, frame.PayloadSize)))
	params := ScanParams{Accept: frame.Of(frame.EncData), RSSIFloor: DefaultRSSIFloor}

	tests := []struct {
		name string
		ad   Advert
		want bool
	}{
		{"strong", Advert{RSSI: -40, Payload: enc}, true},
		{"exactly at floor", Advert{RSSI: DefaultRSSIFloor, Payload: enc}, true},
		{"below floor", Advert{RSSI: DefaultRSSIFloor - 1, Payload: enc}, false},
		{"kind not accepted", Advert{RSSI: -40, Payload: frame.MustEncode(frame.NewRoundEnd(1, 0, 1))}, false},
		{"garbage", Advert{RSSI: -40, Payload: []byte{0xff}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Admit(params, tt.ad))
		})
	}
}
