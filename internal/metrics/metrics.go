package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/blerps/blerps/common"
	"github.com/blerps/blerps/common/log"
)

var (
	// GameMetrics holds every collector exported by a player.
	GameMetrics = prometheus.NewRegistry()

	// FramesReceived counts accepted, non-duplicate frames by kind
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_received_total",
		Help: "Number of distinct frames received, by kind",
	}, []string{"kind"})

	// FramesDuplicate counts byte-identical retransmissions discarded
	FramesDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_duplicate_total",
		Help: "Number of retransmitted frames discarded by deduplication",
	})

	// FramesRejected counts frames dropped before reaching the game
	FramesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_rejected_total",
		Help: "Number of frames dropped, by reason",
	}, []string{"reason"})

	// AdvertWindows counts advertise and suppress windows
	AdvertWindows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "advert_windows_total",
		Help: "Number of radio windows, by type (advertise or suppress)",
	}, []string{"window"})

	// PhaseDuration tracks how long each broadcast phase lasted
	PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phase_duration_seconds",
		Help:    "Duration of broadcast phases, by phase and final state",
		Buckets: []float64{.1, .25, .5, 1, 1.5, 2, 4, 8, 12, 20},
	}, []string{"phase", "state"})

	// RoundsPlayed counts resolved rounds
	RoundsPlayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rounds_played_total",
		Help: "Number of rounds resolved",
	})

	// InvalidChoices counts peers voided in a round, by reason
	InvalidChoices = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invalid_choices_total",
		Help: "Number of peer choices voided during resolution, by reason",
	}, []string{"reason"})

	// PeerScore is the cumulative score of each player
	PeerScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "peer_score",
		Help: "Cumulative score, by player address",
	}, []string{"peer"})

	// GamePeers is the number of players registered at discovery
	GamePeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "game_peers",
		Help: "Number of players in the current game, local one included",
	})

	buildInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "blerps_build_info",
		Help:        "Always 1, labelled with the build version",
		ConstLabels: map[string]string{"version": common.GetAppVersion().String(), "commit": common.COMMIT},
	})

	metricsBound sync.Once
)

// Bind registers every collector on GameMetrics. It is safe to call more
// than once.
func Bind(l log.Logger) {
	metricsBound.Do(func() {
		bindMetrics(l)
	})
}

func bindMetrics(l log.Logger) {
	buildInfo.Set(1)
	all := []prometheus.Collector{
		collectors.NewGoCollector(),
		FramesReceived,
		FramesDuplicate,
		FramesRejected,
		AdvertWindows,
		PhaseDuration,
		RoundsPlayed,
		InvalidChoices,
		PeerScore,
		GamePeers,
		buildInfo,
	}
	for _, c := range all {
		if err := GameMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "err", err)
			return
		}
	}
}
