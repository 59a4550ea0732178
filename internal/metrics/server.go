package metrics

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/handlers"
	json "github.com/nikkolasg/hexjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/metrics/pprof"
)

// StatusSource provides the document served on /status.
type StatusSource interface {
	Status() interface{}
}

// NewHandler returns the router of the status server: /metrics serves
// GameMetrics, /status the JSON document of src and /debug/pprof the
// runtime profiles.
func NewHandler(l log.Logger, src StatusSource) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(GameMetrics, promhttp.HandlerOpts{Registry: GameMetrics}))
	r.Mount(pprof.Prefix, pprof.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		buff, err := json.Marshal(src.Status())
		if err != nil {
			l.Errorw("encoding status", "err", err)
			http.Error(w, "status unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buff)
	})
	return handlers.CombinedLoggingHandler(logWriter{l}, r)
}

// Start binds the status server. A bare port binds on localhost.
func Start(l log.Logger, bind string, src StatusSource) (*http.Server, error) {
	Bind(l)
	if !strings.Contains(bind, ":") {
		bind = "127.0.0.1:" + bind
	}
	//nolint:noctx
	lis, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	l.Infow("status server started", "addr", lis.Addr())

	s := &http.Server{Addr: lis.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: NewHandler(l, src)}
	go func() {
		if err := s.Serve(lis); err != nil && err != http.ErrServerClosed {
			l.Warnw("status server stopped", "err", err)
		}
	}()
	return s, nil
}

type logWriter struct {
	l log.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.l.Debugw(strings.TrimSpace(string(p)))
	return len(p), nil
}
