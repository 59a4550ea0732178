// Package pprof holds the profiling endpoints of the status server. It is
// kept apart so that importing metrics alone does not register them.
package pprof

import (
	"net/http"
	"net/http/pprof"
)

// Prefix is where Handler must be mounted.
const Prefix = "/debug/pprof"

// Handler serves the runtime profiles under Prefix.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Prefix+"/", pprof.Index)
	mux.HandleFunc(Prefix+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(Prefix+"/profile", pprof.Profile)
	mux.HandleFunc(Prefix+"/symbol", pprof.Symbol)
	mux.HandleFunc(Prefix+"/trace", pprof.Trace)
	return mux
}
