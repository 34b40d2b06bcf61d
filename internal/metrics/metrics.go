// Package metrics exposes expvar-published counters for the acceptors,
// handler pipeline, and upstream transports, following the get-or-create
// expvar accessor pattern used throughout the resolver/listener code.
package metrics

import (
	"expvar"
	"fmt"
)

// getVarInt returns the *expvar.Int at the given dotted path, creating it on
// first use.
func getVarInt(base, id, name string) *expvar.Int {
	fullname := fmt.Sprintf("pomelo.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// Listener holds the accept-side counters for one acceptor (udp or tcp,
// keyed by listen address). There is no "rejected" counter: the acceptors
// block on the global concurrency semaphore rather than dropping a
// connection once it's full, so nothing is ever rejected outright.
type Listener struct {
	Accepted *expvar.Int
	Errors   *expvar.Int
}

// NewListener returns (or re-attaches to) the counters for a listener id,
// e.g. "udp:0.0.0.0:53".
func NewListener(id string) *Listener {
	return &Listener{
		Accepted: getVarInt("listener", id, "accepted"),
		Errors:   getVarInt("listener", id, "errors"),
	}
}

// Handler holds the query-pipeline counters, process-wide (not per-listener,
// since a query's path through the pipeline is independent of which
// acceptor received it).
type Handler struct {
	Queries       *expvar.Int
	CacheHits     *expvar.Int
	CacheMisses   *expvar.Int
	LocalAnswers  *expvar.Int
	Forwarded     *expvar.Int
	ForwardErrors *expvar.Int
	PingProbes    *expvar.Int
}

// NewHandler returns the process-wide handler counters.
func NewHandler() *Handler {
	return &Handler{
		Queries:       getVarInt("handler", "global", "queries"),
		CacheHits:     getVarInt("handler", "global", "cache_hits"),
		CacheMisses:   getVarInt("handler", "global", "cache_misses"),
		LocalAnswers:  getVarInt("handler", "global", "local_answers"),
		Forwarded:     getVarInt("handler", "global", "forwarded"),
		ForwardErrors: getVarInt("handler", "global", "forward_errors"),
		PingProbes:    getVarInt("handler", "global", "ping_probes"),
	}
}

// Upstream holds per-server-pool-entry transport counters.
type Upstream struct {
	Sent    *expvar.Int
	Success *expvar.Int
	Errors  *expvar.Int
}

// NewUpstream returns the counters for an upstream server URL.
func NewUpstream(serverURL string) *Upstream {
	return &Upstream{
		Sent:    getVarInt("upstream", serverURL, "sent"),
		Success: getVarInt("upstream", serverURL, "success"),
		Errors:  getVarInt("upstream", serverURL, "errors"),
	}
}
