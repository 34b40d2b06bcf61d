// Package handler implements the query pipeline (C5): a handler is
// constructed per accepted request with the protocol tag, client address,
// attributed group, shared cache, and a config snapshot, then runs a single
// linear cascade of stages, the first of which to produce an answer wins.
package handler

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/tonitrnel/pomelo-dns/internal/cache"
	"github.com/tonitrnel/pomelo-dns/internal/config"
	"github.com/tonitrnel/pomelo-dns/internal/geoip"
	"github.com/tonitrnel/pomelo-dns/internal/logging"
	"github.com/tonitrnel/pomelo-dns/internal/metrics"
	"github.com/tonitrnel/pomelo-dns/internal/ping"
	"github.com/tonitrnel/pomelo-dns/internal/upstream"
)

// forwardTimeout bounds how long the forward stage waits for an upstream
// reply before giving up.
const forwardTimeout = 60 * time.Second

// pingProbeTimeout is how long a single liveness probe waits for an ICMP
// echo reply when evaluating a @pingable AAAA resolution rule.
const pingProbeTimeout = 600 * time.Millisecond

// ReplyFunc writes a finished response back to the client; the acceptor
// supplies sendto semantics for UDP or length-prefixed writes for TCP.
type ReplyFunc func(data []byte, addr net.Addr)

// Deps bundles the shared, long-lived resources a Handler consults. GeoDB
// may be nil if no mmdb is configured; Country rules are rejected at config
// load time in that case, so a nil GeoDB only means no AAAA rule will ever
// need it at runtime. AccessLog may also be nil, in which case span
// recording is skipped entirely regardless of Metadata.AccessLog.
type Deps struct {
	Cache     *cache.Cache
	PingCache *ping.Cache
	GeoDB     *geoip.DB
	Metrics   *metrics.Handler
	AccessLog *logging.AccessLog
}

// Handler runs the query pipeline for one accepted request. It holds no
// state beyond its construction arguments; Run is the only entry point.
type Handler struct {
	protocol   string
	clientAddr net.Addr
	group      string
	snapshot   *config.Snapshot
	deps       Deps
	start      time.Time
}

// New constructs a Handler for one accepted request.
func New(protocol string, clientAddr net.Addr, group string, snapshot *config.Snapshot, deps Deps) *Handler {
	return &Handler{
		protocol:   protocol,
		clientAddr: clientAddr,
		group:      group,
		snapshot:   snapshot,
		deps:       deps,
		start:      time.Now(),
	}
}

// accessLogEnabled reports whether this request's span should be recorded:
// both a non-nil AccessLog dependency and the current snapshot's
// Metadata.AccessLog flag are required, so a hot reload can turn recording
// on or off without restarting the process.
func (h *Handler) accessLogEnabled() bool {
	return h.deps.AccessLog != nil && h.snapshot.Metadata.AccessLog
}

// record appends a line to this request's span if access logging is
// enabled; it is a no-op otherwise.
func (h *Handler) record(level logrus.Level, format string, args ...interface{}) {
	if !h.accessLogEnabled() {
		return
	}
	h.deps.AccessLog.Record(h.spanID(), level, fmt.Sprintf(format, args...))
}

// spanID identifies this request's span in the access log. The Handler's own
// address is a fine unique id: it's allocated once per request in New and
// never reused while Run is still executing against it.
func (h *Handler) spanID() string {
	return fmt.Sprintf("%p", h)
}

// Run executes the pipeline against the raw query bytes and invokes reply
// with the serialized response, if one was produced.
func (h *Handler) Run(query []byte, reply ReplyFunc) {
	if h.accessLogEnabled() {
		h.deps.AccessLog.Open(h.spanID())
		defer h.deps.AccessLog.Close(h.spanID())
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.Queries.Add(1)
	}
	h.record(logrus.InfoLevel, "query client=%s protocol=%s group=%s", h.clientAddr, h.protocol, h.group)

	req := new(dns.Msg)
	if err := req.Unpack(query); err != nil {
		logging.Log.WithFields(logrus.Fields{
			"client": h.clientAddr, "protocol": h.protocol,
		}).WithError(err).Debug("dropping unparseable request")
		h.record(logrus.ErrorLevel, "dropped unparseable request: %v", err)
		return
	}
	h.record(logrus.InfoLevel, "question %s", questionSummary(req))

	if answers, ok := h.localHosts(req); ok {
		if h.deps.Metrics != nil {
			h.deps.Metrics.LocalAnswers.Add(1)
		}
		h.record(logrus.InfoLevel, "answered from local hosts (%d records)", len(answers))
		h.respond(req, answers, reply)
		return
	}

	if answers, ok := h.cacheLookup(req); ok {
		if h.deps.Metrics != nil {
			h.deps.Metrics.CacheHits.Add(1)
		}
		h.record(logrus.InfoLevel, "answered from cache (%d records)", len(answers))
		h.respond(req, answers, reply)
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.CacheMisses.Add(1)
	}
	h.record(logrus.InfoLevel, "cache miss")

	server, ok := h.snapshot.Servers.First(h.group)
	if !ok {
		logging.Log.WithField("group", h.group).Error("no upstream server configured for group")
		h.record(logrus.ErrorLevel, "no upstream server configured for group %s", h.group)
		return
	}

	replyBytes, err := h.forward(server, query)
	if err != nil {
		logging.Log.WithFields(logrus.Fields{
			"server": server, "elapsed": time.Since(h.start),
		}).WithError(err).Error("forward failed")
		if h.deps.Metrics != nil {
			h.deps.Metrics.ForwardErrors.Add(1)
		}
		h.record(logrus.ErrorLevel, "forward to %s failed after %s: %v", server, time.Since(h.start), err)
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.Forwarded.Add(1)
	}
	h.record(logrus.InfoLevel, "forwarded to %s in %s", server, time.Since(h.start))

	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(replyBytes); err != nil {
		logging.Log.WithError(err).Error("unparseable upstream reply")
		h.record(logrus.ErrorLevel, "unparseable upstream reply: %v", err)
		return
	}

	h.filterAAAA(respMsg)
	h.cacheWriteBack(respMsg)

	out, err := respMsg.Pack()
	if err != nil {
		logging.Log.WithError(err).Error("failed to repack upstream reply")
		h.record(logrus.ErrorLevel, "failed to repack upstream reply: %v", err)
		return
	}
	h.record(logrus.InfoLevel, "replied with %d answers", len(respMsg.Answer))
	reply(out, h.clientAddr)
}

// questionSummary formats req's question section for the access log line,
// e.g. "example.com. A".
func questionSummary(req *dns.Msg) string {
	if len(req.Question) == 0 {
		return "(no question)"
	}
	q := req.Question[0]
	return q.Name + " " + dns.TypeToString[q.Qtype]
}

func (h *Handler) forward(server string, query []byte) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := upstream.Resolve(server, query)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-time.After(forwardTimeout):
		return nil, errTimeout{elapsed: time.Since(h.start)}
	}
}

// respond builds a Response-flagged copy of req carrying answers and
// invokes reply with its wire form.
func (h *Handler) respond(req *dns.Msg, answers []dns.RR, reply ReplyFunc) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = answers
	out, err := resp.Pack()
	if err != nil {
		logging.Log.WithError(err).Error("failed to pack response")
		return
	}
	reply(out, h.clientAddr)
}

type errTimeout struct {
	elapsed time.Duration
}

func (e errTimeout) Error() string {
	return "upstream timeout after " + e.elapsed.String()
}
