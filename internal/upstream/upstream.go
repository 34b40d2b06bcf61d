// Package upstream implements the forward-to-upstream transports (C3):
// plain UDP, DNS-over-TLS with a pooled stream discipline, and DNS-over-HTTPS
// built on the hand-rolled internal/httpcodec. Dispatch switches on the
// upstream URL's scheme the way a resolver's instantiation-by-protocol
// switch does.
package upstream

import (
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/tonitrnel/pomelo-dns/internal/metrics"
)

const (
	udpBufferSize  = 4096
	defaultDoTPort = "853"
	defaultDoHPort = "443"
	defaultUDPPort = "53"

	// ioTimeout bounds a single write/read round trip against an upstream
	// socket, independent of handler.forwardTimeout: it's what reclaims the
	// socket and unblocks the goroutine when an upstream accepts a
	// connection but never answers.
	ioTimeout = 10 * time.Second
)

// Resolve dispatches serverURL by scheme and returns the raw reply bytes for
// query. tls:// goes over the pooled DoT transport, https:// over DoH, and
// anything else over plain UDP.
func Resolve(serverURL string, query []byte) ([]byte, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" {
		return resolveUDP(serverURL, query)
	}
	switch u.Scheme {
	case "tls":
		return resolveDoT(u, query)
	case "https":
		return resolveDoH(u, query)
	default:
		return resolveUDP(serverURL, query)
	}
}

func resolveUDP(server string, query []byte) ([]byte, error) {
	addr := withDefaultPort(server, defaultUDPPort)
	m := metrics.NewUpstream(addr)
	m.Sent.Add(1)

	conn, err := net.Dial("udp", addr)
	if err != nil {
		m.Errors.Add(1)
		return nil, errors.Wrap(err, "dialing udp upstream")
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	if _, err := conn.Write(query); err != nil {
		m.Errors.Add(1)
		return nil, errors.Wrap(err, "writing udp query")
	}

	buf := make([]byte, udpBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		m.Errors.Add(1)
		return nil, errors.Wrap(err, "reading udp reply")
	}
	m.Success.Add(1)
	return buf[:n], nil
}

func withDefaultPort(hostport, defaultPort string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(hostport, defaultPort)
}
