package upstream

import (
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tonitrnel/pomelo-dns/internal/metrics"
)

const (
	livenessProbeTimeout = 100 * time.Millisecond
	livenessProbeRetries = 3
)

var dotTLSConfig = newDotTLSConfig()

// newDotTLSConfig builds the shared client TLS config for DoT connections.
// When SSLKEYLOGFILE is set, session keys are logged there so a packet
// capture of upstream DoT traffic can be decrypted for debugging, the same
// convention curl and browsers honor.
func newDotTLSConfig() *tls.Config {
	cfg := &tls.Config{}
	if path := os.Getenv("SSLKEYLOGFILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
			cfg.KeyLogWriter = f
		}
	}
	return cfg
}

// streamPool is a process-wide, per-endpoint pool of idle TLS streams.
// Streams are taken out for exclusive use by one request, used unlocked,
// and returned only if the request completed one full write/read cycle
// cleanly; a stream observed broken during liveness probing is discarded,
// never re-pooled.
type streamPool struct {
	mu   sync.Mutex
	idle []*tls.Conn
}

var (
	dotPoolsMu sync.Mutex
	dotPools   = make(map[string]*streamPool)
)

func poolFor(endpoint string) *streamPool {
	dotPoolsMu.Lock()
	defer dotPoolsMu.Unlock()
	p, ok := dotPools[endpoint]
	if !ok {
		p = &streamPool{}
		dotPools[endpoint] = p
	}
	return p
}

// take pops a stream off the front of the pool and probes its liveness
// before handing it back, closing streams that fail the probe. It dials a
// fresh TLS connection if the pool is empty or once livenessProbeRetries
// pooled streams have failed their probe.
func (p *streamPool) take(endpoint, serverName string) (*tls.Conn, error) {
	for attempt := 0; attempt < livenessProbeRetries; attempt++ {
		p.mu.Lock()
		var conn *tls.Conn
		if n := len(p.idle); n > 0 {
			conn = p.idle[0]
			p.idle = p.idle[1:]
		}
		p.mu.Unlock()

		if conn == nil {
			break
		}
		if probeAlive(conn) {
			return conn, nil
		}
		conn.Close()
	}
	return dialDoT(endpoint, serverName)
}

// probeAlive attempts a non-blocking 100ms read of up to 2 bytes. Any byte
// read, a timeout with no data, or a read error are distinguished: only a
// clean EOF or a hard error marks the stream dead.
func probeAlive(conn net.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(livenessProbeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 2)
	_, err := conn.Read(buf)
	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

func dialDoT(endpoint, serverName string) (*tls.Conn, error) {
	raw, err := net.DialTimeout("tcp", endpoint, 10*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "dialing dot upstream")
	}
	cfg := dotTLSConfig.Clone()
	cfg.ServerName = serverName
	conn := tls.Client(raw, cfg)
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))
	if err := conn.Handshake(); err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "dot tls handshake")
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func (p *streamPool) put(conn *tls.Conn) {
	p.mu.Lock()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// resolveDoT sends query over a pooled DoT stream to u and returns the reply.
func resolveDoT(u *url.URL, query []byte) ([]byte, error) {
	endpoint := withDefaultPort(u.Host, defaultDoTPort)
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = u.Hostname()
	}
	pool := poolFor(endpoint)
	m := metrics.NewUpstream(endpoint)
	m.Sent.Add(1)

	conn, err := pool.take(endpoint, host)
	if err != nil {
		m.Errors.Add(1)
		return nil, err
	}

	reply, err := dotExchange(conn, query)
	if err != nil {
		conn.Close()
		m.Errors.Add(1)
		return nil, err
	}

	pool.put(conn)
	m.Success.Add(1)
	return reply, nil
}

func dotExchange(conn net.Conn, query []byte) ([]byte, error) {
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))
	defer conn.SetDeadline(time.Time{})

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(query)))

	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return nil, errors.Wrap(err, "writing dot length prefix")
	}
	if _, err := conn.Write(query); err != nil {
		return nil, errors.Wrap(err, "writing dot query")
	}

	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return nil, errors.Wrap(err, "reading dot reply length")
	}
	replyLen := binary.BigEndian.Uint16(lenPrefix[:])
	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, errors.Wrap(err, "reading dot reply body")
	}
	return reply, nil
}
