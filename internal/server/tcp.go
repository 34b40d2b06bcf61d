package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/tonitrnel/pomelo-dns/internal/handler"
	"github.com/tonitrnel/pomelo-dns/internal/logging"
	"github.com/tonitrnel/pomelo-dns/internal/metrics"
)

// tcpConnTimeout bounds how long a single accepted connection may take to
// send its length-prefixed query, so a client that connects and then never
// writes can't hold a concurrency permit forever.
const tcpConnTimeout = 10 * time.Second

// serveTCP owns a listener. Each iteration acquires a permit and accepts a
// connection, then spawns a goroutine that reads the 2-byte length prefix and
// exactly that many bytes, runs a handler that replies with the same framing,
// and drops the stream after the one exchange (no per-connection pipelining).
func (s *Server) serveTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	m := metrics.NewListener("tcp:" + addr)
	logging.Log.WithField("addr", addr).Info("tcp acceptor listening")

	for {
		if !s.acquire(ctx) {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if ctx.Err() != nil {
				return nil
			}
			m.Errors.Add(1)
			continue
		}
		m.Accepted.Add(1)

		go func(conn net.Conn) {
			defer s.release()
			defer conn.Close()
			s.handleTCPConn(conn)
		}(conn)
	}
}

func (s *Server) handleTCPConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(tcpConnTimeout))

	var lenPrefix [2]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint16(lenPrefix[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(conn, data); err != nil {
		return
	}

	snap := s.accessor.Access()
	group := snap.GroupForIP(tcpHostIP(conn.RemoteAddr()))
	h := handler.New("tcp", conn.RemoteAddr(), group, snap, s.deps)

	h.Run(data, func(reply []byte, _ net.Addr) {
		var out [2]byte
		binary.BigEndian.PutUint16(out[:], uint16(len(reply)))
		conn.Write(out[:])
		conn.Write(reply)
	})
}

func tcpHostIP(addr net.Addr) net.IP {
	if a, ok := addr.(*net.TCPAddr); ok {
		return a.IP
	}
	return nil
}
