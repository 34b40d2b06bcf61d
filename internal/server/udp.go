package server

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/tonitrnel/pomelo-dns/internal/handler"
	"github.com/tonitrnel/pomelo-dns/internal/logging"
	"github.com/tonitrnel/pomelo-dns/internal/metrics"
)

const udpBufferSize = 4096

// serveUDP owns one bound socket and a single shared receive buffer. Each
// iteration acquires a permit, waits for a datagram (racing against ctx via
// the conn being closed on cancellation), copies the datagram out of the
// shared buffer, attributes a group, and spawns a handler goroutine that
// replies with sendto and frees the permit on completion.
func (s *Server) serveUDP(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	m := metrics.NewListener("udp:" + addr)
	logging.Log.WithField("addr", addr).Info("udp acceptor listening")

	buf := make([]byte, udpBufferSize)
	for {
		if !s.acquire(ctx) {
			return nil
		}

		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			s.release()
			if ctx.Err() != nil {
				return nil
			}
			m.Errors.Add(1)
			continue
		}
		m.Accepted.Add(1)

		data := make([]byte, n)
		copy(data, buf[:n])

		snap := s.accessor.Access()
		group := snap.GroupForIP(udpHostIP(raddr))
		h := handler.New("udp", raddr, group, snap, s.deps)

		go func() {
			defer s.release()
			h.Run(data, func(reply []byte, to net.Addr) {
				if _, err := conn.WriteTo(reply, to); err != nil {
					logging.Log.WithFields(logrus.Fields{"addr": to}).WithError(err).Debug("udp reply write failed")
				}
			})
		}()
	}
}

func udpHostIP(addr net.Addr) net.IP {
	if a, ok := addr.(*net.UDPAddr); ok {
		return a.IP
	}
	return nil
}
