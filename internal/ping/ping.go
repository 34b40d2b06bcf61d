// Package ping implements the liveness prober (C2): a single ICMP echo
// request per call, matched against a reply within a caller-supplied
// timeout, with a process-wide monotonic sequence counter and an LRU of
// remembered verdicts shared across callers.
package ping

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
)

const (
	typeEchoRequestV4 = 8
	typeEchoReplyV4   = 0
	typeEchoRequestV6 = 0x80
	typeEchoReplyV6   = 0x81

	payloadSize = 32
)

var payload = func() [payloadSize]byte {
	var p [payloadSize]byte
	for i := range p {
		p[i] = byte(i)
	}
	return p
}()

var seqCounter uint32 // wraps 1..0xFFFE, process-wide

func nextSeq() uint16 {
	for {
		cur := atomic.LoadUint32(&seqCounter)
		next := cur + 1
		if next == 0 || next > 0xFFFE {
			next = 1
		}
		if atomic.CompareAndSwapUint32(&seqCounter, cur, next) {
			return uint16(next)
		}
	}
}

func identifier() uint16 {
	return uint16(os.Getpid() & 0xFF)
}

// Ping sends one ICMP echo to ip and waits up to timeout for a matching
// reply. Any failure (privilege, send, receive, timeout, mismatch) reports
// false with no error distinction; the resolution-rule caller is only
// interested in a pingable/not-pingable boolean.
func Ping(ip net.IP, timeout time.Duration) bool {
	id := identifier()
	seq := nextSeq()

	if ip.To4() != nil {
		return pingV4(ip, id, seq, timeout)
	}
	return pingV6(ip, id, seq, timeout)
}

func buildEcho(typ byte, id, seq uint16) []byte {
	b := make([]byte, 8+payloadSize)
	b[0] = typ
	b[1] = 0 // code
	// checksum (b[2:4]) filled in below
	b[4] = byte(id >> 8)
	b[5] = byte(id)
	b[6] = byte(seq >> 8)
	b[7] = byte(seq)
	copy(b[8:], payload[:])

	sum := rfc1071Checksum(b)
	b[2] = byte(sum >> 8)
	b[3] = byte(sum)
	return b
}

// rfc1071Checksum computes the 1's-complement checksum of b, assuming the
// existing checksum field (bytes 2-3) is zero.
func rfc1071Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

func pingV4(ip net.IP, id, seq uint16, timeout time.Duration) bool {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return false
	}
	defer conn.Close()

	req := buildEcho(typeEchoRequestV4, id, seq)
	if _, err := conn.WriteTo(req, &net.IPAddr{IP: ip}); err != nil {
		return false
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return false
		}
		reply := buf[:n]
		// Raw IPv4 ICMP sockets on most platforms hand back the IP header too;
		// strip the fixed 20-byte header before matching.
		if len(reply) >= 28 && isIPv4Header(reply) {
			reply = reply[20:]
		}
		if matchesReply(reply, typeEchoReplyV4, id, seq) {
			return true
		}
		// Not our reply (different id/seq); keep reading until deadline.
	}
}

func pingV6(ip net.IP, id, seq uint16, timeout time.Duration) bool {
	conn, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return false
	}
	defer conn.Close()

	req := buildEcho(typeEchoRequestV6, id, seq)
	if _, err := conn.WriteTo(req, &net.IPAddr{IP: ip}); err != nil {
		return false
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return false
		}
		if matchesReply(buf[:n], typeEchoReplyV6, id, seq) {
			return true
		}
	}
}

// isIPv4Header makes a best-effort guess that b starts with an IPv4 header
// (version nibble == 4) rather than a bare ICMP message.
func isIPv4Header(b []byte) bool {
	return len(b) > 0 && b[0]>>4 == 4
}

func matchesReply(b []byte, wantType byte, id, seq uint16) bool {
	if len(b) < 8 {
		return false
	}
	if b[0] != wantType || b[1] != 0 {
		return false
	}
	gotID := uint16(b[4])<<8 | uint16(b[5])
	gotSeq := uint16(b[6])<<8 | uint16(b[7])
	return gotID == id && gotSeq == seq
}
