package handler

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/tonitrnel/pomelo-dns/internal/cache"
	"github.com/tonitrnel/pomelo-dns/internal/config"
	"github.com/tonitrnel/pomelo-dns/internal/logging"
)

func mustSnapshot(t *testing.T, contents string) *config.Snapshot {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pomelo.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	snap, err := config.Parse(path)
	require.NoError(t, err)
	return snap
}

func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

func TestRunRespondsFromLocalHostOverride(t *testing.T) {
	snap := mustSnapshot(t, `
[server]
default = 1.1.1.1

[hosts]
10.0.0.1 router.lan.
`)
	h := New("udp", &net.UDPAddr{}, config.DefaultGroup, snap, Deps{Cache: cache.New("test", 0)})

	var got []byte
	h.Run(packQuery(t, "router.lan", dns.TypeA), func(data []byte, addr net.Addr) {
		got = data
	})

	require.NotNil(t, got)
	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(got))
	require.Len(t, resp.Answer, 1)
	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	require.True(t, a.A.Equal(net.ParseIP("10.0.0.1")))
	require.EqualValues(t, hostOverrideTTL, a.Hdr.Ttl)
}

func TestRunRespondsFromCache(t *testing.T) {
	snap := mustSnapshot(t, `
[server]
default = 1.1.1.1
`)
	c := cache.New("test", 16)
	c.Put("cached.example.", []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "cached.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}, A: net.ParseIP("5.6.7.8")},
	})
	h := New("udp", &net.UDPAddr{}, config.DefaultGroup, snap, Deps{Cache: c})

	var got []byte
	h.Run(packQuery(t, "cached.example.", dns.TypeA), func(data []byte, addr net.Addr) {
		got = data
	})

	require.NotNil(t, got)
	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(got))
	require.Len(t, resp.Answer, 1)
}

func TestRunForwardsToUpstreamUDP(t *testing.T) {
	upstreamConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer upstreamConn.Close()

	go func() {
		buf := make([]byte, 512)
		n, addr, err := upstreamConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		q := new(dns.Msg)
		q.Unpack(buf[:n])
		resp := new(dns.Msg)
		resp.SetReply(q)
		resp.Answer = []dns.RR{
			&dns.A{Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: net.ParseIP("9.9.9.9")},
		}
		out, _ := resp.Pack()
		upstreamConn.WriteToUDP(out, addr)
	}()

	snap := mustSnapshot(t, `
[server]
default = `+upstreamConn.LocalAddr().String()+`
`)
	c := cache.New("test", 16)
	h := New("udp", &net.UDPAddr{}, config.DefaultGroup, snap, Deps{Cache: c})

	done := make(chan []byte, 1)
	h.Run(packQuery(t, "forwarded.example.", dns.TypeA), func(data []byte, addr net.Addr) {
		done <- data
	})

	select {
	case got := <-done:
		resp := new(dns.Msg)
		require.NoError(t, resp.Unpack(got))
		require.Len(t, resp.Answer, 1)
		require.True(t, resp.Answer[0].(*dns.A).A.Equal(net.ParseIP("9.9.9.9")))
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not respond")
	}

	// Cache write-back: a subsequent identical query should now be served
	// from cache without touching the upstream socket again.
	var second []byte
	h2 := New("udp", &net.UDPAddr{}, config.DefaultGroup, snap, Deps{Cache: c})
	h2.Run(packQuery(t, "forwarded.example.", dns.TypeA), func(data []byte, addr net.Addr) {
		second = data
	})
	require.NotNil(t, second)
	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(second))
	require.Len(t, resp.Answer, 1)
}

func TestRunRecordsAccessLogSpanWhenEnabled(t *testing.T) {
	snap := mustSnapshot(t, `
[server]
default = 1.1.1.1

[hosts]
10.0.0.1 router.lan.

[metadata]
access_log on
`)
	var access, errs bytes.Buffer
	al := logging.NewAccessLog(&access, &errs)
	h := New("udp", &net.UDPAddr{}, config.DefaultGroup, snap, Deps{Cache: cache.New("test", 0), AccessLog: al})

	h.Run(packQuery(t, "router.lan", dns.TypeA), func(data []byte, addr net.Addr) {})

	require.Contains(t, access.String(), "router.lan.")
	require.Contains(t, access.String(), "answered from local hosts")
	require.Empty(t, errs.String())
}

func TestRunSkipsAccessLogWhenDisabledInConfig(t *testing.T) {
	snap := mustSnapshot(t, `
[server]
default = 1.1.1.1

[hosts]
10.0.0.1 router.lan.
`)
	var access, errs bytes.Buffer
	al := logging.NewAccessLog(&access, &errs)
	h := New("udp", &net.UDPAddr{}, config.DefaultGroup, snap, Deps{Cache: cache.New("test", 0), AccessLog: al})

	h.Run(packQuery(t, "router.lan", dns.TypeA), func(data []byte, addr net.Addr) {})

	require.Empty(t, access.String())
	require.Empty(t, errs.String())
}
