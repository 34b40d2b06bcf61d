package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/tonitrnel/pomelo-dns/internal/cache"
	"github.com/tonitrnel/pomelo-dns/internal/config"
	"github.com/tonitrnel/pomelo-dns/internal/handler"
)

func testAccessor(t *testing.T) *config.Accessor {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pomelo.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
default = 1.1.1.1

[hosts]
10.0.0.1 router.lan.
`), 0o644))
	a, err := config.NewAccessor(path)
	require.NoError(t, err)
	return a
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServerUDPRespondsFromLocalHosts(t *testing.T) {
	addr := freeAddr(t)
	srv := New(testAccessor(t), handler.Deps{Cache: cache.New("test", 0)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	q := new(dns.Msg)
	q.SetQuestion("router.lan.", dns.TypeA)
	qBytes, err := q.Pack()
	require.NoError(t, err)
	_, err = conn.Write(qBytes)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	require.Len(t, resp.Answer, 1)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerTCPRespondsWithLengthPrefix(t *testing.T) {
	addr := freeAddr(t)
	srv := New(testAccessor(t), handler.Deps{Cache: cache.New("test", 0)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	q := new(dns.Msg)
	q.SetQuestion("router.lan.", dns.TypeA)
	qBytes, err := q.Pack()
	require.NoError(t, err)

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(qBytes)))
	_, err = conn.Write(append(lenPrefix[:], qBytes...))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var respLenPrefix [2]byte
	_, err = io.ReadFull(conn, respLenPrefix[:])
	require.NoError(t, err)
	respLen := binary.BigEndian.Uint16(respLenPrefix[:])
	respBody := make([]byte, respLen)
	_, err = io.ReadFull(conn, respBody)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(respBody))
	require.Len(t, resp.Answer, 1)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
