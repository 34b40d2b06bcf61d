package upstream

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonitrnel/pomelo-dns/internal/httpcodec"
)

func TestDohExchangeReturnsBodyOn200(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 512)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	req := httpcodec.NewRequest("GET", "/dns-query").
		Header("accept", "*/*").
		Body([]byte("query"))

	body, err := dohExchange(client, req)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestDohExchangeRejectsNon200(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 512)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n"))
	}()

	req := httpcodec.NewRequest("GET", "/dns-query").Body([]byte("query"))
	_, err := dohExchange(client, req)
	require.Error(t, err)
}
