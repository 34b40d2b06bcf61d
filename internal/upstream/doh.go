package upstream

import (
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/tonitrnel/pomelo-dns/internal/httpcodec"
	"github.com/tonitrnel/pomelo-dns/internal/metrics"
)

// resolveDoH sends query as a GET-with-body HTTP/1.1 request (matching the
// original source contract, not the HTTP spec) over a fresh TLS stream.
func resolveDoH(u *url.URL, query []byte) ([]byte, error) {
	endpoint := withDefaultPort(u.Host, defaultDoHPort)
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = u.Hostname()
	}
	path := u.Path
	if path == "" {
		path = "/dns-query"
	}

	m := metrics.NewUpstream(endpoint)
	m.Sent.Add(1)

	conn, err := dialDoT(endpoint, host) // same pooled-discipline dial, not pooled here
	if err != nil {
		m.Errors.Add(1)
		return nil, err
	}
	defer conn.Close()

	req := httpcodec.NewRequest("GET", path).
		Header("accept", "*/*").
		Header("content-type", "application/dns-message").
		Header("host", u.Hostname()).
		Body(query)

	body, err := dohExchange(conn, req)
	if err != nil {
		m.Errors.Add(1)
		return nil, err
	}
	m.Success.Add(1)
	return body, nil
}

// dohExchange writes req and parses the HTTP/1.1 response, rejecting any
// status other than 200.
func dohExchange(conn net.Conn, req *httpcodec.Request) ([]byte, error) {
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, errors.Wrap(err, "writing doh request")
	}

	resp, err := httpcodec.ReadResponse(conn)
	if err != nil {
		return nil, errors.Wrap(err, "reading doh response")
	}
	if resp.StatusCode != 200 {
		return nil, errors.Errorf("doh upstream returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
