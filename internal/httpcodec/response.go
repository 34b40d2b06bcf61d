package httpcodec

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Response is the decoded form of a DoH HTTP/1.1 response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

type parserState int

const (
	stateProtocol parserState = iota
	stateVersion
	stateStatusCode
	stateStatusText
	stateHeaderName
	stateHeaderValue
	stateBody
)

// ReadResponse decodes a single HTTP/1.1 response from r with a byte-at-a-
// time state machine: Protocol -> Version -> StatusCode -> StatusText ->
// (HeaderName -> HeaderValue)* -> Body. Only HTTP/1.1 is accepted. Chunked
// encoding and compression are not supported; content-length must be
// present and fit a uint16 (a practical bound for DNS replies).
func ReadResponse(r io.Reader) (*Response, error) {
	br := bufio.NewReader(r)

	state := stateProtocol
	var token strings.Builder
	var headerName string
	headers := make(map[string]string)
	statusCode := 0

	for state != stateBody {
		b, err := br.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading http response")
		}
		switch state {
		case stateProtocol:
			if b == '/' {
				if token.String() != "HTTP" {
					return nil, errors.Errorf("unsupported protocol %q", token.String())
				}
				token.Reset()
				state = stateVersion
				continue
			}
			token.WriteByte(b)
		case stateVersion:
			if b == ' ' {
				if token.String() != "1.1" {
					return nil, errors.Errorf("only HTTP/1.1 is accepted, got %q", token.String())
				}
				token.Reset()
				state = stateStatusCode
				continue
			}
			token.WriteByte(b)
		case stateStatusCode:
			if b == ' ' {
				n, err := strconv.Atoi(token.String())
				if err != nil {
					return nil, errors.Wrap(err, "invalid status code")
				}
				statusCode = n
				token.Reset()
				state = stateStatusText
				continue
			}
			token.WriteByte(b)
		case stateStatusText:
			if b == '\n' {
				token.Reset()
				state = stateHeaderName
				continue
			}
			// ignore \r and the status text content itself
		case stateHeaderName:
			if b == '\r' {
				continue
			}
			if b == '\n' {
				// Blank line: end of headers.
				state = stateBody
				continue
			}
			if b == ':' {
				headerName = strings.ToLower(token.String())
				token.Reset()
				state = stateHeaderValue
				continue
			}
			token.WriteByte(b)
		case stateHeaderValue:
			if b == ' ' && token.Len() == 0 {
				continue // skip leading space after ':'
			}
			if b == '\r' {
				continue
			}
			if b == '\n' {
				headers[headerName] = token.String()
				token.Reset()
				state = stateHeaderName
				continue
			}
			token.WriteByte(b)
		}
	}

	clStr, ok := headers["content-length"]
	if !ok {
		return nil, errors.New("missing content-length header")
	}
	cl, err := strconv.ParseUint(clStr, 10, 16)
	if err != nil {
		return nil, errors.Wrap(err, "invalid content-length")
	}

	body := make([]byte, cl)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, errors.Wrap(err, "reading http body")
	}

	return &Response{StatusCode: statusCode, Headers: headers, Body: body}, nil
}
