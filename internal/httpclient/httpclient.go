// Package httpclient is the minimal HTTP/1.1 GET caller that drives
// pkg/rawconn, the same role HttpClient.py and HttpParser.py played
// over the original raw_sockets tool's RawSocket. It is a peer of the
// raw-socket core, not part of it: spec.md places request formatting
// and response parsing out of CORE scope, but a complete repo still
// needs something to demonstrate the facade end-to-end.
package httpclient

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rawstack/rawget/pkg/rawconn"
)

// UserAgent identifies this client in outgoing requests.
const UserAgent = "rawget/1.0"

// Response is a parsed HTTP/1.1 response: status line, headers, and
// fully-drained body.
type Response struct {
	StatusCode int
	Status     string
	Header     textproto.MIMEHeader
	Body       []byte
}

// Get opens a raw-socket connection to host:port, issues an HTTP/1.1
// GET for uri with Connection: close, and returns the parsed response.
// The connection is always closed before Get returns, whether or not
// the request succeeded.
func Get(host string, port uint16, uri string, opts rawconn.Options) (*Response, error) {
	conn, err := rawconn.Dial(host, port, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	defer conn.Close()

	req := buildRequest(host, uri)
	if _, err := conn.Send(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	raw, err := drain(conn)
	if err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	summary, _ := conn.DumpMetrics()
	slog.Debug("rawget transaction complete", "metrics", summary)

	return resp, nil
}

// buildRequest renders an HTTP/1.1 GET request for uri against host,
// matching HttpClient.py's GET_BASE template (From/User-Agent/Host/
// Connection headers) but with Connection: close rather than
// Keep-Alive, since this stack drives exactly one request per
// connection and relies on the peer's FIN to terminate Recv.
func buildRequest(host, uri string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", uri)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", UserAgent)
	b.WriteString("Accept: */*\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}

// drain repeatedly calls Recv until the peer's FIN is observed,
// accumulating the full response. pkg/tcp's Recv already loops
// internally for RecvWindow-sized rounds; a response bigger than one
// call's round budget needs a further call, but once Recv reports FIN
// there is nothing left to read — calling again would just block for
// the full retry timeout waiting on a peer that has nothing more to
// send.
func drain(conn *rawconn.Conn) ([]byte, error) {
	var out []byte
	for {
		chunk, fin, err := conn.Recv(rawconn.DefaultRecvBufSize)
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
		if fin {
			break
		}
	}
	return out, nil
}

// parseResponse splits raw into status line, headers, and body,
// mirroring HttpParser.py's get_response_code/split_response.
func parseResponse(raw []byte) (*Response, error) {
	reader := bufio.NewReader(bytes.NewReader(raw))
	tp := textproto.NewReader(reader)

	statusLine, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read status line: %w", err)
	}

	code, status, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil && !isEOFHeader(err) {
		return nil, fmt.Errorf("read headers: %w", err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n < len(body) {
			body = body[:n]
		}
	}

	return &Response{StatusCode: code, Status: status, Header: header, Body: body}, nil
}

func isEOFHeader(err error) bool {
	return err == io.EOF
}

// parseStatusLine extracts the numeric status code from an HTTP status
// line, e.g. "HTTP/1.1 200 OK", and returns the whole line as the status
// text.
func parseStatusLine(line string) (int, string, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return 0, "", fmt.Errorf("malformed status line: %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", fmt.Errorf("malformed status code in %q: %w", line, err)
	}
	return code, line, nil
}

// Timeout is the HTTP-layer default request timeout, matching
// spec.md's stack-level default. Nothing in this package reads it: Get
// uses opts.Timeout, and rawconn.Dial substitutes 180s for a zero value.
const Timeout = 180 * time.Second
