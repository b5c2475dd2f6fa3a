package httpclient

import (
	"strings"
	"testing"
)

func TestBuildRequest(t *testing.T) {
	req := string(buildRequest("example.com", "/index.html"))

	if !strings.HasPrefix(req, "GET /index.html HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", req)
	}
	for _, want := range []string{"Host: example.com\r\n", "Connection: close\r\n", "User-Agent: " + UserAgent} {
		if !strings.Contains(req, want) {
			t.Fatalf("request missing %q:\n%s", want, req)
		}
	}
	if !strings.HasSuffix(req, "\r\n\r\n") {
		t.Fatalf("request not terminated by blank line: %q", req)
	}
}

func TestParseResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/html\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"

	resp, err := parseResponse([]byte(raw))
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("Content-Type header = %q", resp.Header.Get("Content-Type"))
	}
	if string(resp.Body) != "hello" {
		t.Fatalf("Body = %q, want %q", resp.Body, "hello")
	}
}

func TestParseResponseTruncatesToContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nhello-extra-garbage"

	resp, err := parseResponse([]byte(raw))
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if string(resp.Body) != "hel" {
		t.Fatalf("Body = %q, want %q", resp.Body, "hel")
	}
}

func TestParseStatusLine(t *testing.T) {
	code, status, err := parseStatusLine("HTTP/1.1 404 Not Found")
	if err != nil {
		t.Fatalf("parseStatusLine: %v", err)
	}
	if code != 404 {
		t.Fatalf("code = %d, want 404", code)
	}
	if status != "HTTP/1.1 404 Not Found" {
		t.Fatalf("status = %q", status)
	}
}

func TestParseStatusLineMalformed(t *testing.T) {
	if _, _, err := parseStatusLine("garbage"); err == nil {
		t.Fatal("expected an error for a malformed status line")
	}
}
