// Package urlutil splits an http(s) URL into the host, request URI, and
// default filename pieces rawget needs, mirroring the original
// raw_sockets tool's rawurllib._parse_url.
package urlutil

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultURI is used when a URL carries no path component.
const DefaultURI = "/"

// DefaultFileName is used when a URL's path has no trailing filename
// segment (e.g. a bare host or a path ending in "/").
const DefaultFileName = "index.html"

var (
	schemeRe   = regexp.MustCompile(`^http[s]?://[^\s/]+(/[\s]*)?`)
	hostPathRe = regexp.MustCompile(`[/]{2}([^\s/]+)(/.*)?`)
	fileNameRe = regexp.MustCompile(`(/[^\s/]+)*/([^\s/]*)$`)
)

// ErrInvalidURL is returned when a URL doesn't match the http(s)://host(/uri)
// shape.
var ErrInvalidURL = fmt.Errorf("invalid url format")

// Parsed is the result of splitting a URL into the pieces the HTTP
// client and CLI need.
type Parsed struct {
	Host     string
	URI      string
	FileName string
}

// Parse splits rawURL into its host, request URI, and suggested output
// filename. URLs must be in the form http(s)://host(/path).
func Parse(rawURL string) (Parsed, error) {
	if !schemeRe.MatchString(rawURL) {
		return Parsed{}, ErrInvalidURL
	}

	m := hostPathRe.FindStringSubmatch(rawURL)
	if m == nil {
		return Parsed{}, ErrInvalidURL
	}
	host := m[1]
	uri := m[2]
	if uri == "" {
		uri = DefaultURI
	}

	path := uri
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	fileName := DefaultFileName
	if fm := fileNameRe.FindStringSubmatch(path); fm != nil && fm[2] != "" {
		fileName = fm[2]
	}

	return Parsed{Host: host, URI: uri, FileName: fileName}, nil
}

// SplitHostPort separates an optional ":port" suffix from host,
// returning the bare hostname and the port if present.
func SplitHostPort(host string) (string, string, bool) {
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host, "", false
	}
	return host[:idx], host[idx+1:], true
}
