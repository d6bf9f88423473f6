package http

import "strings"

const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

// DefaultMethods is the recognized method set used when a Server has none configured.
var DefaultMethods = []string{MethodGet, MethodPost}

type Header struct {
	Name  string
	Value string
}

// Headers keeps header fields in the order they were received. Duplicates are retained.
type Headers []Header

// Get returns the value of the first header whose name equals name exactly.
func (headers Headers) Get(name string) (string, bool) {
	for _, header := range headers {
		if header.Name == name {
			return header.Value, true
		}
	}
	return "", false
}

// GetFold is Get with case-insensitive name matching. Used for framing headers
// such as Content-Length, where clients differ in capitalization.
func (headers Headers) GetFold(name string) (string, bool) {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value, true
		}
	}
	return "", false
}

// Request is a parsed request. It is built once the start line and the header
// terminator have been read and is not modified afterwards.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers Headers
	Body    []byte
}
