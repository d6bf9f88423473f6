package http

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	crlf             = []byte("\r\n")
	headerTerminator = []byte("\r\n\r\n")
)

// SplitRequest separates raw request bytes into the start line, the header
// block and the body. The header terminator is searched from the end of the
// start line, so a request without headers ("GET / HTTP/1.1\r\n\r\n") has an
// empty header block. Only the start line and header block are required to be
// valid UTF-8; the body is returned as is.
func SplitRequest(buf []byte) (startLine string, headerBlock string, body []byte, err error) {
	lineEnd := bytes.Index(buf, crlf)
	if lineEnd < 0 {
		return "", "", nil, fmt.Errorf("%w: start line is not terminated", ErrMalformedRequest)
	}

	headEnd := bytes.Index(buf[lineEnd:], headerTerminator)
	if headEnd < 0 {
		return "", "", nil, fmt.Errorf("%w: header block is not terminated", ErrMalformedRequest)
	}
	headEnd += lineEnd

	if !utf8.Valid(buf[:headEnd]) {
		return "", "", nil, fmt.Errorf("%w: request head is not valid UTF-8", ErrInvalidEncoding)
	}

	startLine = string(buf[:lineEnd])
	if headEnd > lineEnd {
		headerBlock = string(buf[lineEnd+len(crlf) : headEnd])
	}
	body = buf[headEnd+len(headerTerminator):]

	return startLine, headerBlock, body, nil
}

// ParseStartLine splits "METHOD SP PATH SP VERSION". The path is kept verbatim.
func ParseStartLine(line string, methods []string) (method, path, version string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("%w: start line %q", ErrMalformedRequest, line)
	}

	method, path, version = parts[0], parts[1], parts[2]
	if method == "" || path == "" || version == "" {
		return "", "", "", fmt.Errorf("%w: start line %q", ErrMalformedRequest, line)
	}

	if !slices.Contains(methods, method) {
		return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	return method, path, version, nil
}

// ParseHeaders parses "Name: Value" lines separated by CRLF.
func ParseHeaders(block string) (Headers, error) {
	if block == "" {
		return nil, nil
	}

	lines := strings.Split(block, "\r\n")
	headers := make(Headers, 0, len(lines))
	for _, line := range lines {
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedRequest, line)
		}

		headers = append(headers, Header{
			Name:  line[:i],
			Value: strings.Trim(line[i+1:], " \t"),
		})
	}

	return headers, nil
}

// ParseRequest builds a Request from a complete request buffer.
func ParseRequest(buf []byte, methods []string) (*Request, error) {
	startLine, headerBlock, body, err := SplitRequest(buf)
	if err != nil {
		return nil, err
	}

	method, path, version, err := ParseStartLine(startLine, methods)
	if err != nil {
		return nil, err
	}

	headers, err := ParseHeaders(headerBlock)
	if err != nil {
		return nil, err
	}

	return &Request{
		Method:  method,
		Path:    path,
		Version: version,
		Headers: headers,
		Body:    body,
	}, nil
}
