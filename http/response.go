package http

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	protocolHTTP11      = "HTTP/1.1"
	headerContentLength = "Content-Length"
	headerContentType   = "Content-Type"
)

// Response is written once per connection by Write.
//
// Whenever Body is non-empty or a Content-Length header has been set, the
// Content-Length written on the wire is len(Body).
type Response struct {
	Status  uint16
	Headers Headers
	Body    []byte
}

func (res *Response) WithStatus(status uint16) *Response {
	res.Status = status
	return res
}

// SetHeader replaces the first header with the same (case-insensitive) name,
// or appends a new one.
func (res *Response) SetHeader(name, value string) *Response {
	for i := range res.Headers {
		if strings.EqualFold(res.Headers[i].Name, name) {
			res.Headers[i].Value = value
			return res
		}
	}
	res.Headers = append(res.Headers, Header{Name: name, Value: value})
	return res
}

func (res *Response) WithText(payload string) *Response {
	return res.WithBytes("text/plain", []byte(payload))
}

func (res *Response) WithBytes(contentType string, payload []byte) *Response {
	res.SetHeader(headerContentType, contentType)
	res.SetHeader(headerContentLength, strconv.Itoa(len(payload)))
	res.Body = payload
	return res
}

// Reset clears headers and body and sets the status back to 200.
func (res *Response) Reset() {
	res.Status = StatusOK
	res.Headers = res.Headers[:0]
	res.Body = nil
}

// Write serializes the response: status line, headers, blank line, body.
// Nothing follows the body.
func (res *Response) Write(w io.Writer) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriterSize(w, DefaultWriteBufferSize)
	}

	bw.WriteString(protocolHTTP11)
	bw.WriteByte(' ')
	bw.WriteString(strconv.Itoa(int(res.Status)))
	bw.WriteByte(' ')
	bw.WriteString(StatusText(res.Status))
	bw.Write(crlf)

	contentLength := strconv.Itoa(len(res.Body))
	wroteLength := false
	for _, header := range res.Headers {
		value := header.Value
		if strings.EqualFold(header.Name, headerContentLength) {
			if wroteLength {
				continue
			}
			value = contentLength
			wroteLength = true
		}
		bw.WriteString(header.Name)
		bw.WriteString(": ")
		bw.WriteString(value)
		bw.Write(crlf)
	}
	if !wroteLength && len(res.Body) > 0 {
		bw.WriteString(headerContentLength)
		bw.WriteString(": ")
		bw.WriteString(contentLength)
		bw.Write(crlf)
	}

	bw.Write(crlf)
	bw.Write(res.Body)

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: write response: %w", ErrSocketFailure, err)
	}
	return nil
}
