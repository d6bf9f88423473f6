package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// ReadRequest reads one request from r. It keeps reading until the header
// terminator has arrived and, when a Content-Length header is present, until
// that many body bytes are buffered. Without Content-Length the body is
// whatever followed the terminator in the reads performed so far. Requests
// larger than maxSize fail with ErrRequestTooLarge. Bytes past the declared
// body are discarded.
//
// io.EOF is returned as is when the peer closes before sending anything.
func ReadRequest(r io.Reader, maxSize int) ([]byte, error) {
	buf := make([]byte, 0, min(DefaultReadBufferSize, maxSize))
	need := -1

	var readErr error
	for {
		if need < 0 {
			n, found, err := requestLength(buf)
			if err != nil {
				return nil, err
			}
			if found {
				if n > maxSize {
					return nil, fmt.Errorf("%w: %d bytes declared, limit is %d", ErrRequestTooLarge, n, maxSize)
				}
				need = n
			}
		}

		if need >= 0 && len(buf) >= need {
			return buf[:need], nil
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if len(buf) == 0 {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("%w: connection closed after %d bytes", ErrMalformedRequest, len(buf))
			}
			return nil, fmt.Errorf("%w: %w", ErrSocketFailure, readErr)
		}

		if len(buf) >= maxSize {
			return nil, fmt.Errorf("%w: request head exceeds %d bytes", ErrRequestTooLarge, maxSize)
		}

		if len(buf) == cap(buf) {
			buf = slices.Grow(buf, min(cap(buf), maxSize-len(buf)))
		}

		var n int
		n, readErr = r.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
	}
}

// requestLength reports the total size of the request in buf once its header
// block is complete.
func requestLength(buf []byte) (int, bool, error) {
	end := bytes.Index(buf, headerTerminator)
	if end < 0 {
		return 0, false, nil
	}
	headEnd := end + len(headerTerminator)

	_, headerBlock, _, err := SplitRequest(buf[:headEnd])
	if err != nil {
		return 0, false, err
	}

	headers, err := ParseHeaders(headerBlock)
	if err != nil {
		return 0, false, err
	}

	value, found := headers.GetFold("Content-Length")
	if !found {
		return len(buf), true, nil
	}

	contentLength, err := atoi([]byte(value))
	if err != nil {
		return 0, false, fmt.Errorf("%w: Content-Length %q", ErrMalformedRequest, value)
	}
	if contentLength > math.MaxInt-headEnd {
		return 0, false, fmt.Errorf("%w: Content-Length %q", ErrRequestTooLarge, value)
	}

	return headEnd + contentLength, true, nil
}
