// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package http

const (
	StatusOK      uint16 = 200 // RFC 7231, 6.3.1
	StatusCreated uint16 = 201 // RFC 7231, 6.3.2

	StatusBadRequest            uint16 = 400 // RFC 7231, 6.5.1
	StatusForbidden             uint16 = 403 // RFC 7231, 6.5.3
	StatusNotFound              uint16 = 404 // RFC 7231, 6.5.4
	StatusMethodNotAllowed      uint16 = 405 // RFC 7231, 6.5.5
	StatusRequestTimeout        uint16 = 408 // RFC 7231, 6.5.7
	StatusRequestEntityTooLarge uint16 = 413 // RFC 7231, 6.5.11

	StatusInternalServerError uint16 = 500 // RFC 7231, 6.6.1
)

var (
	unknownStatusCode = "Unknown Status Code"

	statusMessages = map[uint16]string{
		StatusOK:      "OK",
		StatusCreated: "Created",

		StatusBadRequest:            "Bad Request",
		StatusForbidden:             "Forbidden",
		StatusNotFound:              "Not Found",
		StatusMethodNotAllowed:      "Method Not Allowed",
		StatusRequestTimeout:        "Request Timeout",
		StatusRequestEntityTooLarge: "Request Entity Too Large",

		StatusInternalServerError: "Internal Server Error",
	}
)

// StatusText returns the reason phrase for code.
func StatusText(code uint16) string {
	if text, ok := statusMessages[code]; ok {
		return text
	}
	return unknownStatusCode
}
