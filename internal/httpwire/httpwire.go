/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package httpwire holds the HTTP response helpers shared by the redirect
// service and the HTTP/1.1 handler: the RFC 7230 token character class,
// the fixed-locale date formatter, and the status-line subset the server
// emits.
package httpwire

import "time"

// dateFormat is the fixed RFC 1123 GMT layout.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// FormatDate renders t in the fixed, locale-independent RFC 1123 form
// used for both Date and Last-Modified.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateFormat)
}

// ParseDate is FormatDate's inverse.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateFormat, s)
}

// IsTokenChar reports whether b is an RFC 7230 tchar.
func IsTokenChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}

	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}

	return false
}

// Status lines the server emits.
const (
	Status200 = "200 OK"
	Status304 = "304 Not Modified"
	Status400 = "400 Bad Request"
	Status404 = "404 Not Found"
	Status500 = "500 Not Implemented"
	Status505 = "505 HTTP Version Not Supported"
)

// NotFoundBody is the canned 404 HTML stub every HTTP/1 parse error and
// cache miss funnels into.
const NotFoundBody = "<!doctype html><html><head><title>404 Not Found</title></head>" +
	"<body><h1>File Not Found</h1></body></html>"
