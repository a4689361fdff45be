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

// Package httpone serves HTTP/1.1: a byte-level request parser, content
// lookup through the file cache, and a fixed-template response writer
// with a keep-alive loop. Every parse error funnels into the canned 404;
// only a short read closes the connection silently.
package httpone

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wooshdev/feather/cache"
	"github.com/wooshdev/feather/internal/errs"
	"github.com/wooshdev/feather/internal/httpwire"
	"github.com/wooshdev/feather/internal/logger"
	"github.com/wooshdev/feather/security"
)

const (
	ErrorParse errs.CodeError = iota + errs.MinPkgHTTPOne
)

func init() {
	if !errs.ExistInMapMessage(errs.MinPkgHTTPOne) {
		errs.RegisterIdFctMessage(errs.MinPkgHTTPOne, getMessage)
	}
}

func getMessage(code errs.CodeError) string {
	switch code {
	case ErrorParse:
		return "malformed HTTP/1.1 request"
	}
	return ""
}

// Field bounds enforced before parsing gives up and funnels into the
// canned 404.
const (
	maxMethodSize  = 64
	maxPathSize    = 2048
	maxVersionSize = 8
	maxHeaderName  = 64
	maxHeaderValue = 256
	headerStepSize = 8
)

const serverHeaderName = "feather"

// request is one parsed HTTP/1.1 request line plus the headers the
// handler cares about.
type request struct {
	method          string
	path            string
	version         string
	ifModifiedSince string
	keepAlive       bool
}

// Timings records the elapsed time per parse phase: purely observational,
// never consulted for control flow.
type Timings struct {
	Start       time.Time
	Buffering   time.Duration
	ReadMethod  time.Duration
	ReadPath    time.Duration
	ReadVersion time.Duration
	ReadHeaders time.Duration
	Handling    time.Duration
}

// errPeerGone classifies a short read: the connection dies silently, no
// response is written. errMalformed classifies every other parse failure,
// which funnels into the canned 404.
var (
	errPeerGone  = errors.New("httpone: peer gone")
	errMalformed = errors.New("httpone: malformed request")
)

// Handler serves HTTP/1.1 requests against a file cache, with the
// disclosure bits folded down to the two booleans the response needs.
type Handler struct {
	files      *cache.FileCache
	log        logger.FuncLog
	serverName string
	sendServer bool
	sendHSTS   bool
}

// New builds a Handler backed by files.
func New(files *cache.FileCache, serverName string, sendServer, sendHSTS bool, log logger.FuncLog) *Handler {
	if serverName == "" {
		serverName = serverHeaderName
	}
	return &Handler{files: files, log: log, serverName: serverName, sendServer: sendServer, sendHSTS: sendHSTS}
}

// Serve implements scheduler.Handler: it reads and answers requests on
// conn in a loop until the peer closes the connection, ctx is cancelled,
// a request fails to parse, a path misses the cache, or a request does
// not ask for keep-alive.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	r := bufio.NewReaderSize(conn, maxPathSize+maxHeaderValue)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var timing Timings
		timing.Start = time.Now()

		req, err := h.parseRequest(r, &timing)
		if errors.Is(err, errPeerGone) {
			return
		}
		if err != nil {
			if h.log != nil {
				h.log().Entry(logger.DebugLevel, "request parse failed").ErrorAdd(false, ErrorParse.Error()).Log()
			}
			h.writeError(conn, httpwire.Status404, httpwire.NotFoundBody)
			return
		}

		handleStart := time.Now()
		out := h.handle(conn, req)
		timing.Handling = time.Since(handleStart)

		if h.log != nil {
			h.log().Entry(logger.DebugLevel, "request served").
				Field("path", req.path).
				Field("client_cached", out.cached).
				Field("compressed", out.compressed).
				Field("not_found", out.notFound).
				Field("buffering_us", timing.Buffering.Microseconds()).
				Field("read_method_us", timing.ReadMethod.Microseconds()).
				Field("read_path_us", timing.ReadPath.Microseconds()).
				Field("read_version_us", timing.ReadVersion.Microseconds()).
				Field("read_headers_us", timing.ReadHeaders.Microseconds()).
				Field("handling_us", timing.Handling.Microseconds()).
				Log()
		}

		if out.notFound || !req.keepAlive {
			return
		}
	}
}

// parseRequest reads one request line and its headers through the
// buffering/method/path/version/headers phases. A bound violation or
// malformed token becomes errMalformed; a short read becomes errPeerGone.
func (h *Handler) parseRequest(r *bufio.Reader, timing *Timings) (request, error) {
	tb := time.Now()
	if _, err := r.Peek(1); err != nil {
		return request{}, errPeerGone
	}
	timing.Buffering = time.Since(tb)

	t0 := time.Now()
	method, err := readToken(r, maxMethodSize, ' ')
	timing.ReadMethod = time.Since(t0)
	if err != nil {
		return request{}, err
	}
	if method == "" {
		return request{}, errMalformed
	}

	t1 := time.Now()
	path, err := readTarget(r, maxPathSize)
	timing.ReadPath = time.Since(t1)
	if err != nil {
		return request{}, err
	}
	if path == "" {
		return request{}, errMalformed
	}

	t2 := time.Now()
	version, err := readLine(r, maxVersionSize)
	timing.ReadVersion = time.Since(t2)
	if err != nil {
		return request{}, err
	}
	if !versionAccepted(version) {
		return request{}, errMalformed
	}

	t3 := time.Now()
	headers, err := readHeaders(r)
	timing.ReadHeaders = time.Since(t3)
	if err != nil {
		return request{}, err
	}

	req := request{method: method, path: path, version: version, keepAlive: version == "HTTP/1.1"}

	if v, ok := headers["if-modified-since"]; ok {
		req.ifModifiedSince = v
	}
	if v, ok := headers["connection"]; ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "close":
			req.keepAlive = false
		case "keep-alive":
			req.keepAlive = true
		}
	}

	return req, nil
}

// versionAccepted applies the lenient HTTP-version rule: the token must
// be 8 bytes of the shape HTTP/x.y, and is accepted whenever the major or
// the minor digit is '1' (so 1.0, 1.1 and x.1 all pass).
func versionAccepted(version string) bool {
	if len(version) != maxVersionSize {
		return false
	}
	if version[:5] != "HTTP/" || version[6] != '.' {
		return false
	}
	return version[5] == '1' || version[7] == '1'
}

// readToken reads bytes until delim or the bound is hit, rejecting any
// byte that is not an RFC 7230 tchar.
func readToken(r *bufio.Reader, max int, delim byte) (string, error) {
	buf := make([]byte, 0, 16)

	for len(buf) < max {
		b, err := r.ReadByte()
		if err != nil {
			return "", errPeerGone
		}
		if b == delim {
			return string(buf), nil
		}
		if !httpwire.IsTokenChar(b) {
			return "", errMalformed
		}
		buf = append(buf, b)
	}

	return "", errMalformed
}

// readTarget reads the request target until SP or the bound is hit. Only
// an embedded NUL is rejected; any other byte is part of the target.
func readTarget(r *bufio.Reader, max int) (string, error) {
	buf := make([]byte, 0, 16)

	for len(buf) < max {
		b, err := r.ReadByte()
		if err != nil {
			return "", errPeerGone
		}
		if b == ' ' {
			return string(buf), nil
		}
		if b == 0 {
			return "", errMalformed
		}
		buf = append(buf, b)
	}

	return "", errMalformed
}

// readLine reads up to a \r\n delimited line bounded by max, trimming the
// trailing \r\n.
func readLine(r *bufio.Reader, max int) (string, error) {
	buf := make([]byte, 0, max+2)

	for len(buf) < max+2 {
		b, err := r.ReadByte()
		if err != nil {
			return "", errPeerGone
		}
		if b == '\n' {
			s := string(buf)
			return strings.TrimSuffix(s, "\r"), nil
		}
		buf = append(buf, b)
	}

	return "", errMalformed
}

// readHeaders reads header lines until a blank line, bounding each name
// and value and growing the header count ceiling in steps of
// headerStepSize.
func readHeaders(r *bufio.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	capLimit := headerStepSize

	for {
		line, err := readLine(r, maxHeaderName+maxHeaderValue+2)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}

		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, errMalformed
		}

		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])

		if name == "" || value == "" {
			return nil, errMalformed
		}
		if len(name) > maxHeaderName || len(value) > maxHeaderValue {
			return nil, errMalformed
		}

		headers[name] = value

		if len(headers) > capLimit {
			capLimit += headerStepSize
		}
	}
}

// outcome classifies one handled request for the summary log line. A miss
// also abandons keep-alive.
type outcome struct {
	cached     bool
	compressed bool
	notFound   bool
}

// handle resolves req against the file cache and writes the response.
func (h *Handler) handle(conn net.Conn, req request) outcome {
	// Both preference bits are applied unconditionally; the request's
	// Accept-Encoding header is not consulted.
	result, found := h.files.Lookup(req.path, cache.FlagBrotli|cache.FlagGzip)
	if !found {
		h.writeError(conn, httpwire.Status404, httpwire.NotFoundBody)
		return outcome{notFound: true}
	}

	// Conditional GET is an exact string comparison against the formatted
	// Last-Modified value, not date arithmetic.
	lastModified := httpwire.FormatDate(result.ModTime)
	if req.ifModifiedSince != "" && req.ifModifiedSince == lastModified {
		h.writeNotModified(conn)
		return outcome{cached: true}
	}

	h.writeOK(conn, result, lastModified)
	return outcome{compressed: result.Encoding != cache.EncodingIdentity}
}

// writeOK emits the full hit response with headers in a fixed order.
func (h *Handler) writeOK(conn net.Conn, result cache.Result, lastModified string) {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(httpwire.Status200)
	sb.WriteString("\r\n")
	sb.WriteString("Connection: keep-alive\r\n")
	sb.WriteString("Content-Encoding: " + string(result.Encoding) + "\r\n")
	sb.WriteString("Content-Length: " + strconv.Itoa(len(result.Data)) + "\r\n")

	contentType := result.MediaType
	if result.Charset != "" {
		contentType += ";charset=" + result.Charset
	}
	sb.WriteString("Content-Type: " + contentType + "\r\n")
	sb.WriteString("Date: " + httpwire.FormatDate(time.Now()) + "\r\n")
	sb.WriteString("Last-Modified: " + lastModified + "\r\n")

	h.writeCommonHeaders(&sb)
	sb.WriteString("\r\n")

	_ = security.Write(conn, []byte(sb.String()))
	if len(result.Data) > 0 {
		_ = security.Write(conn, result.Data)
	}
}

// writeNotModified emits a bodiless 304: the entity headers and
// Last-Modified are omitted, the fixed policy headers stay.
func (h *Handler) writeNotModified(conn net.Conn) {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(httpwire.Status304)
	sb.WriteString("\r\n")
	sb.WriteString("Connection: keep-alive\r\n")
	sb.WriteString("Date: " + httpwire.FormatDate(time.Now()) + "\r\n")
	h.writeCommonHeaders(&sb)
	sb.WriteString("\r\n")

	_ = security.Write(conn, []byte(sb.String()))
}

func (h *Handler) writeError(conn net.Conn, status, body string) {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(status)
	sb.WriteString("\r\n")
	sb.WriteString("Connection: close\r\n")
	sb.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	sb.WriteString("Content-Type: text/html;charset=utf-8\r\n")
	sb.WriteString("Date: " + httpwire.FormatDate(time.Now()) + "\r\n")
	h.writeCommonHeaders(&sb)
	sb.WriteString("\r\n")
	sb.WriteString(body)

	_ = security.Write(conn, []byte(sb.String()))
}

// writeCommonHeaders appends the fixed policy tail of every response:
// Referrer-Policy, Server (when disclosed), Strict-Transport-Security
// (when enabled) and X-Content-Type-Options.
func (h *Handler) writeCommonHeaders(sb *strings.Builder) {
	sb.WriteString("Referrer-Policy: no-referrer\r\n")
	if h.sendServer {
		sb.WriteString("Server: " + h.serverName + "\r\n")
	}
	if h.sendHSTS {
		sb.WriteString("Strict-Transport-Security: max-age=31536000\r\n")
	}
	sb.WriteString("X-Content-Type-Options: nosniff\r\n")
}
