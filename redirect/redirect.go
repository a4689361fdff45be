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

// Package redirect runs the plaintext listener: it reads just enough of
// an HTTP/1.x request line to build a Location header, then answers with
// a fixed 301 response and closes the connection.
package redirect

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/wooshdev/feather/internal/errs"
	"github.com/wooshdev/feather/internal/httpwire"
	"github.com/wooshdev/feather/internal/logger"
	"github.com/wooshdev/feather/scheduler"
)

const (
	ErrorListen errs.CodeError = iota + errs.MinPkgRedirect
	ErrorAccept
)

func init() {
	if !errs.ExistInMapMessage(errs.MinPkgRedirect) {
		errs.RegisterIdFctMessage(errs.MinPkgRedirect, getMessage)
	}
}

func getMessage(code errs.CodeError) string {
	switch code {
	case ErrorListen:
		return "cannot bind redirect listener"
	case ErrorAccept:
		return "redirect accept loop terminated"
	}
	return ""
}

const (
	// maxMethodSize and maxTargetSize bound the read-one-byte-at-a-time
	// loops below against a peer that never sends a space.
	maxMethodSize = 32
	maxTargetSize = 2048

	serverHeaderName = "feather"
)

// Service owns the plaintext listener and answers every accepted
// connection with a 301 to the canonical HTTPS host, dispatching handlers
// through a Scheduler slot exactly like the secure listener does.
type Service struct {
	listener net.Listener
	sched    *scheduler.Scheduler
	host     string
	idle     time.Duration
	log      logger.FuncLog
}

// New binds addr and returns a Service that redirects every accepted
// connection to https://host, honoring sched's capacity limit.
func New(addr, host string, idle time.Duration, sched *scheduler.Scheduler, log logger.FuncLog) (*Service, errs.Error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ErrorListen.ErrorParent(err)
	}

	return &Service{listener: ln, sched: sched, host: host, idle: idle, log: log}, nil
}

// Addr reports the bound listener address.
func (s *Service) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting new connections.
func (s *Service) Close() error {
	return s.listener.Close()
}

// Serve runs the accept loop until the listener is closed or ctx is
// cancelled. Transient accept errors are retried; a closed listener ends
// the loop without error.
func (s *Service) Serve(ctx context.Context) errs.Error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			if isClosedError(err) {
				return nil
			}

			if s.log != nil {
				s.log().Entry(logger.WarnLevel, "redirect accept error").ErrorAdd(true, err).Log()
			}
			return ErrorAccept.ErrorParent(err)
		}

		if !s.sched.Admit(conn, s.handle) {
			_ = conn.Close()
		}
	}
}

func isClosedError(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

// handle reads a request line's method and target, then answers with a
// fixed 301 to https://host<target> and closes the connection.
func (s *Service) handle(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(s.idle))

	if _, ok := readMethod(conn); !ok {
		return
	}

	target, ok := readTarget(conn)
	if !ok {
		return
	}

	resp := fmt.Sprintf(
		"HTTP/1.1 %s\r\nConnection: close\r\nContent-Length: 0\r\nDate: %s\r\nLocation: https://%s%s\r\nServer: %s\r\n\r\n",
		"301 Moved Permanently",
		httpwire.FormatDate(time.Now()),
		s.host,
		target,
		serverHeaderName,
	)

	_ = conn.SetWriteDeadline(time.Now().Add(s.idle))
	_, _ = conn.Write([]byte(resp))
}

// readMethod reads the request method up to the first space, rejecting on
// any non-token character other than the terminating space.
func readMethod(conn net.Conn) (string, bool) {
	buf := make([]byte, 0, 8)
	one := make([]byte, 1)

	for len(buf) < maxMethodSize {
		n, err := conn.Read(one)
		if n <= 0 || err != nil {
			return "", false
		}

		if one[0] == ' ' {
			return string(buf), true
		}
		if !httpwire.IsTokenChar(one[0]) {
			return "", false
		}

		buf = append(buf, one[0])
	}

	return "", false
}

// readTarget reads the request target up to the next space, rejecting
// control bytes below 0x20 and DEL.
func readTarget(conn net.Conn) (string, bool) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)

	for len(buf) < maxTargetSize {
		n, err := conn.Read(one)
		if n <= 0 || err != nil {
			return "", false
		}

		if one[0] == ' ' {
			if len(buf) == 0 {
				return "", false
			}
			return string(buf), true
		}
		if one[0] < 0x20 || one[0] == 0x7F {
			return "", false
		}

		buf = append(buf, one[0])
	}

	return "", false
}
