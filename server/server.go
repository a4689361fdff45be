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

// Package server is the composition root: it owns the file cache, the TLS
// context, the worker scheduler, the statistics counter and the two accept
// loops, and exposes the Listen/WaitNotify/Restart/Shutdown lifecycle.
//
// Ownership is acyclic: Server owns Scheduler, FileCache and the security
// Context; per-connection workers only borrow them.
package server

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	libatm "github.com/nabbar/golib/atomic"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wooshdev/feather/cache"
	"github.com/wooshdev/feather/config"
	"github.com/wooshdev/feather/httpone"
	"github.com/wooshdev/feather/httptwo"
	"github.com/wooshdev/feather/internal/errs"
	"github.com/wooshdev/feather/internal/logger"
	"github.com/wooshdev/feather/redirect"
	"github.com/wooshdev/feather/scheduler"
	"github.com/wooshdev/feather/security"
	"github.com/wooshdev/feather/stats"
)

const (
	ErrorListen errs.CodeError = iota + errs.MinPkgServer
	ErrorRunning
	ErrorInit
)

func init() {
	if !errs.ExistInMapMessage(errs.MinPkgServer) {
		errs.RegisterIdFctMessage(errs.MinPkgServer, getMessage)
	}
}

func getMessage(code errs.CodeError) string {
	switch code {
	case ErrorListen:
		return "cannot bind secure listener"
	case ErrorRunning:
		return "server is already running"
	case ErrorInit:
		return "cannot initialise server"
	}
	return ""
}

// Server wires the cache, the TLS context, the scheduler and the two
// accept loops together.
type Server struct {
	cfg config.Config
	log logger.FuncLog

	files *cache.FileCache
	tls   *security.Context
	sched *scheduler.Scheduler
	stats *stats.Stats
	h1    *httpone.Handler
	redir *redirect.Service

	secure   net.Listener
	registry *prometheus.Registry
	run      libatm.Value[bool]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an unstarted Server from cfg. Call Listen to initialise the
// cache and the TLS context and begin accepting.
func New(cfg config.Config, log logger.FuncLog) *Server {
	reg := prometheus.NewRegistry()

	return &Server{
		cfg:      cfg,
		log:      log,
		run:      libatm.NewValueDefault[bool](false, false),
		registry: reg,
		stats:    stats.New(reg),
	}
}

// IsRunning reports whether the accept loops are live.
func (s *Server) IsRunning() bool {
	return s.run.Load()
}

// Stats exposes the request counter and uptime reporter.
func (s *Server) Stats() *stats.Stats {
	return s.stats
}

// Metrics exposes the server's own Prometheus registry so an embedding
// program can scrape it.
func (s *Server) Metrics() *prometheus.Registry {
	return s.registry
}

// Cache exposes the content snapshot, populated after Listen.
func (s *Server) Cache() *cache.FileCache {
	return s.files
}

// Listen initialises every subsystem in dependency order — canonical
// hostname, content snapshot, TLS context, scheduler, both listeners —
// then starts the two accept loops. Any failure is fatal to startup and
// leaves nothing running.
func (s *Server) Listen() errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsRunning() {
		return ErrorRunning.Error()
	}

	if err := s.cfg.ResolveHostname(); err != nil {
		return err
	}

	s.files = cache.NewFileCache(s.log, s.cfg.ContentRoot, s.cfg.CacheRoot, s.cfg.BrotliQuality, s.cfg.BrotliWindow)
	if err := s.files.Build(); err != nil {
		return err
	}

	tlsCtx, err := security.NewContext(s.cfg.CertFile, s.cfg.ChainFile, s.cfg.KeyFile, s.cfg.CipherSuites, s.cfg.IdleTimeoutTLS, s.log)
	if err != nil {
		return err
	}
	s.tls = tlsCtx

	s.sched = scheduler.New(s.cfg.MaxWorkers, s.log, s.stats)

	s.h1 = httpone.New(
		s.files,
		s.cfg.Disclosure.ServerName,
		s.cfg.Disclosure.ServerHeader,
		s.cfg.Disclosure.HSTS,
		s.log,
	)

	ln, lerr := net.Listen("tcp", s.cfg.ListenSecure)
	if lerr != nil {
		return ErrorListen.ErrorParent(lerr)
	}

	redir, err := redirect.New(s.cfg.ListenRedirect, s.cfg.CanonicalHost(), s.cfg.IdleTimeoutRedirect, s.sched, s.log)
	if err != nil {
		_ = ln.Close()
		return err
	}

	s.secure = ln
	s.redir = redir

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.run.Store(true)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.acceptSecure(ctx)
	}()
	go func() {
		defer s.wg.Done()
		_ = s.redir.Serve(ctx)
	}()

	if s.log != nil {
		s.log().Entry(logger.InfoLevel, "server listening").
			Field("secure", s.secure.Addr().String()).
			Field("redirect", s.redir.Addr().String()).
			Field("host", s.cfg.CanonicalHost()).
			Log()
	}

	return nil
}

// SecureAddr reports the bound secure listener address, nil before Listen.
func (s *Server) SecureAddr() net.Addr {
	if s.secure == nil {
		return nil
	}
	return s.secure.Addr()
}

// RedirectAddr reports the bound plaintext listener address, nil before
// Listen.
func (s *Server) RedirectAddr() net.Addr {
	if s.redir == nil {
		return nil
	}
	return s.redir.Addr()
}

// acceptSecure runs the TLS accept loop: accept, admit into the
// scheduler, reject by closing when the pool is full.
func (s *Server) acceptSecure(ctx context.Context) {
	for {
		conn, err := s.secure.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}

			if s.log != nil {
				s.log().Entry(logger.ErrorLevel, "secure accept error").ErrorAdd(true, err).Log()
			}
			return
		}

		if !s.sched.Admit(conn, s.serveConn) {
			_ = conn.Close()
		}
	}
}

// serveConn is the secure worker body: TLS handshake, ALPN switch, then
// either the HTTP/1.1 keep-alive loop or the HTTP/2 session loop.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	tlsConn, proto, err := s.tls.Setup(conn)
	if err != nil {
		// Handshake and idle failures close without a response.
		return
	}

	defer security.Destroy(tlsConn)

	switch proto {
	case security.ProtocolHTTP2:
		_ = httptwo.NewSession(tlsConn, s.log).Serve(ctx)
	default:
		// ProtocolNone falls through to HTTP/1.1.
		s.h1.Serve(ctx, tlsConn)
	}
}

// WaitNotify blocks until an interrupt-class signal arrives or ctx is
// done, then shuts down.
func (s *Server) WaitNotify(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	s.Shutdown()
}

// Restart shuts the accept loops down and brings them back up with the
// same configuration.
func (s *Server) Restart() errs.Error {
	s.Shutdown()
	return s.Listen()
}

// Shutdown closes both listeners, cancels every worker through the
// scheduler and waits for the accept loops to come back. Safe to call
// twice.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsRunning() {
		return
	}

	s.run.Store(false)
	s.cancel()

	if s.secure != nil {
		_ = s.secure.Close()
	}
	if s.redir != nil {
		_ = s.redir.Close()
	}

	s.sched.Shutdown()
	s.wg.Wait()

	if s.log != nil {
		s.log().Entry(logger.InfoLevel, "server stopped").
			Field("requests", s.stats.Traffic()).
			Field("uptime", s.stats.Uptime().String()).
			Log()
	}
}
