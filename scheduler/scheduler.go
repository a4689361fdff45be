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

// Package scheduler admits connection workers into a fixed-capacity slot
// table, protecting the process against connection exhaustion.
//
// Every admitted worker gets a cancellable context: Shutdown cancels it
// cooperatively, waits a bounded interval, then force-closes any socket
// still busy.
package scheduler

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/wooshdev/feather/internal/logger"
	"github.com/wooshdev/feather/stats"
)

// shutdownGrace is the interval Shutdown waits for cooperative workers to
// exit before forcibly closing their sockets.
const shutdownGrace = 100 * time.Millisecond

// Handler is a worker body run on an admitted connection. Implementations
// must check ctx.Done() at blocking-call boundaries so Shutdown's
// cancellation is cooperative rather than forced.
type Handler func(ctx context.Context, conn net.Conn)

type slot struct {
	busy   bool
	conn   net.Conn
	cancel context.CancelFunc
}

// Scheduler is a fixed-size slot table (state, handle, socket) guarded by
// a single mutex.
type Scheduler struct {
	mu     sync.Mutex
	slots  []slot
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.FuncLog
	stats  *stats.Stats
}

// New builds a Scheduler with the given slot capacity.
func New(capacity int, log logger.FuncLog, st *stats.Stats) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		slots:  make([]slot, capacity),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		stats:  st,
	}
}

// Admit scans for a free slot and, if one exists, marks it busy and
// launches handler on its own goroutine. It returns false if the pool is
// full; the caller must close conn itself.
func (s *Scheduler) Admit(conn net.Conn, handler Handler) bool {
	s.mu.Lock()

	idx := -1
	for i := range s.slots {
		if !s.slots[i].busy {
			idx = i
			break
		}
	}

	if idx < 0 {
		s.mu.Unlock()
		if s.log != nil {
			s.log().Entry(logger.WarnLevel, "worker pool full, rejecting connection").Log()
		}
		return false
	}

	wctx, wcancel := context.WithCancel(s.ctx)
	s.slots[idx] = slot{busy: true, conn: conn, cancel: wcancel}
	s.mu.Unlock()

	if s.stats != nil {
		s.stats.NotifyRequest()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(idx)
		handler(wctx, conn)
	}()

	return true
}

// release closes the slot's socket if still open and marks it free.
// Idempotent with respect to socket closure.
func (s *Scheduler) release(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.slots[idx]
	if sl.conn != nil {
		_ = sl.conn.Close()
	}
	if sl.cancel != nil {
		sl.cancel()
	}

	*sl = slot{}
}

// Shutdown signals every busy worker via cancellation, waits
// shutdownGrace, then force-closes the sockets of any survivor before
// returning. Best-effort: resources are reclaimed even if individual
// workers hang on their sockets.
func (s *Scheduler) Shutdown() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(shutdownGrace):
	}

	s.mu.Lock()
	for i := range s.slots {
		if s.slots[i].busy && s.slots[i].conn != nil {
			_ = s.slots[i].conn.Close()
		}
	}
	s.mu.Unlock()

	<-done
}

// Occupied reports how many slots are currently busy.
func (s *Scheduler) Occupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.slots {
		if s.slots[i].busy {
			n++
		}
	}
	return n
}

// Capacity returns the fixed slot count.
func (s *Scheduler) Capacity() int {
	return len(s.slots)
}
