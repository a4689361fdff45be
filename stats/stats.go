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

// Package stats provides a thread-safe request counter and process-uptime
// reporter, additionally exposed as Prometheus collectors for scrape.
package stats

import (
	"time"

	libatm "github.com/nabbar/golib/atomic"
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is the process-wide request counter and uptime reporter.
type Stats struct {
	traffic libatm.Value[uint64]
	begin   time.Time

	requests prometheus.Counter
	uptime   prometheus.GaugeFunc
}

// New creates a Stats value and registers its collectors against reg,
// a Registerer the caller owns. reg may be nil.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		traffic: libatm.NewValueDefault[uint64](0, 0),
		begin:   time.Now(),
	}

	// Seed the counter so the CompareAndSwap loop in NotifyRequest has a
	// stored value to compare against from the first request on.
	s.traffic.Store(0)

	s.requests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feather",
		Name:      "requests_total",
		Help:      "Total number of requests admitted by the worker scheduler.",
	})

	s.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "feather",
		Name:      "uptime_seconds",
		Help:      "Seconds elapsed since the process started.",
	}, func() float64 {
		return time.Since(s.begin).Seconds()
	})

	if reg != nil {
		reg.MustRegister(s.requests, s.uptime)
	}

	return s
}

// NotifyRequest increments the traffic counter, called once per admitted
// connection by the worker scheduler.
func (s *Stats) NotifyRequest() {
	for {
		old := s.traffic.Load()
		if s.traffic.CompareAndSwap(old, old+1) {
			break
		}
	}

	if s.requests != nil {
		s.requests.Inc()
	}
}

// Traffic returns the current request count.
func (s *Stats) Traffic() uint64 {
	return s.traffic.Load()
}

// Uptime returns how long the process has been running.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.begin)
}
