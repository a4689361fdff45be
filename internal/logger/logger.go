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

package logger

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// FuncLog returns a Logger instance; used for dependency injection so a
// component can be handed a logger factory instead of a global singleton.
type FuncLog func() Logger

// Logger is the logging surface every component in this module depends on.
type Logger interface {
	Entry(lvl Level, msg string) *Entry
	SetOutput(w io.Writer)
	SetFormat(f Format)
}

// Format selects the logrus formatter.
type Format uint8

const (
	TextFormat Format = iota
	JSONFormat
)

type logger struct {
	mu   sync.Mutex
	name string
	log  *logrus.Logger
}

// New builds a Logger tagged with the given component name, added as a
// "component" field on every entry.
func New(name string) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.DebugLevel)
	return &logger{name: name, log: l}
}

func (l *logger) Entry(lvl Level, msg string) *Entry {
	return &Entry{
		logger: l,
		level:  lvl,
		msg:    msg,
		fields: logrus.Fields{"component": l.name},
	}
}

func (l *logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.SetOutput(w)
}

func (l *logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch f {
	case JSONFormat:
		l.log.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Entry accumulates fields before being logged:
// Entry(level, msg).Field(...).Log().
type Entry struct {
	logger *logger
	level  Level
	msg    string
	fields logrus.Fields
	err    error
}

func (e *Entry) Field(key string, val interface{}) *Entry {
	e.fields[key] = val
	return e
}

// ErrorAdd attaches an error to the entry when non-nil; when track is true
// the error is recorded as a field even if nil.
func (e *Entry) ErrorAdd(track bool, err error) *Entry {
	if err != nil {
		e.err = err
	} else if track {
		e.fields["error"] = nil
	}
	return e
}

func (e *Entry) Log() {
	entry := e.logger.log.WithFields(e.fields)

	if e.err != nil {
		entry = entry.WithError(e.err)
	}

	entry.Log(e.level.logrus(), e.msg)
}
