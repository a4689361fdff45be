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

// Package errs provides the error-code abstraction shared by every package
// in this module: a numeric CodeError classification, a message registry,
// and an Error type that can chain parent failures.
package errs

import "strings"

// Message generates the human-readable text for a registered CodeError.
type Message func(code CodeError) string

var idMsgFct = make(map[CodeError]Message)

// CodeError is a numeric error classification, scoped per package via the
// MinPkg* constants in modules.go.
type CodeError uint16

const (
	UnknownError   CodeError = 0
	UnknownMessage           = "unknown error"
)

// RegisterIdFctMessage associates a message function with the package range
// that owns the given code. Call once from each package's init().
func RegisterIdFctMessage(first CodeError, fct Message) {
	idMsgFct[first] = fct
}

// ExistInMapMessage reports whether a message function is already registered
// for the package range owning the given code.
func ExistInMapMessage(first CodeError) bool {
	_, ok := idMsgFct[first]
	return ok
}

func (c CodeError) Message() string {
	if c == UnknownError {
		return UnknownMessage
	}

	for first, fct := range idMsgFct {
		if c >= first && c < first+100 {
			if m := fct(c); m != "" {
				return m
			}
		}
	}

	return UnknownMessage
}

// Error builds a new Error value from this code and optional parents.
func (c CodeError) Error(parent ...error) Error {
	return New(c, parent...)
}

// ErrorParent builds a new Error value from this code wrapping a single
// underlying error (typically the return value of a stdlib call).
func (c CodeError) ErrorParent(e error) Error {
	if e == nil {
		return New(c)
	}
	return New(c, e)
}

// Error is a CodeError plus a chain of parent failures.
type Error interface {
	error

	Code() CodeError
	HasParent() bool
	Add(parent ...error)
	AddParent(parent ...error)
	AddParentError(e Error)
	Unwrap() []error
}

type impl struct {
	code   CodeError
	parent []error
}

// New constructs an Error for the given code with optional parents.
func New(code CodeError, parent ...error) Error {
	e := &impl{code: code}
	e.Add(parent...)
	return e
}

func (e *impl) Code() CodeError {
	return e.code
}

func (e *impl) HasParent() bool {
	return len(e.parent) > 0
}

func (e *impl) Add(parent ...error) {
	for _, p := range parent {
		if p != nil {
			e.parent = append(e.parent, p)
		}
	}
}

func (e *impl) AddParent(parent ...error) {
	e.Add(parent...)
}

func (e *impl) AddParentError(err Error) {
	if err != nil {
		e.parent = append(e.parent, err)
	}
}

func (e *impl) Unwrap() []error {
	return e.parent
}

func (e *impl) Error() string {
	msg := e.code.Message()

	if !e.HasParent() {
		return msg
	}

	parts := make([]string, 0, len(e.parent)+1)
	parts = append(parts, msg)
	for _, p := range e.parent {
		parts = append(parts, p.Error())
	}

	return strings.Join(parts, ": ")
}
