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

// Package httptwo handles HTTP/2 connections: client preface
// verification, the frame read/write codec, session bookkeeping and the
// per-frame-type dispatch for control frames (PRIORITY, SETTINGS, GOAWAY,
// WINDOW_UPDATE). Frame type, flag and error-code constants come from
// golang.org/x/net/http2 rather than a local enum. Request semantics over
// HEADERS/DATA are an extension point.
package httptwo

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"

	"golang.org/x/net/http2"

	"github.com/wooshdev/feather/internal/errs"
	"github.com/wooshdev/feather/internal/logger"
	"github.com/wooshdev/feather/security"
)

const (
	ErrorPreface errs.CodeError = iota + errs.MinPkgHTTPTwo
	ErrorFrameRead
	ErrorFrameWrite
	ErrorProtocol
)

func init() {
	if !errs.ExistInMapMessage(errs.MinPkgHTTPTwo) {
		errs.RegisterIdFctMessage(errs.MinPkgHTTPTwo, getMessage)
	}
}

func getMessage(code errs.CodeError) string {
	switch code {
	case ErrorPreface:
		return "client preface mismatch"
	case ErrorFrameRead:
		return "cannot read frame"
	case ErrorFrameWrite:
		return "cannot write frame"
	case ErrorProtocol:
		return "HTTP/2 protocol error"
	}
	return ""
}

// initialWindowSize is the session-level flow-control window every
// connection starts with (RFC 7540 §6.5.2).
const initialWindowSize = 65535

// Session owns one HTTP/2 connection: the TLS endpoint, the streams
// collection keyed by 31-bit stream identifier, and the session-level
// flow-control window.
type Session struct {
	conn    net.Conn
	streams map[uint32]*Stream
	window  int32
	log     logger.FuncLog
}

// NewSession wraps conn into a fresh Session. Serve drives it.
func NewSession(conn net.Conn, log logger.FuncLog) *Session {
	return &Session{
		conn:    conn,
		streams: make(map[uint32]*Stream),
		window:  initialWindowSize,
		log:     log,
	}
}

// Serve runs the session until read failure, a handler requests
// termination, or ctx is cancelled: verify the 24-byte client preface,
// answer with an empty SETTINGS frame, then read and dispatch frames one
// at a time.
func (s *Session) Serve(ctx context.Context) errs.Error {
	if err := s.checkPreface(); err != nil {
		return err
	}

	if err := s.sendSettings(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := ReadFrame(s.conn)
		if err != nil {
			return ErrorFrameRead.ErrorParent(err)
		}

		if done := s.dispatch(frame); done {
			return nil
		}
	}
}

// checkPreface reads exactly 24 bytes and compares them to the canonical
// client preface.
func (s *Session) checkPreface() errs.Error {
	buf := make([]byte, len(http2.ClientPreface))

	if err := security.Read(s.conn, buf); err != nil {
		return ErrorPreface.ErrorParent(err)
	}

	if !bytes.Equal(buf, []byte(http2.ClientPreface)) {
		return ErrorPreface.Error()
	}

	return nil
}

// dispatch routes one frame by type, reporting whether the session must
// terminate. Types outside the table are logged and ignored.
func (s *Session) dispatch(frame Frame) bool {
	switch frame.Type {
	case http2.FramePriority:
		return s.handlePriority(frame)
	case http2.FrameSettings:
		// Acknowledged implicitly; the payload is not applied.
		return false
	case http2.FrameGoAway:
		return true
	case http2.FrameWindowUpdate:
		return s.handleWindowUpdate(frame)
	default:
		if s.log != nil {
			s.log().Entry(logger.DebugLevel, "ignoring frame").
				Field("type", frame.Type.String()).
				Field("stream", frame.Stream).
				Log()
		}
		return false
	}
}

// handlePriority validates a PRIORITY frame: stream 0 is a connection
// error, any length other than 5 octets is a frame-size error, and a
// valid frame is accepted but not used.
func (s *Session) handlePriority(frame Frame) bool {
	if frame.Stream == 0 {
		_ = s.SendGoaway(0, http2.ErrCodeProtocol, "Priority on stream 0 is invalid")
		return true
	}

	if frame.Length != 5 {
		_ = s.SendGoaway(0, http2.ErrCodeFrameSize, "Priority frames are 5 octets of length")
		return true
	}

	return false
}

// handleWindowUpdate validates a WINDOW_UPDATE frame. A zero increment on
// stream 0 kills the session; a zero increment on a stream resets only
// that stream. A valid increment widens the session or stream window.
func (s *Session) handleWindowUpdate(frame Frame) bool {
	if frame.Length != 4 {
		// TODO send GOAWAY(FRAME_SIZE_ERROR) before terminating instead
		// of bailing out without answering.
		return true
	}

	increment := binary.BigEndian.Uint32(frame.Payload) & 0x7FFFFFFF

	if increment == 0 {
		if frame.Stream == 0 {
			_ = s.SendGoaway(0, http2.ErrCodeProtocol, "Window Size Increment was 0")
			return true
		}

		_ = s.SendRSTStream(frame.Stream, http2.ErrCodeProtocol)
		s.closeStream(frame.Stream)
		return false
	}

	if frame.Stream == 0 {
		s.window += int32(increment)
		return false
	}

	s.stream(frame.Stream).Window += int32(increment)
	return false
}

// stream returns the record for id, creating it idle with the initial
// window when first seen.
func (s *Session) stream(id uint32) *Stream {
	if st, ok := s.streams[id]; ok {
		return st
	}

	st := &Stream{State: StreamIdle, Window: initialWindowSize}
	s.streams[id] = st
	return st
}

func (s *Session) closeStream(id uint32) {
	s.stream(id).State = StreamClosed
}

// sendSettings writes the server preface: a SETTINGS frame carrying zero
// settings.
func (s *Session) sendSettings() errs.Error {
	frame := Frame{Type: http2.FrameSettings}

	if err := security.Write(s.conn, frame.Encode()); err != nil {
		return ErrorFrameWrite.ErrorParent(err)
	}

	return nil
}

// SendGoaway writes a GOAWAY frame on stream 0: last-stream-id and error
// code big-endian, followed by the optional debug payload.
func (s *Session) SendGoaway(lastStream uint32, code http2.ErrCode, debug string) errs.Error {
	payload := make([]byte, 8+len(debug))
	binary.BigEndian.PutUint32(payload[0:4], lastStream&0x7FFFFFFF)
	binary.BigEndian.PutUint32(payload[4:8], uint32(code))
	copy(payload[8:], debug)

	frame := Frame{
		Length:  uint32(len(payload)),
		Type:    http2.FrameGoAway,
		Payload: payload,
	}

	if err := security.Write(s.conn, frame.Encode()); err != nil {
		return ErrorFrameWrite.ErrorParent(err)
	}

	return nil
}

// SendRSTStream writes an RST_STREAM frame carrying code on the given
// stream.
func (s *Session) SendRSTStream(stream uint32, code http2.ErrCode) errs.Error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))

	frame := Frame{
		Length:  4,
		Type:    http2.FrameRSTStream,
		Stream:  stream,
		Payload: payload,
	}

	if err := security.Write(s.conn, frame.Encode()); err != nil {
		return ErrorFrameWrite.ErrorParent(err)
	}

	return nil
}
