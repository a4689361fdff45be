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

package httptwo

import (
	"encoding/binary"
	"io"

	"golang.org/x/net/http2"
)

// frameHeaderSize is the fixed RFC 7540 §4.1 frame header: 3-byte length,
// 1-byte type, 1-byte flags, 4-byte reserved-bit + stream identifier.
const frameHeaderSize = 9

// maxFrameLength is the largest value the 24-bit length field can carry.
const maxFrameLength = 1<<24 - 1

// Frame is one HTTP/2 frame as read off the wire. The reserved bit is
// ignored on read and written as zero.
type Frame struct {
	Length  uint32
	Type    http2.FrameType
	Flags   http2.Flags
	Stream  uint32
	Payload []byte
}

// ReadFrame decodes one frame from r, allocating the payload buffer. The
// payload belongs to the caller's dispatch cycle.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [frameHeaderSize]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Length: uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2]),
		Type:   http2.FrameType(hdr[3]),
		Flags:  http2.Flags(hdr[4]),
		// Top bit is the reserved bit, masked off per RFC 7540 §4.1.
		Stream: binary.BigEndian.Uint32(hdr[5:9]) & 0x7FFFFFFF,
	}

	if f.Length == 0 {
		return f, nil
	}

	f.Payload = make([]byte, f.Length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, err
	}

	return f, nil
}

// Encode serialises f into wire form: the 9-byte header followed by the
// payload.
func (f Frame) Encode() []byte {
	buf := make([]byte, frameHeaderSize, frameHeaderSize+len(f.Payload))

	buf[0] = byte(f.Length >> 16)
	buf[1] = byte(f.Length >> 8)
	buf[2] = byte(f.Length)
	buf[3] = byte(f.Type)
	buf[4] = byte(f.Flags)
	binary.BigEndian.PutUint32(buf[5:9], f.Stream&0x7FFFFFFF)

	return append(buf, f.Payload...)
}
