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

// Package security is the TLS layer: context initialisation with ALPN
// protocol selection, per-connection handshake with an idle deadline, and
// blocking read/write helpers.
package security

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"time"

	"github.com/wooshdev/feather/internal/errs"
	"github.com/wooshdev/feather/internal/logger"
)

const (
	ErrorCertLoad errs.CodeError = iota + errs.MinPkgSecurity
	ErrorHandshake
	ErrorIdle
)

func init() {
	if !errs.ExistInMapMessage(errs.MinPkgSecurity) {
		errs.RegisterIdFctMessage(errs.MinPkgSecurity, getMessage)
	}
}

func getMessage(code errs.CodeError) string {
	switch code {
	case ErrorCertLoad:
		return "cannot load certificate, chain or key"
	case ErrorHandshake:
		return "TLS handshake failed"
	case ErrorIdle:
		return "connection idle before TLS handshake"
	}
	return ""
}

// Protocol is the negotiated ALPN result.
type Protocol string

const (
	ProtocolHTTP1 Protocol = "http/1.1"
	ProtocolHTTP2 Protocol = "h2"
	ProtocolNone  Protocol = ""
)

// Context is the TLS server context, built once per process.
type Context struct {
	cfg         *tls.Config
	idleTimeout time.Duration
	log         logger.FuncLog
}

// NewContext loads the certificate, chain and private key PEM files and
// builds a TLS 1.2-minimum server context preferring h2 over http/1.1 in
// ALPN negotiation. The chain file, when given, is appended to the leaf
// certificate's chain so the full chain is presented. ciphers restricts
// the TLS 1.2 suites by IANA name; empty keeps the library defaults, and
// TLS 1.3 suites stay automatic.
func NewContext(certFile, chainFile, keyFile string, ciphers []string, idleTimeout time.Duration, log logger.FuncLog) (*Context, errs.Error) {
	cert, err := loadCertificate(certFile, chainFile, keyFile)
	if err != nil {
		return nil, ErrorCertLoad.ErrorParent(err)
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: cipherSuiteIDs(ciphers, log),
		// h2 first: ALPN negotiation intersects this list against the
		// client's protocol list in order, so h2 wins over http/1.1.
		NextProtos: []string{string(ProtocolHTTP2), string(ProtocolHTTP1)},
	}

	return &Context{cfg: cfg, idleTimeout: idleTimeout, log: log}, nil
}

// cipherSuiteIDs resolves IANA cipher suite names against the library's
// supported TLS 1.2 list. Unknown names are logged and skipped; an empty
// or fully-unknown list yields nil, keeping the defaults.
func cipherSuiteIDs(names []string, log logger.FuncLog) []uint16 {
	if len(names) == 0 {
		return nil
	}

	byName := make(map[string]uint16, len(names))
	for _, cs := range tls.CipherSuites() {
		byName[cs.Name] = cs.ID
	}

	var ids []uint16
	for _, n := range names {
		if id, ok := byName[n]; ok {
			ids = append(ids, id)
			continue
		}
		if log != nil {
			log().Entry(logger.WarnLevel, "unknown cipher suite ignored").Field("name", n).Log()
		}
	}

	return ids
}

func loadCertificate(certFile, chainFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	if chainFile == "" {
		return cert, nil
	}

	chainPEM, err := os.ReadFile(chainFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	for {
		var block *pem.Block
		block, chainPEM = pem.Decode(chainPEM)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert.Certificate = append(cert.Certificate, block.Bytes)
		}
	}

	return cert, nil
}

// Setup waits up to idleTimeout for the peer to send data, performs the
// TLS handshake, and reports the negotiated ALPN protocol. A Protocol of
// ProtocolNone is treated as HTTP/1.1 by the caller.
func (c *Context) Setup(conn net.Conn) (*tls.Conn, Protocol, errs.Error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
		return nil, ProtocolNone, ErrorIdle.ErrorParent(err)
	}

	tlsConn := tls.Server(conn, c.cfg)

	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, ProtocolNone, ErrorHandshake.ErrorParent(err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, ProtocolNone, ErrorIdle.ErrorParent(err)
	}

	switch tlsConn.ConnectionState().NegotiatedProtocol {
	case string(ProtocolHTTP2):
		return tlsConn, ProtocolHTTP2, nil
	case string(ProtocolHTTP1):
		return tlsConn, ProtocolHTTP1, nil
	default:
		return tlsConn, ProtocolNone, nil
	}
}

// Read loops until exactly len(buf) bytes are read or the endpoint
// errors. All-or-nothing.
func Read(conn net.Conn, buf []byte) error {
	_, err := readFull(conn, buf)
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n <= 0 {
			return total, errors.New("security: non-positive read")
		}
	}
	return total, nil
}

// Write loops until all of buf is written or the endpoint errors.
// All-or-nothing.
func Write(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return err
		}
		if n <= 0 {
			return errors.New("security: non-positive write")
		}
	}
	return nil
}

// Destroy probes for pending peer data and releases the TLS endpoint,
// sending a close-notify alert when the peer still appears to be sending.
func Destroy(conn *tls.Conn) {
	if conn == nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))

	probe := make([]byte, 1)
	_, err := conn.Read(probe)

	if err == nil {
		// Peer still sending: send close_notify before tearing down.
		_ = conn.CloseWrite()
	}

	_ = conn.Close()
}
