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

// Package config holds the runtime options: certificate paths, cipher
// suites, cache location, listen addresses and header-disclosure bits.
// It is intentionally thin; the hard engineering lives in cache, security,
// scheduler, httpone and httptwo. Loading goes through viper, validation
// through go-playground/validator.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/wooshdev/feather/internal/errs"
)

const (
	ErrorValidate errs.CodeError = iota + errs.MinPkgConfig
	ErrorHostname
	ErrorRead
)

func init() {
	if !errs.ExistInMapMessage(errs.MinPkgConfig) {
		errs.RegisterIdFctMessage(errs.MinPkgConfig, getMessage)
	}
}

func getMessage(code errs.CodeError) string {
	switch code {
	case ErrorValidate:
		return "server configuration is not valid"
	case ErrorHostname:
		return "cannot resolve canonical hostname"
	case ErrorRead:
		return "cannot read configuration"
	}
	return ""
}

// Disclosure groups the header-disclosure bits: whether identifying
// headers are sent at all.
type Disclosure struct {
	ServerHeader bool   `mapstructure:"server_header" json:"server_header" yaml:"server_header"`
	ServerName   string `mapstructure:"server_name" json:"server_name" yaml:"server_name"`
	HSTS         bool   `mapstructure:"hsts" json:"hsts" yaml:"hsts"`
}

// Config is the full server configuration.
type Config struct {
	// ContentRoot is the directory snapshotted into the file cache at
	// startup.
	ContentRoot string `mapstructure:"content_root" json:"content_root" yaml:"content_root" validate:"required"`

	// CacheRoot is the filesystem-backed compressed-artifact cache root.
	CacheRoot string `mapstructure:"cache_root" json:"cache_root" yaml:"cache_root" validate:"required"`

	CertFile  string `mapstructure:"cert_file" json:"cert_file" yaml:"cert_file" validate:"required"`
	ChainFile string `mapstructure:"chain_file" json:"chain_file" yaml:"chain_file"`
	KeyFile   string `mapstructure:"key_file" json:"key_file" yaml:"key_file" validate:"required"`

	// CipherSuites restricts the TLS 1.2 cipher suites by IANA name; an
	// empty list keeps the library defaults. TLS 1.3 suites are not
	// configurable and always on (crypto/tls behavior).
	CipherSuites []string `mapstructure:"cipher_suites" json:"cipher_suites" yaml:"cipher_suites"`

	ListenSecure   string `mapstructure:"listen_secure" json:"listen_secure" yaml:"listen_secure" validate:"required,hostname_port"`
	ListenRedirect string `mapstructure:"listen_redirect" json:"listen_redirect" yaml:"listen_redirect" validate:"required,hostname_port"`

	// Hostname is the canonical host name used to build the Location:
	// header of the plaintext redirect. Resolved once at startup if left
	// blank.
	Hostname string `mapstructure:"hostname" json:"hostname" yaml:"hostname"`

	MaxWorkers int `mapstructure:"max_workers" json:"max_workers" yaml:"max_workers" validate:"gt=0"`

	BrotliQuality int `mapstructure:"brotli_quality" json:"brotli_quality" yaml:"brotli_quality" validate:"gte=0,lte=11"`
	BrotliWindow  int `mapstructure:"brotli_window" json:"brotli_window" yaml:"brotli_window" validate:"gte=10,lte=24"`

	Disclosure Disclosure `mapstructure:"disclosure" json:"disclosure" yaml:"disclosure"`

	IdleTimeoutTLS      time.Duration `mapstructure:"idle_timeout_tls" json:"idle_timeout_tls" yaml:"idle_timeout_tls"`
	IdleTimeoutRedirect time.Duration `mapstructure:"idle_timeout_redirect" json:"idle_timeout_redirect" yaml:"idle_timeout_redirect"`
}

// Default returns the built-in defaults: /var/www/html content root,
// 500-slot scheduler, standard ports.
func Default() Config {
	return Config{
		ContentRoot:         "/var/www/html",
		CacheRoot:           "/var/www/cache",
		ListenSecure:        ":443",
		ListenRedirect:      ":80",
		MaxWorkers:          500,
		BrotliQuality:       9,
		BrotliWindow:        22,
		IdleTimeoutTLS:      300 * time.Millisecond,
		IdleTimeoutRedirect: 10 * time.Millisecond,
		Disclosure: Disclosure{
			ServerHeader: true,
			ServerName:   "feather",
			HSTS:         true,
		},
	}
}

// Load decodes a Config from the given viper instance over the defaults.
func Load(v *viper.Viper) (Config, errs.Error) {
	cfg := Default()

	if v == nil {
		return cfg, nil
	}

	if e := v.Unmarshal(&cfg); e != nil {
		return cfg, ErrorRead.ErrorParent(e)
	}

	return cfg, nil
}

// Validate runs the struct tags through go-playground/validator.
func (c Config) Validate() errs.Error {
	val := validator.New()

	if err := val.Struct(c); err != nil {
		out := ErrorValidate.Error()

		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, e := range ve {
				//nolint goerr113
				out.AddParent(fmt.Errorf("config field '%s' is not validated by constraint '%s'", e.Namespace(), e.ActualTag()))
			}
		} else {
			out.AddParent(err)
		}

		return out
	}

	return nil
}

// ResolveHostname fills Hostname from os.Hostname() when left blank,
// caching the result for the process lifetime.
func (c *Config) ResolveHostname() errs.Error {
	if c.Hostname != "" {
		return nil
	}

	h, err := os.Hostname()
	if err != nil {
		return ErrorHostname.ErrorParent(err)
	}

	c.Hostname = h
	return nil
}

// CanonicalHost returns the Hostname, falling back to the host portion of
// ListenSecure when Hostname and OS resolution are both unavailable.
func (c Config) CanonicalHost() string {
	if c.Hostname != "" {
		return c.Hostname
	}

	if host, _, err := net.SplitHostPort(c.ListenSecure); err == nil && host != "" {
		return host
	}

	return "localhost"
}

// HasChain reports whether a chain certificate file was configured.
func (c Config) HasChain() bool {
	return strings.TrimSpace(c.ChainFile) != ""
}
