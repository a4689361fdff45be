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

// Command feather serves a precompressed snapshot of a content root over
// TLS, with a plaintext listener answering every request with a permanent
// redirect to the secure origin.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wooshdev/feather/config"
	"github.com/wooshdev/feather/internal/logger"
	"github.com/wooshdev/feather/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "feather",
		Short:         "static-content HTTPS server with precompressed in-memory snapshot",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v)
		},
	}

	def := config.Default()

	flags := cmd.Flags()
	flags.String("config", "", "configuration file to load before flags apply")
	flags.String("content-root", def.ContentRoot, "directory snapshotted into the file cache at startup")
	flags.String("cache-root", def.CacheRoot, "filesystem root for compressed artifacts")
	flags.String("cert", "", "PEM server certificate")
	flags.String("chain", "", "PEM chain certificate")
	flags.String("key", "", "PEM private key")
	flags.String("listen-secure", def.ListenSecure, "TLS listen address")
	flags.String("listen-redirect", def.ListenRedirect, "plaintext redirect listen address")
	flags.String("hostname", "", "canonical host name for redirect Location headers (default: resolved at startup)")
	flags.StringSlice("cipher-suites", nil, "TLS 1.2 cipher suites by IANA name (default: library defaults)")
	flags.Int("max-workers", def.MaxWorkers, "connection worker slots")
	flags.Int("brotli-quality", def.BrotliQuality, "brotli quality (0-11)")
	flags.Int("brotli-window", def.BrotliWindow, "brotli window bits (10-24)")
	flags.Bool("json-log", false, "log in JSON instead of text")

	for flag, key := range map[string]string{
		"content-root":    "content_root",
		"cache-root":      "cache_root",
		"cert":            "cert_file",
		"chain":           "chain_file",
		"key":             "key_file",
		"listen-secure":   "listen_secure",
		"listen-redirect": "listen_redirect",
		"hostname":        "hostname",
		"cipher-suites":   "cipher_suites",
		"max-workers":     "max_workers",
		"brotli-quality":  "brotli_quality",
		"brotli-window":   "brotli_window",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	v.SetEnvPrefix("FEATHER")
	v.AutomaticEnv()

	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	if file, _ := cmd.Flags().GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	log := logger.New("feather")
	if jsonLog, _ := cmd.Flags().GetBool("json-log"); jsonLog {
		log.SetFormat(logger.JSONFormat)
	}

	funcLog := func() logger.Logger { return log }

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	srv := server.New(cfg, funcLog)

	if err := srv.Listen(); err != nil {
		return err
	}

	// Idle until interrupted: SIGINT/SIGTERM/SIGQUIT initiate shutdown.
	// SIGPIPE is deliberately not in the set: the runtime already
	// surfaces a dead peer as a write error on the affected connection.
	srv.WaitNotify(context.Background())

	return nil
}
