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

// Package cache implements the immutable content root snapshot: a
// recursive walk of a content directory into Brotli-precompressed,
// in-memory entries backed by a filesystem artifact cache, looked up by
// site-relative path with encoding negotiation.
//
// The snapshot is a plain map populated once by Build and never mutated
// afterwards, so concurrent lookups need no guard.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/wooshdev/feather/internal/errs"
	"github.com/wooshdev/feather/internal/logger"
)

const (
	ErrorWalk errs.CodeError = iota + errs.MinPkgCache
	ErrorRead
	ErrorCompress
	ErrorArtifact
)

func init() {
	if !errs.ExistInMapMessage(errs.MinPkgCache) {
		errs.RegisterIdFctMessage(errs.MinPkgCache, getMessage)
	}
}

func getMessage(code errs.CodeError) string {
	switch code {
	case ErrorWalk:
		return "cannot walk content root"
	case ErrorRead:
		return "cannot read content file"
	case ErrorCompress:
		return "cannot compress content file"
	case ErrorArtifact:
		return "cannot create compressed-artifact cache root"
	}
	return ""
}

// Encoding identifies a stored variant's transfer-coding.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingBrotli   Encoding = "br"
	EncodingGzip     Encoding = "gzip"
)

// Flags selects which negotiable encodings a lookup is willing to accept.
type Flags uint8

const (
	FlagBrotli Flags = 1 << iota
	FlagGzip
)

// Entry is one snapshot entry per site-relative path, carrying every
// variant built for it. The gzip variant is never populated by Build but
// is tolerated by Lookup so a future producer can fill it without
// changing the negotiation contract.
type Entry struct {
	Path      string
	MediaType string
	Charset   string
	ModTime   time.Time
	Identity  []byte
	Brotli    []byte
	Gzip      []byte
}

// Result is what Lookup returns: the chosen variant plus enough metadata
// to build response headers. The Data buffer is owned by the cache and
// stays valid for the life of the process; callers must not mutate it.
type Result struct {
	Data      []byte
	Encoding  Encoding
	MediaType string
	Charset   string
	ModTime   time.Time
}

// FileCache is the content root snapshot: immutable after Build, safe for
// concurrent Lookup from any number of request-handling goroutines.
type FileCache struct {
	log      logger.FuncLog
	root     string
	quality  int
	window   int
	artifact *artifactStore

	entries     map[string]*Entry
	count       int
	bytes       int64
	fingerprint string
}

// NewFileCache builds an empty FileCache around the given content root
// and compressed-artifact cache root. Call Build to populate it.
func NewFileCache(log logger.FuncLog, contentRoot, cacheRoot string, brotliQuality, brotliWindow int) *FileCache {
	return &FileCache{
		log:      log,
		root:     contentRoot,
		quality:  brotliQuality,
		window:   brotliWindow,
		artifact: newArtifactStore(cacheRoot),
		entries:  map[string]*Entry{},
	}
}

// Build recursively walks the content root, compressing every regular
// file into the snapshot. It replaces any previously built entries.
func (f *FileCache) Build() errs.Error {
	start := time.Now()

	if err := f.artifact.ensure(); err != nil {
		return ErrorArtifact.ErrorParent(err)
	}

	fresh := make(map[string]*Entry)
	sum := sha256.New()

	var count int
	var total, compressed int64

	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil {
			return relErr
		}

		sitePath := "/" + filepath.ToSlash(rel)

		entry, buildErr := f.buildEntry(sitePath, path)
		if buildErr != nil {
			return buildErr
		}

		fresh[sitePath] = entry
		count++
		total += int64(len(entry.Identity))
		compressed += int64(len(entry.Brotli))

		// Walk order is deterministic, so the digest is stable for an
		// unchanged content root.
		sum.Write([]byte(sitePath))
		sum.Write(entry.Identity)

		return nil
	})

	if err != nil {
		return ErrorWalk.ErrorParent(err)
	}

	f.entries = fresh
	f.count = count
	f.bytes = total
	f.fingerprint = hex.EncodeToString(sum.Sum(nil))

	if f.log != nil {
		f.log().Entry(logger.InfoLevel, "content root snapshot built").
			Field("files", count).
			Field("bytes", total).
			Field("brotli_bytes", compressed).
			Field("elapsed", time.Since(start).String()).
			Field("fingerprint", f.fingerprint[:12]).
			Log()
	}

	return nil
}

func (f *FileCache) buildEntry(sitePath, diskPath string) (*Entry, error) {
	data, err := os.ReadFile(diskPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(diskPath)
	if err != nil {
		return nil, err
	}

	mediaType, charset := mediaTypeProperties(sitePath)

	entry := &Entry{
		Path:      sitePath,
		MediaType: mediaType,
		Charset:   charset,
		ModTime:   info.ModTime(),
		Identity:  data,
	}

	if len(data) == 0 {
		return entry, nil
	}

	if br, ok := f.artifact.load(string(EncodingBrotli), sitePath, info.ModTime().Unix()); ok {
		entry.Brotli = br
		return entry, nil
	}

	compressed, cerr := f.compressBrotli(data)
	if cerr != nil {
		if f.log != nil {
			f.log().Entry(logger.WarnLevel, "brotli compression failed").
				Field("path", sitePath).ErrorAdd(true, cerr).Log()
		}
		return entry, nil
	}

	entry.Brotli = compressed

	if serr := f.artifact.save(string(EncodingBrotli), sitePath, compressed); serr != nil && f.log != nil {
		f.log().Entry(logger.WarnLevel, "failed to persist compressed artifact").
			Field("path", sitePath).ErrorAdd(true, serr).Log()
	}

	return entry, nil
}

func (f *FileCache) compressBrotli(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: f.quality,
		LGWin:   f.window,
	})

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Lookup resolves a site-relative path, case-insensitively, returning the
// best variant the caller's Flags accept: Brotli when requested and
// present, else gzip when requested and present, else identity.
// index.html is substituted for "/".
func (f *FileCache) Lookup(path string, flags Flags) (Result, bool) {
	if path == "/" {
		path = "/index.html"
	}

	entry, ok := f.lookupEntry(path)
	if !ok {
		return Result{}, false
	}

	res := Result{
		MediaType: entry.MediaType,
		Charset:   entry.Charset,
		ModTime:   entry.ModTime,
	}

	switch {
	case flags&FlagBrotli != 0 && entry.Brotli != nil:
		res.Data = entry.Brotli
		res.Encoding = EncodingBrotli
	case flags&FlagGzip != 0 && entry.Gzip != nil:
		res.Data = entry.Gzip
		res.Encoding = EncodingGzip
	default:
		res.Data = entry.Identity
		res.Encoding = EncodingIdentity
	}

	return res, true
}

func (f *FileCache) lookupEntry(path string) (*Entry, bool) {
	if e, ok := f.entries[path]; ok {
		return e, true
	}

	for k, v := range f.entries {
		if strings.EqualFold(k, path) {
			return v, true
		}
	}

	return nil, false
}

// Count returns the number of entries in the current snapshot.
func (f *FileCache) Count() int {
	return f.count
}

// Bytes returns the total uncompressed size of the current snapshot.
func (f *FileCache) Bytes() int64 {
	return f.bytes
}

// Fingerprint returns the hex SHA-256 digest over the snapshot's paths
// and uncompressed bytes, empty before Build.
func (f *FileCache) Fingerprint() string {
	return f.fingerprint
}
