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

package cache

import (
	"os"
	"path/filepath"
)

// artifactStore is the filesystem-backed compressed-artifact cache:
// compressed variants are written under
// <root>/<encoding>/<site-relative-path> and reused across restarts as
// long as the artifact's mtime is not older than the source file's.
type artifactStore struct {
	root string
}

func newArtifactStore(root string) *artifactStore {
	return &artifactStore{root: root}
}

// ensure creates the cache root and its per-encoding subdirectories up
// front. save repeats the MkdirAll per artifact anyway.
func (a *artifactStore) ensure() error {
	for _, enc := range []Encoding{EncodingIdentity, EncodingBrotli, EncodingGzip} {
		if err := os.MkdirAll(filepath.Join(a.root, string(enc)), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (a *artifactStore) path(encoding, sitePath string) string {
	return filepath.Join(a.root, encoding, filepath.FromSlash(sitePath))
}

// load returns the cached artifact bytes if present and not older than
// sourceModTime.
func (a *artifactStore) load(encoding, sitePath string, sourceModTime int64) ([]byte, bool) {
	p := a.path(encoding, sitePath)

	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}

	if info.ModTime().Unix() < sourceModTime {
		return nil, false
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}

	return data, true
}

// save writes an artifact to the filesystem cache, creating parent
// directories as needed. A failure to persist is non-fatal: the in-memory
// entry is still usable, it just won't survive a restart.
func (a *artifactStore) save(encoding, sitePath string, data []byte) error {
	p := a.path(encoding, sitePath)

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	return os.WriteFile(p, data, 0o644)
}
