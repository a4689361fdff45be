package cache_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wooshdev/feather/cache"
)

func TestFeatherCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cache Suite")
}

func writeFile(t GinkgoTInterface, dir, name, content string) {
	path := filepath.Join(dir, name)
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
}

var _ = Describe("[TC-FC] FileCache", func() {
	var contentRoot, cacheRoot string
	var fc *cache.FileCache

	BeforeEach(func() {
		contentRoot = GinkgoT().TempDir()
		cacheRoot = GinkgoT().TempDir()

		writeFile(GinkgoT(), contentRoot, "index.html", "<html><body>hello</body></html>")
		writeFile(GinkgoT(), contentRoot, "css/site.css", "body { color: red; }")
		writeFile(GinkgoT(), contentRoot, "robots.txt", "User-agent: *\n")

		fc = cache.NewFileCache(nil, contentRoot, cacheRoot, 5, 22)
		Expect(fc.Build()).To(BeNil())
	})

	It("[TC-FC-001] builds one entry per regular file", func() {
		Expect(fc.Count()).To(Equal(3))
	})

	It("[TC-FC-002] serves the identity variant by default", func() {
		res, ok := fc.Lookup("/css/site.css", 0)
		Expect(ok).To(BeTrue())
		Expect(res.Encoding).To(Equal(cache.EncodingIdentity))
		Expect(string(res.Data)).To(ContainSubstring("color: red"))
		Expect(res.MediaType).To(Equal("text/css"))
		Expect(res.Charset).To(Equal("utf-8"))
	})

	It("[TC-FC-003] prefers Brotli when requested and present", func() {
		res, ok := fc.Lookup("/index.html", cache.FlagBrotli)
		Expect(ok).To(BeTrue())
		Expect(res.Encoding).To(Equal(cache.EncodingBrotli))
		Expect(res.Data).ToNot(BeEmpty())
	})

	It("[TC-FC-004] substitutes index.html for the root path", func() {
		res, ok := fc.Lookup("/", 0)
		Expect(ok).To(BeTrue())
		Expect(res.MediaType).To(Equal("text/html"))
	})

	It("[TC-FC-005] resolves paths case-insensitively", func() {
		_, ok := fc.Lookup("/ROBOTS.TXT", 0)
		Expect(ok).To(BeTrue())
	})

	It("[TC-FC-012] returns the same entry for upper- and lower-cased paths", func() {
		upper, okU := fc.Lookup("/ROBOTS.TXT", 0)
		lower, okL := fc.Lookup("/robots.txt", 0)
		Expect(okU).To(BeTrue())
		Expect(okL).To(BeTrue())
		Expect(upper.ModTime).To(Equal(lower.ModTime))
		Expect(string(upper.Data)).To(Equal(string(lower.Data)))
	})

	It("[TC-FC-013] resolves / and /index.html to the same entry", func() {
		root, okR := fc.Lookup("/", cache.FlagBrotli)
		named, okN := fc.Lookup("/index.html", cache.FlagBrotli)
		Expect(okR).To(BeTrue())
		Expect(okN).To(BeTrue())
		Expect(string(root.Data)).To(Equal(string(named.Data)))
		Expect(root.ModTime).To(Equal(named.ModTime))
	})

	It("[TC-FC-014] keeps an empty file identity-only", func() {
		writeFile(GinkgoT(), contentRoot, "empty.txt", "")
		Expect(fc.Build()).To(BeNil())

		res, ok := fc.Lookup("/empty.txt", cache.FlagBrotli)
		Expect(ok).To(BeTrue())
		Expect(res.Encoding).To(Equal(cache.EncodingIdentity))
		Expect(res.Data).To(BeEmpty())
	})

	It("[TC-FC-015] serves concurrent lookups without coordination", func() {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				for j := 0; j < 100; j++ {
					res, ok := fc.Lookup("/index.html", cache.FlagBrotli)
					Expect(ok).To(BeTrue())
					Expect(res.Data).ToNot(BeEmpty())
				}
			}()
		}
		wg.Wait()
	})

	It("[TC-FC-006] reports a miss for an unknown path", func() {
		_, ok := fc.Lookup("/does-not-exist", 0)
		Expect(ok).To(BeFalse())
	})

	It("[TC-FC-007] falls back to application/octet-stream for unknown extensions", func() {
		writeFile(GinkgoT(), contentRoot, "data.bin", "\x00\x01\x02")
		Expect(fc.Build()).To(BeNil())

		res, ok := fc.Lookup("/data.bin", 0)
		Expect(ok).To(BeTrue())
		Expect(res.MediaType).To(Equal("application/octet-stream"))
		Expect(res.Charset).To(BeEmpty())
	})

	It("[TC-FC-008] round-trips the Brotli variant back to the source bytes", func() {
		res, ok := fc.Lookup("/index.html", cache.FlagBrotli)
		Expect(ok).To(BeTrue())
		Expect(res.Encoding).To(Equal(cache.EncodingBrotli))

		plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(res.Data)))
		Expect(err).To(Succeed())
		Expect(string(plain)).To(Equal("<html><body>hello</body></html>"))
	})

	It("[TC-FC-009] reuses a fresh on-disk artifact instead of recompressing", func() {
		// A fake artifact newer than the source must be loaded verbatim.
		artifact := filepath.Join(cacheRoot, "br", "robots.txt")
		Expect(os.MkdirAll(filepath.Dir(artifact), 0o755)).To(Succeed())
		Expect(os.WriteFile(artifact, []byte("canned-artifact"), 0o644)).To(Succeed())

		future := time.Now().Add(time.Hour)
		Expect(os.Chtimes(artifact, future, future)).To(Succeed())

		Expect(fc.Build()).To(BeNil())

		res, ok := fc.Lookup("/robots.txt", cache.FlagBrotli)
		Expect(ok).To(BeTrue())
		Expect(string(res.Data)).To(Equal("canned-artifact"))
	})

	It("[TC-FC-011] keeps the build fingerprint stable for an unchanged root", func() {
		first := fc.Fingerprint()
		Expect(first).ToNot(BeEmpty())

		Expect(fc.Build()).To(BeNil())
		Expect(fc.Fingerprint()).To(Equal(first))

		writeFile(GinkgoT(), contentRoot, "extra.txt", "more")
		Expect(fc.Build()).To(BeNil())
		Expect(fc.Fingerprint()).ToNot(Equal(first))
	})

	It("[TC-FC-010] ignores a stale on-disk artifact", func() {
		artifact := filepath.Join(cacheRoot, "br", "robots.txt")
		Expect(os.MkdirAll(filepath.Dir(artifact), 0o755)).To(Succeed())
		Expect(os.WriteFile(artifact, []byte("stale-artifact"), 0o644)).To(Succeed())

		past := time.Now().Add(-time.Hour)
		Expect(os.Chtimes(artifact, past, past)).To(Succeed())

		Expect(fc.Build()).To(BeNil())

		res, ok := fc.Lookup("/robots.txt", cache.FlagBrotli)
		Expect(ok).To(BeTrue())
		Expect(string(res.Data)).ToNot(Equal("stale-artifact"))
	})
})
