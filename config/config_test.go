package config_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wooshdev/feather/config"
)

func TestFeatherConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

func validConfig() config.Config {
	c := config.Default()
	c.ContentRoot = "/srv/www"
	c.CertFile = "/etc/feather/cert.pem"
	c.KeyFile = "/etc/feather/key.pem"
	return c
}

var _ = Describe("[TC-CFG] Config", func() {
	It("[TC-CFG-001] validates a complete configuration", func() {
		Expect(validConfig().Validate()).To(BeNil())
	})

	It("[TC-CFG-002] rejects a missing cert file", func() {
		c := validConfig()
		c.CertFile = ""
		Expect(c.Validate()).ToNot(BeNil())
	})

	It("[TC-CFG-003] rejects a malformed listen address", func() {
		c := validConfig()
		c.ListenSecure = "not a listen address"
		Expect(c.Validate()).ToNot(BeNil())
	})

	It("[TC-CFG-004] resolves a blank hostname from the OS", func() {
		c := validConfig()
		c.Hostname = ""
		Expect(c.ResolveHostname()).To(BeNil())
		Expect(c.Hostname).ToNot(BeEmpty())
	})

	It("[TC-CFG-005] reports the configured hostname as canonical", func() {
		c := validConfig()
		c.Hostname = "example.test"
		Expect(c.CanonicalHost()).To(Equal("example.test"))
	})

	It("[TC-CFG-006] falls back to the secure listen host when unset", func() {
		c := validConfig()
		c.Hostname = ""
		c.ListenSecure = "edge.internal:443"
		Expect(c.CanonicalHost()).To(Equal("edge.internal"))
	})

	It("[TC-CFG-007] reports whether a chain file is configured", func() {
		c := validConfig()
		Expect(c.HasChain()).To(BeFalse())
		c.ChainFile = "/etc/feather/chain.pem"
		Expect(c.HasChain()).To(BeTrue())
	})
})
