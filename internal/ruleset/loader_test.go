package ruleset_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taxrelay.app/relay/internal/ruleset"
	"taxrelay.app/relay/internal/ruleset/rulesettest"
)

var _ = Describe("Loader", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "ruleset.yaml")
		Expect(os.WriteFile(path, []byte(rulesettest.YAML), 0o600)).To(Succeed())
	})

	It("fails fast on a missing file", func() {
		_, err := ruleset.NewLoaderWithEnv(filepath.Join(dir, "missing.yaml"), rulesettest.Getenv)
		Expect(err).To(MatchError(ContainSubstring("read ruleset")))
	})

	It("keeps the previous snapshot when a reload is invalid", func() {
		loader, err := ruleset.NewLoaderWithEnv(path, rulesettest.Getenv)
		Expect(err).ToNot(HaveOccurred())
		before := loader.Current()

		Expect(os.WriteFile(path, []byte("version: \"\"\n"), 0o600)).To(Succeed())
		_, err = loader.Reload()
		Expect(err).To(HaveOccurred())
		Expect(loader.Current()).To(BeIdenticalTo(before))
	})

	It("notifies subscribers after a successful reload", func() {
		loader, err := ruleset.NewLoaderWithEnv(path, rulesettest.Getenv)
		Expect(err).ToNot(HaveOccurred())

		var seen []string
		loader.OnChange(func(rs *ruleset.Ruleset) { seen = append(seen, rs.Version) })

		updated := strings.Replace(rulesettest.YAML, `version: "test"`, `version: "v2"`, 1)
		Expect(os.WriteFile(path, []byte(updated), 0o600)).To(Succeed())

		rs, err := loader.Reload()
		Expect(err).ToNot(HaveOccurred())
		Expect(rs.Version).To(Equal("v2"))
		Expect(seen).To(Equal([]string{"v2"}))
	})

	It("hot reloads when the file changes", func() {
		loader, err := ruleset.NewLoaderWithEnv(path, rulesettest.Getenv)
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stop, err := loader.Watch(ctx)
		Expect(err).ToNot(HaveOccurred())
		defer stop()

		updated := strings.Replace(rulesettest.YAML, `version: "test"`, `version: "hot"`, 1)
		Expect(os.WriteFile(path, []byte(updated), 0o600)).To(Succeed())

		Eventually(func() string { return loader.Current().Version }, 5*time.Second, 50*time.Millisecond).Should(Equal("hot"))
	})
})
