package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/sseview/pkg/dotdir"
)

var _ = Describe("dotdir", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())

		// Resolve symlinks so paths match filepath.Abs results
		// (e.g. on macOS /var -> /private/var).
		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	chdir := func(dir string) {
		origDir, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(dir)).To(Succeed())
		DeferCleanup(func() { os.Chdir(origDir) })
	}

	setHome := func(dir string) {
		origHome := os.Getenv("HOME")
		Expect(os.Setenv("HOME", dir)).To(Succeed())
		DeferCleanup(func() { os.Setenv("HOME", origHome) })
	}

	Describe("Target", func() {
		It("creates the override directory if it doesn't exist", func() {
			dir := filepath.Join(tmpDir, "newdir")
			result, err := m.Target(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(dir))

			info, err := os.Stat(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("returns the override dir even when a local .sseview dir exists", func() {
			Expect(os.Mkdir(filepath.Join(tmpDir, dotdir.DirName), 0o755)).To(Succeed())
			chdir(tmpDir)

			overrideDir := filepath.Join(tmpDir, "override")
			result, err := m.Target(overrideDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(overrideDir))
		})

		It("returns the local .sseview dir when it exists and no override is provided", func() {
			local := filepath.Join(tmpDir, dotdir.DirName)
			Expect(os.Mkdir(local, 0o755)).To(Succeed())
			chdir(tmpDir)

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(local))
		})

		It("falls back to the home .sseview dir", func() {
			work := filepath.Join(tmpDir, "work")
			home := filepath.Join(tmpDir, "home")
			Expect(os.Mkdir(work, 0o755)).To(Succeed())
			Expect(os.MkdirAll(filepath.Join(home, dotdir.DirName), 0o755)).To(Succeed())
			chdir(work)
			setHome(home)

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(filepath.Join(home, dotdir.DirName)))
		})

		It("returns empty string when no .sseview dir exists anywhere", func() {
			emptyDir := filepath.Join(tmpDir, "empty")
			Expect(os.Mkdir(emptyDir, 0o755)).To(Succeed())
			chdir(emptyDir)
			setHome(emptyDir)

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeEmpty())
		})
	})

	Describe("Init", func() {
		It("creates the directory", func() {
			dir, existed, err := m.Init(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeFalse())
			Expect(dir).To(Equal(filepath.Join(tmpDir, dotdir.DirName)))
			Expect(dir).To(BeADirectory())
		})

		It("reports an existing directory", func() {
			_, _, err := m.Init(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, existed, err := m.Init(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeTrue())
		})

		It("fails when a file is in the way", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, dotdir.DirName), nil, 0o600)).To(Succeed())

			_, _, err := m.Init(tmpDir)
			Expect(err).To(MatchError(ContainSubstring("not a directory")))
		})
	})
})
