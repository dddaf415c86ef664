package receipt

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ArchivePath", func() {
	It("buckets by year and month", func() {
		date := time.Date(2026, 1, 26, 14, 30, 0, 0, time.UTC)
		Expect(ArchivePath("Ablage", &date, "FFFrische-Center")).To(Equal(
			filepath.Join("Ablage", "2026", "01", "Kassenbon_2026-01-26_FFFrische-Center.pdf")))
	})

	It("files undated receipts under Unbekannt", func() {
		Expect(ArchivePath("Ablage", nil, "REWE")).To(Equal(
			filepath.Join("Ablage", "Unbekannt", "Unbekannt", "Kassenbon_kein-Datum_REWE.pdf")))
	})
})

var _ = DescribeTable("SanitizeStoreName",
	func(in, want string) {
		Expect(SanitizeStoreName(in)).To(Equal(want))
	},
	Entry("keeps word characters, hyphen, period and space", "Sczygiel Pfrang e.K.", "Sczygiel Pfrang e.K."),
	Entry("keeps umlauts", "Bäckerei Müller", "Bäckerei Müller"),
	Entry("replaces separators", "Rossmann/Drogerie", "Rossmann_Drogerie"),
	Entry("collapses runs of underscores", "A & & B", "A _ _ B"),
	Entry("collapses adjacent replacements", "A&&B", "A_B"),
	Entry("trims underscores and spaces", " *EDEKA* ", "EDEKA"),
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir     string
		archiveDir string
		storage    *LocalStorage
		date       time.Time
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		archiveDir = filepath.Join(tmpDir, "Ablage")
		var err error
		storage, err = NewLocalStorage(archiveDir, filepath.Join(tmpDir, "Fehler"))
		Expect(err).NotTo(HaveOccurred())
		date = time.Date(2026, 1, 26, 14, 30, 0, 0, time.UTC)
	})

	It("creates both directories", func() {
		Expect(archiveDir).To(BeADirectory())
		Expect(filepath.Join(tmpDir, "Fehler")).To(BeADirectory())
	})

	Describe("Archive", func() {
		var (
			path string
			err  error
		)

		JustBeforeEach(func() {
			path, err = storage.Archive([]byte("first"), &date, "FFFrische-Center")
		})

		When("the name is free", func() {
			It("returns the path relative to the archive root", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(path).To(Equal("2026/01/Kassenbon_2026-01-26_FFFrische-Center.pdf"))
			})

			It("writes the file", func() {
				data, readErr := os.ReadFile(filepath.Join(archiveDir, filepath.FromSlash(path)))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("first"))
			})
		})

		When("the name is taken", func() {
			BeforeEach(func() {
				_, archiveErr := storage.Archive([]byte("existing"), &date, "FFFrische-Center")
				Expect(archiveErr).NotTo(HaveOccurred())
			})

			It("appends _2 before the extension", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(path).To(Equal("2026/01/Kassenbon_2026-01-26_FFFrische-Center_2.pdf"))
			})

			It("leaves the existing file untouched", func() {
				data, readErr := storage.Get("2026/01/Kassenbon_2026-01-26_FFFrische-Center.pdf")
				Expect(readErr).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("existing"))
			})

			It("keeps counting", func() {
				third, archiveErr := storage.Archive([]byte("third"), &date, "FFFrische-Center")
				Expect(archiveErr).NotTo(HaveOccurred())
				Expect(third).To(Equal("2026/01/Kassenbon_2026-01-26_FFFrische-Center_3.pdf"))
			})
		})

		It("hands out distinct names to concurrent writers", func() {
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				paths = map[string]bool{path: true}
			)
			for range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					p, archiveErr := storage.Archive([]byte("x"), &date, "FFFrische-Center")
					Expect(archiveErr).NotTo(HaveOccurred())
					mu.Lock()
					paths[p] = true
					mu.Unlock()
				}()
			}
			wg.Wait()
			Expect(paths).To(HaveLen(9))
		})
	})

	Describe("Quarantine", func() {
		It("writes into the quarantine directory and never overwrites", func() {
			first, err := storage.Quarantine("/inbox/broken.pdf", []byte("a"))
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal(filepath.Join(tmpDir, "Fehler", "broken.pdf")))

			second, err := storage.Quarantine("broken.pdf", []byte("b"))
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(filepath.Join(tmpDir, "Fehler", "broken_2.pdf")))
		})
	})

	Describe("Get", func() {
		When("file does not exist", func() {
			It("should return an error", func() {
				_, err := storage.Get("2026/01/missing.pdf")
				Expect(err).To(HaveOccurred())
			})
		})

		When("the path leaves the archive", func() {
			It("should return an error", func() {
				_, err := storage.Get("../Fehler/broken.pdf")
				Expect(err).To(MatchError(ContainSubstring("invalid archive path")))
			})
		})
	})

	Describe("Delete", func() {
		It("removes an archived file", func() {
			path, err := storage.Archive([]byte("x"), nil, "REWE")
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("Unbekannt/Unbekannt/Kassenbon_kein-Datum_REWE.pdf"))

			Expect(storage.Delete(path)).To(Succeed())
			Expect(filepath.Join(archiveDir, filepath.FromSlash(path))).NotTo(BeAnExistingFile())
		})

		When("file does not exist", func() {
			It("should return an error", func() {
				Expect(storage.Delete("nope.pdf")).NotTo(Succeed())
			})
		})
	})
})
