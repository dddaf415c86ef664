package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/kassenbon/analyzer/internal/classify"
	"github.com/kassenbon/analyzer/internal/scanning"
)

const integrationReceipt = `FFFrische-Center
Hauptstraße 12
80331 München
Tel. 089/1234
Preis EUR
BANANEN 1,99 B
ROTWEIN TROCKEN 4,99 A
GEROLSTEINER MEDIUM 0,49 € x 6 2,94 B
PFAND 0,25 € x 6 1,50 B
LEERGUT -1,75*B
SUMME € 9,67
Kartenzahlung 9,67
Mastercard
Datum 26.01.26 14:30
`

// textByContent stands in for the PDF text layer: the "PDF" bytes are looked
// up verbatim.
type textByContent map[string]string

func (t textByContent) ExtractText(data []byte) (string, error) {
	text, ok := t[string(data)]
	if !ok {
		return "", errors.New("no text layer")
	}
	return text, nil
}

var _ = Describe("Integration", func() {
	for _, backend := range storeBackends {
		Describe(backend.name, func() {
			var (
				root     string
				db       DB
				store    *LocalStorage
				registry *classify.Registry
				service  *Service
				server   *Server
				ghServer *ghttp.Server
			)

			do := func(req *http.Request) *http.Response {
				ghServer.AppendHandlers(server.ServeHTTP)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				return resp
			}

			get := func(path string, v any) int {
				req, err := http.NewRequest(http.MethodGet, ghServer.URL()+path, nil)
				Expect(err).NotTo(HaveOccurred())
				resp := do(req)
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				if v != nil {
					Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
				}
				return resp.StatusCode
			}

			post := func(path, contentType string, body io.Reader, v any) int {
				req, err := http.NewRequest(http.MethodPost, ghServer.URL()+path, body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", contentType)
				resp := do(req)
				defer resp.Body.Close()
				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				if v != nil {
					Expect(json.Unmarshal(data, v)).To(Succeed(), string(data))
				}
				return resp.StatusCode
			}

			upload := func(filename string, data []byte, v any) int {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				part, err := writer.CreateFormFile("file", filename)
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write(data)
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.Close()).To(Succeed())
				return post("/api/upload", writer.FormDataContentType(), body, v)
			}

			BeforeEach(func() {
				root = GinkgoT().TempDir()

				var err error
				db, err = backend.open(filepath.Join(root, "kassenbon.db"))
				Expect(err).NotTo(HaveOccurred())

				store, err = NewLocalStorage(filepath.Join(root, "Ablage"), filepath.Join(root, "Fehler"))
				Expect(err).NotTo(HaveOccurred())

				registry, err = classify.NewRegistry(filepath.Join(root, "categories.json"))
				Expect(err).NotTo(HaveOccurred())

				extractor := textByContent{
					"%PDF-a": integrationReceipt,
					"%PDF-b": integrationReceipt,
				}
				scanner := scanning.NewPDFScanner(extractor, scanning.NewParser(registry, scanning.NaturalDates{}))

				service = NewService(db, scanner, store, registry, filepath.Join(root, "PDF"))
				server = NewServer(service, BasicAuth{})
				ghServer = ghttp.NewServer()
			})

			AfterEach(func() {
				ghServer.Close()
				db.Close()
			})

			It("uploads, archives and reports a receipt", func() {
				var created UploadResult
				Expect(upload("scan.pdf", []byte("%PDF-a"), &created)).To(Equal(http.StatusCreated))
				Expect(created.PDFPath).To(Equal("2026/01/Kassenbon_2026-01-26_FFFrische-Center.pdf"))
				Expect(filepath.Join(root, "Ablage", "2026", "01", "Kassenbon_2026-01-26_FFFrische-Center.pdf")).To(BeAnExistingFile())

				var r Receipt
				Expect(get("/api/receipts/1", &r)).To(Equal(http.StatusOK))
				Expect(r.StoreName).To(Equal("FFFrische-Center"))
				Expect(r.Total.StringFixed(2)).To(Equal("9.67"))
				Expect(r.Items).To(HaveLen(5))
				Expect(r.Items[1].Category).To(Equal("Beverages - Wine"))
				Expect(r.Items[3].Category).To(Equal(classify.CategorySystem))

				var stats []CategoryTotal
				Expect(get("/api/statistics", &stats)).To(Equal(http.StatusOK))
				Expect(stats).To(HaveLen(3))
				Expect(stats[0].Category).To(Equal("Beverages - Wine"))
				Expect(stats[0].TotalSpent.StringFixed(2)).To(Equal("4.99"))

				var dash Dashboard
				Expect(get("/api/dashboard", &dash)).To(Equal(http.StatusOK))
				Expect(dash.TotalSpent.StringFixed(2)).To(Equal("9.92"))
				Expect(dash.TotalReceipts).To(Equal(1))
				Expect(dash.TotalItems).To(Equal(3))
			})

			It("rejects a re-upload of the same file but keeps a copy", func() {
				Expect(upload("scan.pdf", []byte("%PDF-a"), nil)).To(Equal(http.StatusCreated))

				var dup UploadResult
				Expect(upload("again.pdf", []byte("%PDF-a"), &dup)).To(Equal(http.StatusConflict))
				Expect(dup.Duplicate).To(BeTrue())
				Expect(dup.ExistingID).To(Equal(int64(1)))
				Expect(dup.PDFPath).To(Equal("2026/01/Kassenbon_2026-01-26_FFFrische-Center_2.pdf"))

				var receipts []*Receipt
				Expect(get("/api/receipts", &receipts)).To(Equal(http.StatusOK))
				Expect(receipts).To(HaveLen(1))
			})

			It("quarantines unreadable uploads", func() {
				Expect(upload("kaputt.pdf", []byte("garbage"), nil)).To(Equal(http.StatusUnprocessableEntity))
				Expect(filepath.Join(root, "Fehler", "kaputt.pdf")).To(BeAnExistingFile())
			})

			It("imports the inbox and skips known purchases", func() {
				Expect(upload("scan.pdf", []byte("%PDF-a"), nil)).To(Equal(http.StatusCreated))

				inbox := filepath.Join(root, "PDF")
				Expect(os.MkdirAll(inbox, 0755)).To(Succeed())
				Expect(os.WriteFile(filepath.Join(inbox, "b.pdf"), []byte("%PDF-b"), 0644)).To(Succeed())
				Expect(os.WriteFile(filepath.Join(inbox, "c.pdf"), []byte("unreadable"), 0644)).To(Succeed())

				var check struct {
					Count int      `json:"count"`
					Files []string `json:"files"`
				}
				Expect(get("/api/import/check", &check)).To(Equal(http.StatusOK))
				Expect(check.Files).To(Equal([]string{"b.pdf", "c.pdf"}))

				var run ImportRun
				Expect(post("/api/import/start", "application/json", nil, &run)).To(Equal(http.StatusOK))
				Expect(run.Summary).To(Equal(ImportSummary{Total: 2, Duplicate: 1, Failed: 1}))
				Expect(run.Results[0].Status).To(Equal(ImportStatusDuplicate))
				Expect(run.Results[1].Status).To(Equal(ImportStatusError))

				Expect(filepath.Join(root, "Fehler", "c.pdf")).To(BeAnExistingFile())
				entries, err := os.ReadDir(inbox)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(BeEmpty())
			})

			It("reclassifies stored items after the rules change", func() {
				Expect(upload("scan.pdf", []byte("%PDF-a"), nil)).To(Equal(http.StatusCreated))

				rules := `{"Obst": ["banan"], "Getränke": ["wein", "gerolstein"], "Other": []}`
				var saved map[string]any
				Expect(post("/api/categories", "application/json", strings.NewReader(rules), &saved)).To(Equal(http.StatusOK))
				Expect(filepath.Join(root, "categories.json")).To(BeAnExistingFile())

				var preview ReclassifyResult
				Expect(post("/api/categories/reclassify?dry_run=true", "application/json", nil, &preview)).To(Equal(http.StatusOK))
				Expect(preview.Updated).To(Equal(3))

				var res ReclassifyResult
				Expect(post("/api/categories/reclassify", "application/json", nil, &res)).To(Equal(http.StatusOK))
				Expect(res.Total).To(Equal(5))
				Expect(res.Updated).To(Equal(3))

				var stats []CategoryTotal
				Expect(get("/api/statistics", &stats)).To(Equal(http.StatusOK))
				Expect(stats).To(HaveLen(2))
				Expect(stats[0].Category).To(Equal("Getränke"))
				Expect(stats[0].TotalSpent.StringFixed(2)).To(Equal("7.93"))
			})

			It("keeps built-in classification when the default document is saved back", func() {
				var doc json.RawMessage
				Expect(get("/api/categories", &doc)).To(Equal(http.StatusOK))
				Expect(post("/api/categories", "application/json", bytes.NewReader(doc), nil)).To(Equal(http.StatusOK))
				Expect(registry.Snapshot().Custom).To(BeFalse())

				Expect(upload("scan.pdf", []byte("%PDF-a"), nil)).To(Equal(http.StatusCreated))
				var r Receipt
				Expect(get("/api/receipts/1", &r)).To(Equal(http.StatusOK))
				Expect(r.Items[1].Category).To(Equal("Beverages - Wine"))
			})

			It("deletes a receipt together with its archived PDF", func() {
				var created UploadResult
				Expect(upload("scan.pdf", []byte("%PDF-a"), &created)).To(Equal(http.StatusCreated))

				req, err := http.NewRequest(http.MethodDelete, ghServer.URL()+"/api/receipts/1", nil)
				Expect(err).NotTo(HaveOccurred())
				resp := do(req)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

				Expect(filepath.Join(root, "Ablage", filepath.FromSlash(created.PDFPath))).NotTo(BeAnExistingFile())
				Expect(get("/api/receipts/1", nil)).To(Equal(http.StatusNotFound))

				// the hash is free again
				Expect(upload("scan.pdf", []byte("%PDF-a"), nil)).To(Equal(http.StatusCreated))
			})

			It("exports the archive and runs an import directly", func() {
				_, err := service.ProcessUpload("scan.pdf", []byte("%PDF-a"))
				Expect(err).NotTo(HaveOccurred())
				data, err := service.ExportXLSX(Filter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data[:2])).To(Equal("PK"))

				run, err := service.ImportInbox(context.Background())
				Expect(err).NotTo(HaveOccurred())
				Expect(run.Results).To(BeEmpty())
			})
		})
	}
})
