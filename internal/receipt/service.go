package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kassenbon/analyzer/internal/classify"
	"github.com/kassenbon/analyzer/internal/scanning"
)

// DefaultHistoryLimit is the number of receipts returned when no limit is given.
const DefaultHistoryLimit = 20

// ErrNotPDF is returned for uploads that are not PDF files.
var ErrNotPDF = errors.New("only PDF files are accepted")

// IDGenerator generates identifiers for import runs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// RuleStore is the active category rule table. *classify.Registry implements it.
type RuleStore interface {
	Classify(itemName string) string
	Snapshot() *classify.Snapshot
	Save(rs classify.RuleSet) error
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	rules       RuleStore
	inbox       string
	workers     int
	idGenerator IDGenerator
	timeSource  TimeSource

	importMu sync.Mutex // one batch import at a time
}

// NewService creates a new Service with default ID generator and time source.
// inbox is the directory batch imports read from.
func NewService(db DB, scanner scanning.Scanner, storage Storage, rules RuleStore, inbox string) *Service {
	return NewServiceWithDeps(db, scanner, storage, rules, inbox, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, rules RuleStore, inbox string, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		rules:       rules,
		inbox:       inbox,
		workers:     defaultImportWorkers,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SetImportWorkers sets how many inbox files are extracted concurrently.
func (s *Service) SetImportWorkers(n int) {
	if n < 1 {
		n = 1
	}
	s.workers = n
}

// Inbox returns the batch import directory.
func (s *Service) Inbox() string {
	return s.inbox
}

// ContentHash is the hex SHA-256 of a source file.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// newReceipt converts scanner output into a storable receipt.
func newReceipt(data *scanning.ReceiptData, hash string) *Receipt {
	r := &Receipt{
		StoreName:     data.StoreName,
		StoreAddress:  data.StoreAddress,
		Date:          data.Date,
		Total:         data.Total,
		PaymentMethod: data.PaymentMethod,
		PDFHash:       hash,
		Items:         make([]Item, 0, len(data.Items)),
	}
	for _, it := range data.Items {
		r.Items = append(r.Items, Item{
			Name:        it.Name,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			TotalPrice:  it.TotalPrice,
			TaxCategory: it.TaxCategory,
			Category:    it.Category,
		})
	}
	return r
}

// scan runs the scanner and makes sure failures carry ErrExtraction.
func (s *Service) scan(data []byte) (*scanning.ReceiptData, error) {
	rd, err := s.scanner.ScanReceipt(data)
	if err != nil {
		if !errors.Is(err, scanning.ErrExtraction) {
			err = fmt.Errorf("%w: %w", scanning.ErrExtraction, err)
		}
		return nil, err
	}
	return rd, nil
}

// UploadResult is the outcome of ProcessUpload.
type UploadResult struct {
	Receipt    *Receipt `json:"receipt,omitempty"`
	Duplicate  bool     `json:"duplicate"`
	ExistingID int64    `json:"existing_id,omitempty"`
	PDFPath    string   `json:"pdf_path"`
}

// ProcessUpload stores one uploaded PDF. A file whose content hash is already
// known is archived but not inserted again and reported as a duplicate. A file
// that cannot be read is quarantined and the error wraps scanning.ErrExtraction.
func (s *Service) ProcessUpload(filename string, data []byte) (*UploadResult, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, ErrNotPDF
	}
	hash := ContentHash(data)

	existingID, found, err := s.db.FindByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate: %w", err)
	}
	if found {
		return s.archiveDuplicate(filename, data, hash, existingID)
	}

	rd, err := s.scan(data)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"file", filename,
			"file_size", len(data),
			"error", err,
		)
		if target, qErr := s.storage.Quarantine(filename, data); qErr != nil {
			slog.Error("Failed to quarantine file", "file", filename, "error", qErr)
		} else {
			slog.Warn("File quarantined", "file", filename, "target", target)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	r := newReceipt(rd, hash)
	r.CreatedAt = s.timeSource.Now().UTC()
	savedPath, err := s.storage.Archive(data, r.Date, r.StoreName)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	r.PDFPath = savedPath

	res, err := s.db.InsertReceipt(r, DedupByHash)
	if err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "path", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	if res.Duplicate {
		// Another upload of the same bytes won the race. The copy stays archived.
		slog.Warn("Duplicate receipt", "file", filename, "hash", hash, "receipt_id", res.ExistingID, "target", savedPath)
		return &UploadResult{Duplicate: true, ExistingID: res.ExistingID, PDFPath: savedPath}, nil
	}

	slog.Info("Receipt stored",
		"file", filename,
		"receipt_id", r.ID,
		"store", r.StoreName,
		"items", len(r.Items),
		"target", savedPath,
	)
	return &UploadResult{Receipt: r, PDFPath: savedPath}, nil
}

// archiveDuplicate files a known upload under the name of the receipt it
// duplicates.
func (s *Service) archiveDuplicate(filename string, data []byte, hash string, existingID int64) (*UploadResult, error) {
	existing, err := s.db.GetReceipt(existingID)
	if err != nil {
		return nil, fmt.Errorf("getting duplicate receipt: %w", err)
	}
	savedPath, err := s.storage.Archive(data, existing.Date, existing.StoreName)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	slog.Warn("Duplicate receipt", "file", filename, "hash", hash, "receipt_id", existingID, "target", savedPath)
	return &UploadResult{Duplicate: true, ExistingID: existingID, PDFPath: savedPath}, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id int64) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns receipts newest first. A limit of zero or less means
// DefaultHistoryLimit.
func (s *Service) ListReceipts(f Filter, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	receipts, err := s.db.ListReceipts(f, limit)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id int64) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.PDFPath != "" {
		if err := s.storage.Delete(receipt.PDFPath); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "path", receipt.PDFPath, "receipt_id", id, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptPDF retrieves the archived PDF of a receipt and its file name.
func (s *Service) GetReceiptPDF(id int64) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.PDFPath == "" {
		return nil, "", fmt.Errorf("%w: receipt %d has no PDF", ErrNotFound, id)
	}

	data, err := s.storage.Get(receipt.PDFPath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, filepath.Base(filepath.FromSlash(receipt.PDFPath)), nil
}

// Statistics returns spending per category.
func (s *Service) Statistics(f Filter) ([]CategoryTotal, error) {
	totals, err := s.db.CategoryTotals(f)
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	return totals, nil
}

// CategoryDetails lists every purchase of one category, newest first.
func (s *Service) CategoryDetails(category string, f Filter) ([]CategoryItem, error) {
	receipts, err := s.db.ListReceipts(f, 0)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	type row struct {
		CategoryItem
		order int
	}
	var rows []row
	for i, r := range receipts {
		for _, it := range r.Items {
			if it.Category != category {
				continue
			}
			rows = append(rows, row{
				CategoryItem: CategoryItem{
					Name:      it.Name,
					Price:     it.UnitPrice,
					Quantity:  it.Quantity,
					Date:      r.Date,
					StoreName: r.StoreName,
				},
				order: i,
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].order != rows[j].order {
			return rows[i].order < rows[j].order
		}
		return rows[i].Name < rows[j].Name
	})

	out := make([]CategoryItem, len(rows))
	for i, r := range rows {
		out[i] = r.CategoryItem
	}
	return out, nil
}

// SearchItems finds purchased items by name. An empty term finds nothing.
func (s *Service) SearchItems(term string) ([]ItemSummary, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []ItemSummary{}, nil
	}
	items, err := s.db.SearchItems(term)
	if err != nil {
		return nil, fmt.Errorf("searching items: %w", err)
	}
	return items, nil
}

// PriceHistory returns the unit prices paid for items matching pattern.
func (s *Service) PriceHistory(pattern string) ([]PricePoint, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return []PricePoint{}, nil
	}
	points, err := s.db.PriceHistory(pattern)
	if err != nil {
		return nil, fmt.Errorf("querying price history: %w", err)
	}
	return points, nil
}

// Stores lists the distinct store names.
func (s *Service) Stores() ([]string, error) {
	stores, err := s.db.Stores()
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	return stores, nil
}

// DateRange is the span of receipt dates on record.
type DateRange struct {
	MinDate *time.Time `json:"min_date"`
	MaxDate *time.Time `json:"max_date"`
}

// DateRange returns the oldest and newest receipt date. Both are nil when no
// dated receipt is stored.
func (s *Service) DateRange() (DateRange, error) {
	receipts, err := s.db.ListReceipts(Filter{}, 0)
	if err != nil {
		return DateRange{}, fmt.Errorf("listing receipts: %w", err)
	}
	var dr DateRange
	for _, r := range receipts {
		if r.Date == nil {
			continue
		}
		if dr.MinDate == nil || r.Date.Before(*dr.MinDate) {
			dr.MinDate = r.Date
		}
		if dr.MaxDate == nil || r.Date.After(*dr.MaxDate) {
			dr.MaxDate = r.Date
		}
	}
	return dr, nil
}

// Dashboard summarizes all receipts.
func (s *Service) Dashboard() (*Dashboard, error) {
	totals, err := s.db.CategoryTotals(Filter{})
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	receipts, err := s.db.ListReceipts(Filter{}, 0)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	d := &Dashboard{TotalSpent: decimal.Zero, TotalReceipts: len(receipts)}
	for _, t := range totals {
		d.TotalSpent = d.TotalSpent.Add(t.TotalSpent)
		d.TotalItems += t.Count
	}
	d.TotalSpent = d.TotalSpent.Round(2)
	return d, nil
}

// Rules returns the active rule document. When no custom rules are
// configured it lists the built-in categories with empty keyword lists, so
// the document can be filled in and saved back as is.
func (s *Service) Rules() classify.RuleSet {
	snap := s.rules.Snapshot()
	if snap.Custom {
		return snap.Rules.Clone()
	}
	return classify.BuiltinCategories()
}

// SaveRules validates, persists and activates a new rule document.
func (s *Service) SaveRules(rs classify.RuleSet) error {
	if err := s.rules.Save(rs); err != nil {
		return fmt.Errorf("saving rules: %w", err)
	}
	slog.Info("Rule table saved", "categories", len(rs))
	return nil
}

// CategoryChange is one item whose category would change.
type CategoryChange struct {
	ItemID int64  `json:"item_id"`
	Name   string `json:"name"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ReclassifyResult reports a reclassification run.
type ReclassifyResult struct {
	Total   int              `json:"total_items"`
	Updated int              `json:"updated"`
	DryRun  bool             `json:"dry_run"`
	Changes []CategoryChange `json:"changes"`
}

// Reclassify runs every stored item through the active rule table and
// updates the ones whose category changed. With dryRun nothing is written.
func (s *Service) Reclassify(dryRun bool) (*ReclassifyResult, error) {
	items, err := s.db.ListItems()
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	res := &ReclassifyResult{Total: len(items), DryRun: dryRun, Changes: []CategoryChange{}}
	updates := make(map[int64]string)
	for _, it := range items {
		next := s.rules.Classify(it.Name)
		if next == it.Category {
			continue
		}
		updates[it.ID] = next
		res.Changes = append(res.Changes, CategoryChange{ItemID: it.ID, Name: it.Name, From: it.Category, To: next})
	}
	res.Updated = len(res.Changes)

	if dryRun || len(updates) == 0 {
		return res, nil
	}
	if err := s.db.UpdateItemCategories(updates); err != nil {
		return nil, fmt.Errorf("updating categories: %w", err)
	}
	for _, c := range res.Changes {
		slog.Debug("Item reclassified", "item_id", c.ItemID, "name", c.Name, "from", c.From, "to", c.To)
	}
	slog.Info("Items reclassified", "updated", res.Updated, "total", res.Total)
	return res, nil
}
