package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kassenbon/analyzer/internal/scanning"
)

const defaultImportWorkers = 4

// ImportStatus is the outcome for one inbox file.
type ImportStatus string

const (
	ImportStatusOK        ImportStatus = "ok"
	ImportStatusDuplicate ImportStatus = "duplicate"
	ImportStatusError     ImportStatus = "error"
)

// ImportResult reports what happened to one inbox file.
type ImportResult struct {
	File      string       `json:"file"`
	Status    ImportStatus `json:"status"`
	Message   string       `json:"message"`
	Target    string       `json:"target,omitempty"`
	ReceiptID int64        `json:"receipt_id,omitempty"`
}

// ImportSummary counts the results of a run.
type ImportSummary struct {
	Total     int `json:"total"`
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

// ImportRun is one pass over the inbox.
type ImportRun struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Summary    ImportSummary  `json:"summary"`
	Results    []ImportResult `json:"results"`
}

func (run *ImportRun) add(res ImportResult) {
	run.Results = append(run.Results, res)
	run.Summary.Total++
	switch res.Status {
	case ImportStatusOK:
		run.Summary.New++
	case ImportStatusDuplicate:
		run.Summary.Duplicate++
	default:
		run.Summary.Failed++
	}
}

// PendingImports lists the PDF files waiting in the inbox, sorted by name.
func (s *Service) PendingImports() ([]string, error) {
	entries, err := os.ReadDir(s.inbox)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}
	files := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			files = append(files, e.Name())
		}
	}
	// os.ReadDir returns entries sorted by filename
	return files, nil
}

// prefetched holds the extraction result for one inbox file. ready is closed
// once the other fields are set.
type prefetched struct {
	data    []byte
	scanned *scanning.ReceiptData
	readErr error
	err     error
	ready   chan struct{}
}

// ImportInbox processes every PDF in the inbox. Text extraction runs on up to
// SetImportWorkers files at once; duplicate checks and inserts run one file at
// a time in filename order, using the store+date+total policy. A file that
// fails is quarantined and the run continues. Processed files leave the inbox.
func (s *Service) ImportInbox(ctx context.Context) (*ImportRun, error) {
	s.importMu.Lock()
	defer s.importMu.Unlock()

	run := &ImportRun{
		ID:        s.idGenerator.Generate(),
		StartedAt: s.timeSource.Now().UTC(),
		Results:   []ImportResult{},
	}
	files, err := s.PendingImports()
	if err != nil {
		return nil, err
	}
	slog.Info("Import started", "run_id", run.ID, "files", len(files))

	slots := make([]*prefetched, len(files))
	for i := range slots {
		slots[i] = &prefetched{ready: make(chan struct{})}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	// ahead bounds how many extracted files wait in memory.
	ahead := make(chan struct{}, 2*s.workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, name := range files {
			slot := slots[i]
			select {
			case ahead <- struct{}{}:
			case <-gctx.Done():
				slot.err = gctx.Err()
				close(slot.ready)
				continue
			}
			path := filepath.Join(s.inbox, name)
			g.Go(func() error {
				defer close(slot.ready)
				slot.data, slot.readErr = os.ReadFile(path)
				if slot.readErr != nil {
					return nil
				}
				slot.scanned, slot.err = s.scan(slot.data)
				return nil
			})
		}
	}()

	for i, name := range files {
		slot := slots[i]
		<-slot.ready
		if ctx.Err() != nil {
			break
		}
		res := s.importFile(filepath.Join(s.inbox, name), slot)
		slot.data, slot.scanned = nil, nil
		run.add(res)
		<-ahead
	}
	<-launched
	g.Wait()

	run.FinishedAt = s.timeSource.Now().UTC()
	slog.Info("Import finished",
		"run_id", run.ID,
		"total", run.Summary.Total,
		"new", run.Summary.New,
		"duplicate", run.Summary.Duplicate,
		"failed", run.Summary.Failed,
	)
	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("import interrupted: %w", err)
	}
	return run, nil
}

func (s *Service) importFile(path string, slot *prefetched) ImportResult {
	name := filepath.Base(path)
	res := ImportResult{File: name}

	if slot.readErr != nil {
		// Nothing to quarantine; the file stays in the inbox.
		slog.Error("Failed to read inbox file", "file", name, "error", slot.readErr)
		res.Status = ImportStatusError
		res.Message = slot.readErr.Error()
		return res
	}
	if slot.err != nil {
		return s.quarantineImport(path, slot.data, res, slot.err)
	}

	r := newReceipt(slot.scanned, ContentHash(slot.data))
	r.CreatedAt = s.timeSource.Now().UTC()
	target, err := s.storage.Archive(slot.data, r.Date, r.StoreName)
	if err != nil {
		return s.quarantineImport(path, slot.data, res, fmt.Errorf("archiving: %w", err))
	}
	r.PDFPath = target

	ins, err := s.db.InsertReceipt(r, DedupByStoreDateTotal)
	if err != nil {
		if delErr := s.storage.Delete(target); delErr != nil {
			slog.Warn("Failed to delete file", "path", target, "error", delErr)
		}
		return s.quarantineImport(path, slot.data, res, fmt.Errorf("saving receipt to database: %w", err))
	}

	if err := os.Remove(path); err != nil {
		slog.Warn("Failed to remove inbox file", "file", name, "error", err)
	}
	res.Target = target

	if ins.Duplicate {
		res.Status = ImportStatusDuplicate
		res.ReceiptID = ins.ExistingID
		res.Message = fmt.Sprintf("Already imported: %s, %s, %s €",
			r.StoreName, displayDate(r.Date), r.Total.StringFixed(2))
		slog.Warn("Duplicate receipt", "file", name, "receipt_id", ins.ExistingID, "store", r.StoreName, "target", target)
		return res
	}

	res.Status = ImportStatusOK
	res.ReceiptID = r.ID
	res.Message = fmt.Sprintf("%s, %s, %s € (%d items)",
		r.StoreName, displayDate(r.Date), r.Total.StringFixed(2), len(r.Items))
	slog.Info("Receipt imported", "file", name, "receipt_id", r.ID, "store", r.StoreName, "target", target)
	return res
}

// quarantineImport moves a failed inbox file to the quarantine directory.
func (s *Service) quarantineImport(path string, data []byte, res ImportResult, cause error) ImportResult {
	res.Status = ImportStatusError
	res.Message = cause.Error()
	slog.Error("Failed to import file", "file", res.File, "error", cause)

	target, err := s.storage.Quarantine(res.File, data)
	if err != nil {
		slog.Error("Failed to quarantine file", "file", res.File, "error", err)
		return res
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("Failed to remove inbox file", "file", res.File, "error", err)
	}
	res.Target = target
	return res
}

func displayDate(t *time.Time) string {
	if t == nil {
		return "?"
	}
	return t.Format("02.01.2006")
}
