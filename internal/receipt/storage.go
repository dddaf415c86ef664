package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	undatedDir   = "Unbekannt"
	undatedLabel = "kein-Datum"
	maxSuffix    = 10000
)

// Storage files source PDFs away. Paths returned by Archive are relative to
// the archive root and are what receipts record in PDFPath.
type Storage interface {
	// Archive writes data under the date-bucketed name for the receipt and
	// returns its relative path. An existing file is never overwritten.
	Archive(data []byte, date *time.Time, store string) (string, error)

	// Quarantine keeps a file that could not be processed.
	Quarantine(name string, data []byte) (string, error)

	// Get retrieves an archived file by relative path
	Get(path string) ([]byte, error)

	// Delete removes an archived file
	Delete(path string) error
}

var (
	unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_\-. ]`)
	repeatedUnders  = regexp.MustCompile(`_+`)
)

// SanitizeStoreName makes a store name usable inside a file name.
func SanitizeStoreName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "_")
	s = repeatedUnders.ReplaceAllString(s, "_")
	return strings.Trim(s, "_ ")
}

// ArchivePath is the canonical location of a receipt PDF below root:
// root/YYYY/MM/Kassenbon_YYYY-MM-DD_<store>.pdf. Receipts without a date go to
// root/Unbekannt/Unbekannt/Kassenbon_kein-Datum_<store>.pdf.
func ArchivePath(root string, date *time.Time, store string) string {
	year, month, label := undatedDir, undatedDir, undatedLabel
	if date != nil {
		year = date.Format("2006")
		month = date.Format("01")
		label = date.Format("2006-01-02")
	}
	name := fmt.Sprintf("Kassenbon_%s_%s.pdf", label, SanitizeStoreName(store))
	return filepath.Join(root, year, month, name)
}

// withSuffix turns a/b.pdf into a/b_n.pdf.
func withSuffix(path string, n int) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + strconv.Itoa(n) + ext
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath       string
	quarantinePath string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath. Quarantined
// files go to quarantinePath.
func NewLocalStorage(basePath, quarantinePath string) (*LocalStorage, error) {
	for _, dir := range []string{basePath, quarantinePath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	return &LocalStorage{
		basePath:       basePath,
		quarantinePath: quarantinePath,
	}, nil
}

// createUnique writes data to path, or to path_2, path_3 ... if taken. It
// returns the path actually written. O_EXCL makes concurrent writers pick
// distinct names.
func createUnique(path string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	candidate := path
	for n := 2; n <= maxSuffix; n++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			candidate = withSuffix(path, n)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(candidate)
			return "", fmt.Errorf("writing file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(candidate)
			return "", fmt.Errorf("writing file: %w", err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free file name for %s", path)
}

// Archive implements Storage.
func (l *LocalStorage) Archive(data []byte, date *time.Time, store string) (string, error) {
	written, err := createUnique(ArchivePath(l.basePath, date, store), data)
	if err != nil {
		return "", fmt.Errorf("archiving file: %w", err)
	}
	rel, err := filepath.Rel(l.basePath, written)
	if err != nil {
		return "", fmt.Errorf("archiving file: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Quarantine implements Storage. The returned path includes the quarantine
// directory.
func (l *LocalStorage) Quarantine(name string, data []byte) (string, error) {
	written, err := createUnique(filepath.Join(l.quarantinePath, filepath.Base(name)), data)
	if err != nil {
		return "", fmt.Errorf("quarantining file: %w", err)
	}
	return written, nil
}

// resolve maps a stored relative path into the archive, refusing anything
// that would leave it.
func (l *LocalStorage) resolve(path string) (string, error) {
	local := filepath.FromSlash(path)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid archive path %q", path)
	}
	return filepath.Join(l.basePath, local), nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	fullPath, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(path string) error {
	fullPath, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
