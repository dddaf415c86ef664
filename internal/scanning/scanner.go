package scanning

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrExtraction is returned when a source document cannot be read as text.
// It is fatal for that one file only.
var ErrExtraction = errors.New("text extraction failed")

// Sentinels used when a field cannot be recovered from the text.
const (
	UnknownStore   = "Unknown"
	UnknownPayment = "Unknown"
)

// ItemData is one purchased line as printed on the receipt.
type ItemData struct {
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	TaxCategory string          `json:"tax_category"`
	Category    string          `json:"category"`
}

// ReceiptData contains the fields extracted from one receipt.
type ReceiptData struct {
	StoreName     string          `json:"store_name"`
	StoreAddress  string          `json:"store_address"`
	Date          *time.Time      `json:"date"`
	Total         decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	Items         []ItemData      `json:"items"`
}

// TextExtractor turns a document into plain text.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// Classifier maps an item name to a category label.
type Classifier interface {
	Classify(itemName string) string
}

// DateParser interprets one date-looking snippet. ok is false when the
// snippet is not understood.
type DateParser interface {
	ParseDate(candidate string) (t time.Time, ok bool)
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt extracts the text of a PDF and parses it
	ScanReceipt(data []byte) (*ReceiptData, error)
	// Close releases resources held by the scanner
	Close() error
}

// PDFScanner is the default Scanner: text extraction followed by the field
// extractors.
type PDFScanner struct {
	extractor TextExtractor
	parser    *Parser
}

// NewPDFScanner creates a scanner. A nil extractor defaults to PDFText.
func NewPDFScanner(extractor TextExtractor, parser *Parser) *PDFScanner {
	if extractor == nil {
		extractor = PDFText{}
	}
	if parser == nil {
		parser = NewParser(nil, nil)
	}
	return &PDFScanner{extractor: extractor, parser: parser}
}

// ScanReceipt implements Scanner.
func (s *PDFScanner) ScanReceipt(data []byte) (*ReceiptData, error) {
	text, err := s.extractor.ExtractText(data)
	if err != nil {
		return nil, err
	}
	return s.parser.Parse(text), nil
}

// Close implements Scanner.
func (s *PDFScanner) Close() error {
	return nil
}
