package scanning

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PDFText extracts the text layer of a PDF with MuPDF.
type PDFText struct{}

// ExtractText concatenates the text of every page. Any failure is wrapped
// with ErrExtraction.
func (PDFText) ExtractText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document", ErrExtraction)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: opening PDF: %w", ErrExtraction, err)
	}
	defer doc.Close()

	var b strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("%w: reading page %d: %w", ErrExtraction, i+1, err)
		}
		b.WriteString(text)
		if text != "" && !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
