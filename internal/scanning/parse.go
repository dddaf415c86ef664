package scanning

import (
	"strings"

	"github.com/kassenbon/analyzer/internal/classify"
)

// Parser builds a ReceiptData from extracted text. Every field degrades to a
// sentinel instead of failing, so Parse never returns an error.
type Parser struct {
	classifier Classifier
	dates      DateParser
}

// NewParser creates a parser. A nil classifier uses the built-in table; a nil
// date parser skips free-form date parsing and relies on the fixed layouts.
func NewParser(classifier Classifier, dates DateParser) *Parser {
	if classifier == nil {
		classifier = classify.Builtin()
	}
	return &Parser{classifier: classifier, dates: dates}
}

// Parse extracts all fields from the text of one receipt.
func (p *Parser) Parse(text string) *ReceiptData {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	// Some text layers separate columns with no-break spaces, which \s misses.
	text = strings.ReplaceAll(text, "\u00a0", " ")
	lines := strings.Split(text, "\n")

	data := &ReceiptData{
		StoreName:     extractStoreName(lines),
		StoreAddress:  extractAddress(lines),
		Date:          extractDate(text, p.dates),
		Items:         extractItems(lines),
		Total:         extractTotal(text),
		PaymentMethod: extractPaymentMethod(text),
	}
	for i := range data.Items {
		data.Items[i].Category = p.classifier.Classify(data.Items[i].Name)
	}
	return data
}
