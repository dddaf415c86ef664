package scanning

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// knownStores is checked in order; keywords are case-sensitive, so chains
// that print their name in both casings appear twice.
var knownStores = []struct {
	keyword string
	name    string
}{
	{"Kaufland", "Kaufland"},
	{"KAUFLAND", "Kaufland"},
	{"EDEKA", "EDEKA"},
	{"FFFrische", "FFFrische-Center"},
	{"Lidl", "Lidl"},
	{"LIDL", "Lidl"},
	{"Aldi", "Aldi"},
	{"ALDI", "Aldi"},
	{"DM ", "dm"},
	{"dm-drogerie", "dm"},
	{"DM-DROGERIE", "dm"},
	{"Müller", "Müller"},
	{"MUELLER", "Müller"},
	{"REWE", "REWE"},
	{"Rewe", "REWE"},
	{"Penny", "Penny"},
	{"PENNY", "Penny"},
	{"Netto", "Netto"},
	{"NETTO", "Netto"},
	{"Norma", "Norma"},
	{"NORMA", "Norma"},
	{"Rossmann", "Rossmann"},
	{"ROSSMANN", "Rossmann"},
}

const (
	knownStoreScanLines = 15
	fallbackStoreLines  = 10
)

// storeNoise matches header lines that are never a store name.
var storeNoise = []*regexp.Regexp{
	regexp.MustCompile(`(?i)treuepunkte`),
	regexp.MustCompile(`(?i)du\s+hast`),
	regexp.MustCompile(`(?i)willkommen`),
	regexp.MustCompile(`(?i)thank`),
	regexp.MustCompile(`(?i)danke`),
	regexp.MustCompile(`(?i)preis\s+eur`),
	regexp.MustCompile(`(?i)tel\.`),
	regexp.MustCompile(`^\d{5}`),
	regexp.MustCompile(`(?i)straße\s+\d|str\.\s+\d`),
	regexp.MustCompile(`(?i)\d+\s+[\p{L}\p{N}_]+straße`),
	regexp.MustCompile(`(?i)platz\s+\d`),
}

func extractStoreName(lines []string) string {
	seen := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, s := range knownStores {
			if strings.Contains(line, s.keyword) {
				return s.name
			}
		}
		seen++
		if seen == knownStoreScanLines {
			break
		}
	}

	for i, line := range lines {
		if i == fallbackStoreLines {
			break
		}
		stripped := strings.TrimSpace(line)
		if stripped == "" || isStoreNoise(stripped) {
			continue
		}
		return stripped
	}
	return UnknownStore
}

func isStoreNoise(line string) bool {
	for _, re := range storeNoise {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

var addressLine = regexp.MustCompile(`(?i)\d{5}|straße|str\.|platz`)

// extractAddress looks at lines 2 to 5 of the receipt.
func extractAddress(lines []string) string {
	var parts []string
	for i := 1; i < len(lines) && i < 5; i++ {
		if addressLine.MatchString(lines[i]) {
			parts = append(parts, strings.TrimSpace(lines[i]))
		}
	}
	return strings.Join(parts, ", ")
}

// itemLine is NAME PRICE [€ x QTY TOTAL] [*]A|B[W].
var itemLine = regexp.MustCompile(`^([A-Z][A-ZÄÖÜ&.\s\-\d,X]*?)\s+(-?\d+,\d{2})\s*(?:€\s*x\s*(\d+)\s+(-?\d+,\d{2}))?\s*\*?[AB]W?$`)

var systemLineMarkers = []string{
	"SUMME", "MwSt", "PAYBACK", "Datum", "Posten:", "----", "Coupon:", "Beleg", "Es bediente",
}

var taxMarkerA = regexp.MustCompile(`(?:^|[\s*])A(?:W|\s|$)`)

// extractItems returns every line that looks like a purchased article.
// Lines that do not fit the layout are dropped.
func extractItems(lines []string) []ItemData {
	items := []ItemData{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if isSystemLine(line) {
			continue
		}
		m := itemLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		unit := parseAmount(m[2])
		total := unit
		if m[4] != "" {
			total = parseAmount(m[4])
		}
		quantity := 1
		if m[3] != "" {
			if q, err := strconv.Atoi(m[3]); err == nil {
				quantity = q
			}
		}

		items = append(items, ItemData{
			Name:        strings.TrimSpace(m[1]),
			UnitPrice:   unit,
			Quantity:    quantity,
			TotalPrice:  total,
			TaxCategory: taxCategory(line),
		})
	}
	return items
}

func isSystemLine(line string) bool {
	for _, marker := range systemLineMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func taxCategory(line string) string {
	if strings.Contains(line, "AW") || taxMarkerA.MatchString(line) {
		return "A"
	}
	return "B"
}

var totalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)summe\s+€?\s*(\d+,\d{2})`),
	regexp.MustCompile(`(?i)summe\s+eur\s+(\d+,\d{2})`),
	regexp.MustCompile(`(?i)kartenzahlung\s+(\d+,\d{2})`),
	regexp.MustCompile(`(?i)gesamt\s*:?\s*(\d+,\d{2})`),
}

func extractTotal(text string) decimal.Decimal {
	for _, re := range totalPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return parseAmount(m[1])
		}
	}
	return decimal.Zero
}

// Payment method labels.
const (
	PaymentMastercard = "Mastercard"
	PaymentVisa       = "VISA"
	PaymentEC         = "EC-Karte"
	PaymentPayback    = "PAYBACK Points"
	PaymentCash       = "Cash"
)

var cashMarker = regexp.MustCompile(`\bBAR(ZAHLUNG|GELD)?\b|\bBar(zahlung|geld)\b`)

func extractPaymentMethod(text string) string {
	switch {
	case strings.Contains(text, "Mastercard"):
		return PaymentMastercard
	case strings.Contains(text, "VISA"):
		return PaymentVisa
	case strings.Contains(text, "EC-Karte"), strings.Contains(text, "Girocard"):
		return PaymentEC
	case strings.Contains(text, "PAYBACK Kundenkarte"):
		return PaymentPayback
	case cashMarker.MatchString(text):
		return PaymentCash
	}
	return UnknownPayment
}

// parseAmount converts a decimal-comma amount such as "-1,75".
func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.Replace(strings.TrimSpace(s), ",", ".", 1))
	if err != nil {
		return decimal.Zero
	}
	return d
}
