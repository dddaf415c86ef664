package scanning

import (
	"strings"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func lines(s string) []string {
	return strings.Split(s, "\n")
}

var _ = Describe("extractStoreName", func() {
	DescribeTable("known chains",
		func(text, expected string) {
			Expect(extractStoreName(lines(text))).To(Equal(expected))
		},
		Entry("upper case keyword", "Willkommen\nLIDL Dienstleistung", "Lidl"),
		Entry("drugstore", "dm-drogerie markt\nBahnhofstr. 3", "dm"),
		Entry("table order wins", "EDEKA im REWE-Haus", "EDEKA"),
		Entry("umlaut", "Müller Drogerie", "Müller"),
	)

	It("skips blank lines when counting the header", func() {
		text := strings.Repeat("\n", 20) + strings.Repeat("x\n", 14) + "NETTO"
		Expect(extractStoreName(lines(text))).To(Equal("Netto"))
	})

	It("stops looking for chains after fifteen lines", func() {
		text := strings.Repeat("Du hast 5 Treuepunkte\n", 15) + "NETTO"
		Expect(extractStoreName(lines(text))).To(Equal(UnknownStore))
	})

	It("falls back to the first line that is not noise", func() {
		text := "Du hast 12 Treuepunkte gesammelt\n\nPreis EUR\n80331 München\nHofbräu Stüberl\nTel. 089 1234"
		Expect(extractStoreName(lines(text))).To(Equal("Hofbräu Stüberl"))
	})

	It("treats street lines as noise", func() {
		text := "Hauptstraße 4\n4 Bahnhofstraße\nMarienplatz 1\nEckladen"
		Expect(extractStoreName(lines(text))).To(Equal("Eckladen"))
	})

	It("returns the sentinel when every line is noise", func() {
		Expect(extractStoreName(lines("Danke für Ihren Einkauf\n\n"))).To(Equal(UnknownStore))
	})
})

var _ = Describe("extractAddress", func() {
	It("joins matching lines two to five", func() {
		text := "REWE\nMarienplatz 8\n80331 München\nÖffnungszeiten\nSonnenstr. 2\n12345 Nirgendwo"
		Expect(extractAddress(lines(text))).To(Equal("Marienplatz 8, 80331 München, Sonnenstr. 2"))
	})

	It("ignores the first line", func() {
		Expect(extractAddress(lines("80331 München\nREWE"))).To(BeEmpty())
	})
})

var _ = Describe("extractItems", func() {
	It("reads a simple line", func() {
		items := extractItems([]string{"  BANANEN 1,99 B  "})
		Expect(items).To(HaveLen(1))
		Expect(items[0].Name).To(Equal("BANANEN"))
		Expect(items[0].UnitPrice.Equal(decimal.RequireFromString("1.99"))).To(BeTrue())
		Expect(items[0].TotalPrice.Equal(items[0].UnitPrice)).To(BeTrue())
		Expect(items[0].Quantity).To(Equal(1))
		Expect(items[0].TaxCategory).To(Equal("B"))
	})

	It("reads a quantity clause", func() {
		items := extractItems([]string{"JOGHURT 0,79 € x 3 2,37 A"})
		Expect(items).To(HaveLen(1))
		Expect(items[0].Quantity).To(Equal(3))
		Expect(items[0].TotalPrice.Equal(decimal.RequireFromString("2.37"))).To(BeTrue())
		Expect(items[0].TaxCategory).To(Equal("A"))
	})

	It("reads negative amounts", func() {
		items := extractItems([]string{"LEERGUT -1,75*B"})
		Expect(items).To(HaveLen(1))
		Expect(items[0].UnitPrice.Equal(decimal.RequireFromString("-1.75"))).To(BeTrue())
	})

	It("reads the AW marker as tax category A", func() {
		items := extractItems([]string{"KAFFEE 5,99 AW"})
		Expect(items).To(HaveLen(1))
		Expect(items[0].TaxCategory).To(Equal("A"))
	})

	It("does not treat a word starting with A as a tax marker", func() {
		items := extractItems([]string{"BIO APFEL 2,49 B"})
		Expect(items).To(HaveLen(1))
		Expect(items[0].TaxCategory).To(Equal("B"))
	})

	It("skips system lines", func() {
		items := extractItems([]string{
			"SUMME 1,99 B",
			"MwSt A 1,00 B",
			"PAYBACK 1,00 B",
			"----------",
			"Coupon: 1,00 B",
		})
		Expect(items).To(BeEmpty())
	})

	It("drops lines that do not match the layout", func() {
		items := extractItems([]string{"bananen 1,99 B", "BANANEN 1.99 B", "BANANEN 1,99", "BANANEN 1,99 C"})
		Expect(items).To(BeEmpty())
	})
})

var _ = Describe("extractTotal", func() {
	DescribeTable("total lines",
		func(text, expected string) {
			Expect(extractTotal(text).Equal(decimal.RequireFromString(expected))).To(BeTrue())
		},
		Entry("summe with euro sign", "BANANEN 1,99 B\nSUMME € 21,83\n", "21.83"),
		Entry("summe with spacing", "Summe                   21,83", "21.83"),
		Entry("summe eur", "SUMME EUR 21,83", "21.83"),
		Entry("card payment only", "Kartenzahlung        21,83", "21.83"),
		Entry("gesamt", "GESAMT: 7,00", "7.00"),
		Entry("first pattern wins", "Kartenzahlung 5,00\nSUMME 4,00", "4.00"),
	)

	It("defaults to zero", func() {
		Expect(extractTotal("nothing here").IsZero()).To(BeTrue())
	})
})

var _ = Describe("extractPaymentMethod", func() {
	DescribeTable("payment markers",
		func(text, expected string) {
			Expect(extractPaymentMethod(text)).To(Equal(expected))
		},
		Entry("mastercard", "Mastercard ****1234", PaymentMastercard),
		Entry("visa", "VISA Debit", PaymentVisa),
		Entry("ec card", "EC-Karte", PaymentEC),
		Entry("girocard", "girocard\nGirocard kontaktlos", PaymentEC),
		Entry("loyalty card", "PAYBACK Kundenkarte", PaymentPayback),
		Entry("cash", "BAR 20,00", PaymentCash),
		Entry("cash spelled out", "Bargeld", PaymentCash),
		Entry("cash payment line", "BARZAHLUNG 20,00 EUR", PaymentCash),
		Entry("cash tendered", "GEGEBEN BARGELD 20,00", PaymentCash),
		Entry("cash payment mixed case", "Barzahlung 20,00", PaymentCash),
		Entry("priority order", "Mastercard\nBAR", PaymentMastercard),
		Entry("BAR inside a word", "BARILLA 1,99 B", UnknownPayment),
		Entry("nothing", "", UnknownPayment),
	)
})
