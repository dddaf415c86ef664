package scanning

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fixedDates struct {
	t   time.Time
	ok  bool
	got []string
}

func (f *fixedDates) ParseDate(candidate string) (time.Time, bool) {
	f.got = append(f.got, candidate)
	return f.t, f.ok
}

var _ = Describe("extractDate", func() {
	When("no natural parser is available", func() {
		It("reads DD.MM.YY HH:MM and expands the year", func() {
			t := extractDate("Datum 26.01.26 14:30 Bon 1234", nil)
			Expect(t).NotTo(BeNil())
			Expect(*t).To(Equal(time.Date(2026, 1, 26, 14, 30, 0, 0, time.UTC)))
		})

		It("reads DD.MM.YYYY and defaults to noon", func() {
			t := extractDate("Beleg vom 29.01.2026", nil)
			Expect(t).NotTo(BeNil())
			Expect(*t).To(Equal(time.Date(2026, 1, 29, 12, 0, 0, 0, time.UTC)))
		})

		It("rejects impossible calendar dates", func() {
			Expect(extractDate("31.02.2026", nil)).To(BeNil())
		})

		It("returns nil when there is no date", func() {
			Expect(extractDate("SUMME 1,99", nil)).To(BeNil())
		})
	})

	When("a natural parser is available", func() {
		var parser *fixedDates

		BeforeEach(func() {
			parser = &fixedDates{}
		})

		It("hands it the date with its trailing context", func() {
			parser.t, parser.ok = time.Date(2026, 1, 29, 16, 59, 0, 0, time.UTC), true
			t := extractDate("Kasse 3\n29.01.2026 · 16:59\nDanke", parser)
			Expect(parser.got).To(Equal([]string{"29.01.2026 · 16:59"}))
			Expect(*t).To(Equal(parser.t))
		})

		It("falls back to the fixed layouts when nothing parses", func() {
			t := extractDate("26.01.26 14:30", parser)
			Expect(parser.got).To(HaveLen(1))
			Expect(*t).To(Equal(time.Date(2026, 1, 26, 14, 30, 0, 0, time.UTC)))
		})
	})
})

var _ = Describe("NaturalDates", func() {
	var parser NaturalDates

	BeforeEach(func() {
		parser = NaturalDates{}
	})

	It("reads dates day first", func() {
		t, ok := parser.ParseDate("29.01.2026 · 16:59")
		Expect(ok).To(BeTrue())
		Expect(t.Year()).To(Equal(2026))
		Expect(t.Month()).To(Equal(time.January))
		Expect(t.Day()).To(Equal(29))
	})

	It("does not swap an ambiguous day and month", func() {
		t, ok := parser.ParseDate("01.02.2026")
		if ok {
			Expect(t.Month()).To(Equal(time.February))
			Expect(t.Day()).To(Equal(1))
		}
	})

	It("reads late dates the same way as the fixed layouts", func() {
		t, ok := parser.ParseDate("24.12.2099 18:05")
		Expect(ok).To(BeTrue())
		Expect(t).To(Equal(time.Date(2099, 12, 24, 18, 5, 0, 0, time.UTC)))

		fallback := extractDate("Datum 24.12.99 18:05", nil)
		Expect(fallback).NotTo(BeNil())
		Expect(*extractDate("Datum 24.12.99 18:05", parser)).To(Equal(*fallback))
	})

	It("refuses snippets without a date", func() {
		_, ok := parser.ParseDate("Bon 1234")
		Expect(ok).To(BeFalse())
	})

	It("is used by the parser for the whole receipt", func() {
		data := NewParser(nil, parser).Parse("REWE\n29.01.2026 · 16:59\n")
		Expect(data.Date).NotTo(BeNil())
		Expect(data.Date.Format("2006-01-02")).To(Equal("2026-01-29"))
	})
})

var _ = Describe("normalizeDateCandidate", func() {
	It("rewrites the date and drops decoration", func() {
		s, day, month := normalizeDateCandidate("26.01.26 · 14:30 Uhr")
		Expect(s).To(Equal("26/01/2026 14:30"))
		Expect(day).To(Equal(26))
		Expect(month).To(Equal(1))
	})
})
