package classify

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RuleSet", func() {
	var (
		tmpDir string
		path   string
		rules  RuleSet
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		path = filepath.Join(tmpDir, "categories.json")
		rules = RuleSet{
			{Category: "Getränke & Wein", Rules: []string{"wein", "sekt"}},
			{Category: "Aaa", Rules: []string{"zzz", "aaa"}},
			{Category: "Leer", Rules: []string{}},
		}
	})

	Describe("SaveFile and LoadFile", func() {
		var (
			loaded RuleSet
			err    error
		)

		JustBeforeEach(func() {
			Expect(SaveFile(path, rules)).To(Succeed())
			loaded, err = LoadFile(path)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns an identical mapping", func() {
			Expect(loaded).To(Equal(rules))
		})

		It("survives a second round trip unchanged", func() {
			Expect(SaveFile(path, loaded)).To(Succeed())
			again, err := LoadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(loaded))
		})

		It("writes readable labels", func() {
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"Getränke & Wein"`))
		})

		When("a document already exists", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(path, []byte(`{"Old": ["x"]}`), 0644)).To(Succeed())
			})

			It("keeps the previous copy as a backup", func() {
				backup, err := os.ReadFile(BackupPath(path))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(backup)).To(Equal(`{"Old": ["x"]}`))
			})
		})
	})

	Describe("Parse", func() {
		It("keeps key order instead of sorting", func() {
			rs, err := Parse([]byte(`{"Zeta": ["z"], "Alpha": ["a"], "Mid": null}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(rs).To(HaveLen(3))
			Expect(rs[0].Category).To(Equal("Zeta"))
			Expect(rs[1].Category).To(Equal("Alpha"))
			Expect(rs[2].Rules).To(BeEmpty())
		})

		DescribeTable("rejects invalid documents",
			func(doc string) {
				_, err := Parse([]byte(doc))
				Expect(err).To(MatchError(ErrInvalidRuleSet))
			},
			Entry("an array", `["a"]`),
			Entry("non-string rules", `{"A": [1, 2]}`),
			Entry("a string instead of a list", `{"A": "x"}`),
			Entry("duplicate labels", `{"A": ["x"], "A": ["y"]}`),
			Entry("an empty label", `{"": ["x"]}`),
			Entry("broken json", `{"A": [`),
		)
	})

	Describe("HasRules", func() {
		It("is false when every rule is blank", func() {
			Expect(RuleSet{{Category: "A", Rules: []string{"", " "}}}.HasRules()).To(BeFalse())
		})

		It("is true with one real keyword", func() {
			Expect(RuleSet{{Category: "A", Rules: []string{"", "x"}}}.HasRules()).To(BeTrue())
		})
	})

	It("exposes the built-in patterns as a document", func() {
		rs := BuiltinRules()
		Expect(rs[0].Category).To(Equal("Garden & Plants"))
		rs[0].Category = "changed"
		Expect(BuiltinRules()[0].Category).To(Equal("Garden & Plants"))
	})

	Describe("BuiltinCategories", func() {
		It("lists the built-in labels in order without rules", func() {
			rs := BuiltinCategories()
			builtin := BuiltinRules()
			Expect(rs).To(HaveLen(len(builtin)))
			for i := range builtin {
				Expect(rs[i].Category).To(Equal(builtin[i].Category))
				Expect(rs[i].Rules).To(BeEmpty())
			}
			Expect(rs.HasRules()).To(BeFalse())
		})

		It("encodes every category with an empty list", func() {
			data, err := Encode(BuiltinCategories())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).NotTo(ContainSubstring(`\\b`))

			back, err := Parse(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(back).To(HaveLen(len(BuiltinRules())))
			Expect(back.HasRules()).To(BeFalse())
		})
	})
})
