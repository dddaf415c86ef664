// Package classify assigns spending categories to receipt line items.
//
// A Table is an ordered list of categories, each holding matchers. The first
// category with a matching rule wins, so the order of the table is part of its
// behavior. Two matcher variants exist: regular-expression patterns for the
// built-in table and plain substring keywords for user-edited rule documents.
package classify

import (
	"strings"

	"github.com/dlclark/regexp2"
)

const (
	// CategorySystem marks deposit and return-container lines. Items in this
	// category are excluded from spending statistics.
	CategorySystem = "System"

	// CategoryOther is returned when no rule matches.
	CategoryOther = "Other"
)

// systemMarkers have absolute priority over every rule table.
var systemMarkers = []string{"pfand", "leergut", "coupon"}

// Matcher reports whether a lowercased item name satisfies one rule.
type Matcher interface {
	Match(name string) bool
	String() string
}

// patternMatcher matches a regular expression. regexp2 is used so that \b
// treats umlauts and accented letters as word characters.
type patternMatcher struct {
	re *regexp2.Regexp
}

// NewPatternMatcher compiles a rule pattern.
func NewPatternMatcher(pattern string) (Matcher, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	return &patternMatcher{re: re}, nil
}

func mustPattern(pattern string) Matcher {
	m, err := NewPatternMatcher(pattern)
	if err != nil {
		panic("classify: bad built-in pattern " + pattern + ": " + err.Error())
	}
	return m
}

func (p *patternMatcher) Match(name string) bool {
	ok, err := p.re.MatchString(name)
	return err == nil && ok
}

func (p *patternMatcher) String() string {
	return p.re.String()
}

// substringMatcher does case-insensitive containment of a keyword.
type substringMatcher struct {
	keyword string
}

// NewSubstringMatcher returns a matcher for a user keyword. It returns nil for
// empty or blank keywords, which are skipped.
func NewSubstringMatcher(keyword string) Matcher {
	if strings.TrimSpace(keyword) == "" {
		return nil
	}
	return &substringMatcher{keyword: strings.ToLower(keyword)}
}

func (s *substringMatcher) Match(name string) bool {
	return strings.Contains(name, s.keyword)
}

func (s *substringMatcher) String() string {
	return s.keyword
}

// Category is one entry of a Table.
type Category struct {
	Label    string
	Matchers []Matcher
}

// matches reports whether any rule of the category matches.
func (c Category) matches(name string) bool {
	for _, m := range c.Matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}

// IsWine reports whether a category label denotes a wine category.
func IsWine(label string) bool {
	return strings.Contains(label, "Wine")
}

// Table is an immutable, ordered rule table. It is safe for concurrent use.
type Table struct {
	categories []Category
	// barSpirits enables the spirit/vinegar filter that keeps items like
	// "Balsamico Essig" out of wine categories.
	barSpirits bool
}

// NewTable builds a table that matches categories in the given order.
func NewTable(categories []Category) *Table {
	cs := make([]Category, len(categories))
	copy(cs, categories)
	return &Table{categories: cs}
}

// Labels returns the category labels in priority order.
func (t *Table) Labels() []string {
	labels := make([]string, 0, len(t.categories))
	for _, c := range t.categories {
		labels = append(labels, c.Label)
	}
	return labels
}

// Len returns the number of categories.
func (t *Table) Len() int {
	return len(t.categories)
}

// Classify returns exactly one category label for an item name.
func (t *Table) Classify(itemName string) string {
	name := strings.ToLower(itemName)

	if isSystem(name) {
		return CategorySystem
	}

	if t.barSpirits && isSpiritOrVinegar(name) {
		for _, c := range t.categories {
			if IsWine(c.Label) || c.Label == CategoryOther {
				continue
			}
			if c.matches(name) {
				return c.Label
			}
		}
		return CategoryOther
	}

	for _, c := range t.categories {
		if c.Label == CategoryOther {
			continue
		}
		if c.matches(name) {
			return c.Label
		}
	}
	return CategoryOther
}

// Classify runs itemName through table. A nil table falls back to the
// built-in rules.
func Classify(itemName string, table *Table) string {
	if table == nil {
		table = Builtin()
	}
	return table.Classify(itemName)
}

func isSystem(name string) bool {
	for _, marker := range systemMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

var (
	spiritMarkers = []string{"essig", "cognac", "whisky", "rum", "vodka", "tequila"}
	ginMatcher    = mustPattern(`\bgin\b`)
)

func isSpiritOrVinegar(name string) bool {
	for _, marker := range spiritMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	if ginMatcher.Match(name) {
		return true
	}
	// "Weintrauben" contains "wein" but is fruit.
	if !strings.Contains(name, "weintraube") &&
		(strings.Contains(name, "brandy") || strings.Contains(name, "weinbrand")) {
		return true
	}
	return false
}
