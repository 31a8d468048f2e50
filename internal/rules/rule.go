package rules

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// Rule names, in catalog order.
const (
	NameH1              = "h1"
	NameTitle           = "title"
	NameCharset         = "charset"
	NameImageAlt        = "imageAlt"
	NameLanguage        = "language"
	NameWordCount       = "wordCount"
	NameMetaViewport    = "metaViewport"
	NameMetaDescription = "metaDescription"
	NameFavicon         = "favicon"
)

// CheckFunc inspects a document and returns its findings.
type CheckFunc func(doc *Document) ([]audit.Finding, error)

// Rule is one named check.
type Rule struct {
	Name        string
	Description string
	Check       CheckFunc
}

// Evaluate runs r against doc. A panic or error inside the check is turned
// into a single error finding so that one broken rule never affects another.
func Evaluate(r Rule, doc *Document) (result audit.RuleResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = failed(r.Name, fmt.Errorf("panic: %v", rec))
		}
	}()
	findings, err := r.Check(doc)
	if err != nil {
		return failed(r.Name, err)
	}
	if findings == nil {
		findings = []audit.Finding{}
	}
	return audit.RuleResult{Rule: r.Name, Findings: findings}
}

func failed(name string, err error) audit.RuleResult {
	ruleErr := &audit.RuleEvaluationError{Rule: name, Err: err}
	return audit.RuleResult{
		Rule: name,
		Findings: []audit.Finding{{
			Key:    "error",
			Status: audit.StatusError,
			Actual: map[string]any{"error": ruleErr.Error()},
		}},
	}
}

// Failed reports whether result came out of the failure boundary.
func Failed(result audit.RuleResult) bool {
	return len(result.Findings) == 1 && result.Findings[0].Key == "error" &&
		result.Findings[0].Status == audit.StatusError
}

// Catalog is an ordered set of rules.
type Catalog struct {
	rules []Rule
	index map[string]int
}

// NewCatalog builds a catalog. Duplicate names are rejected.
func NewCatalog(rules ...Rule) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(rules))}
	for _, r := range rules {
		if r.Name == "" || r.Check == nil {
			return nil, fmt.Errorf("rule %q is incomplete", r.Name)
		}
		if _, exists := c.index[r.Name]; exists {
			return nil, fmt.Errorf("rule %s already registered", r.Name)
		}
		c.index[r.Name] = len(c.rules)
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(
		Rule{Name: NameH1, Description: "exactly one non-empty <h1>", Check: checkH1},
		Rule{Name: NameTitle, Description: "one <title> between 1 and 69 characters", Check: checkTitle},
		Rule{Name: NameCharset, Description: "a single charset declaration", Check: checkCharset},
		Rule{Name: NameImageAlt, Description: "alt text between 2 and 124 characters on every <img>", Check: checkImageAlt},
		Rule{Name: NameLanguage, Description: "a lang attribute on <html>", Check: checkLanguage},
		Rule{Name: NameWordCount, Description: "number of words in <body>", Check: checkWordCount},
		Rule{Name: NameMetaViewport, Description: "the canonical responsive viewport meta tag", Check: checkMetaViewport},
		Rule{Name: NameMetaDescription, Description: "one meta description between 1 and 159 characters", Check: checkMetaDescription},
		Rule{Name: NameFavicon, Description: "at least one icon link", Check: checkFavicon},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Rules returns the catalog in evaluation order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Names returns the rule names in evaluation order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Select returns a catalog restricted to names. An empty list selects everything.
func (c *Catalog) Select(names ...string) (*Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}
	selected := make([]Rule, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		i, ok := c.index[name]
		if !ok {
			return nil, fmt.Errorf("rule not found: %s", name)
		}
		selected = append(selected, c.rules[i])
	}
	return NewCatalog(selected...)
}

// EvaluateAll runs every rule once against doc.
func (c *Catalog) EvaluateAll(doc *Document) map[string]audit.RuleResult {
	results := make(map[string]audit.RuleResult, len(c.rules))
	for _, r := range c.rules {
		results[r.Name] = Evaluate(r, doc)
	}
	return results
}
