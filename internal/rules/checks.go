package rules

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// CanonicalViewport is the only viewport declaration accepted as ok.
const CanonicalViewport = `<meta name="viewport" content="width=device-width, initial-scale=1.0">`

var charsetPattern = regexp.MustCompile(`.*?charset=([^"']+)`)

func length(s string) int {
	return utf8.RuneCountInString(s)
}

func band(from, to int) map[string]any {
	if to == 0 {
		return map[string]any{"from": from}
	}
	return map[string]any{"from": from, "to": to}
}

// multiple emits one finding per matched element.
func multiple(sel *goquery.Selection, status audit.Status, expected map[string]any, actual func(*goquery.Selection) map[string]any) []audit.Finding {
	findings := make([]audit.Finding, 0, sel.Length())
	sel.Each(func(_ int, el *goquery.Selection) {
		findings = append(findings, audit.Finding{
			Key:      "multiple",
			Status:   status,
			Actual:   actual(el),
			Expected: expected,
		})
	})
	return findings
}

func checkTitle(doc *Document) ([]audit.Finding, error) {
	title := doc.Find("head > title")
	expected := band(1, 60)
	if title.Length() > 1 {
		return multiple(title, audit.StatusError, expected, func(el *goquery.Selection) map[string]any {
			return map[string]any{"text": el.Text()}
		}), nil
	}

	text := title.Text()
	n := length(text)
	status := audit.StatusWarning
	if n > 0 && n < 70 {
		status = audit.StatusOK
	}
	return []audit.Finding{{
		Key:      "length",
		Status:   status,
		Actual:   map[string]any{"length": n, "text": text},
		Expected: expected,
	}}, nil
}

func checkH1(doc *Document) ([]audit.Finding, error) {
	h1 := doc.Find("h1")
	expected := band(1, 0)
	if h1.Length() > 1 {
		return multiple(h1, audit.StatusError, expected, func(el *goquery.Selection) map[string]any {
			return map[string]any{"text": el.Text()}
		}), nil
	}

	n := length(h1.Text())
	status := audit.StatusOK
	if n == 0 {
		status = audit.StatusWarning
	}
	return []audit.Finding{{
		Key:      "length",
		Status:   status,
		Actual:   map[string]any{"length": n},
		Expected: expected,
	}}, nil
}

func checkMetaDescription(doc *Document) ([]audit.Finding, error) {
	meta := doc.Find(`meta[name="description"]`)
	expected := band(1, 160)
	if meta.Length() > 1 {
		return multiple(meta, audit.StatusWarning, expected, func(el *goquery.Selection) map[string]any {
			content, _ := el.Attr("content")
			return map[string]any{"content": content}
		}), nil
	}

	// A missing tag reads as empty content.
	content, _ := meta.Attr("content")
	n := length(content)
	status := audit.StatusWarning
	if n > 0 && n < 160 {
		status = audit.StatusOK
	}
	return []audit.Finding{{
		Key:      "length",
		Status:   status,
		Actual:   map[string]any{"length": n, "content": content},
		Expected: expected,
	}}, nil
}

func checkImageAlt(doc *Document) ([]audit.Finding, error) {
	images := doc.Find("img")
	expected := band(1, 125)
	findings := make([]audit.Finding, 0, images.Length())
	images.Each(func(_ int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		n := length(alt)
		status := audit.StatusWarning
		if n > 1 && n < 125 {
			status = audit.StatusOK
		}
		findings = append(findings, audit.Finding{
			Key:      "length",
			Status:   status,
			Actual:   map[string]any{"element": outerHTML(img), "length": n},
			Expected: expected,
		})
	})
	return findings, nil
}

func checkWordCount(doc *Document) ([]audit.Finding, error) {
	words := len(strings.Fields(doc.Find("body").Text()))
	return []audit.Finding{{
		Key:    "length",
		Status: audit.StatusOK,
		Actual: map[string]any{"length": words},
	}}, nil
}

func checkLanguage(doc *Document) ([]audit.Finding, error) {
	lang, _ := doc.Find("html").Attr("lang")
	status := audit.StatusOK
	if lang == "" {
		status = audit.StatusWarning
	}
	return []audit.Finding{{
		Key:    "language",
		Status: status,
		Actual: map[string]any{"language": lang},
	}}, nil
}

// charsetOf resolves the declared charset of a meta element: the charset
// attribute when set, else the charset= parameter of its content.
func charsetOf(meta *goquery.Selection) string {
	if v, _ := meta.Attr("charset"); v != "" {
		return v
	}
	content, _ := meta.Attr("content")
	if m := charsetPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}

func checkCharset(doc *Document) ([]audit.Finding, error) {
	metas := doc.Find("meta").FilterFunction(func(_ int, el *goquery.Selection) bool {
		if _, ok := el.Attr("charset"); ok {
			return true
		}
		content, _ := el.Attr("content")
		return strings.Contains(content, "charset")
	})

	if metas.Length() > 1 {
		return multiple(metas, audit.StatusError, nil, func(el *goquery.Selection) map[string]any {
			return map[string]any{"charset": charsetOf(el)}
		}), nil
	}

	charset := ""
	if metas.Length() == 1 {
		charset = charsetOf(metas)
	}
	status := audit.StatusOK
	if charset == "" {
		status = audit.StatusWarning
	}
	return []audit.Finding{{
		Key:    "charset",
		Status: status,
		Actual: map[string]any{"charset": charset},
	}}, nil
}

func checkMetaViewport(doc *Document) ([]audit.Finding, error) {
	viewport := doc.Find(`meta[name="viewport"]`)
	expected := map[string]any{"viewport": CanonicalViewport}
	if viewport.Length() > 1 {
		return multiple(viewport, audit.StatusError, expected, func(el *goquery.Selection) map[string]any {
			return map[string]any{"element": outerHTML(el)}
		}), nil
	}

	if viewport.Length() == 1 && outerHTML(viewport) == CanonicalViewport {
		return []audit.Finding{{
			Key:      "viewport",
			Status:   audit.StatusOK,
			Actual:   map[string]any{"element": CanonicalViewport},
			Expected: expected,
		}}, nil
	}
	return []audit.Finding{{
		Key:      "viewport",
		Status:   audit.StatusWarning,
		Actual:   map[string]any{"element": outerHTML(viewport)},
		Expected: expected,
	}}, nil
}

func checkFavicon(doc *Document) ([]audit.Finding, error) {
	var icons []audit.Icon
	doc.Find("link").Each(func(_ int, link *goquery.Selection) {
		rel, _ := link.Attr("rel")
		if !strings.Contains(rel, "icon") {
			return
		}
		href, _ := link.Attr("href")
		sizes, _ := link.Attr("sizes")
		icons = append(icons, audit.Icon{Href: href, Rel: rel, Sizes: sizes})
	})

	if len(icons) == 0 {
		return []audit.Finding{{
			Key:    "missing",
			Status: audit.StatusWarning,
			Actual: map[string]any{},
		}}, nil
	}
	return []audit.Finding{{
		Key:    "favicon",
		Status: audit.StatusOK,
		Actual: map[string]any{"icons": icons, "length": len(icons)},
	}}, nil
}
