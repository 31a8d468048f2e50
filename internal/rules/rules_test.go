package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webaudit/internal/audit"
)

func run(t *testing.T, name, html string) audit.RuleResult {
	t.Helper()
	doc, err := Parse([]byte(html))
	require.NoError(t, err)
	c, err := Default().Select(name)
	require.NoError(t, err)
	return c.EvaluateAll(doc)[name]
}

func page(head, body string) string {
	return "<html><head>" + head + "</head><body>" + body + "</body></html>"
}

func TestTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		title  string
		status audit.Status
		length int
	}{
		{title: "Foo", status: audit.StatusOK, length: 3},
		{title: strings.Repeat("A", 69), status: audit.StatusOK, length: 69},
		{title: strings.Repeat("A", 70), status: audit.StatusWarning, length: 70},
		{title: "", status: audit.StatusWarning, length: 0},
		{title: "Größe", status: audit.StatusOK, length: 5},
	}
	for _, tc := range cases {
		res := run(t, NameTitle, page("<title>"+tc.title+"</title>", ""))
		require.Equal(t, NameTitle, res.Rule)
		require.Len(t, res.Findings, 1)
		f := res.Findings[0]
		require.Equal(t, "length", f.Key)
		require.Equal(t, tc.status, f.Status, tc.title)
		require.Equal(t, map[string]any{"length": tc.length, "text": tc.title}, f.Actual)
		require.Equal(t, map[string]any{"from": 1, "to": 60}, f.Expected)
	}
}

func TestTitleMultiple(t *testing.T) {
	t.Parallel()

	res := run(t, NameTitle, page("<title>Foo</title><title>Bar</title><title>Baz</title>", ""))
	require.Len(t, res.Findings, 3)
	for i, text := range []string{"Foo", "Bar", "Baz"} {
		require.Equal(t, "multiple", res.Findings[i].Key)
		require.Equal(t, audit.StatusError, res.Findings[i].Status)
		require.Equal(t, text, res.Findings[i].Actual["text"])
	}
}

func TestTitleOutsideHeadIsIgnored(t *testing.T) {
	t.Parallel()

	res := run(t, NameTitle, page("", "<span><title>Foo</title></span>"))
	require.Len(t, res.Findings, 1)
	require.Equal(t, audit.StatusWarning, res.Findings[0].Status)
	require.Equal(t, 0, res.Findings[0].Actual["length"])
}

func TestH1(t *testing.T) {
	t.Parallel()

	ok := run(t, NameH1, page("", "<h1>Foo</h1>"))
	require.Equal(t, []audit.Finding{{
		Key:      "length",
		Status:   audit.StatusOK,
		Actual:   map[string]any{"length": 3},
		Expected: map[string]any{"from": 1},
	}}, ok.Findings)

	missing := run(t, NameH1, page("", ""))
	require.Equal(t, audit.StatusWarning, missing.Findings[0].Status)
	require.Equal(t, 0, missing.Findings[0].Actual["length"])

	many := run(t, NameH1, page("", "<h1>Foo</h1><h1>Bar</h1>"))
	require.Len(t, many.Findings, 2)
	require.Equal(t, "Foo", many.Findings[0].Actual["text"])
	require.Equal(t, "Bar", many.Findings[1].Actual["text"])
	for _, f := range many.Findings {
		require.Equal(t, audit.StatusError, f.Status)
	}
}

func TestMetaDescription(t *testing.T) {
	t.Parallel()

	meta := func(content string) string {
		return `<meta name="description" content="` + content + `"/>`
	}
	cases := []struct {
		content string
		status  audit.Status
	}{
		{content: "Foo", status: audit.StatusOK},
		{content: strings.Repeat("A", 159), status: audit.StatusOK},
		{content: strings.Repeat("A", 160), status: audit.StatusWarning},
		{content: "", status: audit.StatusWarning},
	}
	for _, tc := range cases {
		res := run(t, NameMetaDescription, page(meta(tc.content), ""))
		require.Len(t, res.Findings, 1)
		require.Equal(t, tc.status, res.Findings[0].Status)
		require.Equal(t, tc.content, res.Findings[0].Actual["content"])
		require.Equal(t, map[string]any{"from": 1, "to": 160}, res.Findings[0].Expected)
	}

	many := run(t, NameMetaDescription, page(meta("Foo")+meta("Bar"), ""))
	require.Len(t, many.Findings, 2)
	for i, content := range []string{"Foo", "Bar"} {
		require.Equal(t, "multiple", many.Findings[i].Key)
		require.Equal(t, audit.StatusWarning, many.Findings[i].Status)
		require.Equal(t, content, many.Findings[i].Actual["content"])
	}
}

func TestMetaDescriptionMissing(t *testing.T) {
	t.Parallel()

	res := run(t, NameMetaDescription, page("", ""))
	require.False(t, Failed(res))
	require.Len(t, res.Findings, 1)
	require.Equal(t, audit.StatusWarning, res.Findings[0].Status)
	require.Equal(t, 0, res.Findings[0].Actual["length"])
}

func TestImageAlt(t *testing.T) {
	t.Parallel()

	res := run(t, NameImageAlt, page("", `<img src="foo.jpg" alt="Foo"><img src="bar.jpg" alt=""><img src="baz.jpg">`+
		`<img src="qux.jpg" alt="`+strings.Repeat("A", 125)+`"><img src="x.jpg" alt="A">`))
	require.Len(t, res.Findings, 5)

	require.Equal(t, audit.StatusOK, res.Findings[0].Status)
	require.Equal(t, `<img src="foo.jpg" alt="Foo">`, res.Findings[0].Actual["element"])
	require.Equal(t, 3, res.Findings[0].Actual["length"])

	require.Equal(t, audit.StatusWarning, res.Findings[1].Status)
	require.Equal(t, `<img src="bar.jpg" alt="">`, res.Findings[1].Actual["element"])
	require.Equal(t, 0, res.Findings[1].Actual["length"])

	require.Equal(t, audit.StatusWarning, res.Findings[2].Status)
	require.Equal(t, 0, res.Findings[2].Actual["length"])

	require.Equal(t, audit.StatusWarning, res.Findings[3].Status)
	require.Equal(t, 125, res.Findings[3].Actual["length"])

	require.Equal(t, audit.StatusWarning, res.Findings[4].Status, "a single character is too short")
	for _, f := range res.Findings {
		require.Equal(t, map[string]any{"from": 1, "to": 125}, f.Expected)
	}
}

func TestImageAltNoImages(t *testing.T) {
	t.Parallel()

	res := run(t, NameImageAlt, page("", "<p>text</p>"))
	require.NotNil(t, res.Findings)
	require.Empty(t, res.Findings)
}

func TestWordCount(t *testing.T) {
	t.Parallel()

	res := run(t, NameWordCount, page("", "<h1>Hello World</h1><span>How are you?</span><p>Lorem ipsum dolor sit</p>"))
	require.Equal(t, []audit.Finding{{
		Key:    "length",
		Status: audit.StatusOK,
		Actual: map[string]any{"length": 7},
	}}, res.Findings)

	empty := run(t, NameWordCount, page("", ""))
	require.Equal(t, audit.StatusOK, empty.Findings[0].Status)
	require.Equal(t, 0, empty.Findings[0].Actual["length"])
}

func TestLanguage(t *testing.T) {
	t.Parallel()

	for lang, status := range map[string]audit.Status{
		"de":    audit.StatusOK,
		"en-us": audit.StatusOK,
		"":      audit.StatusWarning,
	} {
		res := run(t, NameLanguage, `<html lang="`+lang+`"></html>`)
		require.Len(t, res.Findings, 1)
		require.Equal(t, "language", res.Findings[0].Key)
		require.Equal(t, status, res.Findings[0].Status)
		require.Equal(t, lang, res.Findings[0].Actual["language"])
	}

	absent := run(t, NameLanguage, "<html></html>")
	require.Equal(t, audit.StatusWarning, absent.Findings[0].Status)
}

func TestCharset(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		head string
		want []audit.Finding
	}{
		{
			name: "attribute",
			head: `<meta charset="UTF-8">`,
			want: []audit.Finding{{Key: "charset", Status: audit.StatusOK, Actual: map[string]any{"charset": "UTF-8"}}},
		},
		{
			name: "http-equiv content",
			head: `<meta http-equiv="Content-Type" content="text/html charset=utf-8">`,
			want: []audit.Finding{{Key: "charset", Status: audit.StatusOK, Actual: map[string]any{"charset": "utf-8"}}},
		},
		{
			name: "empty attribute",
			head: `<meta charset="">`,
			want: []audit.Finding{{Key: "charset", Status: audit.StatusWarning, Actual: map[string]any{"charset": ""}}},
		},
		{
			name: "absent",
			head: `<meta name="author" content="me">`,
			want: []audit.Finding{{Key: "charset", Status: audit.StatusWarning, Actual: map[string]any{"charset": ""}}},
		},
		{
			name: "conflicting",
			head: `<meta charset="utf-8"><meta charset="ISO-8859-1">`,
			want: []audit.Finding{
				{Key: "multiple", Status: audit.StatusError, Actual: map[string]any{"charset": "utf-8"}},
				{Key: "multiple", Status: audit.StatusError, Actual: map[string]any{"charset": "ISO-8859-1"}},
			},
		},
		{
			name: "mixed declarations",
			head: `<meta http-equiv="Content-Type" content="text/html charset=utf-8"><meta charset="ISO-8859-1">`,
			want: []audit.Finding{
				{Key: "multiple", Status: audit.StatusError, Actual: map[string]any{"charset": "utf-8"}},
				{Key: "multiple", Status: audit.StatusError, Actual: map[string]any{"charset": "ISO-8859-1"}},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := run(t, NameCharset, page(tc.head, ""))
			require.Equal(t, tc.want, res.Findings)
		})
	}
}

func TestMetaViewport(t *testing.T) {
	t.Parallel()

	expected := map[string]any{"viewport": CanonicalViewport}

	ok := run(t, NameMetaViewport, page(CanonicalViewport, ""))
	require.Equal(t, []audit.Finding{{
		Key:      "viewport",
		Status:   audit.StatusOK,
		Actual:   map[string]any{"element": CanonicalViewport},
		Expected: expected,
	}}, ok.Findings)

	other := run(t, NameMetaViewport, page(`<meta name="viewport" content="foo">`, ""))
	require.Equal(t, audit.StatusWarning, other.Findings[0].Status)
	require.Equal(t, `<meta name="viewport" content="foo">`, other.Findings[0].Actual["element"])

	// Semantically equal but not byte-identical.
	spaced := run(t, NameMetaViewport, page(`<meta content="width=device-width, initial-scale=1.0" name="viewport">`, ""))
	require.Equal(t, audit.StatusWarning, spaced.Findings[0].Status)

	missing := run(t, NameMetaViewport, page("", ""))
	require.Equal(t, audit.StatusWarning, missing.Findings[0].Status)
	require.Equal(t, "", missing.Findings[0].Actual["element"])

	commented := run(t, NameMetaViewport, page("<!-- "+CanonicalViewport+" -->", `<script>var v = '`+CanonicalViewport+`';</script>`))
	require.Equal(t, audit.StatusWarning, commented.Findings[0].Status)
	require.Equal(t, "", commented.Findings[0].Actual["element"])

	shadowed := run(t, NameMetaViewport, page(`<meta name="viewport" content="foo"><!-- `+CanonicalViewport+` -->`, ""))
	require.Equal(t, audit.StatusWarning, shadowed.Findings[0].Status)

	many := run(t, NameMetaViewport, page(`<meta name="viewport" content="bar"><meta name="viewport" content="foo">`, ""))
	require.Len(t, many.Findings, 2)
	require.Equal(t, `<meta name="viewport" content="bar">`, many.Findings[0].Actual["element"])
	require.Equal(t, `<meta name="viewport" content="foo">`, many.Findings[1].Actual["element"])
	for _, f := range many.Findings {
		require.Equal(t, audit.StatusError, f.Status)
		require.Equal(t, expected, f.Expected)
	}
}

func TestFavicon(t *testing.T) {
	t.Parallel()

	missing := run(t, NameFavicon, page("", ""))
	require.Equal(t, []audit.Finding{{Key: "missing", Status: audit.StatusWarning, Actual: map[string]any{}}}, missing.Findings)

	res := run(t, NameFavicon, page(`<link rel="shortcut icon" href="favicon1.png" sizes="32x32">`+
		`<link rel="stylesheet" href="site.css"><link rel="icon" href="favicon2.png">`, ""))
	require.Len(t, res.Findings, 1)
	require.Equal(t, audit.StatusOK, res.Findings[0].Status)
	require.Equal(t, 2, res.Findings[0].Actual["length"])
	require.Equal(t, []audit.Icon{
		{Href: "favicon1.png", Rel: "shortcut icon", Sizes: "32x32"},
		{Href: "favicon2.png", Rel: "icon"},
	}, FaviconIcons(res))
	require.Nil(t, FaviconIcons(missing))
}

func TestFaviconIconsFromDecodedJSON(t *testing.T) {
	t.Parallel()

	res := audit.RuleResult{Rule: NameFavicon, Findings: []audit.Finding{{
		Key:    "favicon",
		Status: audit.StatusOK,
		Actual: map[string]any{"icons": []any{map[string]any{"href": "/a.ico", "rel": "icon"}}},
	}}}
	require.Equal(t, []audit.Icon{{Href: "/a.ico", Rel: "icon"}}, FaviconIcons(res))
}

func TestMultipleFindingsAreNeverOK(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(page(
		`<title>a</title><title>b</title><meta charset="a"><meta charset="b">`+
			`<meta name="description" content="a"><meta name="description" content="b">`+
			`<meta name="viewport" content="a"><meta name="viewport" content="b">`,
		"<h1>a</h1><h1>b</h1>")))
	require.NoError(t, err)
	for _, res := range Default().EvaluateAll(doc) {
		for _, f := range res.Findings {
			if f.Key == "multiple" {
				require.NotEqual(t, audit.StatusOK, f.Status, res.Rule)
			}
		}
	}
}

func TestEvaluateIsolatesFailures(t *testing.T) {
	t.Parallel()

	boom := Rule{Name: "boom", Check: func(*Document) ([]audit.Finding, error) { panic("kaboom") }}
	bad := Rule{Name: "bad", Check: func(*Document) ([]audit.Finding, error) { return nil, errors.New("broken") }}
	c, err := NewCatalog(boom, bad, Default().Rules()[0])
	require.NoError(t, err)

	doc, err := Parse([]byte(page("", "<h1>ok</h1>")))
	require.NoError(t, err)
	results := c.EvaluateAll(doc)
	require.Len(t, results, 3)

	require.True(t, Failed(results["boom"]))
	require.Contains(t, results["boom"].Findings[0].Actual["error"], "kaboom")
	require.True(t, Failed(results["bad"]))
	require.Contains(t, results["bad"].Findings[0].Actual["error"], "broken")
	require.Equal(t, audit.StatusOK, results[NameH1].Findings[0].Status)
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	c := Default()
	require.Equal(t, []string{
		NameH1, NameTitle, NameCharset, NameImageAlt, NameLanguage,
		NameWordCount, NameMetaViewport, NameMetaDescription, NameFavicon,
	}, c.Names())

	sub, err := c.Select("title", " favicon ")
	require.NoError(t, err)
	require.Equal(t, []string{NameTitle, NameFavicon}, sub.Names())

	_, err = c.Select("nope")
	require.Error(t, err)

	_, err = NewCatalog(Rule{Name: "x", Check: checkH1}, Rule{Name: "x", Check: checkH1})
	require.Error(t, err)
	_, err = NewCatalog(Rule{Name: "x"})
	require.Error(t, err)
}

func TestOuterHTMLEscapes(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(page("", `<img alt="a &amp; &quot;b&quot;" src="x.png"><p class="c">x &lt; y<br>z</p>`)))
	require.NoError(t, err)
	require.Equal(t, `<img alt="a &amp; &quot;b&quot;" src="x.png">`, outerHTML(doc.Find("img")))
	require.Equal(t, `<p class="c">x &lt; y<br>z</p>`, outerHTML(doc.Find("p")))
	require.Equal(t, "", outerHTML(doc.Find("video")))
}
