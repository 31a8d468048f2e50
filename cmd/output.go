package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/nao1215/markdown"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/rules"
)

// Output formats accepted by --format.
const (
	formatText     = "text"
	formatJSON     = "json"
	formatYAML     = "yaml"
	formatMarkdown = "markdown"
)

type reportWriter func(w io.Writer, report audit.Report) error

func writerFor(format string, noColor bool) (reportWriter, error) {
	switch strings.ToLower(format) {
	case formatText, "":
		return func(w io.Writer, r audit.Report) error { return writeText(w, r, noColor) }, nil
	case formatJSON:
		return writeJSON, nil
	case formatYAML, "yml":
		return writeYAML, nil
	case formatMarkdown, "md":
		return writeMarkdown, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want text, json, yaml or markdown)", format)
	}
}

func writeJSON(w io.Writer, report audit.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeYAML(w io.Writer, report audit.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// ruleOrder lists the rules of a report in catalog order, followed by any
// names the default catalog does not know.
func ruleOrder(report audit.Report) []string {
	names := make([]string, 0, len(report.Results))
	seen := make(map[string]bool, len(report.Results))
	for _, name := range rules.Default().Names() {
		if _, ok := report.Results[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range report.Results {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

func formatValues(values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(values))
	for _, k := range sortedKeys(values) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, values[k]))
	}
	return strings.Join(parts, " ")
}

func statusColor(status audit.Status, noColor bool) *color.Color {
	var c *color.Color
	switch status {
	case audit.StatusOK:
		c = color.New(color.FgGreen)
	case audit.StatusWarning:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	if noColor {
		c.DisableColor()
	}
	return c
}

func writeText(w io.Writer, report audit.Report, noColor bool) error {
	bold := color.New(color.Bold)
	if noColor {
		bold.DisableColor()
	}
	bold.Fprintf(w, "%s\n", report.URL)
	fmt.Fprintf(w, "status %d, %d bytes, %d ms\n\n", report.HTTPStatus, report.BodySize, report.FetchDurationMs)

	for _, name := range ruleOrder(report) {
		bold.Fprintf(w, "%s\n", name)
		for _, f := range report.Results[name].Findings {
			statusColor(f.Status, noColor).Fprintf(w, "  %-8s", f.Status)
			fmt.Fprintf(w, "%s %s", f.Key, formatValues(f.Actual))
			if len(f.Expected) > 0 {
				fmt.Fprintf(w, " (expected %s)", formatValues(f.Expected))
			}
			fmt.Fprintln(w)
		}
	}

	if report.FaviconBase64 != nil {
		fmt.Fprintf(w, "\nfavicon: %d bytes base64\n", len(*report.FaviconBase64))
	}
	if p := report.Performance; p != nil {
		fmt.Fprintln(w)
		bold.Fprintln(w, "performance")
		for _, strategy := range sortedKeys(p.Reports) {
			score := "n/a"
			if s := p.Reports[strategy].Score; s != nil {
				score = strconv.FormatFloat(*s, 'f', 2, 64)
			}
			fmt.Fprintf(w, "  %-8s%s\n", strategy, score)
		}
		for _, strategy := range sortedKeys(p.Errors) {
			statusColor(audit.StatusError, noColor).Fprintf(w, "  %-8s", strategy)
			fmt.Fprintln(w, p.Errors[strategy])
		}
	}
	if len(report.Screenshots) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "screenshots")
		for _, device := range sortedKeys(report.Screenshots) {
			fmt.Fprintf(w, "  %-8s%s\n", device, report.Screenshots[device])
		}
	}
	return nil
}

func writeMarkdown(w io.Writer, report audit.Report) error {
	md := markdown.NewMarkdown(w)
	md.H1("Audit report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"URL", report.URL},
			{"HTTP status", strconv.Itoa(report.HTTPStatus)},
			{"Size", strconv.FormatInt(report.BodySize, 10) + " bytes"},
			{"Fetch duration", strconv.FormatInt(report.FetchDurationMs, 10) + " ms"},
			{"Fetched at", report.FetchedAt.UTC().Format("2006-01-02 15:04:05 MST")},
			{"Favicon", yesNo(report.FaviconBase64 != nil)},
		},
	})
	md.PlainText("")

	md.H2("Rules")
	md.PlainText("")
	rows := make([][]string, 0, len(report.Results))
	for _, name := range ruleOrder(report) {
		for _, f := range report.Results[name].Findings {
			rows = append(rows, []string{name, f.Key, string(f.Status), formatValues(f.Actual), formatValues(f.Expected)})
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Rule", "Key", "Status", "Actual", "Expected"},
		Rows:   rows,
	})
	md.PlainText("")

	if p := report.Performance; p != nil {
		md.H2("Performance")
		md.PlainText("")
		perfRows := make([][]string, 0, len(p.Reports)+len(p.Errors))
		for _, strategy := range sortedKeys(p.Reports) {
			score := "n/a"
			if s := p.Reports[strategy].Score; s != nil {
				score = strconv.FormatFloat(*s, 'f', 2, 64)
			}
			perfRows = append(perfRows, []string{strategy, score, ""})
		}
		for _, strategy := range sortedKeys(p.Errors) {
			perfRows = append(perfRows, []string{strategy, "", p.Errors[strategy]})
		}
		md.Table(markdown.TableSet{Header: []string{"Strategy", "Score", "Error"}, Rows: perfRows})
		md.PlainText("")
	}

	if len(report.Screenshots) > 0 {
		md.H2("Screenshots")
		md.PlainText("")
		items := make([]string, 0, len(report.Screenshots))
		for _, device := range sortedKeys(report.Screenshots) {
			items = append(items, device+": "+report.Screenshots[device])
		}
		md.BulletList(items...)
		md.PlainText("")
	}
	return md.Build()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
