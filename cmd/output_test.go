package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webaudit/internal/audit"
)

func sampleReport() audit.Report {
	score := 0.87
	favicon := "aWNvbg=="
	return audit.Report{
		ID:              "r1",
		URL:             "https://example.com/",
		HTTPStatus:      200,
		BodySize:        1234,
		FetchDurationMs: 42,
		FetchedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Results: map[string]audit.RuleResult{
			"title": {Rule: "title", Findings: []audit.Finding{{
				Key:      "title",
				Status:   audit.StatusOK,
				Actual:   map[string]any{"length": 7, "text": "Example"},
				Expected: map[string]any{"from": 1, "to": 69},
			}}},
			"h1": {Rule: "h1", Findings: []audit.Finding{{
				Key:    "h1",
				Status: audit.StatusError,
				Actual: map[string]any{"count": 0},
			}}},
			"custom": {Rule: "custom", Findings: []audit.Finding{}},
		},
		Performance: &audit.PerformanceResult{
			Reports: map[string]audit.StrategyReport{"mobile": {Score: &score}},
			Errors:  map[string]string{"desktop": "quota exceeded"},
		},
		FaviconBase64: &favicon,
		Screenshots:   map[string]string{"mobile": "file:///tmp/m.jpg"},
	}
}

func TestWriterForRejectsUnknownFormat(t *testing.T) {
	_, err := writerFor("pdf", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf")
}

func TestRuleOrderFollowsCatalog(t *testing.T) {
	assert.Equal(t, []string{"h1", "title", "custom"}, ruleOrder(sampleReport()))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeText(&buf, sampleReport(), true))
	out := buf.String()

	assert.Contains(t, out, "https://example.com/")
	assert.Contains(t, out, "status 200, 1234 bytes, 42 ms")
	assert.Contains(t, out, "ok      title length=7 text=Example (expected from=1 to=69)")
	assert.Contains(t, out, "error   h1 count=0")
	assert.Contains(t, out, "mobile  0.87")
	assert.Contains(t, out, "desktop quota exceeded")
	assert.Contains(t, out, "file:///tmp/m.jpg")
	assert.NotContains(t, out, "\x1b[")
	assert.Less(t, strings.Index(out, "h1"), strings.Index(out, "title"))
}

func TestWriteJSONKeepsReportKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	for _, key := range []string{"headers", "status", "duration", "size", "results", "favicon", "psi", "screenshots"} {
		assert.Contains(t, decoded, key)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, sampleReport()))

	var decoded struct {
		URL     string `yaml:"url"`
		Status  int    `yaml:"status"`
		Results map[string]struct {
			Info []struct {
				Status string `yaml:"status"`
			} `yaml:"info"`
		} `yaml:"results"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "https://example.com/", decoded.URL)
	assert.Equal(t, 200, decoded.Status)
	assert.Equal(t, "error", decoded.Results["h1"].Info[0].Status)
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMarkdown(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "# Audit report")
	assert.Contains(t, out, "## Rules")
	assert.Contains(t, out, "## Performance")
	assert.Contains(t, out, "## Screenshots")
	assert.Contains(t, out, "https://example.com/")
	assert.Contains(t, out, "quota exceeded")
}
