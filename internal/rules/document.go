package rules

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed page shared read-only by every rule.
type Document struct {
	dom *goquery.Document
}

// Parse builds a Document from a response body.
func Parse(body []byte) (*Document, error) {
	dom, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{dom: dom}, nil
}

// Find runs a CSS selector against the document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.dom.Find(selector)
}
