// Package rules implements the markup and content checks run against a
// fetched page. Every rule is a pure function of the document: rules never
// mutate it and may run in any order or concurrently.
package rules
