// Package favicon downloads the preferred page icon for a report.
package favicon

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// PreferredSize is picked over other candidates when present.
const PreferredSize = "32x32"

// ErrNoIcon is returned when there is no candidate to download.
var ErrNoIcon = errors.New("no favicon candidates")

// Resolver fetches favicons through the page fetcher.
type Resolver struct {
	fetcher audit.Fetcher
	timeout time.Duration
}

// New builds a Resolver. A zero timeout falls back to 15 seconds.
func New(fetcher audit.Fetcher, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Resolver{fetcher: fetcher, timeout: timeout}
}

// Resolve downloads the preferred icon and returns the body base64 encoded.
func (r *Resolver) Resolve(ctx context.Context, pageURL string, icons []audit.Icon) (string, error) {
	icon, ok := Pick(icons)
	if !ok {
		return "", ErrNoIcon
	}
	target, err := resolveHref(pageURL, icon.Href)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.fetcher.Fetch(ctx, audit.FetchRequest{URL: target})
	if err != nil {
		return "", fmt.Errorf("fetch favicon %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch favicon %s: unexpected status %d", target, resp.StatusCode)
	}
	return base64.StdEncoding.EncodeToString(resp.Body), nil
}

// Pick returns the 32x32 icon if there is one, otherwise the first.
func Pick(icons []audit.Icon) (audit.Icon, bool) {
	if len(icons) == 0 {
		return audit.Icon{}, false
	}
	for _, icon := range icons {
		if icon.Sizes == PreferredSize {
			return icon, true
		}
	}
	return icons[0], true
}

func resolveHref(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse favicon href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}
