package rules

import "github.com/JakeFAU/webaudit/internal/audit"

// FaviconIcons extracts the icon candidates from a favicon rule result.
// It returns nil when the page declared no icon or the rule failed.
func FaviconIcons(result audit.RuleResult) []audit.Icon {
	for _, f := range result.Findings {
		if f.Status != audit.StatusOK {
			continue
		}
		switch icons := f.Actual["icons"].(type) {
		case []audit.Icon:
			return icons
		case []any:
			// Results decoded from JSON.
			out := make([]audit.Icon, 0, len(icons))
			for _, raw := range icons {
				m, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				href, _ := m["href"].(string)
				rel, _ := m["rel"].(string)
				sizes, _ := m["sizes"].(string)
				out = append(out, audit.Icon{Href: href, Rel: rel, Sizes: sizes})
			}
			return out
		}
	}
	return nil
}
