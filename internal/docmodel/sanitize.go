package docmodel

import "regexp"

var (
	externalURLRe = regexp.MustCompile(`(?i)^(https?:)?//`)
	scriptSrcRe   = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc\s*=\s*("|')?([^"'>\s]+)(?:"|')?[^>]*>\s*</script\s*>`)
	linkHrefRe    = regexp.MustCompile(`(?is)<link\b[^>]*\bhref\s*=\s*("|')?([^"'>\s]+)(?:"|')?[^>]*>`)
	cssImportRe   = regexp.MustCompile(`(?is)@import\s+(?:url\(\s*([^)]+)\s*\)|("|'[^"']+"|'))\s*;?`)

	tailwindCDNRe = regexp.MustCompile(`(?i)^(?:https?:)?//cdn\.tailwindcss\.com(?:/|\?|$)`)
	gsapCDNRe     = regexp.MustCompile(`(?i)^(?:https?:)?//cdnjs\.cloudflare\.com/ajax/libs/gsap/[^/]+/gsap(?:\.min)?\.js`)
	lucideCDNRe   = regexp.MustCompile(`(?i)^(?:https?:)?//unpkg\.com/lucide(?:@[^/]+)?(?:/.*)?$`)
)

// rewriteKnownCDN returns the local vendor path for one of the three known
// CDN origins allowed to survive stripping, or "" if src is not one of them.
func rewriteKnownCDN(src string) string {
	switch {
	case tailwindCDNRe.MatchString(src):
		return "/static/vendor/tailwind-play.js"
	case gsapCDNRe.MatchString(src):
		return "/static/vendor/gsap.min.js"
	case lucideCDNRe.MatchString(src):
		return "/static/vendor/lucide.min.js"
	default:
		return ""
	}
}

func isExternal(url string) bool {
	return externalURLRe.MatchString(trimQuotes(url))
}

func trimQuotes(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}

var scriptSrcAttrRe = regexp.MustCompile(`(?i)\bsrc\s*=\s*(['"]).*?['"]`)

// stripExternalAssets removes (or rewrites, for known CDNs) external
// <script src>, <link href>, and CSS @import url() references from html.
// It returns the rewritten HTML and one Issue per removal/rewrite.
func stripExternalAssets(html string) (string, []Issue) {
	var issues []Issue
	if html == "" {
		return html, issues
	}

	html = scriptSrcRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := scriptSrcRe.FindStringSubmatch(tag)
		src := m[2]
		if !isExternal(src) {
			return tag
		}
		if local := rewriteKnownCDN(src); local != "" {
			newTag := scriptSrcAttrRe.ReplaceAllString(tag, `src="`+local+`"`)
			issues = append(issues, Issue{
				Severity: SeverityInfo,
				Field:    "html",
				Message:  "Rewrote external script: " + src + " -> " + local,
			})
			return newTag
		}
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Field:    "html",
			Message:  "Removed external script: " + src,
		})
		return ""
	})

	html = linkHrefRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := linkHrefRe.FindStringSubmatch(tag)
		href := m[2]
		if !isExternal(href) {
			return tag
		}
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Field:    "html",
			Message:  "Removed external stylesheet: " + href,
		})
		return ""
	})

	html = cssImportRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := cssImportRe.FindStringSubmatch(tag)
		url := trimURLQuotes(firstNonEmpty(m[1], m[2]))
		if !isExternal(url) {
			return tag
		}
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Field:    "html",
			Message:  "Removed external @import: " + url,
		})
		return ""
	})

	return html, issues
}

func trimURLQuotes(s string) string {
	s = trimQuotes(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// SanitizeExternalAssets strips external script/link/@import references from
// d's HTML (full page, snippet, or every component's html) and records
// every removal/rewrite in d.Debug.ExternalAssetsRemoved. Returns a new Doc;
// d is not mutated.
func SanitizeExternalAssets(d *Doc) *Doc {
	if d == nil {
		return nil
	}
	out := d.Clone()
	var allIssues []Issue

	switch out.Kind {
	case KindFullPage:
		html, issues := stripExternalAssets(out.HTML)
		out.HTML = html
		allIssues = append(allIssues, issues...)
	case KindSnippet:
		html, issues := stripExternalAssets(out.HTML)
		out.HTML = html
		allIssues = append(allIssues, issues...)
	case KindComponent:
		for i, c := range out.Components {
			html, issues := stripExternalAssets(c.Props.HTML)
			out.Components[i].Props.HTML = html
			for _, iss := range issues {
				iss.Field = "components[" + c.ID + "].html"
				allIssues = append(allIssues, iss)
			}
		}
	}

	if len(allIssues) > 0 {
		if out.Debug == nil {
			out.Debug = &DebugInfo{}
		}
		out.Debug.ExternalAssetsRemoved = append(out.Debug.ExternalAssetsRemoved, allIssues...)
	}
	return out
}
