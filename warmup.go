package httpcloak

import (
	"bytes"
	"context"
	neturl "net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// warmupMaxSubresources caps how many subresources one warmup fetches.
const warmupMaxSubresources = 20

// Warmup simulates a browser page load: it fetches the document, then
// the scripts, stylesheets, and images it references, priming the
// session's TLS ticket cache, cookie jar, and connection pool. A
// failed document fetch fails the warmup; individual subresource
// failures are tolerated, as in a browser rendering a partial page.
func (s *Session) Warmup(ctx context.Context, url string, opts ...RequestOption) error {
	resp, err := s.Get(ctx, url, opts...)
	if err != nil {
		return err
	}

	base := resp.FinalURL
	if base == "" {
		base = url
	}
	fetched := 0
	for _, ref := range subresourceURLs(resp.Bytes(), base, warmupMaxSubresources) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Get(ctx, ref); err != nil {
			s.logger().Debug("warmup subresource failed",
				zap.String("url", ref),
				zap.Error(err))
			continue
		}
		fetched++
	}
	s.logger().Debug("warmup completed",
		zap.String("url", url),
		zap.Int("subresources", fetched))
	return nil
}

// subresourceURLs extracts the fetchable subresource references of an
// HTML document: script src, stylesheet and icon link href, and img
// src. References resolve against base; only http(s) results count,
// deduplicated, capped at max. Malformed HTML yields whatever was
// parseable before the error.
func subresourceURLs(doc []byte, base string, max int) []string {
	baseURL, err := neturl.Parse(base)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	z := html.NewTokenizer(bytes.NewReader(doc))
	for len(out) < max {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if !hasAttr {
			continue
		}

		var urlAttr string
		switch string(name) {
		case "script", "img":
			urlAttr = "src"
		case "link":
			urlAttr = "href"
		default:
			continue
		}

		var ref, rel string
		for {
			key, val, more := z.TagAttr()
			switch string(key) {
			case urlAttr:
				ref = string(val)
			case "rel":
				rel = string(val)
			}
			if !more {
				break
			}
		}
		if string(name) == "link" && !linkRelFetchable(rel) {
			continue
		}
		if ref == "" {
			continue
		}

		resolved := resolveRef(baseURL, ref)
		if resolved == "" || seen[resolved] {
			continue
		}
		seen[resolved] = true
		out = append(out, resolved)
	}
	return out
}

// linkRelFetchable reports whether a link rel names a resource browsers
// fetch during page load.
func linkRelFetchable(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		switch token {
		case "stylesheet", "icon", "shortcut", "preload":
			return true
		}
	}
	return false
}

func resolveRef(base *neturl.URL, ref string) string {
	parsed, err := neturl.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
