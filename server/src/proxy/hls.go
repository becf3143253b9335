package proxy

import (
	"net/url"
	"strings"
)

// isManifest reports whether a response looks like an HLS playlist, by
// content type first and URL extension as a fallback.
func isManifest(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.HasSuffix(strings.ToLower(trimmed), ".m3u8")
}

// rewriteManifest routes every URI in an HLS playlist back through the proxy.
// Segment and variant lines are bare URIs; key, map and media lines carry a
// quoted URI attribute inside the tag.
func rewriteManifest(body []byte, base *url.URL, wrap func(absolute string) string) []byte {
	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			lines[i] = rewriteTagURI(line, base, wrap)
			continue
		}
		lines[i] = wrap(resolveRef(base, trimmed))
	}
	return []byte(strings.Join(lines, "\n"))
}

func rewriteTagURI(line string, base *url.URL, wrap func(string) string) string {
	const attr = `URI="`
	start := strings.Index(line, attr)
	if start < 0 {
		return line
	}
	start += len(attr)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return line
	}
	end += start

	rewritten := wrap(resolveRef(base, line[start:end]))
	return line[:start] + rewritten + line[end:]
}

func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
