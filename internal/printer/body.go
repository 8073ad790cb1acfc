package printer

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// formatBody pretty-prints JSON and form bodies; anything else is returned
// as-is. ok is false for binary content.
func formatBody(contentType string, body []byte) (text string, ok bool) {
	if !utf8.Valid(body) {
		return "", false
	}
	mediaType := normalizeMediaType(contentType)

	if looksLikeJSON(mediaType, body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			return buf.String(), true
		}
	}

	if mediaType == "application/x-www-form-urlencoded" {
		if values, err := url.ParseQuery(string(body)); err == nil && len(values) > 0 {
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var b strings.Builder
			for _, k := range keys {
				for _, v := range values[k] {
					b.WriteString(k)
					b.WriteString(" = ")
					b.WriteString(v)
					b.WriteByte('\n')
				}
			}
			return strings.TrimRight(b.String(), "\n"), true
		}
	}

	return string(body), true
}

func normalizeMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func looksLikeJSON(mediaType string, body []byte) bool {
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed)
}
