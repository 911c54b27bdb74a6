package runner

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/samvad-hq/samvad-request-runner/pkg/executor"
)

const maxSummaryLen = 200

// summarizeBody produces a short, log-friendly description of a success body.
func summarizeBody(body executor.Body) string {
	if v, ok := body.JSON(); ok {
		return summarizeJSON(v)
	}
	text := strings.TrimSpace(body.Text())
	if text == "" {
		return ""
	}
	if looksLikeHTML(text) {
		if title := htmlTitle(text); title != "" {
			return truncate("html: " + title)
		}
	}
	return truncate(text)
}

func summarizeJSON(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return truncate("object{" + strings.Join(keys, ",") + "}")
	case []any:
		return fmt.Sprintf("array[%d]", len(val))
	default:
		return truncate(fmt.Sprintf("%v", val))
	}
}

func looksLikeHTML(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "<!doctype html") || strings.Contains(lower, "<html")
}

func htmlTitle(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if node := doc.Find(`meta[property="og:title"]`).First(); node.Length() > 0 {
		if val, ok := node.Attr("content"); ok {
			return strings.TrimSpace(val)
		}
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func truncate(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	n := maxSummaryLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
