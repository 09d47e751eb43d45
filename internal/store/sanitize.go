package store

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML extracts visible text from content that carries embedded markup.
// Office-format converters leave tags inside extracted text; script, style,
// and iframe subtrees are dropped entirely. Content without any tag passes
// through unchanged.
func StripHTML(content string) string {
	if !strings.ContainsRune(content, '<') {
		return content
	}

	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}

	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)
	return strings.TrimSpace(buf.String())
}
