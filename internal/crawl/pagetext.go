package crawl

import (
	"strings"

	"golang.org/x/net/html"
)

// PageText extracts the visible text from a site page's canvas HTML so
// downstream indexing gets searchable content without a binary extraction
// pipeline. Script and style subtrees are skipped; runs of whitespace
// collapse to single spaces. Malformed markup degrades to whatever text the
// tolerant parser recovers.
func PageText(canvas string) string {
	if strings.TrimSpace(canvas) == "" {
		return ""
	}

	root, err := html.Parse(strings.NewReader(canvas))
	if err != nil {
		return ""
	}

	var words []string

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}

		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(root)

	return strings.Join(words, " ")
}
