package extract

import (
	"bytes"
	"regexp"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxHeadings = 10

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

// extractHTML pulls title, meta description, headings and a markdown body
// out of an HTML payload. It never fails: parse errors and empty results
// degrade to LowConfidence.
func extractHTML(payload []byte, fallbackTitle string) *Content {
	c := &Content{}

	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		// x/net/html almost never errors; treat it as plain text.
		c.addWarning("html parse failed, treated as text")
		c.Body = collapseSpace(string(payload))
		c.WordCount = countWords(c.Body)
		return c
	}

	c.Title = findTitle(doc)
	if c.Title == "" {
		c.Title = fallbackTitle
	}
	if c.Title == "" {
		c.addWarning("no title found")
	}

	c.Description = findMetaDescription(doc)

	collectHeadings(doc, &c.Headings)
	if len(c.Headings) > maxHeadings {
		c.Headings = c.Headings[:maxHeadings]
	}

	pruneBoilerplate(doc)

	c.Body = renderMarkdown(doc)
	if c.Body == "" {
		c.addWarning("markdown conversion empty, fell back to raw text")
		c.Body = collectText(doc)
	}
	if c.Body == "" {
		c.addWarning("no body text extracted")
	}
	c.WordCount = countWords(c.Body)
	if c.WordCount < 30 && c.Body != "" {
		c.addWarning("body suspiciously short")
	}
	return c
}

// findTitle prefers <title>, then og:title, then the first h1.
func findTitle(doc *html.Node) string {
	if t := firstNodeText(doc, atom.Title); t != "" {
		return t
	}
	if t := metaContent(doc, "property", "og:title"); t != "" {
		return t
	}
	return firstNodeText(doc, atom.H1)
}

func findMetaDescription(doc *html.Node) string {
	if d := metaContent(doc, "name", "description"); d != "" {
		return d
	}
	return metaContent(doc, "property", "og:description")
}

func firstNodeText(n *html.Node, a atom.Atom) string {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return collapseSpace(collectText(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := firstNodeText(c, a); t != "" {
			return t
		}
	}
	return ""
}

func metaContent(n *html.Node, attrKey, attrVal string) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
		match := false
		content := ""
		for _, a := range n.Attr {
			switch a.Key {
			case attrKey:
				if strings.EqualFold(a.Val, attrVal) {
					match = true
				}
			case "content":
				content = a.Val
			}
		}
		if match {
			return collapseSpace(content)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := metaContent(c, attrKey, attrVal); v != "" {
			return v
		}
	}
	return ""
}

// collectHeadings gathers h1..h6 text in document order.
func collectHeadings(n *html.Node, out *[]string) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header, atom.Aside:
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			if t := collapseSpace(collectText(n)); t != "" {
				*out = append(*out, t)
			}
			return
		}
		if hasHiddenStyle(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectHeadings(c, out)
	}
}

// pruneBoilerplate removes chrome and invisible subtrees in place.
func pruneBoilerplate(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer,
				atom.Header, atom.Aside, atom.Iframe, atom.Form, atom.Button:
				n.RemoveChild(c)
				continue
			}
			if hasHiddenStyle(c) {
				n.RemoveChild(c)
				continue
			}
		}
		pruneBoilerplate(c)
	}
}

// renderMarkdown serializes the pruned DOM, sanitizes it and converts it to
// markdown. Any failure returns "" and the caller falls back to raw text.
func renderMarkdown(doc *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return ""
	}

	clean := bluemonday.UGCPolicy().SanitizeBytes(buf.Bytes())

	conv := htmltomd.NewConverter(
		htmltomd.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(string(clean))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(md)
}

// collectText extracts all visible text from a node subtree.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
