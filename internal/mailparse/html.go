package mailparse

import (
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// HTMLToText renders an HTML mail body the way mail clients render their
// text/plain alternative: block elements become line breaks, links become
// "label <href>" and images become "[image: alt]".
func HTMLToText(src string) string {
	doc, err := xhtml.Parse(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	var w textWriter
	w.walk(doc)
	out := blankRuns.ReplaceAllString(w.String(), "\n\n")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type textWriter struct{ strings.Builder }

func (w *textWriter) walk(n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		w.text(n.Data)
		return
	case xhtml.ElementNode:
		switch n.Data {
		case "script", "style", "head", "title", "noscript":
			return
		case "br":
			w.WriteString("\n")
			return
		case "hr":
			w.block()
			w.WriteString("-----")
			w.block()
			return
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				w.text("[image: " + alt + "]")
			}
			return
		}
	}

	block := n.Type == xhtml.ElementNode && isBlock(n.Data)
	if block {
		w.block()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if n.Type == xhtml.ElementNode && n.Data == "a" {
		if href := attr(n, "href"); strings.HasPrefix(href, "http") {
			w.WriteString(" <" + href + ">")
		}
	}
	if block {
		w.block()
	}
}

func (w *textWriter) text(s string) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return
	}
	cur := w.String()
	if cur != "" && !strings.HasSuffix(cur, "\n") && !strings.HasSuffix(cur, " ") {
		w.WriteString(" ")
	}
	w.WriteString(s)
}

func (w *textWriter) block() {
	if w.Len() > 0 && !strings.HasSuffix(w.String(), "\n") {
		w.WriteString("\n")
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "table", "tr", "li", "ul", "ol", "section", "article",
		"header", "footer", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
