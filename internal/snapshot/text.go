package snapshot

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// VisibleText renders an HTML document roughly the way a browser's innerText
// does: hidden elements are dropped, block elements start new lines and table
// cells are tab separated.
func VisibleText(r io.Reader) (title string, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err
	}
	return documentText(doc)
}

func documentText(doc *goquery.Document) (string, string, error) {
	title := strings.TrimSpace(doc.Find("title").First().Text())

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Find("script, style, noscript, template, [hidden]").Remove()

	var b strings.Builder
	for _, n := range body.Nodes {
		walk(&b, n)
	}
	return title, normaliseLines(b.String()), nil
}

func walk(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(collapseSpaces(n.Data))
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Input, atom.Select, atom.Textarea:
			return
		}
	}

	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	if block {
		b.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(b, c)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Td || n.DataAtom == atom.Th) {
		b.WriteString("\t")
	}
	if block {
		b.WriteString("\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Main,
		atom.Nav, atom.Aside, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Li, atom.Dl, atom.Dt, atom.Dd, atom.Table, atom.Tr,
		atom.Form, atom.Fieldset, atom.Legend, atom.Pre, atom.Blockquote, atom.Hr,
		atom.Label, atom.Address, atom.Figure, atom.Figcaption:
		return true
	}
	return false
}

func collapseSpaces(s string) string {
	if strings.TrimSpace(s) == "" {
		if s == "" {
			return ""
		}
		return " "
	}
	fields := strings.Fields(s)
	out := strings.Join(fields, " ")
	if startsWithSpace(s) {
		out = " " + out
	}
	if endsWithSpace(s) {
		out += " "
	}
	return out
}

func startsWithSpace(s string) bool {
	return strings.TrimLeft(s, " \t\r\n\f") != s
}

func endsWithSpace(s string) bool {
	return strings.TrimRight(s, " \t\r\n\f") != s
}

// normaliseLines trims every line and drops the blank ones.
func normaliseLines(s string) string {
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.Trim(line, " \t")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
