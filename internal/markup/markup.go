// Package markup converts newsletter and article HTML into the plain
// markdown the summarizer reads, and pulls links out of it.
package markup

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var anchorSel = cascadia.MustCompile("a[href]")

// ToMarkdown converts an HTML document or fragment to markdown.
// Relative links are resolved against base when base is not empty.
func ToMarkdown(src, base string) (string, error) {
	md, err := htmltomarkdown.ConvertString(src, domainOpts(base)...)
	if err != nil {
		return "", fmt.Errorf("failed to convert html: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// NodeToMarkdown converts an already parsed subtree to markdown.
func NodeToMarkdown(n *html.Node, base string) (string, error) {
	md, err := htmltomarkdown.ConvertNode(n, domainOpts(base)...)
	if err != nil {
		return "", fmt.Errorf("failed to convert html node: %w", err)
	}
	return strings.TrimSpace(string(md)), nil
}

func domainOpts(base string) []converter.ConvertOptionFunc {
	if base == "" {
		return nil
	}
	return []converter.ConvertOptionFunc{converter.WithDomain(base)}
}

// Links returns the href of every anchor in src, in document order.
// Unparseable input yields no links.
func Links(src string) []string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}
	return NodeLinks(doc)
}

// NodeLinks returns the href of every anchor below n, in document order.
func NodeLinks(n *html.Node) []string {
	var links []string
	for _, a := range cascadia.QueryAll(n, anchorSel) {
		if href := strings.TrimSpace(Attr(a, "href")); href != "" {
			links = append(links, href)
		}
	}
	return links
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// Text returns the whitespace-normalized text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
