package preview

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Metadata is what an Extractor finds in a page.
type Metadata struct {
	Title       string
	Description string
	Image       string
}

// Extractor pulls preview metadata out of a page body.
type Extractor interface {
	Extract(body []byte) (Metadata, error)
}

type selector struct {
	sel  cascadia.Selector
	attr string
}

// selectorChain tries each selector in order and returns the first non-empty
// value.
type selectorChain []selector

func chain(pairs ...string) selectorChain {
	out := make(selectorChain, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, selector{sel: cascadia.MustCompile(pairs[i]), attr: pairs[i+1]})
	}
	return out
}

// An empty attr selects the element text.
var (
	titleChain = chain(
		`meta[property="og:title"]`, "content",
		`title`, "",
	)
	descriptionChain = chain(
		`meta[property="og:description"]`, "content",
		`meta[name="description"]`, "content",
	)
	imageChain = chain(
		`meta[property="og:image"]`, "content",
		`meta[name="twitter:image:src"]`, "content",
	)
)

// HTMLExtractor reads Open Graph tags with HTML fallbacks.
type HTMLExtractor struct{}

// NewHTMLExtractor returns the default extractor.
func NewHTMLExtractor() HTMLExtractor {
	return HTMLExtractor{}
}

// Extract parses body as HTML. Truncated documents parse fine; only a
// tokenizer failure is an error.
func (HTMLExtractor) Extract(body []byte) (Metadata, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Metadata{}, fmt.Errorf("parse html: %w", err)
	}
	return Metadata{
		Title:       titleChain.first(doc),
		Description: descriptionChain.first(doc),
		Image:       imageChain.first(doc),
	}, nil
}

func (c selectorChain) first(doc *html.Node) string {
	for _, item := range c {
		node := item.sel.MatchFirst(doc)
		if node == nil {
			continue
		}
		var value string
		if item.attr == "" {
			value = nodeText(node)
		} else {
			value = attrValue(node, item.attr)
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func attrValue(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}

func nodeText(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return b.String()
}
