package loader

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "svg": true,
}

var headings = map[string]bool{"h1": true, "h2": true, "h3": true}

var blocks = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "tr": true, "pre": true,
	"section": true, "article": true, "blockquote": true, "h4": true,
	"h5": true, "h6": true, "table": true, "ul": true, "ol": true, "dd": true, "dt": true,
}

type htmlSection struct {
	label string
	text  strings.Builder
}

// loadHTML splits the body into sections at h1-h3 headings. Text before the
// first heading is labelled with the page title.
func loadHTML(data []byte) ([]Segment, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "html"
	}

	var segments []Segment
	cur := &htmlSection{label: title}
	flush := func() {
		segments = append(segments, Segment{Text: normalize(cur.text.String()), Label: cur.label})
	}

	var walk func(sel *goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			node := c.Get(0)
			switch node.Type {
			case html.TextNode:
				cur.text.WriteString(node.Data)
			case html.ElementNode:
				if skipped[node.Data] {
					return
				}
				if headings[node.Data] {
					flush()
					heading := normalize(c.Text())
					cur = &htmlSection{label: heading}
					cur.text.WriteString(heading + "\n")
					return
				}
				walk(c)
				if blocks[node.Data] {
					cur.text.WriteString("\n")
				}
			}
		})
	}
	walk(doc.Find("body"))
	flush()

	return segments, nil
}

// normalize collapses whitespace within lines and drops blank lines.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
