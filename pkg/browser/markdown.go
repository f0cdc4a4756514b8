package browser

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// skippedElements never contribute text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"template": true,
	"head":     true,
}

// blockElements start on a new line in text and markdown output.
var blockElements = map[string]bool{
	"div": true, "p": true, "section": true, "article": true, "header": true,
	"footer": true, "nav": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "table": true, "tr": true,
	"form": true, "fieldset": true, "blockquote": true, "pre": true,
	"figure": true, "figcaption": true, "details": true, "summary": true, "hr": true,
}

var (
	spaceRun     = regexp.MustCompile(`[ \t\f\r]+`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// markdownWriter renders a DOM subtree as markdown.
type markdownWriter struct {
	b strings.Builder
	// list holds one counter per open list; zero marks an unordered list.
	list []int
	pre  int
}

func renderMarkdown(nodes []*html.Node) string {
	w := &markdownWriter{}
	for _, n := range nodes {
		w.node(n)
	}
	return tidy(w.b.String())
}

func (w *markdownWriter) node(n *html.Node) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		w.element(n)
		return
	}
	w.children(n)
}

func (w *markdownWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
}

func (w *markdownWriter) text(s string) {
	if w.pre > 0 {
		w.b.WriteString(s)
		return
	}
	s = spaceRun.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " ")
	if strings.TrimSpace(s) == "" {
		if s != "" && !w.atLineStart() && !strings.HasSuffix(w.b.String(), " ") {
			w.b.WriteString(" ")
		}
		return
	}
	if w.atLineStart() {
		s = strings.TrimLeft(s, " ")
	}
	w.b.WriteString(s)
}

func (w *markdownWriter) atLineStart() bool {
	out := w.b.String()
	return out == "" || strings.HasSuffix(out, "\n")
}

func (w *markdownWriter) newline() {
	if !w.atLineStart() {
		w.b.WriteString("\n")
	}
}

func (w *markdownWriter) paragraph() {
	w.newline()
	if !strings.HasSuffix(w.b.String(), "\n\n") && w.b.Len() > 0 {
		w.b.WriteString("\n")
	}
}

func (w *markdownWriter) element(n *html.Node) {
	tag := strings.ToLower(n.Data)
	if skippedElements[tag] {
		return
	}
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		w.paragraph()
		w.b.WriteString(strings.Repeat("#", int(tag[1]-'0')) + " ")
		w.b.WriteString(inlineText(n))
		w.paragraph()
	case "p", "blockquote":
		w.paragraph()
		if tag == "blockquote" {
			w.b.WriteString("> ")
		}
		w.children(n)
		w.paragraph()
	case "br":
		w.b.WriteString("\n")
	case "hr":
		w.paragraph()
		w.b.WriteString("---")
		w.paragraph()
	case "ul", "ol":
		start := 0
		if tag == "ol" {
			start = 1
		}
		w.newline()
		w.list = append(w.list, start)
		w.children(n)
		w.list = w.list[:len(w.list)-1]
		w.paragraph()
	case "li":
		w.newline()
		depth := len(w.list)
		if depth > 0 {
			w.b.WriteString(strings.Repeat("  ", depth-1))
			if num := w.list[depth-1]; num > 0 {
				fmt.Fprintf(&w.b, "%d. ", num)
				w.list[depth-1]++
			} else {
				w.b.WriteString("- ")
			}
		} else {
			w.b.WriteString("- ")
		}
		w.children(n)
		w.newline()
	case "a":
		text := inlineText(n)
		href := attr(n, "href")
		switch {
		case href == "" || strings.HasPrefix(href, "javascript:"):
			w.text(text)
		case text == "":
			w.text(href)
		default:
			w.text(fmt.Sprintf("[%s](%s)", text, href))
		}
	case "img":
		if alt := attr(n, "alt"); alt != "" {
			w.text(fmt.Sprintf("![%s](%s)", alt, attr(n, "src")))
		}
	case "strong", "b":
		if t := inlineText(n); t != "" {
			w.text("**" + t + "**")
		}
	case "em", "i":
		if t := inlineText(n); t != "" {
			w.text("_" + t + "_")
		}
	case "code":
		if w.pre > 0 {
			w.children(n)
			return
		}
		if t := inlineText(n); t != "" {
			w.text("`" + t + "`")
		}
	case "pre":
		w.paragraph()
		w.b.WriteString("```\n")
		w.pre++
		w.children(n)
		w.pre--
		w.newline()
		w.b.WriteString("```")
		w.paragraph()
	case "tr":
		w.newline()
		var cells []string
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
				cells = append(cells, inlineText(c))
			}
		}
		w.b.WriteString("| " + strings.Join(cells, " | ") + " |")
		w.newline()
	default:
		if blockElements[tag] {
			w.newline()
			w.children(n)
			w.newline()
			return
		}
		w.children(n)
	}
}

// inlineText is the collapsed text of a subtree.
func inlineText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[strings.ToLower(n.Data)] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// renderText returns the readable text of the subtrees, one line per block.
func renderText(nodes []*html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode, html.DoctypeNode:
			return
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if skippedElements[tag] {
				return
			}
			if tag == "br" {
				b.WriteString("\n")
				return
			}
			if blockElements[tag] || tag == "td" || tag == "th" {
				defer b.WriteString("\n")
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLineRun.ReplaceAllString(s, "\n\n"))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
