// ABOUTME: Cleans model-generated chat titles into plain single-line text
// ABOUTME: Parses the title as markdown with goldmark and keeps only the text runs

package prompt

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MaxTitleLength bounds a cleaned title, in runes.
const MaxTitleLength = 80

// FallbackTitle is used when the model returns nothing usable.
const FallbackTitle = "New Conversation"

var titlePrefixes = []string{"title:", "chat title:"}

// CleanTitle turns raw model output into a plain title: markdown syntax,
// "Title:" prefixes and surrounding quotes are removed, whitespace is
// collapsed and the result is truncated to MaxTitleLength runes.
func CleanTitle(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i]
	}

	title := strings.Join(strings.Fields(plainText([]byte(raw))), " ")
	for _, prefix := range titlePrefixes {
		if len(title) >= len(prefix) && strings.EqualFold(title[:len(prefix)], prefix) {
			title = strings.TrimSpace(title[len(prefix):])
		}
	}
	title = strings.Trim(title, "\"'`“”‘’ ")

	if utf8.RuneCountInString(title) > MaxTitleLength {
		r := []rune(title)
		title = strings.TrimSpace(string(r[:MaxTitleLength]))
	}
	if title == "" {
		return FallbackTitle
	}
	return title
}

// plainText renders the text content of a markdown document.
func plainText(src []byte) string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.CodeSpan:
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					buf.Write(t.Segment.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
