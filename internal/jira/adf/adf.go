// Package adf implements a deterministic, round-trip-idempotent conversion
// between plain text and a documented subset of Atlassian Document Format.
// No library in the available dependency set offers an ADF codec, so this
// is a small hand-rolled recursive walk over typed Doc/Node structs that
// encoding/json marshals —
// the same sizing pkg/schema/yaml.go applies to its own document walk
// rather than reaching for a generic document-tree library.
package adf

import (
	"fmt"
	"strings"
)

// Doc is the outer ADF envelope.
type Doc struct {
	Version int    `json:"version"`
	Type    string `json:"type"`
	Content []Node `json:"content"`
}

// Node is one ADF node. Attrs and Marks are left loosely typed since the
// supported subset only ever needs a handful of attribute shapes.
type Node struct {
	Type    string                 `json:"type"`
	Text    string                 `json:"text,omitempty"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Content []Node                 `json:"content,omitempty"`
}

const (
	typeDoc        = "doc"
	typeParagraph  = "paragraph"
	typeHeading    = "heading"
	typeText       = "text"
	typeBulletList = "bulletList"
	typeListItem   = "listItem"
	typeCodeBlock  = "codeBlock"
)

// ConvertToAdf maps plain text to the supported ADF subset: headings
// (#, ##, ###), bullet list lines ("- "/"* "), fenced code blocks, and
// ordinary paragraphs. Empty input yields a single empty paragraph.
func ConvertToAdf(text string) Doc {
	lines := strings.Split(text, "\n")
	if text == "" {
		lines = []string{""}
	}

	var content []Node
	i := 0
	for i < len(lines) {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "```"):
			lang := strings.TrimPrefix(line, "```")
			var codeLines []string
			i++
			for i < len(lines) && !strings.HasPrefix(lines[i], "```") {
				codeLines = append(codeLines, lines[i])
				i++
			}
			i++ // consume closing fence
			node := Node{Type: typeCodeBlock, Content: []Node{{Type: typeText, Text: strings.Join(codeLines, "\n")}}}
			if lang != "" {
				node.Attrs = map[string]interface{}{"language": lang}
			}
			content = append(content, node)
			continue

		case strings.HasPrefix(line, "### "):
			content = append(content, headingNode(3, strings.TrimPrefix(line, "### ")))
			i++
			continue
		case strings.HasPrefix(line, "## "):
			content = append(content, headingNode(2, strings.TrimPrefix(line, "## ")))
			i++
			continue
		case strings.HasPrefix(line, "# "):
			content = append(content, headingNode(1, strings.TrimPrefix(line, "# ")))
			i++
			continue

		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			var items []Node
			for i < len(lines) && (strings.HasPrefix(lines[i], "- ") || strings.HasPrefix(lines[i], "* ")) {
				text := strings.TrimPrefix(strings.TrimPrefix(lines[i], "- "), "* ")
				items = append(items, Node{Type: typeListItem, Content: []Node{paragraphNode(text)}})
				i++
			}
			content = append(content, Node{Type: typeBulletList, Content: items})
			continue

		default:
			content = append(content, paragraphNode(line))
			i++
		}
	}

	if len(content) == 0 {
		content = []Node{paragraphNode("")}
	}
	return Doc{Version: 1, Type: typeDoc, Content: content}
}

func headingNode(level int, text string) Node {
	return Node{Type: typeHeading, Attrs: map[string]interface{}{"level": level}, Content: textContent(text)}
}

func paragraphNode(text string) Node {
	return Node{Type: typeParagraph, Content: textContent(text)}
}

func textContent(text string) []Node {
	if text == "" {
		return nil
	}
	return []Node{{Type: typeText, Text: text}}
}

// ConvertFromAdf recursively extracts plain text from an ADF document,
// degrading any unrecognized node type to the concatenation of its
// children's text.
func ConvertFromAdf(doc Doc) string {
	var lines []string
	for _, n := range doc.Content {
		lines = append(lines, nodeToLines(n)...)
	}
	return strings.Join(lines, "\n")
}

// nodeToLines returns the one-or-more text lines a top-level node
// contributes.
func nodeToLines(n Node) []string {
	switch n.Type {
	case typeHeading:
		level := 1
		if lv, ok := n.Attrs["level"].(int); ok {
			level = lv
		} else if lv, ok := n.Attrs["level"].(float64); ok {
			level = int(lv)
		}
		return []string{strings.Repeat("#", level) + " " + extractText(n)}
	case typeParagraph:
		return []string{extractText(n)}
	case typeBulletList, "orderedList":
		var out []string
		for _, item := range n.Content {
			out = append(out, "- "+extractText(item))
		}
		return out
	case typeCodeBlock:
		lang := ""
		if l, ok := n.Attrs["language"].(string); ok {
			lang = l
		}
		return []string{fmt.Sprintf("```%s\n%s\n```", lang, extractText(n))}
	default:
		return []string{extractText(n)}
	}
}

// extractText concatenates the text of a node's descendants, degrading
// unknown node types to their children's text per spec.
func extractText(n Node) string {
	if n.Type == typeText {
		return n.Text
	}
	var b strings.Builder
	for _, c := range n.Content {
		b.WriteString(extractText(c))
	}
	return b.String()
}
