package jira

import (
	"encoding/json"
	"strings"
)

// Node is one Atlassian Document Format node.
type Node struct {
	Type    string                 `json:"type"`
	Version int                    `json:"version,omitempty"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Content []Node                 `json:"content,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Marks   []Mark                 `json:"marks,omitempty"`
}

// Mark styles a text node.
type Mark struct {
	Type string `json:"type"`
}

// Doc wraps blocks in a version 1 document.
func Doc(blocks ...Node) Node {
	if blocks == nil {
		blocks = []Node{}
	}
	return Node{Type: "doc", Version: 1, Content: blocks}
}

// Paragraph builds a paragraph holding plain text. Empty text yields an empty
// paragraph, which Jira renders as a blank line.
func Paragraph(inline ...Node) Node {
	if inline == nil {
		inline = []Node{}
	}
	return Node{Type: "paragraph", Content: inline}
}

// Text builds a text node.
func Text(s string, marks ...string) Node {
	n := Node{Type: "text", Text: s}
	for _, m := range marks {
		n.Marks = append(n.Marks, Mark{Type: m})
	}
	return n
}

// Heading builds a heading of the given level.
func Heading(level int, text string) Node {
	return Node{Type: "heading", Attrs: map[string]interface{}{"level": level}, Content: []Node{Text(text)}}
}

// BulletList builds a list with one paragraph per item.
func BulletList(items ...[]Node) Node {
	list := Node{Type: "bulletList"}
	for _, inline := range items {
		list.Content = append(list.Content, Node{Type: "listItem", Content: []Node{Paragraph(inline...)}})
	}
	return list
}

// CodeBlock builds a code block.
func CodeBlock(language, text string) Node {
	n := Node{Type: "codeBlock", Content: []Node{Text(text)}}
	if language != "" {
		n.Attrs = map[string]interface{}{"language": language}
	}
	return n
}

// paragraphs splits text on newlines, one paragraph per line.
func paragraphs(text string) []Node {
	var out []Node
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			out = append(out, Paragraph())
			continue
		}
		out = append(out, Paragraph(Text(line)))
	}
	return out
}

// DescriptionToPlainText extracts plain text from Jira's ADF (Atlassian Document Format).
// Jira v3 API returns descriptions as ADF JSON, not plain text.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc Node
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var lines []string
	for _, block := range doc.Content {
		lines = append(lines, blockText(block)...)
	}
	return strings.Join(lines, "\n")
}

func blockText(n Node) []string {
	switch n.Type {
	case "bulletList", "orderedList":
		var out []string
		for _, item := range n.Content {
			for _, l := range blockText(item) {
				out = append(out, "- "+l)
			}
		}
		return out
	case "listItem":
		var out []string
		for _, c := range n.Content {
			out = append(out, blockText(c)...)
		}
		return out
	}
	var b strings.Builder
	for _, inline := range n.Content {
		b.WriteString(inline.Text)
	}
	if b.Len() == 0 {
		return nil
	}
	return []string{b.String()}
}
