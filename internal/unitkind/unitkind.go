// Package unitkind classifies a unit's stored markdown into its structural
// kind, and reapplies that structure to replacement text so a single-unit
// edit keeps its original presentation.
package unitkind

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type Kind string

const (
	Unknown   Kind = ""
	Paragraph Kind = "paragraph"
	Heading   Kind = "heading"
	ListItem  Kind = "list"
	Quote     Kind = "quote"
	Code      Kind = "code"
)

const (
	SubtypeBullet  = "bullet"
	SubtypeOrdered = "ordered"
)

var md = goldmark.New()

// Classify parses the unit content and reports the kind and subtype of its
// first block: heading level ("h1".."h6"), list marker kind, or code fence
// language.
func Classify(markdown string) (Kind, string) {
	trimmed := strings.TrimSpace(markdown)
	if trimmed == "" {
		return Unknown, ""
	}
	source := []byte(trimmed)
	doc := md.Parser().Parse(text.NewReader(source))
	first := doc.FirstChild()
	if first == nil {
		return Unknown, ""
	}
	switch node := first.(type) {
	case *ast.Heading:
		return Heading, "h" + strconv.Itoa(node.Level)
	case *ast.List:
		if node.IsOrdered() {
			return ListItem, SubtypeOrdered
		}
		return ListItem, SubtypeBullet
	case *ast.Blockquote:
		return Quote, ""
	case *ast.FencedCodeBlock:
		return Code, string(node.Language(source))
	case *ast.CodeBlock:
		return Code, ""
	default:
		return Paragraph, ""
	}
}

// Reapply prefixes text with the structural markers for kind/subtype.
// Paragraphs and unknown kinds pass through unchanged.
func Reapply(kind Kind, subtype, content string) string {
	switch kind {
	case Heading:
		return strings.Repeat("#", headingLevel(subtype)) + " " + content
	case ListItem:
		if subtype == SubtypeOrdered {
			return "1. " + content
		}
		return "- " + content
	case Quote:
		lines := strings.Split(content, "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return strings.Join(lines, "\n")
	case Code:
		return fmt.Sprintf("```%s\n%s\n```", subtype, content)
	default:
		return content
	}
}

func headingLevel(subtype string) int {
	if len(subtype) == 2 && subtype[0] == 'h' {
		if level, err := strconv.Atoi(subtype[1:]); err == nil && level >= 1 && level <= 6 {
			return level
		}
	}
	return 1
}
