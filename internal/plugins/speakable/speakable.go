// Package speakable strips Markdown from model replies so the speech
// engine does not read asterisks and hashes aloud.
package speakable

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/nugget/asistente/internal/plugin"
)

// Stripper is an output transform.
type Stripper struct {
	md goldmark.Markdown
	// keepCode reads code blocks aloud instead of dropping them.
	keepCode bool
}

// Settings are read from the manifest.
type Settings struct {
	KeepCode bool `yaml:"keep_code"`
}

// New is the plugin factory.
func New(_ string, raw plugin.Settings, _ plugin.Capabilities) (any, error) {
	var s Settings
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	return &Stripper{md: goldmark.New(), keepCode: s.KeepCode}, nil
}

// TransformOutput returns reply as plain sentences.
func (s *Stripper) TransformOutput(_ context.Context, reply string) (string, error) {
	return s.Plain(reply)
}

// Plain renders Markdown source as plain text. Each paragraph, heading
// and list item becomes one sentence.
func (s *Stripper) Plain(src string) (string, error) {
	source := []byte(src)
	doc := s.md.Parser().Parse(text.NewReader(source))

	var sentences []string
	var cur strings.Builder
	flush := func() {
		sentence := strings.Join(strings.Fields(cur.String()), " ")
		cur.Reset()
		if sentence == "" {
			return
		}
		if !strings.ContainsAny(sentence[len(sentence)-1:], ".!?:;,") {
			sentence += "."
		}
		sentences = append(sentences, sentence)
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					cur.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				cur.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering && s.keepCode {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					cur.Write(seg.Value(source))
					cur.WriteByte(' ')
				}
				flush()
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				flush()
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	flush()
	return strings.Join(sentences, " "), nil
}
