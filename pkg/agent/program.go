package agent

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var languageTags = map[string][]string{
	"javascript": {"javascript", "js"},
	"lua":        {"lua"},
}

// ExtractProgram returns the last fenced code block of reply written in
// language. Untagged blocks are accepted too. ok is false when the reply
// carries no program, i.e. it is a plain answer.
func ExtractProgram(reply, language string) (program string, ok bool) {
	source := []byte(reply)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	tags := languageTags[language]
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, isFence := n.(*ast.FencedCodeBlock)
		if !isFence {
			return ast.WalkContinue, nil
		}
		if block.Info != nil && !matchesTag(string(block.Language(source)), tags) {
			return ast.WalkSkipChildren, nil
		}
		var b strings.Builder
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		if code := strings.TrimSpace(b.String()); code != "" {
			program, ok = code, true
		}
		return ast.WalkSkipChildren, nil
	})
	return program, ok
}

func matchesTag(tag string, tags []string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return true
	}
	for _, t := range tags {
		if tag == t {
			return true
		}
	}
	return false
}

// StripPrograms removes fenced code blocks from reply, leaving the prose.
func StripPrograms(reply string) string {
	var out []string
	fenced := false
	for _, line := range strings.Split(reply, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			continue
		}
		if !fenced {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
