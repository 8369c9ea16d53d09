package parser

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// PlainParser handles plain text and markdown. Markdown heading markers are
// mapped onto heading blocks; everything else becomes paragraph text.
type PlainParser struct{}

func NewPlainParser() *PlainParser { return &PlainParser{} }

func (p *PlainParser) Extensions() []string { return []string{".txt", ".md"} }

func (p *PlainParser) Parse(ctx context.Context, name string, data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, errors.InvalidInput(name+" is not valid UTF-8", nil)
	}

	res := &Result{Method: domain.MethodNative}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if level, title, ok := markdownHeading(para); ok {
			res.Blocks = append(res.Blocks, Block{Kind: BlockHeading, Text: title, Level: level})
			continue
		}
		if level, ok := headingLevel(para); ok {
			res.Blocks = append(res.Blocks, Block{Kind: BlockHeading, Text: para, Level: level})
			continue
		}
		res.Blocks = append(res.Blocks, Block{Kind: BlockText, Text: para})
	}
	return res, nil
}

func markdownHeading(para string) (int, string, bool) {
	if strings.ContainsRune(para, '\n') || !strings.HasPrefix(para, "#") {
		return 0, "", false
	}
	level := 0
	for level < len(para) && para[level] == '#' {
		level++
	}
	if level > 6 || level == len(para) || para[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(para[level:]), true
}
