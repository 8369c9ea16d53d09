package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// DXFParser recovers annotation text from AutoCAD DXF drawings. A DXF is a
// stream of group-code/value pairs; TEXT and MTEXT entities in the ENTITIES
// section hold the title block, callouts, and notes — the only searchable
// content a 2D drawing carries.
type DXFParser struct{}

func NewDXFParser() *DXFParser { return &DXFParser{} }

func (p *DXFParser) Extensions() []string { return []string{".dxf"} }

func (p *DXFParser) Parse(ctx context.Context, name string, data []byte) (*Result, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		inEntities bool
		entity     string
		texts      []string
		mtext      strings.Builder
	)

	flushEntity := func() {
		if entity == "MTEXT" && mtext.Len() > 0 {
			texts = append(texts, decodeMText(mtext.String()))
		}
		mtext.Reset()
	}

	for {
		code, ok := readLine(scanner)
		if !ok {
			break
		}
		value, ok := readLine(scanner)
		if !ok {
			break
		}
		code = strings.TrimSpace(code)

		switch {
		case code == "0" && value == "SECTION":
			// Section name follows as group 2.
		case code == "2" && !inEntities:
			if value == "ENTITIES" {
				inEntities = true
			}
		case code == "0" && value == "ENDSEC":
			flushEntity()
			entity = ""
			inEntities = false
		case code == "0" && inEntities:
			flushEntity()
			entity = value
		case inEntities && (entity == "TEXT" || entity == "ATTRIB") && code == "1":
			if t := strings.TrimSpace(value); t != "" {
				texts = append(texts, t)
			}
		case inEntities && entity == "MTEXT" && (code == "1" || code == "3"):
			// MTEXT content may be split over multiple group-3 chunks
			// followed by a final group 1.
			mtext.WriteString(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("unreadable dxf %s", name), err)
	}
	if len(texts) == 0 {
		return &Result{Method: domain.MethodNative}, nil
	}

	caption := texts[0]
	return &Result{
		Method: domain.MethodNative,
		Blocks: []Block{{
			Kind:    BlockDrawing,
			Text:    strings.Join(texts, "\n"),
			Caption: caption,
		}},
	}, nil
}

func readLine(scanner *bufio.Scanner) (string, bool) {
	if !scanner.Scan() {
		return "", false
	}
	return strings.TrimRight(scanner.Text(), "\r"), true
}

// decodeMText strips the inline formatting codes MTEXT embeds in its value:
// \P is a paragraph break, {\f...;text} wraps font switches.
func decodeMText(s string) string {
	s = strings.ReplaceAll(s, `\P`, "\n")
	s = strings.ReplaceAll(s, `\~`, " ")

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{', '}':
			continue
		case '\\':
			// Skip a formatting code through its terminating semicolon,
			// or just the next character for single-letter codes.
			if i+1 < len(s) {
				if j := strings.IndexByte(s[i:], ';'); j > 0 && j < 24 {
					i += j
				} else {
					i++
				}
			}
		default:
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}
