package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// DOCXParser extracts paragraphs and tables from Word documents. A .docx is
// a zip archive; all content lives in word/document.xml. The parser walks
// the XML token stream instead of unmarshalling the whole WordprocessingML
// schema, which is enough to recover text, heading levels, and table cells.
type DOCXParser struct{}

func NewDOCXParser() *DOCXParser { return &DOCXParser{} }

func (p *DOCXParser) Extensions() []string { return []string{".docx"} }

func (p *DOCXParser) Parse(ctx context.Context, name string, data []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("%s is not a valid docx", name), err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("corrupt docx %s", name), err)
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("corrupt docx %s", name), err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, errors.InvalidInput(fmt.Sprintf("%s has no word/document.xml", name), nil)
	}

	blocks, err := walkDocumentXML(docXML)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("malformed document.xml in %s", name), err)
	}
	return &Result{Blocks: blocks, Method: domain.MethodNative}, nil
}

// walkDocumentXML streams the WordprocessingML body, emitting one block per
// paragraph and one table block per w:tbl.
func walkDocumentXML(data []byte) ([]Block, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var blocks []Block
	var para strings.Builder
	var headingLvl int
	var inPara bool

	var table [][]string
	var row []string
	var cell strings.Builder
	var tableDepth int

	flushPara := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			headingLvl = 0
			return
		}
		if headingLvl > 0 {
			blocks = append(blocks, Block{Kind: BlockHeading, Text: text, Level: headingLvl})
		} else {
			blocks = append(blocks, Block{Kind: BlockText, Text: text})
		}
		headingLvl = 0
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth > 0 {
					row = nil
				}
			case "tc":
				if tableDepth > 0 {
					cell.Reset()
				}
			case "p":
				if tableDepth == 0 {
					inPara = true
					para.Reset()
					headingLvl = 0
				}
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						headingLvl = headingStyleLevel(a.Value)
					}
				}
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return nil, err
				}
				if tableDepth > 0 {
					cell.WriteString(text)
				} else if inPara {
					para.WriteString(text)
				}
			case "br", "cr":
				if inPara && tableDepth == 0 {
					para.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if tableDepth == 0 && inPara {
					inPara = false
					flushPara()
				}
			case "tc":
				if tableDepth > 0 {
					row = append(row, strings.TrimSpace(cell.String()))
				}
			case "tr":
				if tableDepth > 0 && len(row) > 0 {
					table = append(table, row)
					row = nil
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(table) > 0 {
					blocks = append(blocks, Block{Kind: BlockTable, Cells: table})
					table = nil
				}
			}
		}
	}
	return blocks, nil
}

// headingStyleLevel maps Word paragraph styles onto heading levels. Both the
// English and Russian builds of Word are in circulation on these archives.
func headingStyleLevel(style string) int {
	lower := strings.ToLower(style)
	for _, prefix := range []string{"heading", "заголовок"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil && n >= 1 && n <= 9 {
				return n
			}
		}
	}
	if lower == "title" || lower == "название" {
		return 1
	}
	return 0
}
