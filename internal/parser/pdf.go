package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// OCRProvider recognises text in scanned documents. Implementations wrap an
// external OCR service; the parser only needs per-page text back.
type OCRProvider interface {
	// RecognizePDF returns the recognised text of each page, in order.
	RecognizePDF(ctx context.Context, data []byte) ([]string, error)
}

// PDFParser extracts text from PDF files. Native extraction is tried first;
// when a document yields fewer than minNativeChars characters per page on
// average it is treated as scanned and routed through OCR.
type PDFParser struct {
	ocr            OCRProvider
	minNativeChars int
}

func NewPDFParser(ocr OCRProvider, minNativeChars int) *PDFParser {
	if minNativeChars <= 0 {
		minNativeChars = 64
	}
	return &PDFParser{ocr: ocr, minNativeChars: minNativeChars}
}

func (p *PDFParser) Extensions() []string { return []string{".pdf"} }

func (p *PDFParser) Parse(ctx context.Context, name string, data []byte) (*Result, error) {
	pages, err := p.extractNative(data)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("unreadable pdf %s", name), err)
	}

	if p.looksScanned(pages) {
		return p.parseScanned(ctx, name, data)
	}

	res := &Result{Method: domain.MethodNative}
	for i, text := range pages {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		res.Blocks = append(res.Blocks, pageBlocks(text, i+1)...)
	}
	return res, nil
}

func (p *PDFParser) extractNative(data []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single corrupt page should not sink the document.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// looksScanned reports whether native extraction produced too little text,
// which on engineering archives almost always means a scanned original.
func (p *PDFParser) looksScanned(pages []string) bool {
	if len(pages) == 0 {
		return true
	}
	total := 0
	for _, t := range pages {
		total += len(strings.TrimSpace(t))
	}
	return total/len(pages) < p.minNativeChars
}

func (p *PDFParser) parseScanned(ctx context.Context, name string, data []byte) (*Result, error) {
	if p.ocr == nil {
		return nil, errors.InvalidInput(
			fmt.Sprintf("%s appears scanned and no OCR provider is configured", name), nil)
	}
	pages, err := p.ocr.RecognizePDF(ctx, data)
	if err != nil {
		return nil, errors.Transient(fmt.Sprintf("ocr failed for %s", name), err)
	}

	res := &Result{Method: domain.MethodOCR}
	for i, text := range pages {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		res.Blocks = append(res.Blocks, pageBlocks(text, i+1)...)
	}
	return res, nil
}

// pageBlocks splits page text into heading and paragraph blocks. Numbered
// section lines ("5.4.1 Требования к монтажу") become heading blocks so the
// chunker can respect section boundaries.
func pageBlocks(text string, page int) []Block {
	var blocks []Block
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if level, ok := headingLevel(para); ok {
			blocks = append(blocks, Block{Kind: BlockHeading, Text: para, Page: page, Level: level})
			continue
		}
		blocks = append(blocks, Block{Kind: BlockText, Text: para, Page: page})
	}
	return blocks
}

// headingLevel recognises numbered section headings and returns the nesting
// depth ("5" is level 1, "5.4.1" is level 3).
func headingLevel(line string) (int, bool) {
	if strings.ContainsRune(line, '\n') || len(line) > 120 {
		return 0, false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	num := strings.TrimSuffix(fields[0], ".")
	parts := strings.Split(num, ".")
	for _, part := range parts {
		if part == "" {
			return 0, false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
	}
	return len(parts), true
}
