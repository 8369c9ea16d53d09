// Package parser turns raw document bytes into ordered content blocks.
// Each format gets its own parser; the registry routes by file extension.
// Parsers extract and record provenance (page, sheet, heading level) but do
// not normalise or chunk — that happens downstream.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// BlockKind distinguishes the content classes a parser can emit.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockHeading BlockKind = "heading"
	BlockTable   BlockKind = "table"
	BlockDrawing BlockKind = "drawing"
	BlockIFC     BlockKind = "ifc"
)

// Block is one ordered unit of extracted content.
type Block struct {
	Kind BlockKind
	Text string
	Page int // 1-based, 0 when the format has no pages

	// Heading blocks.
	Level int

	// Table blocks.
	Cells [][]string
	Sheet string

	// Drawing blocks.
	Caption    string
	PreviewRef string

	// IFC blocks.
	EntityType  string
	EntityGUID  string
	EntityCount int
	Properties  map[string]string
}

// Result is the output of parsing one file.
type Result struct {
	Blocks   []Block
	Method   domain.ExtractionMethod
	Language string
}

// Parser extracts blocks from one document format.
type Parser interface {
	// Parse extracts ordered blocks from data. name is the original file
	// name, used for sheet/drawing labels in provenance.
	Parse(ctx context.Context, name string, data []byte) (*Result, error)

	// Extensions returns the lower-case file extensions this parser handles.
	Extensions() []string
}

// Registry routes files to parsers by extension.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry builds a registry over the given parsers. A duplicate
// extension claim is a programming error and panics at startup.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byExt: make(map[string]Parser)}
	for _, p := range parsers {
		for _, ext := range p.Extensions() {
			if _, dup := r.byExt[ext]; dup {
				panic(fmt.Sprintf("parser: duplicate extension %q", ext))
			}
			r.byExt[ext] = p
		}
	}
	return r
}

// DefaultRegistry returns a registry with all built-in parsers. ocr may be
// nil; the PDF parser then fails scanned documents instead of falling back.
func DefaultRegistry(ocr OCRProvider, minCharsNativePDF int) *Registry {
	return NewRegistry(
		NewPDFParser(ocr, minCharsNativePDF),
		NewDOCXParser(),
		NewXLSXParser(),
		NewIFCParser(),
		NewDXFParser(),
		NewPlainParser(),
	)
}

// For returns the parser for the file name, or a NotFound error when the
// format is unsupported.
func (r *Registry) For(name string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(name))
	p, ok := r.byExt[ext]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("no parser for %q", ext))
	}
	return p, nil
}

// Supported reports whether the file name maps to a parser.
func (r *Registry) Supported(name string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Parse routes data to the right parser and runs it.
func (r *Registry) Parse(ctx context.Context, name string, data []byte) (*Result, error) {
	p, err := r.For(name)
	if err != nil {
		return nil, err
	}
	res, err := p.Parse(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if len(res.Blocks) == 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("no content extracted from %s", name), nil)
	}
	return res, nil
}
