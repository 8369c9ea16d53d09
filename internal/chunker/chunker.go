// Package chunker splits parsed documents into typed retrieval chunks.
// Chunk identity is deterministic: re-ingesting an unchanged document yields
// byte-identical chunk IDs, which is what makes dual-index writes
// idempotent. Bump Version whenever the splitting algorithm changes so old
// and new chunks never collide under the same ID.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/normalize"
	"github.com/altadoc/altadoc/internal/parser"
)

// Version participates in chunk IDs.
const Version = "v3"

// Config bounds chunk sizes in estimated tokens.
type Config struct {
	TargetTokens  int
	OverlapTokens int
}

func DefaultConfig() Config {
	return Config{TargetTokens: 800, OverlapTokens: 200}
}

// Chunker splits one document's parse result into chunks.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 800
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.TargetTokens {
		cfg.OverlapTokens = cfg.TargetTokens / 4
	}
	return &Chunker{cfg: cfg}
}

// DocMeta carries the document-level fields stamped onto every chunk.
type DocMeta struct {
	ProjectID       string
	ObjectID        string
	Discipline      domain.Discipline
	DocNo           string
	DocTitle        string
	Revision        string
	SourcePath      string
	SourceHash      string
	IssuedAt        time.Time
	Vendor          string
	Confidentiality domain.Confidentiality
	Permissions     []string
}

// Split turns a parse result into typed chunks. Text blocks are packed up
// to the target size without crossing heading boundaries; tables, drawings,
// and IFC entities become their own chunk types.
func (c *Chunker) Split(meta DocMeta, res *parser.Result) []domain.Chunk {
	var chunks []domain.Chunk
	position := 0

	next := func() int {
		p := position
		position++
		return p
	}

	var textRun []parser.Block
	var section sectionState

	// A run of headings with no body text is navigation, not content; it
	// is carried into the next run instead of becoming its own chunk.
	hasBody := func() bool {
		for _, b := range textRun {
			if b.Kind == parser.BlockText {
				return true
			}
		}
		return false
	}

	flushText := func() {
		if !hasBody() {
			textRun = nil
			return
		}
		for _, piece := range c.packText(textRun) {
			chunks = append(chunks, c.textChunk(meta, res, piece, section, next()))
		}
		textRun = nil
	}

	var ifcRun []parser.Block

	flushIFC := func() {
		if len(ifcRun) == 0 {
			return
		}
		for _, agg := range aggregateIFC(ifcRun) {
			chunks = append(chunks, c.ifcChunk(meta, res, agg, next()))
		}
		ifcRun = nil
	}

	for _, b := range res.Blocks {
		switch b.Kind {
		case parser.BlockHeading:
			if hasBody() {
				flushText()
			}
			section.apply(b)
			textRun = append(textRun, b)
		case parser.BlockText:
			textRun = append(textRun, b)
		case parser.BlockTable:
			flushText()
			chunks = append(chunks, c.tableRowChunks(meta, res, b, section, next)...)
		case parser.BlockDrawing:
			flushText()
			chunks = append(chunks, c.drawingChunk(meta, res, b, next()))
		case parser.BlockIFC:
			flushText()
			ifcRun = append(ifcRun, b)
		}
	}
	flushText()
	flushIFC()

	return chunks
}

// sectionState tracks the current numbered section and clause as headings
// go by, so every chunk knows where in the document it sits.
type sectionState struct {
	Section string
	Clause  string
}

func (s *sectionState) apply(b parser.Block) {
	fields := strings.Fields(b.Text)
	if len(fields) == 0 {
		return
	}
	num := strings.TrimSuffix(fields[0], ".")
	if !isClauseNumber(num) {
		num = ""
	}
	if b.Level <= 1 {
		s.Section = b.Text
		s.Clause = num
		return
	}
	if num != "" {
		s.Clause = num
	}
}

func isClauseNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// textPiece is one packed run of text blocks.
type textPiece struct {
	text    string
	tokens  int
	page    int
	overlap int
}

// packText greedily packs blocks into pieces near the target size. A piece
// never exceeds 1.25x the target; a trailing piece under 1/8 of the target
// is merged back into its predecessor. Consecutive pieces share an overlap
// tail so requirements split mid-paragraph stay retrievable.
func (c *Chunker) packText(blocks []parser.Block) []textPiece {
	maxTokens := c.cfg.TargetTokens + c.cfg.TargetTokens/4
	minTokens := c.cfg.TargetTokens / 8

	var pieces []textPiece
	var cur strings.Builder
	curTokens := 0
	curPage := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		pieces = append(pieces, textPiece{
			text:   strings.TrimSpace(cur.String()),
			tokens: curTokens,
			page:   curPage,
		})
		cur.Reset()
		curTokens = 0
		curPage = 0
	}

	for _, b := range blocks {
		text := normalize.Text(b.Text)
		if text == "" {
			continue
		}
		tokens := EstimateTokens(text)

		// A single oversized paragraph is split on sentence boundaries.
		if tokens > maxTokens {
			flush()
			for _, part := range splitOversized(text, maxTokens) {
				pieces = append(pieces, textPiece{
					text:   part,
					tokens: EstimateTokens(part),
					page:   b.Page,
				})
			}
			continue
		}

		if curTokens+tokens > c.cfg.TargetTokens && curTokens > 0 {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		if curPage == 0 {
			curPage = b.Page
		}
		cur.WriteString(text)
		curTokens += tokens
	}
	flush()

	// Merge an undersized tail into the previous piece.
	if n := len(pieces); n >= 2 && pieces[n-1].tokens < minTokens {
		prev := &pieces[n-2]
		prev.text += "\n\n" + pieces[n-1].text
		prev.tokens += pieces[n-1].tokens
		pieces = pieces[:n-1]
	}

	// Prepend the overlap tail of each piece to its successor.
	if c.cfg.OverlapTokens > 0 {
		for i := len(pieces) - 1; i >= 1; i-- {
			tail := overlapTail(pieces[i-1].text, c.cfg.OverlapTokens)
			if tail != "" {
				tailTokens := EstimateTokens(tail)
				pieces[i].text = tail + "\n\n" + pieces[i].text
				pieces[i].tokens += tailTokens
				pieces[i].overlap = tailTokens
			}
		}
	}

	return pieces
}

// splitOversized breaks text on sentence ends, keeping parts under limit.
func splitOversized(text string, limit int) []string {
	sentences := splitSentences(text)
	var parts []string
	var cur strings.Builder
	curTokens := 0
	for _, s := range sentences {
		tokens := EstimateTokens(s)
		if curTokens+tokens > limit && curTokens > 0 {
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
			curTokens = 0
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
		curTokens += tokens
	}
	if cur.Len() > 0 {
		parts = append(parts, strings.TrimSpace(cur.String()))
	}
	return parts
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			out = append(out, strings.TrimSpace(text[start:i+1]))
			start = i + 2
		}
	}
	if start < len(text) {
		out = append(out, strings.TrimSpace(text[start:]))
	}
	return out
}

// overlapTail returns roughly the last n tokens of text, cut on a word
// boundary.
func overlapTail(text string, n int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	// One word is close enough to one token for overlap purposes.
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}

// EstimateTokens approximates the subword token count of text. Roughly four
// characters per token holds for both Russian and English under bge-m3's
// tokenizer; the estimate only has to be stable, not exact.
func EstimateTokens(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	t := runes / 4
	if t == 0 {
		t = 1
	}
	return t
}

// ChunkID derives the deterministic chunk identifier.
func ChunkID(sourceHash string, position int) string {
	h := sha256.New()
	h.Write([]byte(sourceHash))
	h.Write([]byte{0})
	h.Write([]byte(Version))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", position)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Chunker) common(meta DocMeta, res *parser.Result, chunkType domain.ChunkType, content string, position int) domain.CommonPayload {
	return domain.CommonPayload{
		ChunkID:         ChunkID(meta.SourceHash, position),
		ChunkType:       chunkType,
		ProjectID:       meta.ProjectID,
		ObjectID:        meta.ObjectID,
		Discipline:      meta.Discipline,
		DocNo:           meta.DocNo,
		DocTitle:        meta.DocTitle,
		Revision:        meta.Revision,
		Language:        normalize.DetectLanguage(content),
		SourcePath:      meta.SourcePath,
		SourceHash:      meta.SourceHash,
		IssuedAt:        meta.IssuedAt,
		Vendor:          meta.Vendor,
		Confidentiality: meta.Confidentiality,
		Permissions:     meta.Permissions,
		Method:          res.Method,
		Content:         content,
	}
}

func (c *Chunker) textChunk(meta DocMeta, res *parser.Result, piece textPiece, section sectionState, position int) domain.Chunk {
	common := c.common(meta, res, domain.ChunkText, piece.text, position)
	common.Section = section.Section
	common.Clause = section.Clause
	common.Numeric = normalize.ExtractNumericFacts(piece.text)
	common.Keywords = topKeywords(piece.text, 10)
	common.Importance = c.textImportance(piece.text, section, common.Numeric, piece.tokens)
	common.Tags = referenceTags(piece.text)

	return domain.Chunk{
		Common: common,
		Text: &domain.TextFields{
			TokenCount: piece.tokens,
			Page:       piece.page,
			Overlap:    piece.overlap,
		},
	}
}

// tableRowChunks turns one parsed table into one chunk per data row. The
// header row is repeated in every chunk's content so a row stays meaningful
// on its own; rows are never merged.
func (c *Chunker) tableRowChunks(meta DocMeta, res *parser.Result, b parser.Block, section sectionState, next func() int) []domain.Chunk {
	var header []string
	rows := b.Cells
	if len(rows) > 1 {
		header = rows[0]
		rows = rows[1:]
	}

	chunks := make([]domain.Chunk, 0, len(rows))
	for _, row := range rows {
		lines := make([]string, 0, 2)
		if header != nil {
			lines = append(lines, strings.Join(header, " | "))
		}
		lines = append(lines, strings.Join(row, " | "))
		content := normalize.Text(strings.Join(lines, "\n"))

		common := c.common(meta, res, domain.ChunkTable, content, next())
		common.Section = section.Section
		common.Clause = section.Clause
		common.Numeric = normalize.ExtractNumericFacts(content)
		common.Keywords = topKeywords(content, 10)
		common.Importance = 0.6

		chunks = append(chunks, domain.Chunk{
			Common: common,
			Table: &domain.TableFields{
				Cells:   row,
				RowHash: rowHash(row),
				Sheet:   b.Sheet,
				Page:    b.Page,
			},
		})
	}
	return chunks
}

func (c *Chunker) drawingChunk(meta DocMeta, res *parser.Result, b parser.Block, position int) domain.Chunk {
	content := normalize.Text(b.Text)
	common := c.common(meta, res, domain.ChunkDrawing, content, position)
	common.Keywords = topKeywords(content, 10)
	common.Importance = 0.5

	return domain.Chunk{
		Common: common,
		Drawing: &domain.DrawingFields{
			Caption:    normalize.Text(b.Caption),
			PreviewRef: b.PreviewRef,
			Page:       b.Page,
		},
	}
}

// ifcAggregate is all instances of one entity type in a model.
type ifcAggregate struct {
	entityType string
	guid       string
	count      int
	names      []string
	properties map[string]string
}

// aggregateIFC groups per-instance blocks by entity type. A model has
// thousands of instances but only dozens of types; one chunk per type keeps
// the index navigable while the instance names stay searchable.
func aggregateIFC(blocks []parser.Block) []ifcAggregate {
	byType := make(map[string]*ifcAggregate)
	var order []string
	for _, b := range blocks {
		agg, ok := byType[b.EntityType]
		if !ok {
			agg = &ifcAggregate{
				entityType: b.EntityType,
				guid:       b.EntityGUID,
				properties: map[string]string{},
			}
			byType[b.EntityType] = agg
			order = append(order, b.EntityType)
		}
		agg.count += b.EntityCount
		if name := b.Properties["Name"]; name != "" && len(agg.names) < 200 {
			agg.names = append(agg.names, name)
		}
		// The richest instance becomes the type's representative; ties keep
		// the earlier one so the choice is stable across runs.
		if len(b.Properties) > len(agg.properties) {
			agg.properties = make(map[string]string, len(b.Properties))
			for k, v := range b.Properties {
				agg.properties[k] = v
			}
			agg.guid = b.EntityGUID
		}
	}

	sort.Strings(order)
	out := make([]ifcAggregate, 0, len(order))
	for _, t := range order {
		out = append(out, *byType[t])
	}
	return out
}

func (c *Chunker) ifcChunk(meta DocMeta, res *parser.Result, agg ifcAggregate, position int) domain.Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d instances", agg.entityType, agg.count)
	if len(agg.names) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(agg.names, "\n"))
	}
	content := b.String()

	common := c.common(meta, res, domain.ChunkIFC, content, position)
	common.Keywords = topKeywords(content, 10)
	common.Importance = 0.5

	return domain.Chunk{
		Common: common,
		IFC: &domain.IFCFields{
			EntityType:  agg.entityType,
			EntityGUID:  agg.guid,
			EntityCount: agg.count,
			Properties:  agg.properties,
		},
	}
}

// rowHash fingerprints one row's ordered cells independent of padding.
func rowHash(row []string) string {
	h := sha256.New()
	for _, cell := range row {
		h.Write([]byte(strings.TrimSpace(cell)))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// referenceTags renders regulatory references found in the text as tags so
// filtered search can target them without re-parsing content.
func referenceTags(text string) []string {
	refs := normalize.ExtractReferences(text)
	if len(refs) == 0 {
		return nil
	}
	tags := make([]string, 0, len(refs))
	for _, r := range refs {
		tags = append(tags, "ref:"+r.DocID())
	}
	return tags
}

// textImportance scores a chunk for summary-anchor selection. Requirement
// language, normative references, numeric facts, and a healthy length band
// rank above short narrative fragments.
func (c *Chunker) textImportance(text string, section sectionState, facts map[string]domain.NumericFact, tokens int) float64 {
	score := 0.4
	lower := strings.ToLower(text)
	for _, marker := range []string{"должен", "должна", "должно", "не допускается", "запрещается", "требуется", "shall", "must"} {
		if strings.Contains(lower, marker) {
			score += 0.2
			break
		}
	}
	if strings.Contains(text, "ГОСТ") || strings.Contains(text, "СП ") || strings.Contains(text, "СНиП") {
		score += 0.1
	}
	if section.Clause != "" {
		score += 0.1
	}
	if len(facts) > 0 {
		score += 0.1
	}
	// Fragments well under the minimum piece size carry little context.
	if tokens >= c.cfg.TargetTokens/8 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
