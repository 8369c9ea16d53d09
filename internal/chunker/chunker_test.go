package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/parser"
)

var testMeta = DocMeta{
	ProjectID:  "proj-001",
	ObjectID:   "obj-a",
	Discipline: domain.DisciplineProcess,
	DocNo:      "АБВ.123-ТХ",
	DocTitle:   "Технологические решения",
	Revision:   "C01",
	SourcePath: "raw/proj-001/doc.pdf",
	SourceHash: "deadbeef",
}

func textResult(blocks ...parser.Block) *parser.Result {
	return &parser.Result{Blocks: blocks, Method: domain.MethodNative}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("hash1", 0)
	b := ChunkID("hash1", 0)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, ChunkID("hash1", 1))
	assert.NotEqual(t, a, ChunkID("hash2", 0))
}

func TestSplitStableAcrossRuns(t *testing.T) {
	c := New(DefaultConfig())
	res := textResult(
		parser.Block{Kind: parser.BlockHeading, Text: "5 Требования", Level: 1},
		parser.Block{Kind: parser.BlockText, Text: "Насос должен обеспечивать расход 50 м3/ч."},
	)

	first := c.Split(testMeta, res)
	second := c.Split(testMeta, res)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Common.ChunkID, second[i].Common.ChunkID)
	}
}

func TestSplitTextCarriesSectionAndFacts(t *testing.T) {
	c := New(DefaultConfig())
	res := textResult(
		parser.Block{Kind: parser.BlockHeading, Text: "5 Насосное оборудование", Level: 1},
		parser.Block{Kind: parser.BlockHeading, Text: "5.4.1 Параметры", Level: 3},
		parser.Block{Kind: parser.BlockText, Text: "Насос должен обеспечивать расход 50 м3/ч при напоре 80 м согласно ГОСТ 12.1.004-91."},
	)

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 1)

	ch := chunks[0]
	assert.Equal(t, domain.ChunkText, ch.Common.ChunkType)
	assert.Equal(t, "5 Насосное оборудование", ch.Common.Section)
	assert.Equal(t, "5.4.1", ch.Common.Clause)
	assert.Equal(t, "ru", ch.Common.Language)

	require.NotNil(t, ch.Common.Numeric)
	assert.Equal(t, 50.0, ch.Common.Numeric["flow"].Value)
	assert.Equal(t, "m3/h", ch.Common.Numeric["flow"].Unit)
	assert.Equal(t, 80.0, ch.Common.Numeric["head"].Value)

	require.NotEmpty(t, ch.Common.Tags)
	assert.Contains(t, ch.Common.Tags[0], "ref:")

	// Requirement language plus a clause pushes importance up.
	assert.Greater(t, ch.Common.Importance, 0.7)
}

func TestPackTextSplitsAtTarget(t *testing.T) {
	c := New(Config{TargetTokens: 50, OverlapTokens: 10})

	para := strings.Repeat("слово ", 40) // ~60 tokens
	res := textResult(
		parser.Block{Kind: parser.BlockText, Text: para},
		parser.Block{Kind: parser.BlockText, Text: para},
	)

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 2)

	// The second piece starts with the overlap tail of the first.
	require.NotNil(t, chunks[1].Text)
	assert.Positive(t, chunks[1].Text.Overlap)
}

func TestConsecutiveChunksShareOverlapTail(t *testing.T) {
	c := New(DefaultConfig())

	// Three distinct ~300-token paragraphs pack into two pieces around the
	// 800-token target.
	para := func(tag string) string {
		var b strings.Builder
		for i := 0; i < 150; i++ {
			fmt.Fprintf(&b, "%s%d ", tag, i)
		}
		return b.String()
	}
	res := textResult(
		parser.Block{Kind: parser.BlockText, Text: para("альфа")},
		parser.Block{Kind: parser.BlockText, Text: para("бета")},
		parser.Block{Kind: parser.BlockText, Text: para("гамма")},
	)

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 2)

	first, second := chunks[0], chunks[1]
	require.NotNil(t, second.Text)
	require.Positive(t, second.Text.Overlap)

	// The successor opens with exactly the 200-token tail of its
	// predecessor.
	words := strings.Fields(first.Common.Content)
	require.Greater(t, len(words), 200)
	tail := strings.Join(words[len(words)-200:], " ")
	assert.True(t, strings.HasPrefix(second.Common.Content, tail))
	assert.Equal(t, EstimateTokens(tail), second.Text.Overlap)
}

func TestPackTextMergesTinyTail(t *testing.T) {
	c := New(Config{TargetTokens: 100, OverlapTokens: 0})

	big := strings.Repeat("пункт требований записан здесь ", 12) // close to target
	tiny := "Конец."
	res := textResult(
		parser.Block{Kind: parser.BlockText, Text: big},
		parser.Block{Kind: parser.BlockText, Text: tiny},
	)

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Common.Content, "Конец.")
}

func TestOversizedParagraphSplitsOnSentences(t *testing.T) {
	c := New(Config{TargetTokens: 30, OverlapTokens: 0})

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("Это предложение о насосном оборудовании станции. ")
	}
	res := textResult(parser.Block{Kind: parser.BlockText, Text: b.String()})

	chunks := c.Split(testMeta, res)
	assert.Greater(t, len(chunks), 1)
	maxTokens := 30 + 30/4
	for _, ch := range chunks {
		require.NotNil(t, ch.Text)
		assert.LessOrEqual(t, ch.Text.TokenCount, maxTokens+5)
	}
}

func TestTableOneChunkPerRow(t *testing.T) {
	c := New(DefaultConfig())
	cells := [][]string{
		{"Позиция", "Расход, м3/ч"},
		{"Н-101", "50"},
		{"Н-102", "75"},
	}
	res := textResult(parser.Block{Kind: parser.BlockTable, Cells: cells, Sheet: "Насосы"})

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 2)

	hashes := map[string]bool{}
	for i, ch := range chunks {
		assert.Equal(t, domain.ChunkTable, ch.Common.ChunkType)
		require.NotNil(t, ch.Table)
		assert.Equal(t, cells[i+1], ch.Table.Cells)
		assert.Equal(t, "Насосы", ch.Table.Sheet)
		// Every row carries the header so it reads on its own.
		assert.Contains(t, ch.Common.Content, "Позиция")
		hashes[ch.Table.RowHash] = true
	}
	assert.Len(t, hashes, 2)

	assert.Contains(t, chunks[0].Common.Content, "Н-101")
	assert.Contains(t, chunks[1].Common.Content, "Н-102")
}

func TestTableHeaderOnlyRowStandsAlone(t *testing.T) {
	c := New(DefaultConfig())
	res := textResult(parser.Block{Kind: parser.BlockTable, Cells: [][]string{{"Позиция", "Кол-во"}}})

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"Позиция", "Кол-во"}, chunks[0].Table.Cells)
}

func TestRowHashIgnoresPadding(t *testing.T) {
	a := rowHash([]string{"x", "y"})
	b := rowHash([]string{" x ", "y "})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, rowHash([]string{"x", "z"}))
	assert.NotEqual(t, a, rowHash([]string{"y", "x"}))
}

func TestIFCAggregation(t *testing.T) {
	c := New(DefaultConfig())
	res := textResult(
		parser.Block{Kind: parser.BlockIFC, EntityType: "IFCPUMP", EntityGUID: "g1", EntityCount: 1, Properties: map[string]string{"Name": "Pump N-101"}},
		parser.Block{Kind: parser.BlockIFC, EntityType: "IFCPUMP", EntityGUID: "g2", EntityCount: 1, Properties: map[string]string{"Name": "Pump N-102", "Мощность": "110 kW"}},
		parser.Block{Kind: parser.BlockIFC, EntityType: "IFCVALVE", EntityGUID: "g3", EntityCount: 1},
	)

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 2)

	pump := chunks[0]
	assert.Equal(t, domain.ChunkIFC, pump.Common.ChunkType)
	require.NotNil(t, pump.IFC)
	assert.Equal(t, "IFCPUMP", pump.IFC.EntityType)
	assert.Equal(t, 2, pump.IFC.EntityCount)
	assert.Contains(t, pump.Common.Content, "Pump N-101")
	assert.Contains(t, pump.Common.Content, "Pump N-102")

	// The instance with the richest property set represents the type.
	assert.Equal(t, "110 kW", pump.IFC.Properties["Мощность"])
	assert.Equal(t, "g2", pump.IFC.EntityGUID)

	assert.Equal(t, "IFCVALVE", chunks[1].IFC.EntityType)
}

func TestDrawingChunk(t *testing.T) {
	c := New(DefaultConfig())
	res := textResult(parser.Block{
		Kind:    parser.BlockDrawing,
		Text:    "Схема насосной станции\nдавление испытания 1,6 МПа",
		Caption: "Схема насосной станции",
	})

	chunks := c.Split(testMeta, res)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Drawing)
	assert.Equal(t, "Схема насосной станции", chunks[0].Drawing.Caption)
	// Units are canonical after normalisation.
	assert.Contains(t, chunks[0].Common.Content, "1.6 MPa")
}

func TestTopKeywords(t *testing.T) {
	text := "насос насос насос клапан клапан и в на для the of"
	kw := topKeywords(text, 2)
	assert.Equal(t, []string{"насос", "клапан"}, kw)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}
