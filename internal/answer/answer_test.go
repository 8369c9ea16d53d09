package answer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/query"
	"github.com/altadoc/altadoc/internal/search"
)

func candidate(docNo, section, clause, content string, final float64, st search.SearchType) *search.Candidate {
	return &search.Candidate{
		Chunk: &domain.Chunk{Common: domain.CommonPayload{
			ChunkID:  "c-" + docNo + clause,
			DocNo:    docNo,
			DocTitle: docNo,
			Section:  section,
			Clause:   clause,
			Content:  content,
		}},
		SearchType: st,
		Final:      final,
	}
}

func planWith(intent domain.Intent) *query.Plan {
	return &query.Plan{Intent: intent, IntentConf: 0.8}
}

func TestAssembleNoEvidence(t *testing.T) {
	a := Assemble(planWith(domain.IntentGeneral), &search.Result{})
	assert.Equal(t, NoEvidenceText, a.Text)
	assert.Equal(t, 0.0, a.Confidence)
	assert.Empty(t, a.Sources)
}

func TestAssembleDefinitionShape(t *testing.T) {
	res := &search.Result{Candidates: []*search.Candidate{
		candidate("ГОСТ 2.701-2008", "3", "3.1", "схема — графический документ", 0.9, search.SearchHybrid),
	}}
	a := Assemble(planWith(domain.IntentDefinition), res)

	assert.True(t, strings.HasPrefix(a.Text, "Определение:"))
	assert.Contains(t, a.Text, "графический документ")
	assert.Contains(t, a.Text, "Источники:")
	require.Len(t, a.Sources, 1)
	assert.Equal(t, "ГОСТ 2.701-2008", a.Sources[0].DocNo)
	assert.Equal(t, "3.1", a.Sources[0].Clause)
}

func TestAssembleRequirementSupporting(t *testing.T) {
	res := &search.Result{Candidates: []*search.Candidate{
		candidate("СП 31", "5", "5.1", "давление должно быть не более 1.6 MPa", 0.9, search.SearchHybrid),
		candidate("СП 32", "2", "2.4", "испытания проводятся давлением 1.25 номинального", 0.8, search.SearchDense),
		candidate("СП 33", "1", "", "общие положения", 0.75, search.SearchLexical),
		candidate("СП 34", "9", "", "прочее", 0.7, search.SearchLexical),
	}}
	a := Assemble(planWith(domain.IntentRequirement), res)

	assert.Contains(t, a.Text, "1.6 MPa")
	assert.Contains(t, a.Text, "СП 31, разд. 5, п. 5.1")
	// At most two supporting excerpts.
	assert.Equal(t, 2, strings.Count(a.Text, "Также:"))
}

func TestAssembleReferencePrefersDirectHit(t *testing.T) {
	res := &search.Result{Candidates: []*search.Candidate{
		candidate("СП 1", "2", "", "побочное упоминание", 0.95, search.SearchHybrid),
		candidate("ГОСТ 12.1.004-91", "3", "3.2", "пожарная безопасность объектов", 0.9, search.SearchReference),
	}}
	a := Assemble(planWith(domain.IntentReference), res)

	assert.True(t, strings.HasPrefix(a.Text, "ГОСТ 12.1.004-91, 3.2:"))
	assert.Contains(t, a.Text, "пожарная безопасность")
}

func TestReferenceAnswerFallsBackToSection(t *testing.T) {
	res := &search.Result{Candidates: []*search.Candidate{
		candidate("СП 31.13330-2012", "5", "", "наружные сети водоснабжения", 0.9, search.SearchReference),
	}}
	a := Assemble(planWith(domain.IntentReference), res)
	assert.True(t, strings.HasPrefix(a.Text, "СП 31.13330-2012, 5:"))
}

func TestAssembleComparisonDistinctDocs(t *testing.T) {
	res := &search.Result{Candidates: []*search.Candidate{
		candidate("СП 1", "", "", "первый вариант", 0.9, search.SearchHybrid),
		candidate("СП 1", "", "", "дубль того же документа", 0.85, search.SearchHybrid),
		candidate("СП 2", "", "", "второй вариант", 0.8, search.SearchHybrid),
	}}
	a := Assemble(planWith(domain.IntentComparison), res)

	assert.Equal(t, 2, strings.Count(a.Text, "- СП"))
	assert.Contains(t, a.Text, "первый вариант")
	assert.Contains(t, a.Text, "второй вариант")
	assert.NotContains(t, a.Text, "дубль")
}

func TestAssembleRelevanceStatusLine(t *testing.T) {
	c := candidate("ГОСТ 1", "", "", "текст", 0.8, search.SearchHybrid)
	c.Chunk.Common.Revision = "C2"
	c.Chunk.Common.IssuedAt = time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Assemble(planWith(domain.IntentRelevance), &search.Result{Candidates: []*search.Candidate{c}})

	assert.Contains(t, a.Text, "Документ: ГОСТ 1")
	assert.Contains(t, a.Text, "ревизия C2")
	assert.Contains(t, a.Text, "выпуск 2019-03-01")
}

func TestConfidenceMeanClamped(t *testing.T) {
	res := &search.Result{Candidates: []*search.Candidate{
		candidate("a", "", "", "x", 0.8, search.SearchHybrid),
		candidate("b", "", "", "y", 0.6, search.SearchHybrid),
	}}
	a := Assemble(planWith(domain.IntentGeneral), res)
	assert.InDelta(t, 0.7, a.Confidence, 0.001)

	// One failed collection downgrades by 0.2.
	res.FailedCollections = []string{"ae_tables"}
	a = Assemble(planWith(domain.IntentGeneral), res)
	assert.InDelta(t, 0.5, a.Confidence, 0.001)
	assert.Equal(t, []string{"ae_tables"}, a.Degraded)

	// Never below 0.1 with evidence present.
	res.FailedCollections = []string{"a", "b", "c", "d"}
	a = Assemble(planWith(domain.IntentGeneral), res)
	assert.InDelta(t, 0.1, a.Confidence, 0.001)
}

func TestExcerptWordBoundary(t *testing.T) {
	long := strings.Repeat("слово ", 100)
	c := candidate("d", "", "", long, 0.8, search.SearchHybrid)
	got := excerpt(c)
	assert.LessOrEqual(t, len([]rune(got)), excerptLimit+1)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(got, "…"), "сло"))
}
