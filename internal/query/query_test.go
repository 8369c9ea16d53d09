package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/domain"
)

func newRewriter(t *testing.T) *Rewriter {
	t.Helper()
	r, err := NewRewriter(16)
	require.NoError(t, err)
	return r
}

func TestAnalyzeDefinitionWithReference(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("Что такое ГОСТ 12.1.004-91?")

	assert.Equal(t, domain.IntentDefinition, plan.Intent)
	assert.GreaterOrEqual(t, plan.IntentConf, 0.5)
	require.Len(t, plan.References, 1)
	assert.Equal(t, "ГОСТ", plan.References[0].Family)
	assert.Equal(t, "12.1.004", plan.References[0].Number)
	assert.Equal(t, "1991", plan.References[0].Year)
}

func TestAnalyzeBareReferenceIsReferenceIntent(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("СП 31.110-2003")

	assert.Equal(t, domain.IntentReference, plan.Intent)
	assert.InDelta(t, 0.95, plan.IntentConf, 0.001)
	require.Len(t, plan.References, 1)
	assert.Equal(t, "СП", plan.References[0].Family)
}

func TestAnalyzeAnalogIntent(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("подобрать аналог центробежного насоса")
	assert.Equal(t, domain.IntentAnalog, plan.Intent)
	assert.Greater(t, plan.IntentConf, 0.7)
}

func TestAnalyzeRequirementIntent(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("требования к сварке трубопроводов высокого давления")
	assert.Equal(t, domain.IntentRequirement, plan.Intent)
}

func TestAnalyzeGeneralFallback(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("центробежный агрегат")
	assert.Equal(t, domain.IntentGeneral, plan.Intent)
	assert.InDelta(t, 0.5, plan.IntentConf, 0.001)
	assert.Empty(t, plan.References)
}

func TestRewritesExpandSynonyms(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("pump head requirements")

	require.NotEmpty(t, plan.Rewrites)
	assert.Equal(t, "pump head requirements", plan.Rewrites[0].Text)
	assert.Equal(t, 1.0, plan.Rewrites[0].Confidence)
	assert.LessOrEqual(t, len(plan.Rewrites), maxRewrites)

	// Every expansion replaces exactly one term and carries lower weight.
	texts := make([]string, 0, len(plan.Rewrites))
	for _, rw := range plan.Rewrites[1:] {
		assert.Less(t, rw.Confidence, 1.0)
		texts = append(texts, rw.Text)
	}
	assert.Contains(t, texts, "pump напор requirements")
	assert.Contains(t, texts, "насос head requirements")
}

func TestRewritesDeterministic(t *testing.T) {
	r := newRewriter(t)
	a := r.Analyze("давление насос")
	b := newRewriter(t).Analyze("давление насос")
	assert.Equal(t, a.Rewrites, b.Rewrites)
}

func TestRewritesNoSynonymsSingleVariant(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("центробежный агрегат")
	require.Len(t, plan.Rewrites, 1)
	assert.Equal(t, 1.0, plan.Rewrites[0].Confidence)
}

func TestAnalyzeCaches(t *testing.T) {
	r := newRewriter(t)
	a := r.Analyze("насос давление")
	b := r.Analyze("насос давление")
	assert.Same(t, a, b)
}

func TestAnalyzeNormalizes(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("давление  1,6 МПа")
	assert.Equal(t, "давление 1.6 MPa", plan.Normalized)
	assert.Equal(t, "ru", plan.Language)
}

func TestAnalyzeCollapsesCitationSpacing(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("ГОСТ  21.201 - 2011")

	assert.Contains(t, plan.Normalized, "ГОСТ 21.201-2011")
	require.Len(t, plan.References, 1)
	assert.Equal(t, "21.201", plan.References[0].Number)
	assert.Equal(t, "2011", plan.References[0].Year)
}

func TestRewritesDefinitionReformulation(t *testing.T) {
	r := newRewriter(t)
	plan := r.Analyze("что такое фланец")

	require.Equal(t, domain.IntentDefinition, plan.Intent)
	require.GreaterOrEqual(t, len(plan.Rewrites), 2)
	assert.Equal(t, "определение что такое фланец", plan.Rewrites[1].Text)
	assert.InDelta(t, 0.7, plan.Rewrites[1].Confidence, 0.001)
}

func TestClassifyMoreMarkersMoreConfidence(t *testing.T) {
	_, low := Classify("требования к монтажу", nil)
	_, high := Classify("требования: что должен и что допускается", nil)
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, 0.95)
}
