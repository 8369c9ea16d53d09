package dualindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/domain"
)

func TestDoctorHealthyAfterUpsert(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t)

	require.NoError(t, w.Upsert(ctx, domain.CollectionText,
		[]domain.Chunk{chunk("c1", "h1", "насос"), chunk("c2", "h1", "клапан")},
		[][]float32{vec(0), vec(1)}))

	report, err := w.Doctor(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())

	for _, cr := range report.Collections {
		assert.Empty(t, cr.MissingLexical)
		if cr.Name == domain.CollectionText {
			assert.Equal(t, 2, cr.VectorCount)
			assert.Equal(t, uint64(2), cr.LexicalCount)
		}
	}
}

func TestDoctorFindsLexicalGap(t *testing.T) {
	ctx := context.Background()
	w, collections := newWriter(t)

	require.NoError(t, w.Upsert(ctx, domain.CollectionText,
		[]domain.Chunk{chunk("c1", "h1", "насос"), chunk("c2", "h1", "клапан")},
		[][]float32{vec(0), vec(1)}))

	// Simulate a crash between the vector write and the lexical write by
	// removing one chunk from the keyword side only.
	col, err := collections.Get(domain.CollectionText)
	require.NoError(t, err)
	require.NoError(t, col.Lexical.Delete(ctx, []string{"c2"}))

	report, err := w.Doctor(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy())

	var textReport *CollectionReport
	for i := range report.Collections {
		if report.Collections[i].Name == domain.CollectionText {
			textReport = &report.Collections[i]
		}
	}
	require.NotNil(t, textReport)
	assert.Equal(t, []string{"c2"}, textReport.MissingLexical)
}

func TestRepairReindexesMissingChunks(t *testing.T) {
	ctx := context.Background()
	w, collections := newWriter(t)

	require.NoError(t, w.Upsert(ctx, domain.CollectionText,
		[]domain.Chunk{chunk("c1", "h1", "насос"), chunk("c2", "h1", "клапан")},
		[][]float32{vec(0), vec(1)}))

	col, err := collections.Get(domain.CollectionText)
	require.NoError(t, err)
	require.NoError(t, col.Lexical.Delete(ctx, []string{"c2"}))

	report, err := w.Doctor(ctx)
	require.NoError(t, err)
	require.False(t, report.Healthy())

	repaired, err := w.Repair(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	after, err := w.Doctor(ctx)
	require.NoError(t, err)
	assert.True(t, after.Healthy())

	count, err := col.Lexical.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestRepairOnHealthyReportIsNoop(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t)

	require.NoError(t, w.Upsert(ctx, domain.CollectionText,
		[]domain.Chunk{chunk("c1", "h1", "насос")}, [][]float32{vec(0)}))

	report, err := w.Doctor(ctx)
	require.NoError(t, err)
	require.True(t, report.Healthy())

	repaired, err := w.Repair(ctx, report)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}
