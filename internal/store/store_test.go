package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

func textChunk(id, project, discipline, content string) domain.Chunk {
	return domain.Chunk{
		Common: domain.CommonPayload{
			ChunkID:    id,
			ChunkType:  domain.ChunkText,
			ProjectID:  project,
			Discipline: domain.Discipline(discipline),
			Language:   "ru",
			Content:    content,
		},
		Text: &domain.TextFields{TokenCount: 10},
	}
}

func float64p(v float64) *float64 { return &v }

func TestFilterMatches(t *testing.T) {
	p := domain.CommonPayload{
		ProjectID:  "p1",
		Discipline: domain.DisciplineProcess,
		Language:   "ru",
		Tags:       []string{"ref:ГОСТ 12.1.004-1991"},
		Numeric: map[string]domain.NumericFact{
			"flow": {Value: 50, Unit: "m3/h"},
		},
	}

	var f *Filter
	assert.True(t, f.Matches(&p), "nil filter matches everything")

	assert.True(t, (&Filter{Equals: map[string]string{"project_id": "p1"}}).Matches(&p))
	assert.False(t, (&Filter{Equals: map[string]string{"project_id": "p2"}}).Matches(&p))

	assert.True(t, (&Filter{In: map[string][]string{"language": {"ru", "en"}}}).Matches(&p))
	assert.False(t, (&Filter{In: map[string][]string{"language": {"en"}}}).Matches(&p))

	assert.True(t, (&Filter{In: map[string][]string{"tags": {"ref:ГОСТ 12.1.004-1991"}}}).Matches(&p))

	assert.True(t, (&Filter{Ranges: map[string]NumericRange{
		"flow": {Min: float64p(40), Max: float64p(60)},
	}}).Matches(&p))
	assert.False(t, (&Filter{Ranges: map[string]NumericRange{
		"flow": {Min: float64p(60), Max: nil},
	}}).Matches(&p))
	assert.False(t, (&Filter{Ranges: map[string]NumericRange{
		"head": {Min: float64p(0), Max: nil},
	}}).Matches(&p), "missing fact fails a range filter")
}

func newLexical(t *testing.T) *BleveLexicalIndex {
	t.Helper()
	idx, err := NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestLexicalIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newLexical(t)

	require.NoError(t, idx.Index(ctx, []domain.Chunk{
		textChunk("c1", "p1", "ТХ", "центробежный насос для перекачки воды"),
		textChunk("c2", "p1", "ЭС", "кабельная линия освещения"),
		textChunk("c3", "p2", "ТХ", "насос дозировочный"),
	}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	hits, err := idx.Search(ctx, "насос", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Project filter narrows the result.
	hits, err = idx.Search(ctx, "насос", &Filter{Equals: map[string]string{"project_id": "p1"}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
}

func TestLexicalUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := newLexical(t)

	require.NoError(t, idx.Index(ctx, []domain.Chunk{textChunk("c1", "p1", "ТХ", "старый текст")}))
	require.NoError(t, idx.Index(ctx, []domain.Chunk{textChunk("c1", "p1", "ТХ", "новый текст про насос")}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := idx.Search(ctx, "насос", nil, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestLexicalNumericRangeFilter(t *testing.T) {
	ctx := context.Background()
	idx := newLexical(t)

	ch := textChunk("c1", "p1", "ТХ", "насос расход 50 m3/h")
	ch.Common.Numeric = map[string]domain.NumericFact{"flow": {Value: 50, Unit: "m3/h"}}
	ch2 := textChunk("c2", "p1", "ТХ", "насос расход 200 m3/h")
	ch2.Common.Numeric = map[string]domain.NumericFact{"flow": {Value: 200, Unit: "m3/h"}}
	require.NoError(t, idx.Index(ctx, []domain.Chunk{ch, ch2}))

	hits, err := idx.Search(ctx, "насос", &Filter{
		Ranges: map[string]NumericRange{"flow": {Min: float64p(40), Max: float64p(60)}},
	}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
}

func TestLexicalDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	idx := newLexical(t)

	require.NoError(t, idx.Index(ctx, []domain.Chunk{
		textChunk("c1", "p1", "ТХ", "первый документ"),
		textChunk("c2", "p1", "ТХ", "второй документ"),
		textChunk("c3", "p2", "ТХ", "третий документ"),
	}))

	n, err := idx.DeleteByFilter(ctx, &Filter{Equals: map[string]string{"project_id": "p1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	// An empty filter must refuse rather than wipe the index.
	_, err = idx.DeleteByFilter(ctx, &Filter{})
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func vec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestVectorUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx, err := NewHNSWVectorIndex("", VectorConfig{Dimensions: 4})
	require.NoError(t, err)

	chunks := []domain.Chunk{
		textChunk("c1", "p1", "ТХ", "a"),
		textChunk("c2", "p1", "ЭС", "b"),
		textChunk("c3", "p2", "ТХ", "c"),
	}
	vectors := [][]float32{vec(4, 0), vec(4, 1), vec(4, 0)}
	require.NoError(t, idx.Upsert(ctx, chunks, vectors))
	assert.Equal(t, 3, idx.Count())

	hits, err := idx.Search(ctx, vec(4, 0), nil, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)

	// Filter keeps only project p2 despite equal similarity.
	hits, err = idx.Search(ctx, vec(4, 0), &Filter{Equals: map[string]string{"project_id": "p2"}}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c3", hits[0].ChunkID)
}

func TestVectorDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, err := NewHNSWVectorIndex("", VectorConfig{Dimensions: 4})
	require.NoError(t, err)

	err = idx.Upsert(ctx, []domain.Chunk{textChunk("c1", "p1", "ТХ", "a")}, [][]float32{vec(8, 0)})
	require.Error(t, err)
	var mismatch ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 4, mismatch.Expected)
	assert.Equal(t, 8, mismatch.Got)
}

func TestVectorDeleteIsLazy(t *testing.T) {
	ctx := context.Background()
	idx, err := NewHNSWVectorIndex("", VectorConfig{Dimensions: 4})
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx,
		[]domain.Chunk{textChunk("c1", "p1", "ТХ", "a"), textChunk("c2", "p1", "ТХ", "b")},
		[][]float32{vec(4, 0), vec(4, 1)}))
	require.NoError(t, idx.Delete(ctx, []string{"c1"}))

	assert.Equal(t, 1, idx.Count())
	_, ok := idx.Get("c1")
	assert.False(t, ok)

	hits, err := idx.Search(ctx, vec(4, 0), nil, 2)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "c1", h.ChunkID)
	}
}

func TestVectorPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := NewHNSWVectorIndex(dir, VectorConfig{Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx,
		[]domain.Chunk{textChunk("c1", "p1", "ТХ", "насос")},
		[][]float32{vec(4, 0)}))
	require.NoError(t, idx.Close())

	reopened, err := NewHNSWVectorIndex(dir, VectorConfig{Dimensions: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())

	ch, ok := reopened.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "насос", ch.Common.Content)

	hits, err := reopened.Search(ctx, vec(4, 0), nil, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
}

func TestVectorReopenWithDifferentDimensionFails(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewHNSWVectorIndex(dir, VectorConfig{Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(context.Background(),
		[]domain.Chunk{textChunk("c1", "p1", "ТХ", "a")}, [][]float32{vec(4, 0)}))
	require.NoError(t, idx.Close())

	_, err = NewHNSWVectorIndex(dir, VectorConfig{Dimensions: 8})
	require.Error(t, err)
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))
}

func newMeta(t *testing.T) *MetadataStore {
	t.Helper()
	m, err := NewMetadataStore(t.TempDir() + "/altadoc.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestArchiveDedupeByHash(t *testing.T) {
	ctx := context.Background()
	m := newMeta(t)

	a := domain.Archive{
		ID: "a1", ContentHash: "h1", ProjectID: "p1", ObjectID: "o1",
		ReceivedAt: time.Now().UTC(),
	}
	created, isNew, err := m.CreateArchive(ctx, a)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "a1", created.ID)

	dup := a
	dup.ID = "a2"
	existing, isNew, err := m.CreateArchive(ctx, dup)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "a1", existing.ID, "same content hash resolves to the original archive")
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newMeta(t)

	_, _, err := m.CreateArchive(ctx, domain.Archive{
		ID: "a1", ContentHash: "h1", ProjectID: "p1", ObjectID: "o1", ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	d := domain.Document{
		ID: "d1", ArchiveID: "a1", Path: "docs/spec.pdf", ContentHash: "dh1",
		Discipline: domain.DisciplineProcess, DocNo: "АБВ.123-ТХ",
		Status: domain.DocPending,
	}
	require.NoError(t, m.UpsertDocument(ctx, d))
	require.NoError(t, m.SetDocumentStatus(ctx, "d1", domain.DocReady, ""))

	got, err := m.Document(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocReady, got.Status)

	ready, err := m.DocumentsByStatus(ctx, "a1", domain.DocReady)
	require.NoError(t, err)
	assert.Len(t, ready, 1)

	err = m.SetDocumentStatus(ctx, "missing", domain.DocReady, "")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newMeta(t)

	_, _, err := m.CreateArchive(ctx, domain.Archive{
		ID: "a1", ContentHash: "h1", ProjectID: "p1", ObjectID: "o1", ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	j := domain.Job{
		ID: "j1", ArchiveID: "a1", Phase: domain.JobPhaseCreated,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateJob(ctx, j))

	j.Phase = domain.JobPhaseParsing
	j.Counters.FilesSeen = 10
	j.Counters.FilesParsed = 4
	require.NoError(t, m.UpdateJob(ctx, j))
	require.NoError(t, m.AppendFileError(ctx, "j1", domain.FileError{Path: "bad.pdf", Message: "unreadable"}))

	got, err := m.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPhaseParsing, got.Phase)
	assert.Equal(t, 10, got.Counters.FilesSeen)
	require.Len(t, got.FileErrors, 1)
	assert.Equal(t, "bad.pdf", got.FileErrors[0].Path)

	active, err := m.ActiveJob(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "j1", active.ID)

	require.NoError(t, m.RequestStop(ctx, "j1"))
	stop, err := m.StopRequested(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, stop)

	j.Phase = domain.JobPhaseCompleted
	j.FinishedAt = time.Now().UTC()
	require.NoError(t, m.UpdateJob(ctx, j))

	_, err = m.ActiveJob(ctx, "a1")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestBindCollectionRefusesMismatch(t *testing.T) {
	ctx := context.Background()
	m := newMeta(t)

	require.NoError(t, m.BindCollection(ctx, CollectionMeta{Name: "ae_text_m3", Dimension: 1024, Model: "bge-m3"}))
	require.NoError(t, m.BindCollection(ctx, CollectionMeta{Name: "ae_text_m3", Dimension: 1024, Model: "bge-m3"}))

	err := m.BindCollection(ctx, CollectionMeta{Name: "ae_text_m3", Dimension: 768, Model: "bge-m3"})
	require.Error(t, err)
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))
}

func TestOpenCollections(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := OpenCollections(ctx, dir, 8, "static")
	require.NoError(t, err)
	assert.Len(t, c.All(), len(domain.TextCollections()))

	col, err := c.Get(domain.CollectionText)
	require.NoError(t, err)
	assert.Equal(t, domain.CollectionText, col.Name)

	_, err = c.Get("nonexistent")
	assert.Error(t, err)
	require.NoError(t, c.Close())

	// Reopening with a different dimension refuses.
	_, err = OpenCollections(ctx, dir, 16, "static")
	require.Error(t, err)
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))
}
