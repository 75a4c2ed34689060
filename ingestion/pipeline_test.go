package ingestion

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/statute-rag/knowledge"
	"github.com/fabfab/statute-rag/statute"
)

type stubFooter struct {
	footer statute.Footer
	err    error
	seen   string
}

func (s *stubFooter) NormalizeFooter(_ context.Context, text string) (statute.Footer, error) {
	s.seen = text
	return s.footer, s.err
}

func readFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/statute.txt")
	require.NoError(t, err)
	return string(data)
}

func newTestPreparer(t *testing.T, footer FooterNormalizer) *Preparer {
	t.Helper()
	p, err := NewPreparer(statute.DefaultMarkers(), 1000, footer, nil)
	require.NoError(t, err)
	return p
}

func TestPrepareStructuresStatute(t *testing.T) {
	footer := &stubFooter{footer: statute.Footer{
		Text:          "Президент України Л.КУЧМА м. Київ 5 квітня 2001 року N 2341-III",
		ActType:       "Кодекс",
		NumberAndDate: "N 2341-III, 5 квітня 2001 року",
	}}
	p := newTestPreparer(t, footer)

	prepared, err := p.Prepare(context.Background(), readFixture(t))
	require.NoError(t, err)

	assert.Equal(t, "Президент України Л.КУЧМА\nм. Київ\n5 квітня 2001 року\nN 2341-III", footer.seen)

	type key struct{ part, section, article string }
	var got []key
	for _, c := range prepared.Chunks {
		got = append(got, key{c.Part, c.Section, c.ArticleNumber})
	}
	assert.Equal(t, []key{
		{"ЗАГАЛЬНА ЧАСТИНА", "Розділ I", "1"},
		{"ЗАГАЛЬНА ЧАСТИНА", "Розділ I", "2"},
		{"ОСОБЛИВА ЧАСТИНА", "Розділ I", "109"},
		{"ПРИКІНЦЕВІ ТА ПЕРЕХІДНІ ПОЛОЖЕННЯ", "Розділ I", ""},
		{"ПРИКІНЦЕВІ ТА ПЕРЕХІДНІ ПОЛОЖЕННЯ", "Розділ II", ""},
		{"", "", ""},
	}, got)

	assert.Equal(t, "Стаття 1. Завдання Кримінального кодексу України Кодекс має своїм завданням правове забезпечення охорони прав.", prepared.Chunks[0].Text)
	assert.Equal(t, "ПРИКІНЦЕВІ ПОЛОЖЕННЯ 1. Цей Кодекс набирає чинності з 1 вересня 2001 року.", prepared.Chunks[3].Text)
	for _, c := range prepared.Chunks {
		assert.Equal(t, 0, c.ChunkIndex)
		assert.Equal(t, 1, c.TotalChunks)
	}

	last := prepared.Chunks[len(prepared.Chunks)-1]
	assert.Equal(t, footer.footer.Text, last.Text)
	assert.Equal(t, "Кодекс", last.Extra[statute.KeyActType])
	assert.Equal(t, "N 2341-III, 5 квітня 2001 року", last.Extra[statute.KeyNumberAndDate])

	assert.Equal(t, "ЗАГАЛЬНІ ПОЛОЖЕННЯ", prepared.Titles[knowledge.TitleKey("ЗАГАЛЬНА ЧАСТИНА", "Розділ I")])
	assert.Equal(t, "ЗЛОЧИНИ ПРОТИ ОСНОВ НАЦІОНАЛЬНОЇ БЕЗПЕКИ УКРАЇНИ", prepared.Titles[knowledge.TitleKey("ОСОБЛИВА ЧАСТИНА", "Розділ I")])
}

func TestPrepareIsDeterministic(t *testing.T) {
	p := newTestPreparer(t, PassthroughFooter{})
	raw := readFixture(t)

	first, err := p.Prepare(context.Background(), raw)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Prepare(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, first.Chunks, again.Chunks)
	}
}

func TestPrepareKeepsRawFooterWhenNormalizationFails(t *testing.T) {
	p := newTestPreparer(t, &stubFooter{err: errors.New("model unavailable")})

	prepared, err := p.Prepare(context.Background(), readFixture(t))
	require.NoError(t, err)

	assert.Equal(t, "Президент України Л.КУЧМА\nм. Київ\n5 квітня 2001 року\nN 2341-III", prepared.Footer.Text)
	last := prepared.Chunks[len(prepared.Chunks)-1]
	assert.Empty(t, last.Part)
	assert.Empty(t, last.Extra[statute.KeyActType])
}

func TestPrepareSplitsLongArticles(t *testing.T) {
	p, err := NewPreparer(statute.DefaultMarkers(), 64, PassthroughFooter{}, nil)
	require.NoError(t, err)

	prepared, err := p.Prepare(context.Background(), readFixture(t))
	require.NoError(t, err)

	var article1 []statute.Chunk
	for _, c := range prepared.Chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 64)
		if c.ArticleNumber == "1" {
			article1 = append(article1, c)
		}
	}
	require.Greater(t, len(article1), 1)
	for i, c := range article1 {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(article1), c.TotalChunks)
	}
}

func TestPrepareMissingMarkers(t *testing.T) {
	p := newTestPreparer(t, PassthroughFooter{})

	_, err := p.Prepare(context.Background(), "ЗАГАЛЬНА ЧАСТИНА\nСтаття 1. Текст без підпису")
	require.Error(t, err)
	assert.ErrorIs(t, err, statute.ErrMarkerNotFound)
}

func TestNewPreparerRejectsSmallChunks(t *testing.T) {
	_, err := NewPreparer(statute.DefaultMarkers(), 10, nil, nil)
	assert.Error(t, err)
}
