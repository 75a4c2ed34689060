package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/statute-rag/embeddings"
	"github.com/fabfab/statute-rag/llm"
	"github.com/fabfab/statute-rag/statute"
)

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors, nil
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

type stubVectorStore struct {
	results []ChunkResult
	stored  []statute.Chunk
	err     error
	limit   int
}

func (s *stubVectorStore) SimilarChunks(ctx context.Context, embedding []float32, limit int) ([]ChunkResult, error) {
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubVectorStore) FetchChunks(ctx context.Context, pred statute.Predicate) ([]statute.Chunk, error) {
	var out []statute.Chunk
	for i := len(s.stored) - 1; i >= 0; i-- {
		if pred.Matches(s.stored[i].Metadata) {
			out = append(out, s.stored[i])
		}
	}
	return out, nil
}

var _ VectorStore = (*stubVectorStore)(nil)

type stubGraphStore struct {
	data map[SectionKey]SectionInsight
	err  error
}

func (s *stubGraphStore) SectionInsights(ctx context.Context, keys []SectionKey) (map[SectionKey]SectionInsight, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

var _ GraphStore = (*stubGraphStore)(nil)

type stubLLM struct {
	response string
	err      error
	messages []llm.Message
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.messages = messages
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

var _ llm.Client = (*stubLLM)(nil)

type stubStreamLLM struct {
	stubLLM
	pieces []string
}

func (s *stubStreamLLM) GenerateStream(ctx context.Context, messages []llm.Message, fn func(string) error) error {
	s.messages = messages
	for _, p := range s.pieces {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

var _ llm.StreamClient = (*stubStreamLLM)(nil)

const (
	special = "ОСОБЛИВА ЧАСТИНА"
	law     = "Кримінальний кодекс України"
)

func theftStore() *stubVectorStore {
	stored := statute.AssignMetadata(
		[]string{"Стаття 185. Крадіжка", "1. Таємне викрадення чужого майна (крадіжка)"},
		statute.Metadata{Part: special, Section: "Розділ VI", ArticleNumber: "185"},
	)
	return &stubVectorStore{
		stored:  stored,
		results: []ChunkResult{{ChunkID: "c2", DocumentID: "d1", Chunk: stored[1], Score: 0.9}},
	}
}

func newService(store *stubVectorStore, graph GraphStore, client llm.Client, historyLimit int) *Service {
	rec := statute.NewReconstructor(store, statute.DefaultMarkers(), nil)
	return NewService(store, graph, &stubEmbedder{vectors: [][]float32{{0.1, 0.2}}}, client, rec, Options{LawName: law, HistoryLimit: historyLimit}, nil)
}

func TestChatBuildsReconstructedContext(t *testing.T) {
	store := theftStore()
	graph := &stubGraphStore{data: map[SectionKey]SectionInsight{
		{Part: special, Section: "Розділ VI"}: {SectionTitle: "КРИМІНАЛЬНІ ПРАВОПОРУШЕННЯ ПРОТИ ВЛАСНОСТІ"},
	}}
	client := &stubLLM{response: "  Крадіжка карається штрафом.  "}
	svc := newService(store, graph, client, 0)

	resp, err := svc.Chat(context.Background(), "  покарання за крадіжку ", Config{SimilarityLimit: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, store.limit)
	assert.Equal(t, "Крадіжка карається штрафом.", resp.Answer)
	assert.Equal(t, "ОСОБЛИВА ЧАСТИНА. Розділ VI. Стаття 185. Крадіжка 1. Таємне викрадення чужого майна (крадіжка)", resp.Context)

	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "185", resp.Sources[0].ArticleNumber)
	assert.Equal(t, "КРИМІНАЛЬНІ ПРАВОПОРУШЕННЯ ПРОТИ ВЛАСНОСТІ", resp.Sources[0].SectionTitle)
	assert.Equal(t, 0.9, resp.Sources[0].Score)

	require.Len(t, client.messages, 2)
	assert.Equal(t, llm.RoleSystem, client.messages[0].Role)
	assert.Contains(t, client.messages[0].Content, law)
	assert.Contains(t, client.messages[0].Content, resp.Context)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "покарання за крадіжку"}, client.messages[1])
}

func TestChatRejectsEmptyQuestion(t *testing.T) {
	svc := newService(theftStore(), nil, &stubLLM{}, 0)

	_, err := svc.Chat(context.Background(), "   ", Config{})
	assert.Error(t, err)
}

func TestChatWithoutRetrievalStillAnswers(t *testing.T) {
	client := &stubLLM{response: "Не знайдено."}
	svc := newService(&stubVectorStore{}, nil, client, 0)

	resp, err := svc.Chat(context.Background(), "питання", Config{})
	require.NoError(t, err)
	assert.Equal(t, "Не знайдено.", resp.Answer)
	assert.Empty(t, resp.Context)
	assert.Empty(t, resp.Sources)
}

func TestChatPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	svc := newService(&stubVectorStore{err: boom}, nil, &stubLLM{}, 0)
	_, err := svc.Chat(context.Background(), "питання", Config{})
	assert.ErrorIs(t, err, boom)

	svc = newService(theftStore(), nil, &stubLLM{err: boom}, 0)
	_, err = svc.Chat(context.Background(), "питання", Config{})
	assert.ErrorIs(t, err, boom)
}

func TestChatAbortsOnIncompleteArticle(t *testing.T) {
	store := theftStore()
	store.stored = store.stored[1:]
	client := &stubLLM{response: "x"}
	svc := newService(store, nil, client, 0)

	_, err := svc.Chat(context.Background(), "питання", Config{})
	assert.ErrorIs(t, err, statute.ErrIncompleteUnit)
	assert.Nil(t, client.messages, "the model must not be called with partial context")
}

func TestChatGraphFailureIsNotFatal(t *testing.T) {
	svc := newService(theftStore(), &stubGraphStore{err: errors.New("neo4j down")}, &stubLLM{response: "ok"}, 0)

	resp, err := svc.Chat(context.Background(), "питання", Config{})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Empty(t, resp.Sources[0].SectionTitle)
}

func TestChatWithHistoryTrimsToLimit(t *testing.T) {
	client := &stubLLM{response: "відповідь"}
	svc := newService(theftStore(), nil, client, 4)

	var history []llm.Message
	var err error
	for i := 0; i < 3; i++ {
		_, history, err = svc.ChatWithHistory(context.Background(), "питання", Config{}, history)
		require.NoError(t, err)
	}

	assert.Len(t, history, 4)
	// system + 4 prior messages + question
	assert.Len(t, client.messages, 6)
}

func TestChatStreamUsesStreamingClient(t *testing.T) {
	client := &stubStreamLLM{pieces: []string{"Крадіжка ", "", "карається."}}
	svc := newService(theftStore(), nil, client, 0)

	var streamed strings.Builder
	resp, history, err := svc.ChatStream(context.Background(), "питання", Config{}, nil, func(s string) error {
		streamed.WriteString(s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Крадіжка карається.", streamed.String())
	assert.Equal(t, "Крадіжка карається.", resp.Answer)
	assert.Len(t, history, 2)
}

func TestChatStreamFallsBackToGenerate(t *testing.T) {
	svc := newService(theftStore(), nil, &stubLLM{response: "повна відповідь"}, 0)

	var calls []string
	_, _, err := svc.ChatStream(context.Background(), "питання", Config{}, nil, func(s string) error {
		calls = append(calls, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"повна відповідь"}, calls)
}

func TestTrimHistory(t *testing.T) {
	history := make([]llm.Message, 12)
	for i := range history {
		history[i] = llm.Message{Role: llm.RoleUser, Content: string(rune('a' + i))}
	}

	trimmed := TrimHistory(history, 10)
	require.Len(t, trimmed, 10)
	assert.Equal(t, "c", trimmed[0].Content)
	assert.Len(t, TrimHistory(history[:3], 10), 3)
}

func TestSnippetTruncatesByRunes(t *testing.T) {
	long := strings.Repeat("ї", snippetLimit+5)
	assert.Equal(t, strings.Repeat("ї", snippetLimit)+"...", snippet(long))
	assert.Equal(t, "коротко", snippet(" коротко "))
}
