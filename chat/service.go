package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/statute-rag/embeddings"
	"github.com/fabfab/statute-rag/llm"
	"github.com/fabfab/statute-rag/statute"
)

const (
	defaultSimilarityLimit = 5
	defaultHistoryLimit    = 10
	snippetLimit           = 300
)

type Service struct {
	vectors       VectorStore
	graph         GraphStore
	embedder      embeddings.Embedder
	llm           llm.Client
	reconstructor *statute.Reconstructor
	logger        *zap.Logger
	lawName       string
	historyLimit  int
}

type Options struct {
	LawName string
	// HistoryLimit caps the number of history messages kept after a turn.
	HistoryLimit int
}

type Config struct {
	SimilarityLimit int
}

func NewService(
	vectors VectorStore,
	graph GraphStore,
	embedder embeddings.Embedder,
	llmClient llm.Client,
	reconstructor *statute.Reconstructor,
	opts Options,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}

	return &Service{
		vectors:       vectors,
		graph:         graph,
		embedder:      embedder,
		llm:           llmClient,
		reconstructor: reconstructor,
		logger:        logger,
		lawName:       opts.LawName,
		historyLimit:  opts.HistoryLimit,
	}
}

func (s *Service) Chat(ctx context.Context, question string, cfg Config) (Response, error) {
	resp, _, err := s.chat(ctx, question, cfg, nil, nil)
	return resp, err
}

// ChatWithHistory answers one turn of a conversation and returns the history
// extended with the turn and trimmed to the configured limit.
func (s *Service) ChatWithHistory(ctx context.Context, question string, cfg Config, history []llm.Message) (Response, []llm.Message, error) {
	return s.chat(ctx, question, cfg, history, nil)
}

// ChatStream runs the chat workflow while streaming the LLM output. When the
// LLM implementation does not support streaming, the callback receives the
// full answer once.
func (s *Service) ChatStream(
	ctx context.Context,
	question string,
	cfg Config,
	history []llm.Message,
	streamFn func(string) error,
) (Response, []llm.Message, error) {
	return s.chat(ctx, question, cfg, history, streamFn)
}

func (s *Service) chat(
	ctx context.Context,
	question string,
	cfg Config,
	history []llm.Message,
	streamFn func(string) error,
) (Response, []llm.Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, nil, fmt.Errorf("question cannot be empty")
	}
	if s.embedder == nil {
		return Response{}, nil, fmt.Errorf("embedder is not configured")
	}
	if s.vectors == nil {
		return Response{}, nil, fmt.Errorf("vector store is not configured")
	}
	if s.llm == nil {
		return Response{}, nil, fmt.Errorf("llm client is not configured")
	}
	if s.reconstructor == nil {
		return Response{}, nil, fmt.Errorf("context reconstructor is not configured")
	}

	limit := cfg.SimilarityLimit
	if limit <= 0 {
		limit = defaultSimilarityLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Response{}, nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return Response{}, nil, fmt.Errorf("embedder returned no vectors")
	}

	chunks, err := s.vectors.SimilarChunks(ctx, vectors[0], limit)
	if err != nil {
		return Response{}, nil, fmt.Errorf("vector search: %w", err)
	}
	if len(chunks) == 0 {
		s.logger.Warn("no chunks retrieved for question, answering without context")
	}

	items := make([]statute.RetrievedItem, len(chunks))
	for i, c := range chunks {
		items[i] = statute.RetrievedItem{Chunk: c.Chunk, Score: c.Score}
	}
	contextText, err := s.reconstructor.Build(ctx, items)
	if err != nil {
		return Response{}, nil, fmt.Errorf("reconstruct context: %w", err)
	}

	sources := s.sources(ctx, chunks)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(s.lawName, contextText)})
	messages = append(messages, history...)
	userMessage := llm.Message{Role: llm.RoleUser, Content: question}
	messages = append(messages, userMessage)

	answer, err := s.generate(ctx, messages, streamFn)
	if err != nil {
		return Response{}, nil, err
	}

	answer = strings.TrimSpace(answer)
	assistantMessage := llm.Message{Role: llm.RoleAssistant, Content: answer}

	updatedHistory := make([]llm.Message, 0, len(history)+2)
	updatedHistory = append(updatedHistory, history...)
	updatedHistory = append(updatedHistory, userMessage, assistantMessage)
	updatedHistory = TrimHistory(updatedHistory, s.historyLimit)

	s.logger.Debug("answered question",
		zap.Int("retrieved", len(chunks)),
		zap.Int("context_chars", len([]rune(contextText))),
		zap.Int("history", len(updatedHistory)),
	)

	return Response{Answer: answer, Context: contextText, Sources: sources}, updatedHistory, nil
}

func (s *Service) generate(ctx context.Context, messages []llm.Message, streamFn func(string) error) (string, error) {
	if streamFn == nil {
		answer, err := s.llm.Generate(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("llm generate: %w", err)
		}
		return answer, nil
	}

	streamClient, ok := s.llm.(llm.StreamClient)
	if !ok {
		answer, err := s.llm.Generate(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("llm generate: %w", err)
		}
		if err := streamFn(answer); err != nil {
			return "", err
		}
		return answer, nil
	}

	var builder strings.Builder
	err := streamClient.GenerateStream(ctx, messages, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		builder.WriteString(chunk)
		return streamFn(chunk)
	})
	if err != nil {
		return "", fmt.Errorf("llm stream generate: %w", err)
	}
	return builder.String(), nil
}

// sources describes the retrieved chunks in retrieval order. Graph lookups
// are best effort; a failure only drops the section titles.
func (s *Service) sources(ctx context.Context, chunks []ChunkResult) []Source {
	var keys []SectionKey
	seen := map[SectionKey]struct{}{}
	for _, c := range chunks {
		if c.Section == "" {
			continue
		}
		key := SectionKey{Part: c.Part, Section: c.Section}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	insights := map[SectionKey]SectionInsight{}
	if s.graph != nil && len(keys) > 0 {
		found, err := s.graph.SectionInsights(ctx, keys)
		if err != nil {
			s.logger.Warn("graph insights unavailable", zap.Error(err))
		} else {
			insights = found
		}
	}

	sources := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		src := Source{
			Part:          c.Part,
			Section:       c.Section,
			ArticleNumber: c.ArticleNumber,
			ChunkIndex:    c.ChunkIndex,
			TotalChunks:   c.TotalChunks,
			Extra:         c.Extra,
			Snippet:       snippet(c.Text),
			Score:         c.Score,
		}
		if insight, ok := insights[SectionKey{Part: c.Part, Section: c.Section}]; ok {
			src.SectionTitle = insight.SectionTitle
		}
		sources = append(sources, src)
	}
	return sources
}

// TrimHistory keeps the last limit messages.
func TrimHistory(history []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return append([]llm.Message(nil), history[len(history)-limit:]...)
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	return string(runes[:snippetLimit]) + "..."
}

func systemPrompt(lawName, context string) string {
	var sb strings.Builder
	sb.WriteString("Ти юридичний асистент і експерт з документа «")
	sb.WriteString(lawName)
	sb.WriteString("».\n")
	sb.WriteString("Використовуй наведений нижче контекст, щоб відповісти на запитання користувача.\n")
	sb.WriteString("Відповідай лише на запитання, що стосуються цього документа, і не відповідай на інші.\n")
	sb.WriteString("Надавай точні відповіді українською мовою.\n\n")
	sb.WriteString("Контекст:\n")
	sb.WriteString(context)
	return sb.String()
}
