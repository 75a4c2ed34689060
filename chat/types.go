package chat

import "github.com/fabfab/statute-rag/statute"

type ChunkResult struct {
	ChunkID    string
	DocumentID string
	statute.Chunk
	Score float64
}

// SectionKey names one section of one part.
type SectionKey struct {
	Part    string
	Section string
}

type SectionInsight struct {
	PartTitle    string
	SectionTitle string
	ArticleCount int
}

type Source struct {
	Part          string
	Section       string
	SectionTitle  string
	ArticleNumber string
	ChunkIndex    int
	TotalChunks   int
	Extra         map[string]string
	Snippet       string
	Score         float64
}

type Response struct {
	Answer  string
	Context string
	Sources []Source
}
