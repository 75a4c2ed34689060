// Package knowledge mirrors the statute hierarchy into Neo4j.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/statute-rag/statute"
)

// Chunk is a persisted chunk together with its store identifier.
type Chunk struct {
	ID string
	statute.Chunk
}

type Statute struct {
	ID      string
	LawName string
	SHA     string
	Source  string
	Parts   []Part
	Footer  *Footer
}

type Part struct {
	Label    string
	Title    string
	Sections []Section
}

type Section struct {
	Label    string
	Title    string
	Articles []Article
	// Chunks is set for paragraph-form sections that have no articles.
	Chunks []Chunk
}

type Article struct {
	Number string
	Chunks []Chunk
}

type Footer struct {
	Extra  map[string]string
	Chunks []Chunk
}

// TitleKey identifies a section title across parts.
func TitleKey(part, section string) string {
	return part + "\x00" + section
}

// BuildStatute groups persisted chunks into the Part/Section/Article tree.
// Chunks must be in document order; titles is keyed by TitleKey, with an
// empty section for part titles.
func BuildStatute(id, lawName, sha, source string, chunks []Chunk, titles map[string]string) Statute {
	st := Statute{ID: id, LawName: lawName, SHA: sha, Source: source}

	partIdx := map[string]int{}
	sectionIdx := map[string]int{}
	articleIdx := map[string]int{}

	for _, c := range chunks {
		if c.Part == "" {
			if st.Footer == nil {
				st.Footer = &Footer{Extra: c.Extra}
			}
			st.Footer.Chunks = append(st.Footer.Chunks, c)
			continue
		}

		pi, ok := partIdx[c.Part]
		if !ok {
			pi = len(st.Parts)
			partIdx[c.Part] = pi
			st.Parts = append(st.Parts, Part{Label: c.Part, Title: titles[TitleKey(c.Part, "")]})
		}
		part := &st.Parts[pi]

		sk := TitleKey(c.Part, c.Section)
		si, ok := sectionIdx[sk]
		if !ok {
			si = len(part.Sections)
			sectionIdx[sk] = si
			part.Sections = append(part.Sections, Section{Label: c.Section, Title: titles[sk]})
		}
		section := &part.Sections[si]

		if c.ArticleNumber == "" {
			section.Chunks = append(section.Chunks, c)
			continue
		}
		ak := sk + "\x00" + c.ArticleNumber
		ai, ok := articleIdx[ak]
		if !ok {
			ai = len(section.Articles)
			articleIdx[ak] = ai
			section.Articles = append(section.Articles, Article{Number: c.ArticleNumber})
		}
		section.Articles[ai].Chunks = append(section.Articles[ai].Chunks, c)
	}
	return st
}

func chunkRows(chunks []Chunk) []map[string]any {
	rows := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, map[string]any{
			"id":    c.ID,
			"index": c.ChunkIndex,
			"total": c.TotalChunks,
			"text":  c.Text,
		})
	}
	return rows
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SyncStatute replaces the statute's subtree in the graph with st.
func SyncStatute(ctx context.Context, driver neo4j.DriverWithContext, st Statute) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (s:Statute {id: $id})
			SET s.law_name = $law_name,
			    s.sha256 = $sha,
			    s.source = $source,
			    s.updated_at = datetime()
		`, map[string]any{"id": st.ID, "law_name": st.LawName, "sha": st.SHA, "source": st.Source}); err != nil {
			return nil, fmt.Errorf("upsert statute node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (s:Statute {id: $id})-[:HAS_PART|HAS_FOOTER]->(root)
			OPTIONAL MATCH (root)-[*1..3]->(child)
			DETACH DELETE child, root
		`, map[string]any{"id": st.ID}); err != nil {
			return nil, fmt.Errorf("clear existing hierarchy: %w", err)
		}

		for pi, part := range st.Parts {
			partKey := st.ID + "/" + part.Label
			if _, err := tx.Run(ctx, `
				MATCH (s:Statute {id: $id})
				CREATE (p:Part {key: $key, label: $label, title: $title})
				CREATE (s)-[:HAS_PART {order: $order}]->(p)
			`, map[string]any{"id": st.ID, "key": partKey, "label": part.Label, "title": part.Title, "order": pi}); err != nil {
				return nil, fmt.Errorf("create part %s: %w", part.Label, err)
			}

			for si, section := range part.Sections {
				sectionKey := partKey + "/" + section.Label
				if _, err := tx.Run(ctx, `
					MATCH (p:Part {key: $part_key})
					CREATE (sec:Section {key: $key, label: $label, title: $title, part: $part})
					CREATE (p)-[:HAS_SECTION {order: $order}]->(sec)
					WITH sec
					UNWIND $chunks AS row
					CREATE (c:Chunk {id: row.id, index: row.index, total: row.total, text: row.text})
					CREATE (sec)-[:HAS_CHUNK {order: row.index}]->(c)
				`, map[string]any{
					"part_key": partKey,
					"key":      sectionKey,
					"label":    section.Label,
					"title":    section.Title,
					"part":     part.Label,
					"order":    si,
					"chunks":   chunkRows(section.Chunks),
				}); err != nil {
					return nil, fmt.Errorf("create section %s: %w", section.Label, err)
				}

				for ai, article := range section.Articles {
					if _, err := tx.Run(ctx, `
						MATCH (sec:Section {key: $section_key})
						CREATE (a:Article {key: $key, number: $number})
						CREATE (sec)-[:HAS_ARTICLE {order: $order}]->(a)
						WITH a
						UNWIND $chunks AS row
						CREATE (c:Chunk {id: row.id, index: row.index, total: row.total, text: row.text})
						CREATE (a)-[:HAS_CHUNK {order: row.index}]->(c)
					`, map[string]any{
						"section_key": sectionKey,
						"key":         st.ID + "/" + article.Number,
						"number":      article.Number,
						"order":       ai,
						"chunks":      chunkRows(article.Chunks),
					}); err != nil {
						return nil, fmt.Errorf("create article %s: %w", article.Number, err)
					}
				}
			}
		}

		if st.Footer != nil {
			if _, err := tx.Run(ctx, `
				MATCH (s:Statute {id: $id})
				CREATE (f:Footer)
				SET f += $extra
				CREATE (s)-[:HAS_FOOTER]->(f)
				WITH f
				UNWIND $chunks AS row
				CREATE (c:Chunk {id: row.id, index: row.index, total: row.total, text: row.text})
				CREATE (f)-[:HAS_CHUNK {order: row.index}]->(c)
			`, map[string]any{"id": st.ID, "extra": stringMap(st.Footer.Extra), "chunks": chunkRows(st.Footer.Chunks)}); err != nil {
				return nil, fmt.Errorf("create footer: %w", err)
			}
		}

		return nil, nil
	})

	return err
}

// PurgeStatutes removes every statute node and its hierarchy.
func PurgeStatutes(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Statute OR n:Part OR n:Section OR n:Article OR n:Chunk OR n:Footer
			DETACH DELETE n
		`, nil); err != nil {
			return nil, fmt.Errorf("delete statute graph: %w", err)
		}
		return nil, nil
	})
	return err
}
