package chat

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type GraphStore interface {
	SectionInsights(ctx context.Context, keys []SectionKey) (map[SectionKey]SectionInsight, error)
}

type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{driver: driver}
}

// SectionInsights returns the part and section titles and the article count of
// each requested section.
func (s *Neo4jGraphStore) SectionInsights(ctx context.Context, keys []SectionKey) (map[SectionKey]SectionInsight, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(keys) == 0 {
		return map[SectionKey]SectionInsight{}, nil
	}

	params := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		params = append(params, map[string]any{"part": k.Part, "section": k.Section})
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		UNWIND $keys AS key
		MATCH (p:Part {label: key.part})-[:HAS_SECTION]->(sec:Section {label: key.section})
		OPTIONAL MATCH (sec)-[:HAS_ARTICLE]->(a:Article)
		RETURN key.part AS part,
		       key.section AS section,
		       p.title AS partTitle,
		       sec.title AS sectionTitle,
		       count(DISTINCT a) AS articleCount
	`, map[string]any{"keys": params})
	if err != nil {
		return nil, fmt.Errorf("run neo4j section query: %w", err)
	}

	insights := make(map[SectionKey]SectionInsight, len(keys))
	for result.Next(ctx) {
		record := result.Record()
		part, _ := record.Get("part")
		section, _ := record.Get("section")
		partTitle, _ := record.Get("partTitle")
		sectionTitle, _ := record.Get("sectionTitle")
		count, _ := record.Get("articleCount")

		key := SectionKey{Part: toString(part), Section: toString(section)}
		articles, _ := toInt(count)
		insights[key] = SectionInsight{
			PartTitle:    toString(partTitle),
			SectionTitle: toString(sectionTitle),
			ArticleCount: articles,
		}
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j section result error: %w", err)
	}

	return insights, nil
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

func toString(value any) string {
	s, _ := value.(string)
	return s
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
