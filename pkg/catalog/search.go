package catalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"mediadex/pkg/models"
)

// Search fuzzy-matches the query against every stored title and returns
// items ranked best-first. A limit <= 0 returns all matches.
func (s *Store) Search(query string, limit int) ([]models.CatalogItem, error) {
	if query == "" {
		return nil, nil
	}

	var items []models.CatalogItem
	var titles []string
	err := s.forEachPrefix(bucketItems, "", func(_ string, v []byte) error {
		var e entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		items = append(items, e.Item)
		titles = append(titles, e.Item.Title)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog for search: %w", err)
	}

	matches := fuzzy.RankFindFold(query, titles)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]models.CatalogItem, 0, len(matches))
	for _, m := range matches {
		results = append(results, items[m.OriginalIndex])
	}

	s.log.DebugWithFields("catalog search", map[string]interface{}{
		"query":   query,
		"results": len(results),
	})
	return results, nil
}
