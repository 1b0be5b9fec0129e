package catalog

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediadex/pkg/models"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func chatItem(unitID, id string, marker models.Marker, title string) models.CatalogItem {
	return models.CatalogItem{
		ID:          id,
		UnitID:      unitID,
		Source:      models.SourceChatArchive,
		ContentType: models.ContentMedia,
		Title:       title,
		Kind:        models.KindVideo,
		Marker:      marker,
		AddedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func panelItem(id, title string) models.CatalogItem {
	return models.CatalogItem{
		ID:          id,
		UnitID:      "cat1",
		Source:      models.SourcePanelTV,
		ContentType: models.ContentVOD,
		Title:       title,
		Kind:        models.KindMovie,
		Marker:      1,
		AddedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func readEntry(t *testing.T, s *Store, key string) entry {
	t.Helper()
	var out entry
	found := false
	err := s.forEachPrefix(bucketItems, key, func(k string, v []byte) error {
		if k == key {
			require.NoError(t, json.Unmarshal(v, &out))
			found = true
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, found, "expected entry %s", key)
	return out
}

func TestUpsertAllCountsNewAndUpdated(t *testing.T) {
	s := memStore(t)
	a := chatItem("chat1", "m1", 10, "Holiday video")
	b := chatItem("chat1", "m2", 11, "Beach photo")

	created, updated, err := s.UpsertAll([]models.CatalogItem{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 0, updated)

	created, updated, err = s.UpsertAll([]models.CatalogItem{a, b})
	require.NoError(t, err)
	assert.Equal(t, 0, created, "re-seen identical items are not new")
	assert.Equal(t, 0, updated, "re-seen identical items are not updated either")

	a.Title = "Holiday video (remastered)"
	created, updated, err = s.UpsertAll([]models.CatalogItem{a, b})
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 1, updated)
}

func TestUpsertAllPreservesFirstSeen(t *testing.T) {
	s := memStore(t)
	item := chatItem("chat1", "m1", 10, "Original")

	_, _, err := s.UpsertAll([]models.CatalogItem{item})
	require.NoError(t, err)
	first := readEntry(t, s, item.Key())

	item.Title = "Renamed"
	_, _, err = s.UpsertAll([]models.CatalogItem{item})
	require.NoError(t, err)
	second := readEntry(t, s, item.Key())

	assert.True(t, second.FirstSeen.Equal(first.FirstSeen), "FirstSeen survives updates")
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
	assert.Equal(t, "Renamed", second.Item.Title)

	_, _, err = s.UpsertAll([]models.CatalogItem{item})
	require.NoError(t, err)
	third := readEntry(t, s, item.Key())
	assert.True(t, third.UpdatedAt.Equal(second.UpdatedAt), "identical payloads do not touch UpdatedAt")
}

func TestGenerationPruneLifecycle(t *testing.T) {
	s := memStore(t)
	a := chatItem("chat1", "m1", 10, "kept one")
	b := chatItem("chat1", "m2", 11, "kept two")
	c := chatItem("chat1", "m3", 12, "deleted upstream")
	other := panelItem("s1", "unrelated movie")

	_, _, err := s.UpsertAll([]models.CatalogItem{a, b, c, other})
	require.NoError(t, err)

	gen, err := s.BeginGeneration(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	_, _, err = s.UpsertAll([]models.CatalogItem{a, b})
	require.NoError(t, err)

	deleted, err := s.PruneStale(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "only the item the full pass never re-saw is pruned")

	n, err := s.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(models.SourcePanelTV)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pruning one source never touches another")
}

func TestPruneWithoutNewGenerationIsNoop(t *testing.T) {
	s := memStore(t)
	_, _, err := s.UpsertAll([]models.CatalogItem{
		chatItem("chat1", "m1", 10, "one"),
		chatItem("chat1", "m2", 11, "two"),
	})
	require.NoError(t, err)

	deleted, err := s.PruneStale(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteAllRemovesItemsAndMarks(t *testing.T) {
	s := memStore(t)
	_, _, err := s.UpsertAll([]models.CatalogItem{
		chatItem("chat1", "m1", 10, "one"),
		chatItem("chat2", "m2", 11, "two"),
		panelItem("s1", "movie"),
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveUnitMarks(models.SourceChatArchive, map[string]models.Marker{"chat1": 10, "chat2": 11}))
	require.NoError(t, s.SaveUnitMarks(models.SourcePanelTV, map[string]models.Marker{"cat1": 1}))

	deleted, err := s.DeleteAll(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	n, err := s.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Zero(t, n)

	marks, err := s.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Empty(t, marks, "clearing a source drops its marks too")

	n, err = s.Count(models.SourcePanelTV)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	marks, err = s.UnitMarks(models.SourcePanelTV)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Marker{"cat1": 1}, marks)
}

func TestSaveUnitMarksNeverRegress(t *testing.T) {
	s := memStore(t)

	require.NoError(t, s.SaveUnitMarks(models.SourceChatArchive, map[string]models.Marker{"chat1": 50}))
	require.NoError(t, s.SaveUnitMarks(models.SourceChatArchive, map[string]models.Marker{"chat1": 30, "chat2": 10}))

	marks, err := s.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Marker{"chat1": 50, "chat2": 10}, marks)
}

func TestSaveUnitsKeepsStoredMarks(t *testing.T) {
	s := memStore(t)

	require.NoError(t, s.SaveUnitMarks(models.SourceChatArchive, map[string]models.Marker{"chat1": 50}))
	require.NoError(t, s.SaveUnits(models.SourceChatArchive, []models.ScanUnit{
		{ID: "chat1", Title: "General"},
		{ID: "chat2", Title: "Archive", PriorMark: 60},
	}))

	marks, err := s.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, models.Marker(50), marks["chat1"], "re-listing a unit keeps its stored mark")
	assert.Equal(t, models.Marker(60), marks["chat2"])

	var rec unitRecord
	err = s.forEachPrefix(bucketUnits, unitKey(models.SourceChatArchive, "chat1"), func(_ string, v []byte) error {
		return json.Unmarshal(v, &rec)
	})
	require.NoError(t, err)
	assert.Equal(t, "General", rec.Title)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := NewStore(path)
	require.NoError(t, err)
	_, _, err = s.UpsertAll([]models.CatalogItem{
		chatItem("chat1", "m1", 10, "one"),
		chatItem("chat1", "m2", 11, "two"),
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveUnitMarks(models.SourceChatArchive, map[string]models.Marker{"chat1": 11}))
	gen, err := s.BeginGeneration(models.SourceChatArchive)
	require.NoError(t, err)
	require.Equal(t, int64(1), gen)
	require.NoError(t, s.Close())

	s2, err := NewStore(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	marks, err := s2.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Marker{"chat1": 11}, marks)

	gen, err = s2.BeginGeneration(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen, "the generation counter survives reopen")
}
