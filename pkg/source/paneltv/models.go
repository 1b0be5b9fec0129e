package paneltv

import (
	"strconv"
	"strings"
	"time"

	"mediadex/pkg/models"
)

// Category is one panel category. Panels send category_id as a string.
type Category struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	ParentID     int    `json:"parent_id,omitempty"`
}

// Stream is one live channel or VOD entry. Panels send added as unix
// seconds wrapped in a string.
type Stream struct {
	Num                int    `json:"num,omitempty"`
	Name               string `json:"name"`
	StreamID           int64  `json:"stream_id"`
	StreamIcon         string `json:"stream_icon,omitempty"`
	Added              string `json:"added,omitempty"`
	CategoryID         string `json:"category_id,omitempty"`
	ContainerExtension string `json:"container_extension,omitempty"`
	Rating             string `json:"rating,omitempty"`
}

func addedTime(added string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(added), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// streamItem converts a stream into a catalog item. unitID overrides the
// stream's own category id when non-empty.
func streamItem(s Stream, content models.ContentType, unitID string) models.CatalogItem {
	if unitID == "" {
		unitID = s.CategoryID
	}

	kind := models.KindMovie
	if content == models.ContentLive {
		kind = models.KindLive
	}

	item := models.CatalogItem{
		ID:          strconv.FormatInt(s.StreamID, 10),
		UnitID:      unitID,
		Source:      models.SourcePanelTV,
		ContentType: content,
		Title:       s.Name,
		Kind:        kind,
		Marker:      s.StreamID,
		AddedAt:     addedTime(s.Added),
		PosterURL:   s.StreamIcon,
	}

	extra := make(map[string]string)
	if s.ContainerExtension != "" {
		extra["container"] = s.ContainerExtension
	}
	if s.Rating != "" {
		extra["rating"] = s.Rating
	}
	if len(extra) > 0 {
		item.Extra = extra
	}
	return item
}
