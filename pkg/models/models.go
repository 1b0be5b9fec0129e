package models

import "time"

// SourceType identifies the kind of external source an item came from.
type SourceType string

const (
	SourceChatArchive SourceType = "chatarchive"
	SourcePanelTV     SourceType = "paneltv"
)

// ContentType partitions a source's catalog into independently synced slices.
type ContentType string

const (
	ContentMedia  ContentType = "media"
	ContentLive   ContentType = "live"
	ContentVOD    ContentType = "vod"
	ContentSeries ContentType = "series"
)

// MediaKind describes what a catalog item carries. KindNone marks items that
// exist in the source (and count as scanned) but carry no media.
type MediaKind string

const (
	KindNone     MediaKind = "none"
	KindPhoto    MediaKind = "photo"
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
	KindLive     MediaKind = "live"
	KindMovie    MediaKind = "movie"
	KindSeries   MediaKind = "series"
)

// Marker is a per-unit monotonic position: a chat message id or a panel
// stream id. Zero means "no position".
type Marker = int64

// CatalogItem is one discovered raw item flowing through the scan pipeline.
// It carries provenance plus enough display fields for the local catalog;
// anything richer belongs to downstream enrichment, not the engine.
type CatalogItem struct {
	ID          string            `json:"id"`
	UnitID      string            `json:"unit_id"`
	Source      SourceType        `json:"source"`
	ContentType ContentType       `json:"content_type"`
	Title       string            `json:"title"`
	Kind        MediaKind         `json:"kind"`
	Marker      Marker            `json:"marker"`
	AddedAt     time.Time         `json:"added_at"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	PosterURL   string            `json:"poster_url,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// HasMedia reports whether the item should be kept by a scan. Non-media
// items are skipped but still count toward scanned totals.
func (i CatalogItem) HasMedia() bool {
	return i.Kind != "" && i.Kind != KindNone
}

// Key returns the catalog storage key for the item, unique across sources.
func (i CatalogItem) Key() string {
	return string(i.Source) + "/" + string(i.ContentType) + "/" + i.UnitID + "/" + i.ID
}

// ScanUnit is one independently scannable container: a chat in a chat
// archive, a category in an IPTV panel.
type ScanUnit struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	PriorMark Marker `json:"prior_mark,omitempty"`
}

// AuthState is the current authentication state of a source adapter.
type AuthState string

const (
	AuthReady      AuthState = "ready"
	AuthConnecting AuthState = "connecting"
	AuthError      AuthState = "error"
	AuthSignedOut  AuthState = "signed_out"
)

// ConnectionState is the current transport state of a source adapter.
type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)
