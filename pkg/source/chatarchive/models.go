package chatarchive

import (
	"strconv"
	"time"

	"mediadex/pkg/models"
)

// Chat is one chat container in the archive listing.
type Chat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// ChatsResponse is the body of the chat listing endpoint.
type ChatsResponse struct {
	Chats []Chat `json:"chats"`
}

// Message is one message of a chat. Kind is the server's media
// classification; plain text messages carry kind "text" and no file fields.
type Message struct {
	ID       int64  `json:"id"`
	ChatID   int64  `json:"chat_id"`
	Kind     string `json:"kind"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	ThumbURL string `json:"thumb_url,omitempty"`
	Date     int64  `json:"date"`
}

// MessagesResponse is the body of the message listing endpoint. Messages
// are ordered newest first; HasMore reports whether older messages exist
// below the last one returned.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// UpdateNewMessage is the update type carrying a fresh message.
const UpdateNewMessage = "new_message"

// Update is one line of the NDJSON live feed.
type Update struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// mediaKind maps the server's message kind onto the catalog vocabulary.
// Unrecognized kinds, including "text", come back as KindNone.
func mediaKind(kind string) models.MediaKind {
	switch kind {
	case "photo":
		return models.KindPhoto
	case "video":
		return models.KindVideo
	case "audio":
		return models.KindAudio
	case "document":
		return models.KindDocument
	default:
		return models.KindNone
	}
}

// messageItem converts a message into a catalog item. unitID overrides the
// message's own chat id when non-empty; the live feed passes "" and relies
// on ChatID instead.
func messageItem(msg Message, unitID string) models.CatalogItem {
	if unitID == "" {
		unitID = strconv.FormatInt(msg.ChatID, 10)
	}

	title := msg.Caption
	if title == "" {
		title = msg.FileName
	}

	var added time.Time
	if msg.Date > 0 {
		added = time.Unix(msg.Date, 0).UTC()
	}

	item := models.CatalogItem{
		ID:          strconv.FormatInt(msg.ID, 10),
		UnitID:      unitID,
		Source:      models.SourceChatArchive,
		ContentType: models.ContentMedia,
		Title:       title,
		Kind:        mediaKind(msg.Kind),
		Marker:      msg.ID,
		AddedAt:     added,
		SizeBytes:   msg.FileSize,
		PosterURL:   msg.ThumbURL,
	}
	if msg.MimeType != "" {
		item.Extra = map[string]string{"mime_type": msg.MimeType}
	}
	return item
}
