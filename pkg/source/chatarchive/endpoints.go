package chatarchive

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mediadex/pkg/models"
)

const (
	// ChatsEndpoint lists the chats of the archive.
	ChatsEndpoint = "/api/chats"

	// MessagesEndpoint is the per-chat message listing, newest first.
	MessagesEndpoint = "/api/chats/%s/messages"

	// UpdatesEndpoint is the NDJSON live update feed.
	UpdatesEndpoint = "/api/updates/stream"

	// DefaultPageSize is the number of messages fetched per request when
	// the caller does not say otherwise.
	DefaultPageSize = 100

	// MaxPageSize is the largest page the archive server accepts.
	MaxPageSize = 500
)

// NormalizeServerURL trims whitespace and trailing slashes so endpoint
// construction can safely concatenate paths.
func NormalizeServerURL(serverURL string) string {
	s := strings.TrimSpace(serverURL)
	for strings.HasSuffix(s, "/") {
		s = s[:len(s)-1]
	}
	return s
}

// ChatsURL constructs the chat listing URL. A limit of zero or less omits
// the limit parameter and the server returns every chat.
func ChatsURL(baseURL string, limit int) string {
	if limit <= 0 {
		return baseURL + ChatsEndpoint
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	return fmt.Sprintf("%s%s?%s", baseURL, ChatsEndpoint, params.Encode())
}

// MessagesURL constructs the message listing URL for one chat. A beforeID
// of zero requests the newest page; otherwise only messages with ids
// strictly below beforeID are returned.
func MessagesURL(baseURL, chatID string, beforeID models.Marker, limit int) string {
	if limit <= 0 {
		limit = DefaultPageSize
	} else if limit > MaxPageSize {
		limit = MaxPageSize
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if beforeID > 0 {
		params.Set("before_id", strconv.FormatInt(beforeID, 10))
	}

	path := fmt.Sprintf(MessagesEndpoint, url.PathEscape(chatID))
	return fmt.Sprintf("%s%s?%s", baseURL, path, params.Encode())
}

// UpdatesURL constructs the live update feed URL.
func UpdatesURL(baseURL string) string {
	return baseURL + UpdatesEndpoint
}
