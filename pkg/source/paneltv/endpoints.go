package paneltv

import (
	"fmt"
	"net/url"
	"strings"

	"mediadex/pkg/models"
)

const (
	// PlayerAPIPath is the panel's single API entry point; the action
	// parameter selects the operation.
	PlayerAPIPath = "/player_api.php"

	ActionLiveCategories = "get_live_categories"
	ActionVODCategories  = "get_vod_categories"
	ActionLiveStreams    = "get_live_streams"
	ActionVODStreams     = "get_vod_streams"

	// DefaultPageSize is the local window size over a category's stream
	// list. The panel itself has no pagination.
	DefaultPageSize = 200
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

// CategoriesURL constructs the category listing URL for one content type.
func CategoriesURL(baseURL, username, password string, content models.ContentType) string {
	return apiURL(baseURL, username, password, categoriesAction(content), nil)
}

// StreamsURL constructs the stream listing URL for one category. An empty
// categoryID requests the panel's full catalog for the content type.
func StreamsURL(baseURL, username, password string, content models.ContentType, categoryID string) string {
	var extra url.Values
	if categoryID != "" {
		extra = url.Values{"category_id": {categoryID}}
	}
	return apiURL(baseURL, username, password, streamsAction(content), extra)
}

func categoriesAction(content models.ContentType) string {
	if content == models.ContentLive {
		return ActionLiveCategories
	}
	return ActionVODCategories
}

func streamsAction(content models.ContentType) string {
	if content == models.ContentLive {
		return ActionLiveStreams
	}
	return ActionVODStreams
}

func apiURL(baseURL, username, password, action string, extra url.Values) string {
	params := url.Values{}
	params.Set("username", username)
	params.Set("password", password)
	params.Set("action", action)
	for key, values := range extra {
		for _, v := range values {
			params.Add(key, v)
		}
	}
	return fmt.Sprintf("%s%s?%s", baseURL, PlayerAPIPath, params.Encode())
}

// sanitizeURL masks the password parameter so request logs never carry
// panel credentials.
func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Get("password") != "" {
		q.Set("password", "****")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
