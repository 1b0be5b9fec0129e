package chatarchive

import (
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeServerURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "already clean", input: "http://archive.local:8088", expected: "http://archive.local:8088"},
		{name: "trailing slash", input: "http://archive.local:8088/", expected: "http://archive.local:8088"},
		{name: "multiple trailing slashes", input: "http://archive.local///", expected: "http://archive.local"},
		{name: "surrounding whitespace", input: "  http://archive.local ", expected: "http://archive.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeServerURL(tt.input))
		})
	}
}

func TestChatsURL(t *testing.T) {
	t.Run("without limit", func(t *testing.T) {
		assert.Equal(t, "http://a"+ChatsEndpoint, ChatsURL("http://a", 0))
	})

	t.Run("with limit", func(t *testing.T) {
		u, err := url.Parse(ChatsURL("http://a", 25))
		require.NoError(t, err)
		assert.Equal(t, ChatsEndpoint, u.Path)
		assert.Equal(t, "25", u.Query().Get("limit"))
	})
}

func TestMessagesURL(t *testing.T) {
	tests := []struct {
		name           string
		beforeID       int64
		limit          int
		expectedBefore string
		expectedLimit  string
	}{
		{name: "first page", beforeID: 0, limit: 50, expectedBefore: "", expectedLimit: "50"},
		{name: "with cursor", beforeID: 101, limit: 50, expectedBefore: "101", expectedLimit: "50"},
		{name: "zero limit uses default", beforeID: 0, limit: 0, expectedLimit: strconv.Itoa(DefaultPageSize)},
		{name: "oversized limit is clamped", beforeID: 0, limit: 9999, expectedLimit: strconv.Itoa(MaxPageSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(MessagesURL("http://a", "42", tt.beforeID, tt.limit))
			require.NoError(t, err)

			assert.Equal(t, "/api/chats/42/messages", u.Path)
			assert.Equal(t, tt.expectedBefore, u.Query().Get("before_id"))
			assert.Equal(t, tt.expectedLimit, u.Query().Get("limit"))
		})
	}
}

func TestUpdatesURL(t *testing.T) {
	assert.Equal(t, "http://a"+UpdatesEndpoint, UpdatesURL("http://a"))
}
