package chatarchive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mediadex/pkg/errors"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
	"mediadex/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetrier keeps test retries in the millisecond range.
func fastRetrier(attempts int) *retry.Retrier {
	return retry.NewRetrier(&retry.Config{
		MaxAttempts: attempts,
		Backoff:     &retry.ConstantBackoff{Delay: 5 * time.Millisecond},
		RetryIf:     retry.DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	})
}

func newArchiveClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClientWithOptions(serverURL, "tok-123", "home", Options{
		Retrier: fastRetrier(1),
	}, logger.NewTestLogger())
}

func TestNewClient(t *testing.T) {
	log := logger.NewTestLogger()
	client := NewClient("http://archive.local:8088/", "tok-123", "home", log)

	assert.Equal(t, "http://archive.local:8088", client.baseURL)
	assert.Equal(t, models.SourceChatArchive, client.Type())
	assert.Equal(t, "home", client.AccountID())
	assert.Equal(t, models.AuthConnecting, client.AuthState())
	assert.Equal(t, models.Disconnected, client.ConnectionState())
	assert.NotNil(t, client.retrier)
	assert.NotNil(t, client.limiter)
}

func TestNewClientWithoutToken(t *testing.T) {
	client := NewClient("http://archive.local", "", "home", logger.NewTestLogger())
	assert.Equal(t, models.AuthSignedOut, client.AuthState())
}

func TestListUnits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ChatsEndpoint, r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chats":[{"id":42,"title":"Family"},{"id":7,"title":"Work"}]}`))
	}))
	defer server.Close()

	client := newArchiveClient(t, server.URL)
	units, err := client.ListUnits(context.Background(), 25)
	require.NoError(t, err)

	require.Len(t, units, 2)
	assert.Equal(t, models.ScanUnit{ID: "42", Title: "Family"}, units[0])
	assert.Equal(t, models.ScanUnit{ID: "7", Title: "Work"}, units[1])
	assert.Equal(t, models.AuthReady, client.AuthState())
	assert.Equal(t, models.Connected, client.ConnectionState())
}

func TestFetchItems(t *testing.T) {
	var gotBefore atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/42/messages", r.URL.Path)
		gotBefore.Store(r.URL.Query().Get("before_id"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"messages": [
				{"id":105,"chat_id":42,"kind":"video","caption":"Birthday","file_size":1048576,"mime_type":"video/mp4","thumb_url":"http://t/105.jpg","date":1749600000},
				{"id":104,"chat_id":42,"kind":"text","date":1749590000},
				{"id":101,"chat_id":42,"kind":"photo","file_name":"IMG_0042.jpg","date":1749580000}
			],
			"has_more": true
		}`))
	}))
	defer server.Close()

	client := newArchiveClient(t, server.URL)
	page, err := client.FetchItems(context.Background(), "42", 0, 50)
	require.NoError(t, err)

	assert.Equal(t, "", gotBefore.Load(), "first page must not send before_id")
	require.Len(t, page.Items, 3)
	assert.Equal(t, models.Marker(101), page.Next)
	assert.True(t, page.HasMore)

	video := page.Items[0]
	assert.Equal(t, "105", video.ID)
	assert.Equal(t, "42", video.UnitID)
	assert.Equal(t, models.SourceChatArchive, video.Source)
	assert.Equal(t, models.ContentMedia, video.ContentType)
	assert.Equal(t, models.KindVideo, video.Kind)
	assert.Equal(t, "Birthday", video.Title)
	assert.Equal(t, models.Marker(105), video.Marker)
	assert.Equal(t, int64(1048576), video.SizeBytes)
	assert.Equal(t, "http://t/105.jpg", video.PosterURL)
	assert.Equal(t, "video/mp4", video.Extra["mime_type"])
	assert.Equal(t, time.Unix(1749600000, 0).UTC(), video.AddedAt)

	text := page.Items[1]
	assert.Equal(t, models.KindNone, text.Kind)
	assert.False(t, text.HasMedia(), "text messages carry no media")

	photo := page.Items[2]
	assert.Equal(t, models.KindPhoto, photo.Kind)
	assert.Equal(t, "IMG_0042.jpg", photo.Title, "caption falls back to file name")
}

func TestFetchItemsPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "101", r.URL.Query().Get("before_id"))
		w.Write([]byte(`{"messages":[],"has_more":false}`))
	}))
	defer server.Close()

	client := newArchiveClient(t, server.URL)
	page, err := client.FetchItems(context.Background(), "42", 101, 50)
	require.NoError(t, err)

	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
	assert.Equal(t, models.Marker(0), page.Next)
}

func TestCheckStatus(t *testing.T) {
	client := newArchiveClient(t, "http://archive.local")

	tests := []struct {
		name         string
		statusCode   int
		expectedType errors.ErrorType
	}{
		{name: "200 OK", statusCode: http.StatusOK},
		{name: "401 Unauthorized", statusCode: http.StatusUnauthorized, expectedType: errors.ErrorTypeAuth},
		{name: "403 Forbidden", statusCode: http.StatusForbidden, expectedType: errors.ErrorTypeAuth},
		{name: "404 Not Found", statusCode: http.StatusNotFound, expectedType: errors.ErrorTypeNotFound},
		{name: "429 Too Many Requests", statusCode: http.StatusTooManyRequests, expectedType: errors.ErrorTypeRateLimit},
		{name: "500 Internal Server Error", statusCode: http.StatusInternalServerError, expectedType: errors.ErrorTypeServerError},
		{name: "502 Bad Gateway", statusCode: http.StatusBadGateway, expectedType: errors.ErrorTypeServerError},
		{name: "400 Bad Request", statusCode: http.StatusBadRequest, expectedType: errors.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.checkStatus(&http.Response{StatusCode: tt.statusCode})
			if tt.expectedType == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var apiErr *errors.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.expectedType, apiErr.Type)
			assert.Equal(t, tt.statusCode, apiErr.Code)
		})
	}
}

func TestStateTracksCallOutcomes(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) > 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"chats":[]}`))
	}))

	client := newArchiveClient(t, server.URL)

	_, err := client.ListUnits(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.AuthReady, client.AuthState())
	assert.Equal(t, models.Connected, client.ConnectionState())

	_, err = client.ListUnits(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeAuth, errors.TypeOf(err))
	assert.Equal(t, models.AuthError, client.AuthState())
	assert.Equal(t, models.Connected, client.ConnectionState())

	server.Close()
	_, err = client.ListUnits(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, models.Disconnected, client.ConnectionState())
}

func TestRetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"chats":[{"id":1,"title":"General"}]}`))
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, "tok-123", "home", Options{
		Retrier: fastRetrier(3),
	}, logger.NewTestLogger())

	units, err := client.ListUnits(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, units, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDoesNotRetryAuthErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, "tok-123", "home", Options{
		Retrier: fastRetrier(3),
	}, logger.NewTestLogger())

	_, err := client.ListUnits(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFetchItemsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	client := newArchiveClient(t, server.URL)
	_, err := client.FetchItems(context.Background(), "42", 0, 50)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeParsing, errors.TypeOf(err))
}

func recvUpdate(t *testing.T, ch <-chan models.CatalogItem) models.CatalogItem {
	t.Helper()
	select {
	case item, ok := <-ch:
		require.True(t, ok, "update channel closed early")
		return item
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return models.CatalogItem{}
	}
}

func TestLiveUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, UpdatesEndpoint, r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"type":"new_message","message":{"id":200,"chat_id":42,"kind":"photo","date":1749600000}}` + "\n"))
		w.Write([]byte(`{"type":"new_message","message":{"id":201,"chat_id":42,"kind":"text","date":1749600001}}` + "\n"))
		w.Write([]byte(`this line is not json` + "\n"))
		w.Write([]byte(`{"type":"chat_renamed","chat":{"id":42}}` + "\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newArchiveClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := client.LiveUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Connected, client.ConnectionState())

	photo := recvUpdate(t, ch)
	assert.Equal(t, "200", photo.ID)
	assert.Equal(t, "42", photo.UnitID, "unit id derives from chat_id")
	assert.Equal(t, models.KindPhoto, photo.Kind)

	text := recvUpdate(t, ch)
	assert.Equal(t, models.KindNone, text.Kind, "non-media updates are forwarded")

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("update channel did not close after cancel")
	}
}

func TestLiveUpdatesAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newArchiveClient(t, server.URL)
	ch, err := client.LiveUpdates(context.Background())
	require.Error(t, err)
	assert.Nil(t, ch)
	assert.Equal(t, errors.ErrorTypeAuth, errors.TypeOf(err))
	assert.Equal(t, models.AuthError, client.AuthState())
}
