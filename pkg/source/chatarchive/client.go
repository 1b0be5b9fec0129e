package chatarchive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"mediadex/internal/scan"
	errs "mediadex/pkg/errors"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
	"mediadex/pkg/ratelimit"
	"mediadex/pkg/retry"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxAttempts   = 3
	defaultRequestBudget = 120
	defaultRequestWindow = time.Minute

	// liveBuffer is the update channel capacity; a slow consumer stalls
	// the feed reader rather than growing memory.
	liveBuffer = 256

	// maxUpdateLine bounds one NDJSON line on the live feed.
	maxUpdateLine = 1 << 20
)

// Client talks to a chat-archive export server over JSON HTTP with bearer
// token auth. It is safe for concurrent use; the published auth and
// connection states are read without locking.
type Client struct {
	httpClient *http.Client
	// streamClient carries no overall timeout; the live feed's lifetime is
	// bounded by the caller's context instead.
	streamClient *http.Client
	baseURL      string
	token        string
	accountID    string
	logger       logger.Logger
	retrier      *retry.Retrier
	limiter      ratelimit.Limiter

	authState atomic.Value // models.AuthState
	connState atomic.Value // models.ConnectionState
}

// Options tunes the client. Zero values select the package defaults.
type Options struct {
	// Timeout bounds each request/response exchange.
	Timeout time.Duration

	// MaxAttempts bounds attempts per request for transient failures.
	MaxAttempts int

	// RequestBudget requests per RequestWindow shape the default pacing
	// bucket.
	RequestBudget int
	RequestWindow time.Duration

	// Limiter overrides the default token bucket when set.
	Limiter ratelimit.Limiter

	// Retrier overrides the default retry policy when set.
	Retrier *retry.Retrier
}

// NewClient creates a client for the archive server at serverURL. accountID
// names the local account the client is bound to; it flows through to
// checkpoint keys unchanged.
func NewClient(serverURL, token, accountID string, log logger.Logger) *Client {
	return NewClientWithOptions(serverURL, token, accountID, Options{}, log)
}

// NewClientWithOptions creates a client with explicit tuning.
func NewClientWithOptions(serverURL, token, accountID string, opts Options, log logger.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RequestBudget <= 0 {
		opts.RequestBudget = defaultRequestBudget
	}
	if opts.RequestWindow <= 0 {
		opts.RequestWindow = defaultRequestWindow
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewTokenBucket(opts.RequestBudget, opts.RequestWindow)
	}
	retrier := opts.Retrier
	if retrier == nil {
		retrier = retry.NewSourceRetrier(opts.MaxAttempts, log)
	}

	c := &Client{
		httpClient:   &http.Client{Timeout: opts.Timeout},
		streamClient: &http.Client{},
		baseURL:      NormalizeServerURL(serverURL),
		token:        token,
		accountID:    accountID,
		logger:       log,
		retrier:      retrier,
		limiter:      limiter,
	}

	if token == "" {
		c.authState.Store(models.AuthSignedOut)
	} else {
		c.authState.Store(models.AuthConnecting)
	}
	c.connState.Store(models.Disconnected)
	return c
}

// Type identifies the source family.
func (c *Client) Type() models.SourceType { return models.SourceChatArchive }

// AccountID names the bound account.
func (c *Client) AccountID() string { return c.accountID }

// AuthState returns the authentication state as of the last call outcome.
func (c *Client) AuthState() models.AuthState {
	return c.authState.Load().(models.AuthState)
}

// ConnectionState returns the transport state as of the last call outcome.
func (c *Client) ConnectionState() models.ConnectionState {
	return c.connState.Load().(models.ConnectionState)
}

// ListUnits enumerates the archive's chats as scan units.
func (c *Client) ListUnits(ctx context.Context, limit int) ([]models.ScanUnit, error) {
	var resp ChatsResponse
	if err := c.getJSON(ctx, ChatsURL(c.baseURL, limit), &resp); err != nil {
		return nil, err
	}

	units := make([]models.ScanUnit, 0, len(resp.Chats))
	for _, chat := range resp.Chats {
		units = append(units, models.ScanUnit{
			ID:    strconv.FormatInt(chat.ID, 10),
			Title: chat.Title,
		})
	}

	c.logger.DebugWithFields("listed archive chats", map[string]interface{}{
		"account": c.accountID,
		"chats":   len(units),
	})
	return units, nil
}

// FetchItems returns one page of a chat's messages as catalog items, newest
// first. A zero after fetches the newest page; otherwise only messages with
// ids strictly below after are returned. Plain text messages are included
// with KindNone so scanned totals stay honest; callers filter with HasMedia.
func (c *Client) FetchItems(ctx context.Context, unitID string, after models.Marker, pageSize int) (scan.Page, error) {
	var resp MessagesResponse
	if err := c.getJSON(ctx, MessagesURL(c.baseURL, unitID, after, pageSize), &resp); err != nil {
		return scan.Page{}, err
	}

	items := make([]models.CatalogItem, 0, len(resp.Messages))
	var oldest models.Marker
	for _, msg := range resp.Messages {
		items = append(items, messageItem(msg, unitID))
		if oldest == 0 || msg.ID < oldest {
			oldest = msg.ID
		}
	}

	return scan.Page{
		Items:   items,
		Next:    oldest,
		HasMore: resp.HasMore && len(resp.Messages) > 0,
	}, nil
}

// LiveUpdates connects to the archive's NDJSON update feed. Every update is
// forwarded, including non-media ones, so consumers can track unit activity;
// they filter with HasMedia before persisting. The returned channel closes
// when the feed ends or ctx is cancelled.
func (c *Client) LiveUpdates(ctx context.Context) (<-chan models.CatalogItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, UpdatesURL(c.baseURL), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, "failed to create request", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		wrapped := errs.Wrap(errs.ErrorTypeNetwork, "update stream connect failed", err)
		c.recordOutcome(wrapped)
		return nil, wrapped
	}
	if err := c.checkStatus(resp); err != nil {
		resp.Body.Close()
		c.recordOutcome(err)
		return nil, err
	}
	c.recordOutcome(nil)

	c.logger.InfoWithFields("update stream connected", map[string]interface{}{
		"account": c.accountID,
	})

	ch := make(chan models.CatalogItem, liveBuffer)
	go c.consumeUpdates(ctx, resp.Body, ch)
	return ch, nil
}

// consumeUpdates reads NDJSON lines until the feed ends or ctx is
// cancelled. Malformed lines are skipped so one bad update cannot kill the
// stream.
func (c *Client) consumeUpdates(ctx context.Context, body io.ReadCloser, ch chan<- models.CatalogItem) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxUpdateLine)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var upd Update
		if err := json.Unmarshal(line, &upd); err != nil {
			c.logger.WarnWithFields("skipping malformed update", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if upd.Type != UpdateNewMessage {
			continue
		}

		select {
		case ch <- messageItem(upd.Message, ""):
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.connState.Store(models.Disconnected)
		c.logger.WarnWithFields("update stream closed", map[string]interface{}{
			"account": c.accountID,
			"error":   err.Error(),
		})
	}
}

// getJSON fetches rawURL and decodes the JSON body into v, pacing through
// the rate limiter and retrying transient failures.
func (c *Client) getJSON(ctx context.Context, rawURL string, v interface{}) error {
	return c.retrier.WithContext(ctx).Do(func() error {
		return c.fetchJSON(ctx, rawURL, v)
	})
}

// fetchJSON performs a single request attempt and records its outcome in
// the published auth and connection state.
func (c *Client) fetchJSON(ctx context.Context, rawURL string, v interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to create request", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Accept", "application/json")

	c.logger.DebugWithFields("sending archive request", map[string]interface{}{
		"url":    rawURL,
		"method": http.MethodGet,
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		wrapped := errs.Wrap(errs.ErrorTypeNetwork, "request failed", err)
		c.recordOutcome(wrapped)
		c.logger.ErrorWithFields("archive request failed", map[string]interface{}{
			"url":         rawURL,
			"error":       err.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		return wrapped
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("archive request completed", map[string]interface{}{
		"url":         rawURL,
		"status_code": resp.StatusCode,
		"duration_ms": duration.Milliseconds(),
	})

	if err := c.checkStatus(resp); err != nil {
		c.recordOutcome(err)
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		wrapped := errs.Wrap(errs.ErrorTypeNetwork, "failed to read response body", err)
		c.recordOutcome(wrapped)
		return wrapped
	}

	if err := json.Unmarshal(body, v); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		c.logger.ErrorWithFields("failed to decode archive response", map[string]interface{}{
			"url":          rawURL,
			"error":        err.Error(),
			"body_preview": preview,
		})
		// The transport and auth worked; only the payload is bad.
		c.recordOutcome(nil)
		return errs.Wrap(errs.ErrorTypeParsing, "failed to decode response", err)
	}

	c.recordOutcome(nil)
	return nil
}

// checkStatus maps non-2xx responses onto classified errors.
func (c *Client) checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "archive server rejected the token",
			Code:    resp.StatusCode,
		}
	case http.StatusNotFound:
		return &errs.Error{
			Type:    errs.ErrorTypeNotFound,
			Message: "resource not found",
			Code:    resp.StatusCode,
		}
	case http.StatusTooManyRequests:
		return &errs.Error{
			Type:    errs.ErrorTypeRateLimit,
			Message: "rate limited by archive server",
			Code:    resp.StatusCode,
		}
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Message: "archive server error",
			Code:    resp.StatusCode,
		}
	default:
		if resp.StatusCode >= 400 {
			return &errs.Error{
				Type:    errs.ErrorTypeUnknown,
				Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
				Code:    resp.StatusCode,
			}
		}
		return nil
	}
}

// recordOutcome folds one call outcome into the published auth and
// connection state. Context cancellation says nothing about either and is
// ignored.
func (c *Client) recordOutcome(err error) {
	if err == nil {
		c.authState.Store(models.AuthReady)
		c.connState.Store(models.Connected)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	switch errs.TypeOf(err) {
	case errs.ErrorTypeAuth:
		c.authState.Store(models.AuthError)
		c.connState.Store(models.Connected)
	case errs.ErrorTypeNetwork:
		c.connState.Store(models.Disconnected)
	default:
		c.connState.Store(models.Connected)
	}
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
