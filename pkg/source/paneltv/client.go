// Package paneltv is the source adapter for IPTV panels speaking the
// player_api convention. Stream ids are the unit markers; the panel
// returns whole category listings, so the client windows them locally to
// honor the paged fetch contract.
package paneltv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mediadex/internal/scan"
	errs "mediadex/pkg/errors"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
	"mediadex/pkg/ratelimit"
	"mediadex/pkg/retry"
	"mediadex/pkg/syncer"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxAttempts   = 3
	defaultRequestBudget = 60
	defaultRequestWindow = time.Minute
)

// Client talks to one panel account for one content type; live and VOD
// catalogs sync as independent slices with independent checkpoints. It is
// safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	accountID  string
	content    models.ContentType
	logger     logger.Logger
	retrier    *retry.Retrier
	limiter    ratelimit.Limiter

	authState atomic.Value // models.AuthState
	connState atomic.Value // models.ConnectionState

	// windows caches one category listing per unit for the duration of a
	// scan, dropped once the scan walks past its end.
	mu      sync.Mutex
	windows map[string][]models.CatalogItem
}

// Options tunes the client. Zero values select the package defaults.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int

	// RequestBudget requests per RequestWindow shape the default pacing
	// bucket. Panels ban aggressive clients, so the default is modest.
	RequestBudget int
	RequestWindow time.Duration

	Limiter ratelimit.Limiter
	Retrier *retry.Retrier
}

// NewClient creates a client for the panel at serverURL. content selects
// the catalog slice (ContentLive or ContentVOD); empty means ContentVOD.
func NewClient(serverURL, username, password, accountID string, content models.ContentType, log logger.Logger) *Client {
	return NewClientWithOptions(serverURL, username, password, accountID, content, Options{}, log)
}

// NewClientWithOptions creates a client with explicit tuning.
func NewClientWithOptions(serverURL, username, password, accountID string, content models.ContentType, opts Options, log logger.Logger) *Client {
	if content == "" {
		content = models.ContentVOD
	}
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
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    NormalizeServerURL(serverURL),
		username:   username,
		password:   password,
		accountID:  accountID,
		content:    content,
		logger:     log,
		retrier:    retrier,
		limiter:    limiter,
		windows:    make(map[string][]models.CatalogItem),
	}

	if username == "" || password == "" {
		c.authState.Store(models.AuthSignedOut)
	} else {
		c.authState.Store(models.AuthConnecting)
	}
	c.connState.Store(models.Disconnected)
	return c
}

// Type identifies the source family.
func (c *Client) Type() models.SourceType { return models.SourcePanelTV }

// AccountID names the bound account.
func (c *Client) AccountID() string { return c.accountID }

// Content returns the catalog slice this client syncs.
func (c *Client) Content() models.ContentType { return c.content }

// AuthState returns the authentication state as of the last call outcome.
func (c *Client) AuthState() models.AuthState {
	return c.authState.Load().(models.AuthState)
}

// ConnectionState returns the transport state as of the last call outcome.
func (c *Client) ConnectionState() models.ConnectionState {
	return c.connState.Load().(models.ConnectionState)
}

// ListUnits enumerates the content type's categories as scan units. The
// panel returns every category; a positive limit truncates locally.
func (c *Client) ListUnits(ctx context.Context, limit int) ([]models.ScanUnit, error) {
	var categories []Category
	if err := c.getJSON(ctx, CategoriesURL(c.baseURL, c.username, c.password, c.content), &categories); err != nil {
		return nil, err
	}

	if limit > 0 && len(categories) > limit {
		categories = categories[:limit]
	}

	units := make([]models.ScanUnit, 0, len(categories))
	for _, cat := range categories {
		units = append(units, models.ScanUnit{
			ID:    cat.CategoryID,
			Title: cat.CategoryName,
		})
	}

	c.logger.DebugWithFields("listed panel categories", map[string]interface{}{
		"account":    c.accountID,
		"content":    string(c.content),
		"categories": len(units),
	})
	return units, nil
}

// FetchItems returns one locally windowed page of a category's streams,
// newest first by stream id. A zero after refetches the category listing
// and starts a fresh window; otherwise the page starts strictly below
// after.
func (c *Client) FetchItems(ctx context.Context, unitID string, after models.Marker, pageSize int) (scan.Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	items, err := c.unitItems(ctx, unitID, after == 0)
	if err != nil {
		return scan.Page{}, err
	}

	start := 0
	if after > 0 {
		for start < len(items) && items[start].Marker >= after {
			start++
		}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	page := scan.Page{Items: items[start:end], HasMore: end < len(items)}
	if end > start {
		page.Next = items[end-1].Marker
	}
	if !page.HasMore {
		c.dropWindow(unitID)
	}
	return page, nil
}

// CatalogVersion probes the full stream listing with a HEAD request and
// returns the panel's ETag and Last-Modified headers. Empty values mean
// the panel does not expose them and no short-circuit is possible.
func (c *Client) CatalogVersion(ctx context.Context) (string, string, error) {
	var etag, lastModified string

	probeURL := StreamsURL(c.baseURL, c.username, c.password, c.content, "")
	err := c.retrier.WithContext(ctx).Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeUnknown, "failed to create request", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			wrapped := errs.Wrap(errs.ErrorTypeNetwork, "version probe failed", err)
			c.recordOutcome(wrapped)
			return wrapped
		}
		resp.Body.Close()

		if err := c.checkStatus(resp); err != nil {
			c.recordOutcome(err)
			return err
		}
		c.recordOutcome(nil)

		etag = resp.Header.Get("ETag")
		lastModified = resp.Header.Get("Last-Modified")
		return nil
	})
	if err != nil {
		return "", "", err
	}

	c.logger.DebugWithFields("probed catalog version", map[string]interface{}{
		"account": c.accountID,
		"content": string(c.content),
		"etag":    etag,
	})
	return etag, lastModified, nil
}

// LiveUpdates is unsupported; panels expose no push feed.
func (c *Client) LiveUpdates(ctx context.Context) (<-chan models.CatalogItem, error) {
	return nil, syncer.ErrLiveUnsupported
}

// unitItems returns the category's stream list converted and sorted newest
// first. The panel has no pagination, so the list is fetched once per scan
// and windowed locally; refresh forces a refetch for a fresh scan.
func (c *Client) unitItems(ctx context.Context, unitID string, refresh bool) ([]models.CatalogItem, error) {
	if !refresh {
		c.mu.Lock()
		cached, ok := c.windows[unitID]
		c.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	var streams []Stream
	if err := c.getJSON(ctx, StreamsURL(c.baseURL, c.username, c.password, c.content, unitID), &streams); err != nil {
		return nil, err
	}

	items := make([]models.CatalogItem, 0, len(streams))
	for _, s := range streams {
		items = append(items, streamItem(s, c.content, unitID))
	}
	// Window math needs strict id-descending order; most panels already
	// send it that way.
	sort.Slice(items, func(i, j int) bool { return items[i].Marker > items[j].Marker })

	c.mu.Lock()
	c.windows[unitID] = items
	c.mu.Unlock()
	return items, nil
}

func (c *Client) dropWindow(unitID string) {
	c.mu.Lock()
	delete(c.windows, unitID)
	c.mu.Unlock()
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
	req.Header.Set("Accept", "application/json")

	logURL := sanitizeURL(rawURL)
	c.logger.DebugWithFields("sending panel request", map[string]interface{}{
		"url":    logURL,
		"method": http.MethodGet,
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		wrapped := errs.Wrap(errs.ErrorTypeNetwork, "request failed", err)
		c.recordOutcome(wrapped)
		c.logger.ErrorWithFields("panel request failed", map[string]interface{}{
			"url":         logURL,
			"error":       err.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		return wrapped
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("panel request completed", map[string]interface{}{
		"url":         logURL,
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
		c.logger.ErrorWithFields("failed to decode panel response", map[string]interface{}{
			"url":          logURL,
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

// checkStatus maps non-2xx responses onto classified errors. Panels answer
// bad credentials with 401 or 403 depending on the vendor.
func (c *Client) checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "panel rejected the credentials",
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
			Message: "rate limited by panel",
			Code:    resp.StatusCode,
		}
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Message: "panel server error",
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
