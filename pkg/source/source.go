// Package source constructs sync adapters from stored accounts. The
// engine consumes adapters through the syncer.Source contract; this is the
// only place that knows which concrete client serves which source type.
package source

import (
	"fmt"
	"time"

	"mediadex/pkg/auth"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
	"mediadex/pkg/ratelimit"
	"mediadex/pkg/retry"
	"mediadex/pkg/source/chatarchive"
	"mediadex/pkg/source/paneltv"
	"mediadex/pkg/syncer"
)

// Options tunes the HTTP client behind an adapter. Zero values select each
// adapter's defaults.
type Options struct {
	Timeout       time.Duration
	MaxAttempts   int
	RequestBudget int
	RequestWindow time.Duration
	Limiter       ratelimit.Limiter
	Retrier       *retry.Retrier
}

// New builds the adapter for a stored account. content selects the catalog
// slice for sources that carry more than one; empty picks the source's
// default (media for chat archives, VOD for panels).
func New(account auth.Account, content models.ContentType, opts Options, log logger.Logger) (syncer.Source, error) {
	if account.ServerURL == "" {
		return nil, fmt.Errorf("account %q has no server URL", account.Name)
	}
	if account.Secret == "" {
		return nil, fmt.Errorf("account %q has no secret", account.Name)
	}

	switch account.Source {
	case models.SourceChatArchive:
		if content != "" && content != models.ContentMedia {
			return nil, fmt.Errorf("chat archives only sync %s content, got %s", models.ContentMedia, content)
		}
		return chatarchive.NewClientWithOptions(account.ServerURL, account.Secret, account.Name, chatarchive.Options{
			Timeout:       opts.Timeout,
			MaxAttempts:   opts.MaxAttempts,
			RequestBudget: opts.RequestBudget,
			RequestWindow: opts.RequestWindow,
			Limiter:       opts.Limiter,
			Retrier:       opts.Retrier,
		}, log), nil

	case models.SourcePanelTV:
		if account.Username == "" {
			return nil, fmt.Errorf("panel account %q has no username", account.Name)
		}
		switch content {
		case "", models.ContentLive, models.ContentVOD:
		default:
			return nil, fmt.Errorf("panels sync %s or %s content, got %s", models.ContentLive, models.ContentVOD, content)
		}
		return paneltv.NewClientWithOptions(account.ServerURL, account.Username, account.Secret, account.Name, content, paneltv.Options{
			Timeout:       opts.Timeout,
			MaxAttempts:   opts.MaxAttempts,
			RequestBudget: opts.RequestBudget,
			RequestWindow: opts.RequestWindow,
			Limiter:       opts.Limiter,
			Retrier:       opts.Retrier,
		}, log), nil

	default:
		return nil, fmt.Errorf("unknown source type: %s", account.Source)
	}
}

// ContentTypes returns the catalog slices a source type syncs, in sync
// order. Unknown source types return nil.
func ContentTypes(source models.SourceType) []models.ContentType {
	switch source {
	case models.SourceChatArchive:
		return []models.ContentType{models.ContentMedia}
	case models.SourcePanelTV:
		return []models.ContentType{models.ContentLive, models.ContentVOD}
	default:
		return nil
	}
}
