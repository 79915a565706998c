// Package snapshot loads the initial page of notifications used to seed the
// store before the live channel is up.
package snapshot

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nhle/notifybell/internal/api"
	"github.com/nhle/notifybell/internal/model"
)

// Fetcher is the REST call the loader depends on.
type Fetcher interface {
	Snapshot(ctx context.Context, token string, limit int) (*api.SnapshotResponse, error)
}

// Loader fetches the snapshot. Failures never propagate: the caller gets an
// empty snapshot and carries on until the live channel delivers updates.
type Loader struct {
	fetcher  Fetcher
	pageSize int
	log      zerolog.Logger
}

// NewLoader creates a loader requesting pageSize items
// (model.DefaultPageSize when pageSize <= 0).
func NewLoader(f Fetcher, pageSize int, logger zerolog.Logger) *Loader {
	if pageSize <= 0 {
		pageSize = model.DefaultPageSize
	}
	return &Loader{
		fetcher:  f,
		pageSize: pageSize,
		log:      logger.With().Str("component", "snapshot").Logger(),
	}
}

// Load fetches the snapshot. The returned error is only the auth signal: it
// is non-nil when the backend rejected the token, so the caller can run the
// logout flow. Every other failure is logged and yields an empty snapshot.
func (l *Loader) Load(ctx context.Context, token string) (model.Snapshot, error) {
	resp, err := l.fetcher.Snapshot(ctx, token, l.pageSize)
	if err != nil {
		if api.IsAuthError(err) {
			l.log.Warn().Err(err).Msg("snapshot rejected credential")
			return model.Snapshot{}, err
		}
		l.log.Error().Err(err).Msg("failed to load notification snapshot")
		return model.Snapshot{}, nil
	}

	unread := resp.UnreadCount
	if unread < 0 {
		unread = 0
	}

	l.log.Debug().
		Int("items", len(resp.Notifications)).
		Int("unread", unread).
		Msg("snapshot loaded")

	return model.Snapshot{
		Notifications: resp.Notifications,
		UnreadCount:   unread,
	}, nil
}
