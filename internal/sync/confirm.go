package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/notifybell/internal/api"
	"github.com/nhle/notifybell/internal/transport"
	"github.com/nhle/notifybell/internal/wire"
)

// ConfirmRead implements store.Confirmer. It returns immediately; the live
// frame and the REST call run in the background.
func (m *Manager) ConfirmRead(id string) {
	m.confirm("mark_read", wire.MarkRead(id), func(ctx context.Context, token string) error {
		return m.api.MarkRead(ctx, token, id)
	})
}

// ConfirmAllRead implements store.Confirmer.
func (m *Manager) ConfirmAllRead() {
	m.confirm("mark_all_read", wire.MarkAllRead(), func(ctx context.Context, token string) error {
		return m.api.MarkAllRead(ctx, token)
	})
}

// confirm sends the live frame and the REST request concurrently. Failures
// are logged and counted; the optimistic local change stays.
func (m *Manager) confirm(kind string, live wire.ClientMessage, rest func(context.Context, string) error) {
	token, active := m.currentToken()
	if !active {
		m.log.Debug().Str("kind", kind).Msg("not signed in, confirmation skipped")
		return
	}

	m.confirms.Add(1)
	go func() {
		defer m.confirms.Done()

		var g errgroup.Group
		g.Go(func() error {
			err := m.session.Send(live)
			if errors.Is(err, transport.ErrNotConnected) {
				m.log.Debug().Str("kind", kind).Msg("channel down, relying on rest confirmation")
				return nil
			}
			if err != nil {
				m.opts.Metrics.IncConfirmFailure("live")
				return fmt.Errorf("live %s: %w", kind, err)
			}
			return nil
		})
		g.Go(func() error {
			if err := m.confirmREST(token, rest); err != nil {
				m.opts.Metrics.IncConfirmFailure("rest")
				return fmt.Errorf("rest %s: %w", kind, err)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			m.log.Error().Err(err).Str("kind", kind).Msg("read confirmation failed")
		}
	}()
}

// confirmREST calls rest up to ConfirmRetries+1 times, backing off linearly
// between attempts. Auth errors are not retried.
func (m *Manager) confirmREST(token string, rest func(context.Context, string) error) error {
	var err error
	for attempt := 0; attempt <= m.opts.ConfirmRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-m.clock.After(m.opts.RetryBackoff * time.Duration(attempt)):
			case <-m.ctx.Done():
				return fmt.Errorf("abandoned after %d attempts: %w", attempt, err)
			}
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.opts.ConfirmTimeout)
		err = rest(ctx, token)
		cancel()
		if err == nil || api.IsAuthError(err) {
			return err
		}
		m.log.Debug().Err(err).Int("attempt", attempt+1).Msg("rest confirmation attempt failed")
	}
	return err
}
