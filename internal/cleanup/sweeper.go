// Package cleanup deletes expired forms. A record expires when it
// outlives the expiration window with zero upload activity; anything
// pending or uploaded pins the record regardless of age.
package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MattCarneiro/forms/internal/forms"
)

// FormCatalog lists and deletes form records.
type FormCatalog interface {
	List(ctx context.Context) ([]forms.Record, error)
	Delete(ctx context.Context, key forms.Key) error
}

// ExpirationNotifier posts the optional expiration webhook.
type ExpirationNotifier interface {
	ExpirationEnabled() bool
	SendExpiration(ctx context.Context, ownerID, subID string) error
}

// Sweeper periodically scans form records and removes expired ones,
// cascading to the object store.
type Sweeper struct {
	catalog  FormCatalog
	notifier ExpirationNotifier
	window   time.Duration
	interval time.Duration
	nowFunc  func() time.Time
}

// NewSweeper builds a Sweeper with the expiration window and sweep
// interval.
func NewSweeper(catalog FormCatalog, notifier ExpirationNotifier, window, interval time.Duration) *Sweeper {
	return &Sweeper{
		catalog:  catalog,
		notifier: notifier,
		window:   window,
		interval: interval,
		nowFunc:  time.Now,
	}
}

// Run sweeps immediately, then on every interval tick until ctx is
// canceled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Dur("window", s.window).Msg("cleanup sweeper started")
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Failures are isolated per record: one form that
// cannot be deleted never aborts the sweep of the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	records, err := s.catalog.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cleanup scan failed")
		return
	}

	now := s.nowFunc()
	expired := 0
	for _, rec := range records {
		if !rec.Expired(now, s.window) {
			continue
		}
		key := rec.Key()
		log.Info().Str("form", key.RecordKey()).Msg("form expired")
		if err := s.catalog.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("form", key.RecordKey()).Msg("failed to delete expired form")
			continue
		}
		expired++
		if s.notifier.ExpirationEnabled() {
			if err := s.notifier.SendExpiration(ctx, key.OwnerID, key.SubID); err != nil {
				log.Error().Err(err).Str("form", key.RecordKey()).Msg("expiration webhook failed")
			}
		}
	}
	if expired > 0 {
		log.Info().Int("expired", expired).Int("scanned", len(records)).Msg("cleanup sweep finished")
	}
}
