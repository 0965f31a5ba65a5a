// Package tabsync keeps independent processes sharing one store converged
// on the same feed. Each process runs its own synchronizer; three wake-up
// sources (a storage watch, an explicit focus signal and a fallback poll)
// all funnel into the same idempotent reconcile pass, so their relative
// timing never matters.
package tabsync

import (
	"context"
	"errors"
	"time"

	"github.com/roberthayford/nutlip-transaction-bus/internal/feed"
	"github.com/roberthayford/nutlip-transaction-bus/internal/storage"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/config"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/metrics"
)

// Options configures a Synchronizer.
type Options struct {
	Feed    *feed.Feed
	Store   storage.Store
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics
	Sync    config.SyncConfig
	// Stage selects the poll profile: interactive stages poll fast,
	// everything else on the background interval.
	Stage enums.Stage
}

// Synchronizer drives reconciliation for one process.
type Synchronizer struct {
	feed    *feed.Feed
	store   storage.Store
	log     *logger.Logger
	metrics *metrics.SyncMetrics
	poll    time.Duration
	focus   chan struct{}
}

// New builds a synchronizer; Run starts it.
func New(opts Options) *Synchronizer {
	return &Synchronizer{
		feed:    opts.Feed,
		store:   opts.Store,
		log:     opts.Logger,
		metrics: opts.Metrics,
		poll:    opts.Sync.PollIntervalFor(opts.Stage),
		focus:   make(chan struct{}, 1),
	}
}

// Focus signals that this process's surface regained attention. It never
// blocks; a signal arriving while one is already queued is redundant
// because the pass it would trigger reads the same state.
func (s *Synchronizer) Focus() {
	select {
	case s.focus <- struct{}{}:
	default:
	}
}

// Run loops until the context is cancelled. A store without watch support
// still converges through focus signals and the poll ticker.
func (s *Synchronizer) Run(ctx context.Context) error {
	changes, err := s.store.Watch(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrWatchUnsupported) {
			return err
		}
		if s.log != nil {
			s.log.Debug(ctx, "store watch unsupported, relying on focus and poll")
		}
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	// An initial pass picks up whatever landed before this process started.
	s.reconcilePass(ctx, metrics.TriggerStart, nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.onChange(ctx, change)

		case <-s.focus:
			s.reconcilePass(ctx, metrics.TriggerFocus, nil)

		case <-ticker.C:
			s.reconcilePass(ctx, metrics.TriggerPoll, nil)
		}
	}
}

// onChange handles one watch notification. A notification for the feed key
// that carries the new value skips the read round-trip; anything else, the
// reset generation key included, forces a full re-read.
func (s *Synchronizer) onChange(ctx context.Context, change storage.Change) {
	switch change.Key {
	case storage.KeyUpdates:
		if change.Removed || change.Value == nil {
			s.reconcilePass(ctx, metrics.TriggerNotify, nil)
			return
		}
		var envelopes []feed.Envelope
		if !storage.DecodeValue(ctx, change.Key, change.Value, &envelopes, s.log) {
			// Carried value unusable; fall back to a full read.
			s.reconcilePass(ctx, metrics.TriggerNotify, nil)
			return
		}
		s.reconcilePass(ctx, metrics.TriggerNotify, envelopes)
	case storage.KeyResetGeneration:
		s.reconcilePass(ctx, metrics.TriggerNotify, nil)
	default:
		// Derived cache keys change as a consequence of feed changes and
		// need no pass of their own.
	}
}

// reconcilePass is the single convergence point for all three triggers.
// When carried is non-nil it is the freshly written feed from the
// notification; the reset generation is still read so a reset is never
// missed. After merging, any envelopes this process alone holds are
// persisted back so other processes can converge on them too.
func (s *Synchronizer) reconcilePass(ctx context.Context, trigger string, carried []feed.Envelope) {
	started := time.Now()
	defer func() {
		s.metrics.ObservePass(trigger, time.Since(started))
		s.metrics.SetDegraded(s.feed.Degraded())
	}()

	var state feed.PersistedState
	if carried != nil {
		state = feed.PersistedState{
			Generation: s.readGeneration(ctx),
			Envelopes:  carried,
		}
	} else {
		read, err := feed.ReadPersisted(ctx, s.store, s.log)
		if err != nil {
			if s.log != nil {
				s.log.Error(ctx, "reading persisted feed", err)
			}
			s.metrics.SetDegraded(true)
			return
		}
		state = read
	}

	result := s.feed.Reconcile(state)
	if result.Adopted > 0 {
		s.metrics.AddMerged(result.Adopted)
	}
	if result.LocalOnly > 0 {
		if err := s.feed.Persist(ctx); err != nil && s.log != nil {
			s.log.Error(ctx, "writing back local envelopes", err)
		}
	}
	if result.Changed && s.log != nil {
		s.log.Debug(s.log.WithFields(ctx, map[string]any{
			"trigger": trigger,
			"adopted": result.Adopted,
			"reset":   result.Reset,
		}), "reconciled feed")
	}
}

func (s *Synchronizer) readGeneration(ctx context.Context) int64 {
	var generation int64
	found, err := storage.GetJSON(ctx, s.store, storage.KeyResetGeneration, &generation, s.log)
	if err != nil || !found {
		return s.feed.Generation()
	}
	return generation
}
