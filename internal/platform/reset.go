// Package platform owns the demo-wide teardown. Reset is the only delete
// operation in the whole model; individual envelopes are never removed.
package platform

import (
	"context"
	"strconv"

	"go.uber.org/multierr"

	"github.com/roberthayford/nutlip-transaction-bus/internal/feed"
	"github.com/roberthayford/nutlip-transaction-bus/internal/storage"
	pkgerrors "github.com/roberthayford/nutlip-transaction-bus/pkg/errors"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
)

// Coordinator clears the shared state and moves every party to a new reset
// generation.
type Coordinator struct {
	store storage.Store
	feed  *feed.Feed
	log   *logger.Logger
}

// NewCoordinator wires a coordinator over this party's feed and the shared
// store.
func NewCoordinator(store storage.Store, f *feed.Feed, log *logger.Logger) *Coordinator {
	return &Coordinator{store: store, feed: f, log: log}
}

// Reset bumps the persisted reset generation, clears the feed key and every
// derived key, and drops this party's local state. The generation is
// written first so reconciliation in other parties adopts the reset instead
// of union-resurrecting their local envelopes. Per-key failures are
// aggregated; a partially cleared store still carries the new generation,
// which is what makes stale leftovers droppable.
func (c *Coordinator) Reset(ctx context.Context) (int64, error) {
	var current int64
	if _, err := storage.GetJSON(ctx, c.store, storage.KeyResetGeneration, &current, c.log); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "reading reset generation")
	}
	if local := c.feed.Generation(); local > current {
		current = local
	}
	next := current + 1

	if err := c.store.Set(ctx, storage.KeyResetGeneration, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "writing reset generation")
	}

	var cleared error
	cleared = multierr.Append(cleared, c.remove(ctx, storage.KeyUpdates))
	for _, key := range storage.DerivedKeys() {
		cleared = multierr.Append(cleared, c.remove(ctx, key))
	}

	c.feed.ResetLocal(next)
	if c.log != nil {
		c.log.Info(c.log.WithField(ctx, "generation", next), "platform reset")
	}
	if cleared != nil {
		return next, pkgerrors.Wrap(pkgerrors.CodeInternal, cleared, "clearing persisted keys")
	}
	return next, nil
}

func (c *Coordinator) remove(ctx context.Context, key string) error {
	err := c.store.Remove(ctx, key)
	if err == nil {
		return nil
	}
	if c.log != nil {
		c.log.Warn(c.log.WithField(ctx, "key", key), "clearing key failed")
	}
	return err
}
