package platform

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/roberthayford/nutlip-transaction-bus/internal/amendments"
	"github.com/roberthayford/nutlip-transaction-bus/internal/feed"
	"github.com/roberthayford/nutlip-transaction-bus/internal/storage"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
)

// flakyRemoveStore fails removals of derived keys so aggregation can be
// observed.
type flakyRemoveStore struct {
	storage.Store
}

func (s flakyRemoveStore) Remove(ctx context.Context, key string) error {
	if strings.HasPrefix(key, "conveyancing_documents_") {
		return fmt.Errorf("remove %s: simulated failure", key)
	}
	return s.Store.Remove(ctx, key)
}

func newTestFeed(t *testing.T, store storage.Store, prefix string) *feed.Feed {
	t.Helper()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	seq := 0
	f, err := feed.New(feed.Options{
		Store:  store,
		Logger: logger.New(logger.Options{ServiceName: "platform-test", Output: &bytes.Buffer{}}),
		Clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("%s-%03d", prefix, seq)
		},
	})
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	return f
}

func TestResetClearsEverything(t *testing.T) {
	store := storage.NewMemoryStore()
	f := newTestFeed(t, store, "reset")
	ctx := context.Background()

	svc := amendments.NewService(f, nil)
	req, err := svc.Create(ctx, enums.RoleBuyerConveyancer, amendments.Draft{
		Category:    "clause",
		Description: "shorter notice period",
		Priority:    enums.AmendmentPriorityMedium,
		TargetRole:  enums.RoleSellerConveyancer,
		Stage:       enums.StageDraftContract,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Set(ctx, storage.DocumentCacheKey(enums.RoleBuyer), []byte(`[]`)); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	notices, cancelSub := f.Subscribe()
	defer cancelSub()

	generation, err := NewCoordinator(store, f, nil).Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if generation != 1 {
		t.Fatalf("first reset must move to generation 1, got %d", generation)
	}

	// Every query surface is empty afterwards.
	if got := f.UpdatesFor(enums.RoleSellerConveyancer); len(got) != 0 {
		t.Fatalf("updates must be empty after reset, got %d", len(got))
	}
	if got := svc.ForRole(enums.RoleSellerConveyancer, enums.StageDraftContract); len(got) != 0 {
		t.Fatalf("amendment requests must be empty after reset, got %+v", got)
	}
	if _, ok := svc.ByID(req.ID); ok {
		t.Fatal("pre-reset requests must be gone")
	}
	if _, err := store.Get(ctx, storage.KeyUpdates); err == nil {
		t.Fatal("feed key must be removed")
	}
	if _, err := store.Get(ctx, storage.DocumentCacheKey(enums.RoleBuyer)); err == nil {
		t.Fatal("derived keys must be removed")
	}

	select {
	case notice := <-notices:
		if notice.Kind != feed.NoticeReset {
			t.Fatalf("expected reset notice, got %s", notice.Kind)
		}
	default:
		t.Fatal("reset must broadcast to subscribers")
	}

	// A fresh send behaves as though the feed never existed.
	env, err := f.Send(ctx, feed.Draft{Type: enums.UpdateStatusChanged, Role: enums.RoleBuyer})
	if err != nil {
		t.Fatalf("send after reset: %v", err)
	}
	if got := f.Snapshot(); len(got) != 1 || got[0].ID != env.ID {
		t.Fatalf("expected a one-element feed, got %+v", got)
	}
}

func TestResetWinsOverUnionInOtherParties(t *testing.T) {
	store := storage.NewMemoryStore()
	resetter := newTestFeed(t, store, "party-a")
	other := newTestFeed(t, store, "party-b")
	ctx := context.Background()

	if _, err := other.Send(ctx, feed.Draft{Type: enums.UpdateEnquirySent, Role: enums.RoleBuyerConveyancer}); err != nil {
		t.Fatalf("send: %v", err)
	}
	state, err := feed.ReadPersisted(ctx, store, nil)
	if err != nil {
		t.Fatalf("read persisted: %v", err)
	}
	resetter.Reconcile(state)

	if _, err := NewCoordinator(store, resetter, nil).Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// The other party's next pass must drop its local envelopes instead of
	// union-resurrecting them.
	state, err = feed.ReadPersisted(ctx, store, nil)
	if err != nil {
		t.Fatalf("read persisted: %v", err)
	}
	result := other.Reconcile(state)
	if !result.Reset {
		t.Fatalf("expected reset adoption, got %+v", result)
	}
	if len(other.Snapshot()) != 0 {
		t.Fatal("local envelopes must not survive a remote reset")
	}

	// A stale pre-reset snapshot cannot undo it either.
	if result := other.Reconcile(feed.PersistedState{Generation: 0, Envelopes: state.Envelopes}); result.Changed {
		t.Fatal("pre-reset snapshots must be ignored")
	}
}

func TestResetAggregatesPerKeyFailures(t *testing.T) {
	store := storage.NewMemoryStore()
	f := newTestFeed(t, store, "flaky")
	ctx := context.Background()

	if _, err := f.Send(ctx, feed.Draft{Type: enums.UpdateStatusChanged, Role: enums.RoleBuyer}); err != nil {
		t.Fatalf("send: %v", err)
	}

	generation, err := NewCoordinator(flakyRemoveStore{store}, f, nil).Reset(ctx)
	if err == nil {
		t.Fatal("failed removals must be reported")
	}
	if generation != 1 {
		t.Fatalf("the generation bump must still land, got %d", generation)
	}
	// The feed key removal succeeded and local state is cleared regardless.
	if _, getErr := store.Get(ctx, storage.KeyUpdates); getErr == nil {
		t.Fatal("feed key must be removed despite derived-key failures")
	}
	if len(f.Snapshot()) != 0 {
		t.Fatal("local state must be cleared despite derived-key failures")
	}
}
