package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/roberthayford/nutlip-transaction-bus/internal/feed"
	"github.com/roberthayford/nutlip-transaction-bus/internal/storage"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	pkgerrors "github.com/roberthayford/nutlip-transaction-bus/pkg/errors"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
)

func testService(t *testing.T) (*Service, *feed.Feed, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	seq := 0
	f, err := feed.New(feed.Options{
		Store:  store,
		Logger: logger.New(logger.Options{ServiceName: "documents-test", Output: &bytes.Buffer{}}),
		Clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("doc-env-%03d", seq)
		},
	})
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	return NewService(f, store, nil), f, store
}

func TestAddDocumentEmitsDeliveryEnvelope(t *testing.T) {
	svc, f, _ := testService(t)
	ctx := context.Background()

	env, err := svc.AddDocument(ctx, Meta{
		Name:        "draft-contract.pdf",
		UploadedBy:  enums.RoleSellerConveyancer,
		DeliveredTo: enums.RoleBuyerConveyancer,
		Size:        14336,
		Priority:    enums.DocumentPriorityUrgent,
		Stage:       enums.StageDraftContract,
	})
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	if env.Type != enums.UpdateDocumentUploaded {
		t.Fatalf("unexpected envelope type %s", env.Type)
	}

	var delivery feed.DocumentDelivery
	if err := json.Unmarshal(env.Data, &delivery); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if delivery.Name != "draft-contract.pdf" || delivery.Priority != enums.DocumentPriorityUrgent {
		t.Fatalf("payload must mirror the metadata, got %+v", delivery)
	}

	// The delivery flows through the feed like any other update.
	if updates := f.UpdatesFor(enums.RoleBuyerConveyancer); len(updates) != 1 {
		t.Fatalf("recipient should see the delivery, got %d", len(updates))
	}
}

func TestAddDocumentValidation(t *testing.T) {
	svc, f, _ := testService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		meta Meta
	}{
		{"empty name", Meta{UploadedBy: enums.RoleBuyer, DeliveredTo: enums.RoleEstateAgent, Priority: enums.DocumentPriorityStandard}},
		{"negative size", Meta{Name: "x.pdf", UploadedBy: enums.RoleBuyer, DeliveredTo: enums.RoleEstateAgent, Size: -1, Priority: enums.DocumentPriorityStandard}},
		{"unknown priority", Meta{Name: "x.pdf", UploadedBy: enums.RoleBuyer, DeliveredTo: enums.RoleEstateAgent, Priority: "whenever"}},
		{"unknown role", Meta{Name: "x.pdf", UploadedBy: "landlord", DeliveredTo: enums.RoleEstateAgent, Priority: enums.DocumentPriorityStandard}},
	}
	for _, tc := range cases {
		if _, err := svc.AddDocument(ctx, tc.meta); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if len(f.Snapshot()) != 0 {
		t.Fatal("rejected metadata must create no envelopes")
	}
}

func TestListForCoversBothDirections(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.AddDocument(ctx, Meta{
		Name:        "searches-bundle.zip",
		UploadedBy:  enums.RoleBuyerConveyancer,
		DeliveredTo: enums.RoleSellerConveyancer,
		Size:        1 << 20,
		Priority:    enums.DocumentPriorityStandard,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddDocument(ctx, Meta{
		Name:        "title-plan.pdf",
		UploadedBy:  enums.RoleSellerConveyancer,
		DeliveredTo: enums.RoleBuyerConveyancer,
		Size:        4096,
		Priority:    enums.DocumentPriorityCritical,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	buyer := svc.ListFor(enums.RoleBuyerConveyancer)
	if len(buyer) != 2 {
		t.Fatalf("uploads and receipts both count, got %d", len(buyer))
	}
	if buyer[0].Name != "searches-bundle.zip" {
		t.Fatal("list must be oldest-first")
	}
	if agent := svc.ListFor(enums.RoleEstateAgent); len(agent) != 0 {
		t.Fatalf("uninvolved role sees nothing, got %d", len(agent))
	}
}

func TestCacheIsDerivedAndRebuildable(t *testing.T) {
	svc, _, store := testService(t)
	ctx := context.Background()

	if _, err := svc.AddDocument(ctx, Meta{
		Name:        "fixtures-and-fittings.pdf",
		UploadedBy:  enums.RoleSellerConveyancer,
		DeliveredTo: enums.RoleBuyerConveyancer,
		Size:        512,
		Priority:    enums.DocumentPriorityStandard,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	cached := svc.CachedFor(ctx, enums.RoleBuyerConveyancer)
	if len(cached) != 1 || cached[0].Name != "fixtures-and-fittings.pdf" {
		t.Fatalf("cache must hold the delivery, got %+v", cached)
	}

	// Corrupt the cache key; the authoritative list is unaffected and a
	// rebuild restores the cache from the feed.
	if err := store.Set(ctx, storage.DocumentCacheKey(enums.RoleBuyerConveyancer), []byte(`{broken`)); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}
	if got := svc.CachedFor(ctx, enums.RoleBuyerConveyancer); got != nil {
		t.Fatalf("corrupt cache must read as empty, got %+v", got)
	}
	if got := svc.ListFor(enums.RoleBuyerConveyancer); len(got) != 1 {
		t.Fatal("authoritative list must survive cache corruption")
	}
	if err := svc.RebuildCache(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := svc.CachedFor(ctx, enums.RoleBuyerConveyancer); len(got) != 1 {
		t.Fatalf("rebuild must restore the cache, got %+v", got)
	}
}
