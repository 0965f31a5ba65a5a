// Command consync runs several conveyancing parties in one process over a
// shared store, each with its own feed and synchronizer. It is the
// stand-in for opening one page per party: run it, watch the parties
// exchange updates and an amendment round-trip, then reset the platform.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/roberthayford/nutlip-transaction-bus/internal/amendments"
	"github.com/roberthayford/nutlip-transaction-bus/internal/documents"
	"github.com/roberthayford/nutlip-transaction-bus/internal/feed"
	"github.com/roberthayford/nutlip-transaction-bus/internal/platform"
	"github.com/roberthayford/nutlip-transaction-bus/internal/storage"
	"github.com/roberthayford/nutlip-transaction-bus/internal/tabsync"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/config"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/db"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/metrics"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "consync"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "consync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to open store", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(ctx, "error closing store", err)
		}
	}()

	if err := run(ctx, cfg, store, logg); err != nil && ctx.Err() == nil {
		logg.Error(ctx, "demo failed", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFile:
		return storage.NewFileStore(cfg.Store.Dir, logg)
	case config.StoreBackendSQLite:
		client, err := db.New(ctx, cfg.Store, logg)
		if err != nil {
			return nil, err
		}
		return storage.NewSQLiteStore(client)
	case config.StoreBackendRedis:
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, err
		}
		return storage.NewRedisStore(client, logg)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// party bundles one simulated participant's view of the bus.
type party struct {
	role enums.Role
	feed *feed.Feed
	sync *tabsync.Synchronizer
}

func run(ctx context.Context, cfg *config.Config, store storage.Store, logg *logger.Logger) error {
	roles := []enums.Role{
		enums.RoleBuyerConveyancer,
		enums.RoleSellerConveyancer,
		enums.RoleEstateAgent,
	}

	parties := make(map[enums.Role]*party, len(roles))
	for _, role := range roles {
		f, err := feed.New(feed.Options{Store: store, Logger: logg})
		if err != nil {
			return err
		}
		f.Load(ctx)
		p := &party{
			role: role,
			feed: f,
			sync: tabsync.New(tabsync.Options{
				Feed:    f,
				Store:   store,
				Logger:  logg,
				Metrics: metrics.NewSyncMetrics(nil),
				Sync:    cfg.Sync,
				Stage:   enums.StageCompletionDate,
			}),
		}
		parties[role] = p
		go p.sync.Run(ctx)
		go watchNotices(ctx, logg, p)
	}

	buyerConv := parties[enums.RoleBuyerConveyancer]
	sellerConv := parties[enums.RoleSellerConveyancer]

	// A completion date proposal crosses from one conveyancer to the other.
	if _, err := buyerConv.feed.Send(ctx, feed.Draft{
		Type:  enums.UpdateCompletionDateProposed,
		Stage: enums.StageCompletionDate,
		Role:  enums.RoleBuyerConveyancer,
		Title: "Completion date proposed",
		Data:  feed.CompletionDateProposal{Date: "2024-05-28"},
	}); err != nil {
		return err
	}

	// A document delivery lands in the estate agent's list.
	docs := documents.NewService(sellerConv.feed, store, logg)
	if _, err := docs.AddDocument(ctx, documents.Meta{
		Name:        "memorandum-of-sale.pdf",
		UploadedBy:  enums.RoleSellerConveyancer,
		DeliveredTo: enums.RoleEstateAgent,
		Size:        24576,
		Priority:    enums.DocumentPriorityStandard,
		Stage:       enums.StageDraftContract,
	}); err != nil {
		return err
	}

	// An amendment request round-trips between the conveyancers.
	requests := amendments.NewService(buyerConv.feed, logg)
	req, err := requests.Create(ctx, enums.RoleBuyerConveyancer, amendments.Draft{
		Category:        "clause",
		Description:     "Clause 4.2 notice period is too short",
		AffectedClauses: []string{"4.2"},
		Priority:        enums.AmendmentPriorityHigh,
		TargetRole:      enums.RoleSellerConveyancer,
		Stage:           enums.StageDraftContract,
	})
	if err != nil {
		return err
	}

	// Give the synchronizers a moment to fan the request out, then answer
	// it from the other party's process.
	if err := sleepCtx(ctx, 2*cfg.Sync.InteractivePollInterval); err != nil {
		return err
	}
	sellerConv.sync.Focus()
	if err := sleepCtx(ctx, cfg.Sync.InteractivePollInterval); err != nil {
		return err
	}

	responder := amendments.NewService(sellerConv.feed, logg)
	if _, err := responder.Reply(ctx, req.ID, amendments.ReplyInput{
		Decision: enums.AmendmentDecisionCounterProposal,
		Message:  "Fourteen days, not twenty-eight.",
	}); err != nil {
		return err
	}

	if err := sleepCtx(ctx, 2*cfg.Sync.InteractivePollInterval); err != nil {
		return err
	}
	for _, p := range parties {
		unread := p.feed.UnreadCountFor(p.role)
		roleCtx := logg.WithFields(ctx, map[string]any{
			"role":      string(p.role),
			"envelopes": len(p.feed.Snapshot()),
			"unread":    unread,
		})
		logg.Info(roleCtx, "party converged")
	}

	// Wind the demo down the only supported way.
	if _, err := platform.NewCoordinator(store, buyerConv.feed, logg).Reset(ctx); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 2*cfg.Sync.InteractivePollInterval); err != nil {
		return err
	}
	logg.Info(ctx, "platform reset, demo complete")
	return nil
}

func watchNotices(ctx context.Context, logg *logger.Logger, p *party) {
	notices, cancel := p.feed.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-notices:
			if !ok {
				return
			}
			noticeCtx := logg.WithFields(ctx, map[string]any{
				"role":   string(p.role),
				"notice": string(notice.Kind),
			})
			logg.Debug(noticeCtx, "notice received")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
