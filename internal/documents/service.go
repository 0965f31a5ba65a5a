// Package documents tracks document deliveries between parties. A delivery
// is one envelope on the update bus; the per-role list persisted alongside
// the feed is a cache-only view, rebuildable from the feed at any time.
package documents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roberthayford/nutlip-transaction-bus/internal/feed"
	"github.com/roberthayford/nutlip-transaction-bus/internal/storage"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	pkgerrors "github.com/roberthayford/nutlip-transaction-bus/pkg/errors"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/validate"
)

// Meta is the caller-supplied description of a delivery.
type Meta struct {
	Name         string                 `json:"name" validate:"required"`
	UploadedBy   enums.Role             `json:"uploadedBy" validate:"required"`
	DeliveredTo  enums.Role             `json:"deliveredTo" validate:"required"`
	Size         int64                  `json:"size" validate:"gte=0"`
	Priority     enums.DocumentPriority `json:"priority" validate:"required,oneof=standard urgent critical"`
	Stage        enums.Stage            `json:"stage,omitempty"`
	CoverMessage string                 `json:"coverMessage,omitempty"`
	Deadline     *time.Time             `json:"deadline,omitempty"`
}

// Record is one delivery as seen by a role, enriched with the identity of
// the envelope that carries it.
type Record struct {
	EnvelopeID string `json:"envelopeId"`
	feed.DocumentDelivery
	Stage     enums.Stage `json:"stage,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	Read      bool        `json:"read"`
}

// Service wraps the feed with delivery-specific operations.
type Service struct {
	feed     *feed.Feed
	store    storage.Store
	registry *feed.DecoderRegistry
	log      *logger.Logger
}

// NewService wires the tracker over the shared feed and store.
func NewService(f *feed.Feed, store storage.Store, log *logger.Logger) *Service {
	return &Service{
		feed:     f,
		store:    store,
		registry: feed.DefaultRegistry(),
		log:      log,
	}
}

// AddDocument validates the metadata, sends the delivery envelope and
// refreshes the per-role caches. There is no deletion or revision
// counterpart: a delivery, once sent, is a permanent historical record.
func (s *Service) AddDocument(ctx context.Context, meta Meta) (feed.Envelope, error) {
	if err := validate.Struct(meta); err != nil {
		return feed.Envelope{}, err
	}
	if !meta.UploadedBy.IsValid() {
		return feed.Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "uploading role invalid").
			WithDetails(map[string]string{"uploadedBy": string(meta.UploadedBy)})
	}
	if !meta.DeliveredTo.IsValid() {
		return feed.Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "receiving role invalid").
			WithDetails(map[string]string{"deliveredTo": string(meta.DeliveredTo)})
	}

	env, err := s.feed.Send(ctx, feed.Draft{
		Type:        enums.UpdateDocumentUploaded,
		Stage:       meta.Stage,
		Role:        meta.UploadedBy,
		Title:       "Document delivered",
		Description: meta.Name,
		Data: feed.DocumentDelivery{
			Name:         meta.Name,
			UploadedBy:   meta.UploadedBy,
			DeliveredTo:  meta.DeliveredTo,
			Size:         meta.Size,
			Priority:     meta.Priority,
			CoverMessage: meta.CoverMessage,
			Deadline:     meta.Deadline,
		},
	})
	if err != nil {
		return env, err
	}

	// Cache refresh failures never undo the send. The cache is derived
	// state and the next rebuild repairs it.
	s.refreshCaches(ctx, meta.UploadedBy, meta.DeliveredTo)
	return env, nil
}

// ListFor returns the deliveries a role uploaded or received, oldest-first.
// The list is recomputed from the feed on every call so it always reflects
// the latest reconciled state.
func (s *Service) ListFor(role enums.Role) []Record {
	var records []Record
	for _, env := range s.feed.Snapshot() {
		if env.Type != enums.UpdateDocumentUploaded {
			continue
		}
		decoded, err := s.registry.Decode(env)
		if err != nil {
			if s.log != nil {
				ctx := s.log.WithEnvelopeID(context.Background(), env.ID)
				s.log.Warn(ctx, "skipping undecodable delivery payload")
			}
			continue
		}
		delivery, ok := decoded.(feed.DocumentDelivery)
		if !ok {
			continue
		}
		if delivery.UploadedBy != role && delivery.DeliveredTo != role {
			continue
		}
		records = append(records, Record{
			EnvelopeID:       env.ID,
			DocumentDelivery: delivery,
			Stage:            env.Stage,
			CreatedAt:        env.CreatedAt,
			Read:             env.Read,
		})
	}
	return records
}

// RebuildCache recomputes every role's persisted document list from the
// feed. Used after reconciliation and on demand when a cache key is lost or
// corrupted; the caches are never a source of truth.
func (s *Service) RebuildCache(ctx context.Context) error {
	return s.refreshCaches(ctx, enums.Roles()...)
}

func (s *Service) refreshCaches(ctx context.Context, roles ...enums.Role) error {
	var firstErr error
	for _, role := range roles {
		records := s.ListFor(role)
		if records == nil {
			records = []Record{}
		}
		encoded, err := json.Marshal(records)
		if err != nil {
			if firstErr == nil {
				firstErr = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding document cache")
			}
			continue
		}
		if err := s.store.Set(ctx, storage.DocumentCacheKey(role), encoded); err != nil {
			if s.log != nil {
				s.log.Warn(s.log.WithFields(ctx, map[string]any{
					"role":  string(role),
					"error": err.Error(),
				}), "persisting document cache")
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CachedFor reads the persisted per-role list. A missing or corrupt cache
// reads as empty; callers needing authority use ListFor.
func (s *Service) CachedFor(ctx context.Context, role enums.Role) []Record {
	var records []Record
	found, err := storage.GetJSON(ctx, s.store, storage.DocumentCacheKey(role), &records, s.log)
	if err != nil || !found {
		return nil
	}
	return records
}
