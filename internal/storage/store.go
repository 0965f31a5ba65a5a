// Package storage wraps the local persistence medium shared by every party.
// It exposes a small key/value surface with JSON tolerance: a value that
// exists but fails to decode is treated as absent, because a corrupted feed
// is better silently reset than crashing every open surface.
package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
)

var (
	// ErrNotFound marks an absent key.
	ErrNotFound = errors.New("key not found")
	// ErrUnavailable marks a medium that cannot be read or written at all.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrWatchUnsupported marks backends without change notification;
	// consumers fall back to polling alone.
	ErrWatchUnsupported = errors.New("change notification not supported")
)

// Persisted keys. The updates key is the single source of truth; every other
// key is a derived, rebuildable view.
const (
	KeyUpdates         = "conveyancing_updates"
	KeyResetGeneration = "conveyancing_reset_generation"
)

const documentCachePrefix = "conveyancing_documents_"

// DocumentCacheKey names the derived per-role document list.
func DocumentCacheKey(role enums.Role) string {
	return documentCachePrefix + string(role)
}

// DerivedKeys lists every cache-only key that a platform reset must clear
// alongside the main feed.
func DerivedKeys() []string {
	keys := make([]string, 0, len(enums.Roles()))
	for _, role := range enums.Roles() {
		keys = append(keys, DocumentCacheKey(role))
	}
	return keys
}

// Change describes a write observed on the shared medium. Value carries the
// new serialized contents when the backend can deliver it with the
// notification; nil means the consumer must re-read the key.
type Change struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Store is the persistence surface shared by all parties. Any party may
// write at any time; last writer wins at the key level.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// Watch delivers changes written by other parties. Backends that cannot
	// notify return ErrWatchUnsupported. The channel closes when ctx ends.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

// GetJSON reads and decodes the value at key. A missing key or a value that
// fails to decode both report found=false; decode failures are logged and
// absorbed, never propagated. Only medium-level failures return an error.
func GetJSON(ctx context.Context, store Store, key string, dest any, log *logger.Logger) (bool, error) {
	raw, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if decodeTolerant(ctx, key, raw, dest, log) {
		return true, nil
	}
	return false, nil
}

// DecodeValue decodes a raw value delivered with a change notification using
// the same tolerance rule as GetJSON.
func DecodeValue(ctx context.Context, key string, raw []byte, dest any, log *logger.Logger) bool {
	return decodeTolerant(ctx, key, raw, dest, log)
}

func decodeTolerant(ctx context.Context, key string, raw []byte, dest any, log *logger.Logger) bool {
	if len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		if log != nil {
			logCtx := log.WithFields(ctx, map[string]any{"key": key, "bytes": len(raw)})
			log.Warn(logCtx, "persisted value failed to decode; treating as empty")
		}
		return false
	}
	return true
}
