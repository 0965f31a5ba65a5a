package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/db"
)

// busRecord is one persisted key in the embedded SQLite database.
type busRecord struct {
	Key       string `gorm:"column:key;primaryKey;size:190"`
	Value     []byte `gorm:"column:value;not null"`
	UpdatedAt time.Time
}

func (busRecord) TableName() string {
	return "bus_keys"
}

// SQLiteStore keeps the shared feed in a single-file database. SQLite has no
// change notification, so Watch is unsupported and consumers rely on the
// poll fallback alone.
type SQLiteStore struct {
	client *db.Client
}

// NewSQLiteStore migrates the key table and wraps the client.
func NewSQLiteStore(client *db.Client) (*SQLiteStore, error) {
	if client == nil {
		return nil, fmt.Errorf("db client is required")
	}
	if err := client.DB().AutoMigrate(&busRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrating bus_keys: %v", ErrUnavailable, err)
	}
	return &SQLiteStore{client: client}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var record busRecord
	err := s.client.DB().WithContext(ctx).First(&record, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, key, err)
	}
	return record.Value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	record := busRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	err := s.client.DB().WithContext(ctx).Delete(&busRecord{}, "key = ?", key).Error
	if err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) Watch(context.Context) (<-chan Change, error) {
	return nil, ErrWatchUnsupported
}

func (s *SQLiteStore) Close() error {
	return s.client.Close()
}
