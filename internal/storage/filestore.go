package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
)

// FileStore persists each key as a JSON file in one shared directory and uses
// filesystem notifications as the cross-party change signal. Writes go
// through a temp file and rename so watchers never observe a torn value.
type FileStore struct {
	dir string
	log *logger.Logger
}

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating store directory: %v", ErrUnavailable, err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, key, err)
	}
	return raw, nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	tmp := filepath.Join(f.dir, "."+key+".tmp")
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrUnavailable, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: committing %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (f *FileStore) Remove(_ context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (f *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: opening watcher: %v", ErrUnavailable, err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: watching %s: %v", ErrUnavailable, f.dir, err)
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				change, relevant := f.translate(ctx, event)
				if !relevant {
					continue
				}
				select {
				case out <- change:
				default:
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if f.log != nil {
					f.log.Warn(f.log.WithField(ctx, "error", watchErr.Error()), "file watcher error")
				}
			}
		}
	}()
	return out, nil
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) translate(ctx context.Context, event fsnotify.Event) (Change, bool) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return Change{}, false
	}
	key := strings.TrimSuffix(name, ".json")
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		return Change{Key: key, Removed: true}, true
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return Change{}, false
	}
	change := Change{Key: key}
	// Best effort; a nil Value just forces the consumer to re-read.
	if raw, err := os.ReadFile(event.Name); err == nil {
		change.Value = raw
	}
	return change, true
}

func (f *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\.`) {
		return "", fmt.Errorf("invalid store key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}
