package store

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/talkincode/wagateway/config"
	"gorm.io/gorm"
)

// Collections used by the session layer.
const (
	CollectionCreds = "creds"
	CollectionChats = "chats"
)

var ErrNotFound = errors.New("store: document not found")

// DocumentStore keeps opaque documents grouped in named collections.
// Implementations must be safe for concurrent use.
type DocumentStore interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Put creates or replaces a document.
	Put(ctx context.Context, collection, key string, body []byte) error
	// Delete removes a document; deleting a missing document is not an error.
	Delete(ctx context.Context, collection, key string) error
	// Keys lists the document keys of a collection.
	Keys(ctx context.Context, collection string) ([]string, error)
	Close() error
}

// Open builds the store selected by cfg.Store. The db flavour shares the
// application's gorm handle.
func Open(cfg *config.AppConfig, db *gorm.DB) (DocumentStore, error) {
	var (
		ds  DocumentStore
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Type)) {
	case "", "db":
		if db == nil {
			return nil, errors.New("store: db store requires a database handle")
		}
		ds = NewGormStore(db)
	case "bolt", "bbolt":
		path := cfg.Store.BoltPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.GetDataDir(), path)
		}
		ds, err = NewBoltStore(path)
	case "memory":
		ds = NewMemoryStore()
	case "redis":
		ds = NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		}), cfg.Store.RedisPrefix)
	default:
		return nil, errors.Errorf("store: unsupported type %q", cfg.Store.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Store.Compress {
		return NewCompressed(ds)
	}
	return ds, nil
}
