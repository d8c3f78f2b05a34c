package store

import (
	"context"
	"errors"
	"time"

	"github.com/talkincode/wagateway/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps documents in the whatsapp_document table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var doc domain.WhatsAppDocument
	err := s.db.WithContext(ctx).
		Where("collection = ? AND key = ?", collection, key).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Body, nil
}

func (s *GormStore) Put(ctx context.Context, collection, key string, body []byte) error {
	doc := domain.WhatsAppDocument{
		Collection: collection,
		Key:        key,
		Body:       body,
		UpdatedAt:  time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
}

func (s *GormStore) Delete(ctx context.Context, collection, key string) error {
	return s.db.WithContext(ctx).
		Where("collection = ? AND key = ?", collection, key).
		Delete(&domain.WhatsAppDocument{}).Error
}

func (s *GormStore) Keys(ctx context.Context, collection string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&domain.WhatsAppDocument{}).
		Where("collection = ?", collection).
		Order("key").
		Pluck("key", &keys).Error
	return keys, err
}

// Close is a no-op; the handle belongs to the application.
func (s *GormStore) Close() error {
	return nil
}
