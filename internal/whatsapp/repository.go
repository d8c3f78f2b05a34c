package whatsapp

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InstanceRepository persists the instance rows used to replay sessions.
type InstanceRepository interface {
	// Save creates the row for inst.Key or updates its webhook settings
	Save(ctx context.Context, inst *domain.WhatsAppInstance) error

	// GetByKey returns nil and no error when the key is unknown
	GetByKey(ctx context.Context, key string) (*domain.WhatsAppInstance, error)

	// List returns every row ordered by creation time
	List(ctx context.Context) ([]*domain.WhatsAppInstance, error)

	// UpdateStatus records the session state and, when known, its jid
	UpdateStatus(ctx context.Context, key, status, jid string) error

	// Delete removes the row of key
	Delete(ctx context.Context, key string) error

	// PurgeTerminated removes terminated rows last updated before t
	PurgeTerminated(ctx context.Context, before time.Time) (int64, error)
}

// GormInstanceRepository is the GORM implementation of InstanceRepository
type GormInstanceRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

// NewGormInstanceRepository creates a new GORM-based repository. node
// identifies this process in generated row ids.
func NewGormInstanceRepository(db *gorm.DB, node int64) (*GormInstanceRepository, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, errors.Wrap(err, "whatsapp: snowflake node")
	}
	return &GormInstanceRepository{db: db, node: n}, nil
}

func (r *GormInstanceRepository) Save(ctx context.Context, inst *domain.WhatsAppInstance) error {
	if inst.ID == 0 {
		inst.ID = r.node.Generate().Int64()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"webhook_url", "allow_webhook", "status", "updated_at"}),
	}).Create(inst).Error
}

func (r *GormInstanceRepository) GetByKey(ctx context.Context, key string) (*domain.WhatsAppInstance, error) {
	var inst domain.WhatsAppInstance
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *GormInstanceRepository) List(ctx context.Context) ([]*domain.WhatsAppInstance, error) {
	var items []*domain.WhatsAppInstance
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&items).Error
	return items, err
}

func (r *GormInstanceRepository) UpdateStatus(ctx context.Context, key, status, jid string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if jid != "" {
		updates["jid"] = jid
	}
	return r.db.WithContext(ctx).
		Model(&domain.WhatsAppInstance{}).
		Where("key = ?", key).
		Updates(updates).Error
}

func (r *GormInstanceRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.WhatsAppInstance{}).Error
}

func (r *GormInstanceRepository) PurgeTerminated(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.InstanceTerminated, before).
		Delete(&domain.WhatsAppInstance{})
	return res.RowsAffected, res.Error
}
