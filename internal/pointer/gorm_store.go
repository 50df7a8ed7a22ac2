package pointer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradewatch/internal/models"
)

// GormStore keeps the pointer as one row of the pointer_records table.
type GormStore struct {
	db     *gorm.DB
	key    string
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a store for the slot named key.
func NewGormStore(db *gorm.DB, key string, logger *zap.Logger) *GormStore {
	if key == "" {
		key = DefaultKey
	}
	return &GormStore{db: db, key: key, logger: logger.Named("pointer")}
}

// Save upserts the slot.
func (s *GormStore) Save(ctx context.Context, p Pointer) error {
	value, err := p.Encode()
	if err != nil {
		return err
	}
	rec := models.PointerRecord{Key: s.key, Value: value}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("pointer: save %s: %w", s.key, err)
	}
	s.logger.Debug("Saved pointer", zap.String("key", s.key), zap.String("trade_id", p.TradeID))
	return nil
}

// Load returns the stored pointer or ErrNoPointer. A value that cannot be
// decoded is cleared and reported as ErrNoPointer.
func (s *GormStore) Load(ctx context.Context) (Pointer, error) {
	var rec models.PointerRecord
	err := s.db.WithContext(ctx).Where(&models.PointerRecord{Key: s.key}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pointer{}, ErrNoPointer
	}
	if err != nil {
		return Pointer{}, fmt.Errorf("pointer: load %s: %w", s.key, err)
	}

	p, err := Decode(rec.Value)
	if err != nil {
		s.logger.Warn("Discarding unreadable pointer", zap.String("key", s.key), zap.Error(err))
		if clearErr := s.Clear(ctx); clearErr != nil {
			return Pointer{}, clearErr
		}
		return Pointer{}, ErrNoPointer
	}
	return p, nil
}

// Clear deletes the slot. Clearing an empty slot is not an error.
func (s *GormStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Delete(&models.PointerRecord{Key: s.key}).Error
	if err != nil {
		return fmt.Errorf("pointer: clear %s: %w", s.key, err)
	}
	return nil
}
