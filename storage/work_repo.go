package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WorkRepository persists work records for the work plugin.
type WorkRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWorkRepository creates a work repository.
func NewWorkRepository(db *gorm.DB, logger *zap.Logger) *WorkRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkRepository{
		db:     db,
		logger: logger.With(zap.String("component", "work_repo")),
	}
}

// Create inserts one work record.
func (r *WorkRepository) Create(ctx context.Context, rec *WorkRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create work record: %w", err)
	}
	return nil
}

// CreateBatch inserts several records in one transaction.
func (r *WorkRepository) CreateBatch(ctx context.Context, recs []*WorkRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create work records: %w", err)
	}
	return nil
}

// RecentByUser returns the most recent records for a user, newest first.
func (r *WorkRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]WorkRecord, error) {
	var recs []WorkRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("record_date DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("query work records: %w", err)
	}
	return recs, nil
}

// Query runs a model-generated SELECT after it passes the safety check.
func (r *WorkRepository) Query(ctx context.Context, sql, userID string) ([]map[string]any, error) {
	if err := ValidateQuery(sql, userID); err != nil {
		return nil, fmt.Errorf("rejected query: %w", err)
	}
	sql = ClampLimit(sql, 100)

	var rows []map[string]any
	if err := r.db.WithContext(ctx).Raw(sql).Scan(&rows).Error; err != nil {
		r.logger.Error("generated query failed", zap.String("sql", sql), zap.Error(err))
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	return rows, nil
}
