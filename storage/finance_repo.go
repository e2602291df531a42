package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FinanceRepository persists finance records for the finance plugin.
type FinanceRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewFinanceRepository creates a finance repository.
func NewFinanceRepository(db *gorm.DB, logger *zap.Logger) *FinanceRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinanceRepository{
		db:     db,
		logger: logger.With(zap.String("component", "finance_repo")),
	}
}

// Create inserts one finance record.
func (r *FinanceRepository) Create(ctx context.Context, rec *FinanceRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create finance record: %w", err)
	}
	return nil
}

// CreateBatch inserts several records in one transaction. Either all rows
// commit or none do.
func (r *FinanceRepository) CreateBatch(ctx context.Context, recs []*FinanceRecord) error {
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
		return fmt.Errorf("create finance records: %w", err)
	}
	return nil
}

// RecentByUser returns the most recent records for a user, newest first.
func (r *FinanceRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]FinanceRecord, error) {
	var recs []FinanceRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("record_date DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("query finance records: %w", err)
	}
	return recs, nil
}

// Query runs a model-generated SELECT after it passes the safety check,
// returning generic rows for formatting.
func (r *FinanceRepository) Query(ctx context.Context, sql, userID string) ([]map[string]any, error) {
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
