package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickjot/quickjot/storage"
	"github.com/quickjot/quickjot/types"
)

// GormStore persists conversation state in the relational database.
type GormStore struct {
	db       *gorm.DB
	users    *storage.UserRepository
	maxTurns int
	logger   *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a database-backed store. maxTurns caps the per-user
// turn log; zero or negative disables pruning.
func NewGormStore(db *gorm.DB, maxTurns int, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:       db,
		users:    storage.NewUserRepository(db),
		maxTurns: maxTurns,
		logger:   logger.With(zap.String("component", "conversation_store")),
	}
}

// GetContext loads the user's context row. A missing row yields a fresh
// empty context, never an error.
func (s *GormStore) GetContext(ctx context.Context, userID string) (*types.Context, error) {
	var row storage.ConversationContext
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewContext(userID), nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "load conversation context").WithCause(err)
	}
	return contextFromRow(&row), nil
}

// UpsertContext replaces the user's context row. The user_id unique index
// makes this a single-row conflict update; the last writer wins.
func (s *GormStore) UpsertContext(ctx context.Context, c *types.Context) error {
	if c == nil || c.UserID == "" {
		return types.NewError(types.ErrValidation, "context must carry a user id")
	}

	state, err := json.Marshal(c.State)
	if err != nil {
		return types.NewError(types.ErrPersistence, "encode context state").WithCause(err)
	}

	row := storage.ConversationContext{
		UserID:        c.UserID,
		CurrentIntent: c.CurrentIntent,
		CurrentDomain: c.CurrentDomain,
		State:         string(state),
		UpdatedAt:     time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_intent", "current_domain", "state", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return types.NewError(types.ErrPersistence, "upsert conversation context").WithCause(err)
	}
	return nil
}

// AppendTurn stores one turn and prunes the user's log down to the
// retention cap. Pruning is best effort; a prune failure never fails the
// append.
func (s *GormStore) AppendTurn(ctx context.Context, turn *types.Turn) error {
	if turn == nil || turn.UserID == "" {
		return types.NewError(types.ErrValidation, "turn must carry a user id")
	}

	meta, err := json.Marshal(turn.Metadata)
	if err != nil {
		return types.NewError(types.ErrPersistence, "encode turn metadata").WithCause(err)
	}

	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	row := storage.ConversationTurn{
		UserID:    turn.UserID,
		Timestamp: ts,
		UserInput: turn.Input,
		Intent:    turn.Intent,
		Domain:    turn.Domain,
		Response:  turn.Response,
		Metadata:  string(meta),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.NewError(types.ErrPersistence, "append conversation turn").WithCause(err)
	}

	// First contact provisions the user row. Best effort; the turn is
	// already committed.
	if _, err := s.users.GetOrCreate(ctx, turn.UserID); err != nil {
		s.logger.Warn("user provisioning failed",
			zap.String("user_id", turn.UserID),
			zap.Error(err))
	}

	if s.maxTurns > 0 {
		if err := s.prune(ctx, turn.UserID); err != nil {
			s.logger.Warn("turn log pruning failed",
				zap.String("user_id", turn.UserID),
				zap.Error(err))
		}
	}
	return nil
}

// prune deletes the user's turns older than the newest maxTurns rows.
func (s *GormStore) prune(ctx context.Context, userID string) error {
	var keep []uint
	err := s.db.WithContext(ctx).
		Model(&storage.ConversationTurn{}).
		Where("user_id = ?", userID).
		Order("timestamp DESC, id DESC").
		Limit(s.maxTurns).
		Pluck("id", &keep).Error
	if err != nil {
		return err
	}
	if len(keep) < s.maxTurns {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("user_id = ? AND id NOT IN ?", userID, keep).
		Delete(&storage.ConversationTurn{}).Error
}

// RecentTurns returns up to limit of the user's latest turns, oldest first.
func (s *GormStore) RecentTurns(ctx context.Context, userID string, limit int) ([]types.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []storage.ConversationTurn
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "load recent turns").WithCause(err)
	}

	// Rows come back newest first; callers want chronological order.
	out := make([]types.Turn, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = turnFromRow(&row)
	}
	return out, nil
}

func contextFromRow(row *storage.ConversationContext) *types.Context {
	c := &types.Context{
		UserID:        row.UserID,
		CurrentIntent: row.CurrentIntent,
		CurrentDomain: row.CurrentDomain,
		State:         map[string]any{},
		UpdatedAt:     row.UpdatedAt,
	}
	if row.State != "" {
		// A corrupt state payload degrades to an empty map rather than
		// blocking the conversation.
		_ = json.Unmarshal([]byte(row.State), &c.State)
	}
	return c
}

func turnFromRow(row *storage.ConversationTurn) types.Turn {
	t := types.Turn{
		UserID:    row.UserID,
		Timestamp: row.Timestamp,
		Input:     row.UserInput,
		Intent:    row.Intent,
		Domain:    row.Domain,
		Response:  row.Response,
	}
	if row.Metadata != "" && row.Metadata != "null" {
		_ = json.Unmarshal([]byte(row.Metadata), &t.Metadata)
	}
	return t
}
