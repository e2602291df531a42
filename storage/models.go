// Package storage owns the relational schema and the domain repositories.
// The schema is managed through gorm's AutoMigrate; no component outside
// this package issues raw SQL except through the guarded query path.
package storage

import (
	"time"

	"gorm.io/gorm"
)

// User is a known user identity. Rows are provisioned lazily on first
// contact from any channel.
type User struct {
	ID         uint   `gorm:"primaryKey"`
	ExternalID string `gorm:"size:100;uniqueIndex"`
	Username   string `gorm:"size:50"`
	Timezone   string `gorm:"size:50;default:UTC"`
	CreatedAt  time.Time
}

// FinanceRecord is one income or expense entry.
type FinanceRecord struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            string `gorm:"size:100;index"`
	Type              string `gorm:"size:10"` // income | expense
	Amount            float64
	PrimaryCategory   string `gorm:"size:50"`
	SecondaryCategory string `gorm:"size:50"`
	Description       string `gorm:"type:text"`
	PaymentMethod     string `gorm:"size:20"`
	Merchant          string `gorm:"size:100"`
	Tags              string `gorm:"type:text"` // JSON-encoded string array
	RawText           string `gorm:"type:text"`
	RecordDate        time.Time
	CreatedAt         time.Time
}

// WorkRecord is one logged work session or task.
type WorkRecord struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        string `gorm:"size:100;index"`
	TaskType      string `gorm:"size:50"`
	TaskName      string `gorm:"size:200"`
	DurationHours float64
	Priority      string `gorm:"size:20;default:medium"`    // high | medium | low
	Status        string `gorm:"size:20;default:completed"` // todo | in_progress | completed | cancelled
	Tags          string `gorm:"type:text"`
	RawText       string `gorm:"type:text"`
	RecordDate    time.Time
	CreatedAt     time.Time
}

// ConversationContext is the single live per-user context row.
type ConversationContext struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        string `gorm:"size:100;uniqueIndex;not null"`
	CurrentIntent string `gorm:"size:50"`
	CurrentDomain string `gorm:"size:50"`
	State         string `gorm:"type:text"` // JSON-encoded scratch payload
	UpdatedAt     time.Time
}

// ConversationTurn is one immutable entry in the per-user turn log.
type ConversationTurn struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:100;index;not null"`
	Timestamp time.Time
	UserInput string `gorm:"type:text"`
	Intent    string `gorm:"size:50"`
	Domain    string `gorm:"size:50"`
	Response  string `gorm:"type:text"`
	Metadata  string `gorm:"type:text"` // JSON-encoded
}

// AutoMigrate creates or updates all quickjot tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&FinanceRecord{},
		&WorkRecord{},
		&ConversationContext{},
		&ConversationTurn{},
	)
}
