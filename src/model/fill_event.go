package model

import "time"

const (
	FillEventCreated        = "created"
	FillEventStatusChange   = "status_change"
	FillEventQuantityChange = "quantity_change"
)

// FillEvent is an audit row written automatically whenever a fill is created
// or its status/executed quantity changes.
type FillEvent struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	FillID     uint           `gorm:"not null;index" json:"fill_id"`
	StrategyID *uint          `gorm:"index" json:"strategy_id,omitempty"`
	Level      string         `gorm:"size:20;not null" json:"level"`
	Event      string         `gorm:"size:50;not null" json:"event"`
	Message    string         `gorm:"size:1024;not null" json:"message"`
	Metadata   map[string]any `gorm:"serializer:json;type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (FillEvent) TableName() string {
	return "fill_events"
}
