package model

import "time"

// Exception is a persisted error capture used for reconciliation and
// monitoring. Matcher shortfalls and adapter faults land here so an operator
// can audit them after the fact.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "trade_engine"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "matcher"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "OnPositionClosingFill"

	// Error information
	Message string `gorm:"type:text" json:"message"` // err.Error()
	Stack   string `gorm:"type:text" json:"stack"`   // stack trace (optional)

	// Severity level
	Level string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// Extra context stored as JSON (optional)
	Context string `gorm:"type:jsonb" json:"context,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
