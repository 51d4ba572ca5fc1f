package models

import "time"

// Surfaces a ChatSession can be hosted on.
const (
	SurfaceWeb     = "web"
	SurfaceSlack   = "slack"
	SurfaceDiscord = "discord"
	SurfaceCLI     = "cli"
)

// ChatSession mirrors one live conversational session. The row exists only
// while the session is alive; it is deleted on reset, close, or reap.
type ChatSession struct {
	Key              string    `gorm:"primaryKey;column:session_key;size:160"` // web uuid or "channel:thread"
	Surface          string    `gorm:"size:16;not null;index"`
	BackendSessionID string    `gorm:"size:128"` // empty until the backend assigns one
	ActiveView       string    `gorm:"size:16;not null;default:chat"`
	Busy             bool      `gorm:"default:false"`
	MessageCount     int       `gorm:"default:0"`
	LastActivity     time.Time `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Turns []ChatTurn `gorm:"foreignKey:SessionKey;references:Key;constraint:OnDelete:CASCADE"`
}

// ChatTurn stores one message of a live session's history.
type ChatTurn struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionKey string `gorm:"size:160;not null;uniqueIndex:idx_session_seq"`
	Sequence   int    `gorm:"not null;uniqueIndex:idx_session_seq"`
	Sender     string `gorm:"size:16;not null"` // "user" or "assistant"
	Text       string `gorm:"type:text;not null"`
	Citations  string `gorm:"type:json"` // JSON array of {title, uri}
	CreatedAt  time.Time
}
