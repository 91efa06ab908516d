package models

import "time"

// ContextEntry is one message captured from the community before a ban.
type ContextEntry struct {
	Content     string    `json:"content"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"id"`
}

// BannedUserContext is the durable snapshot of a user's recent messages,
// written when a ban is detected.
type BannedUserContext struct {
	ID        uint           `gorm:"primaryKey;autoIncrement"`
	UserID    string         `gorm:"size:32;uniqueIndex;not null"`
	GuildID   string         `gorm:"size:32"`
	Messages  []ContextEntry `gorm:"serializer:json;type:text"`
	BannedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
