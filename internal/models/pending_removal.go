package models

import "time"

// PendingRemoval is a transient guild membership scheduled for revocation.
type PendingRemoval struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	GuildID  string    `gorm:"size:32;index:idx_guild_user,unique"`
	UserID   string    `gorm:"size:32;index:idx_guild_user,unique"`
	RemoveAt time.Time `gorm:"index"`
}
