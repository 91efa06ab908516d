package models

import "time"

// AppellantIdentity links up to two platform accounts to one person.
// Key is stable for the life of the record; CanonicalID is derived from the
// linked accounts. Version increments on every write and guards
// compare-and-swap updates.
type AppellantIdentity struct {
	Key         string `gorm:"column:appellant_key;primaryKey;size:96"`
	CanonicalID string `gorm:"size:96;index"`
	DiscordID   string `gorm:"size:32;index"`
	DiscordName string `gorm:"size:128"`
	RobloxID    string `gorm:"size:32;index"`
	RobloxName  string `gorm:"size:128"`
	DisplayName string `gorm:"size:128"`
	Version     int64  `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OAuthToken caches a provider token for one subject.
type OAuthToken struct {
	ID           uint     `gorm:"primaryKey;autoIncrement"`
	Platform     Platform `gorm:"size:16;uniqueIndex:idx_token_subject;not null"`
	Subject      string   `gorm:"size:32;uniqueIndex:idx_token_subject;not null"`
	AccessToken  string   `gorm:"type:text"`
	RefreshToken string   `gorm:"type:text"`
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// AppealSession records a consumed form token; the hash is the
// durable idempotency key for submissions.
type AppealSession struct {
	TokenHash  string   `gorm:"primaryKey;size:64"`
	Platform   Platform `gorm:"size:16"`
	UserID     string   `gorm:"size:32;index"`
	LastSubmit time.Time
	CreatedAt  time.Time
}
