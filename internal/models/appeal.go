package models

import "time"

// AppealStatus is the lifecycle state of a submitted appeal.
type AppealStatus string

const (
	StatusPending  AppealStatus = "pending"
	StatusAccepted AppealStatus = "accepted"
	StatusDeclined AppealStatus = "declined"
)

// AppealCommon holds the columns shared by every platform's appeal table.
// Status leaves pending exactly once, through the decision processor.
type AppealCommon struct {
	ID                   uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	AppealID             string         `gorm:"size:16;uniqueIndex;not null" json:"appeal_id"`
	UserID               string         `gorm:"size:32;index;not null" json:"user_id"`
	Username             string         `gorm:"size:128" json:"username"`
	InternalUserID       string         `gorm:"size:96;index" json:"-"`
	BanReason            string         `gorm:"type:text" json:"ban_reason"`
	BanFirstSeen         time.Time      `json:"ban_first_seen"`
	AppealReason         string         `gorm:"type:text" json:"appeal_reason"`
	AppealReasonOriginal string         `gorm:"type:text" json:"appeal_reason_original"`
	UserLang             string         `gorm:"size:16" json:"user_lang"`
	Evidence             string         `gorm:"type:text" json:"evidence,omitempty"`
	MessageCache         []ContextEntry `gorm:"serializer:json;type:text" json:"message_cache,omitempty"`
	Status               AppealStatus   `gorm:"size:16;index;default:pending" json:"status"`
	DecisionBy           string         `gorm:"size:64" json:"decision_by,omitempty"`
	DecisionAt           *time.Time     `json:"decision_at,omitempty"`
	DMDelivered          bool           `gorm:"default:false" json:"dm_delivered"`
	Notes                string         `gorm:"type:text" json:"notes,omitempty"`
	IP                   string         `gorm:"size:64" json:"-"`
	ForwardedFor         string         `gorm:"size:255" json:"-"`
	UserAgent            string         `gorm:"size:255" json:"-"`
	ReviewChatID         int64          `json:"-"`
	ReviewMessageID      int            `json:"-"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// DiscordAppeal is an appeal against a ban in the community guild.
type DiscordAppeal struct {
	AppealCommon `gorm:"embedded"`
	GuildID      string `gorm:"size:32" json:"guild_id"`
}

func (DiscordAppeal) TableName() string { return "discord_appeals" }

// RobloxAppeal is an appeal against a game-join restriction.
type RobloxAppeal struct {
	AppealCommon  `gorm:"embedded"`
	UniverseID    string `gorm:"size:32" json:"universe_id"`
	DiscordUserID string `gorm:"size:32" json:"discord_user_id,omitempty"`
}

func (RobloxAppeal) TableName() string { return "roblox_appeals" }

// Appeal is the closed union of platform appeals. The platform tag travels
// with the value through storage and display.
type Appeal interface {
	Platform() Platform
	Common() *AppealCommon
}

func (a *DiscordAppeal) Platform() Platform { return PlatformDiscord }
func (a *DiscordAppeal) Common() *AppealCommon { return &a.AppealCommon }
func (a *RobloxAppeal) Platform() Platform { return PlatformRoblox }
func (a *RobloxAppeal) Common() *AppealCommon { return &a.AppealCommon }

// NewAppeal returns an empty appeal of the platform's concrete type.
func NewAppeal(p Platform) Appeal {
	if p == PlatformRoblox {
		return &RobloxAppeal{}
	}
	return &DiscordAppeal{}
}

// Decision is the single write applied when an appeal leaves pending.
type Decision struct {
	Status      AppealStatus
	DecisionBy  string
	DecisionAt  time.Time
	DMDelivered bool
	Notes       string
}

// HistoryEntry is the slim status-feed view of an appeal.
type HistoryEntry struct {
	Platform  Platform     `json:"platform"`
	AppealID  string       `json:"appeal_id"`
	Status    AppealStatus `json:"status"`
	BanReason string       `json:"ban_reason"`
	CreatedAt time.Time    `json:"created_at"`
	DecidedAt *time.Time   `json:"decided_at,omitempty"`
}

func ToHistoryEntry(a Appeal) HistoryEntry {
	c := a.Common()
	return HistoryEntry{
		Platform:  a.Platform(),
		AppealID:  c.AppealID,
		Status:    c.Status,
		BanReason: c.BanReason,
		CreatedAt: c.CreatedAt,
		DecidedAt: c.DecisionAt,
	}
}
