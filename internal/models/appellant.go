package models

import "time"

// AppellantState is the per-platform-account eligibility record. Declined and
// Locked are scoped to the ban identified by BanFirstSeen: they only count
// while DeclinedBanSeen/LockedBanSeen equal the current BanFirstSeen.
type AppellantState struct {
	ID              uint       `gorm:"primaryKey;autoIncrement"`
	Platform        Platform   `gorm:"size:16;uniqueIndex:idx_appellant_platform_user;not null"`
	UserID          string     `gorm:"size:32;uniqueIndex:idx_appellant_platform_user;not null"`
	BanFirstSeen    *time.Time
	DeclinedBanSeen *time.Time
	LockedBanSeen   *time.Time
	LastSubmit      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func sameInstant(a, b *time.Time) bool {
	return a != nil && b != nil && a.Equal(*b)
}

// DeclinedForCurrentBan reports a decline recorded against the active ban.
func (s *AppellantState) DeclinedForCurrentBan() bool {
	return sameInstant(s.DeclinedBanSeen, s.BanFirstSeen)
}

// LockedForCurrentBan reports a pending or accepted appeal for the active ban.
func (s *AppellantState) LockedForCurrentBan() bool {
	return sameInstant(s.LockedBanSeen, s.BanFirstSeen)
}
