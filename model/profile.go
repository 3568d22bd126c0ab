package model

import "time"

// Profile caches the backend profile per account. LocalGems is the cached
// copy of the off-chain ledger; the backend value wins on conflict.
type Profile struct {
	Account   string    `gorm:"primaryKey;size:64" json:"account"`
	Nickname  string    `gorm:"size:64" json:"nickname"`
	LocalGems int64     `gorm:"default:0" json:"local_gems"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
