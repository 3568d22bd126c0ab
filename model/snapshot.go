package model

import (
	"time"

	"gorm.io/datatypes"
)

// EquipmentSnapshot persists the last known equipped set per account so a
// reload restores the loadout without waiting on the backend.
type EquipmentSnapshot struct {
	Account   string         `gorm:"primaryKey;size:64" json:"account"`
	Items     datatypes.JSON `json:"items"` // slot -> item, the Equipment wire shape
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
