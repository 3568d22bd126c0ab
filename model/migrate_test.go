package model_test

import (
	"testing"
	"time"

	"github.com/gamegems/client/model"
	"github.com/gamegems/client/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	// Profile
	prof := &model.Profile{Account: "0xabc", Nickname: "miner", LocalGems: 120}
	require.NoError(t, db.Create(prof).Error)

	var found model.Profile
	require.NoError(t, db.First(&found, "account = ?", "0xabc").Error)
	assert.Equal(t, "miner", found.Nickname)
	assert.Equal(t, int64(120), found.LocalGems)

	// EquipmentSnapshot
	snap := &model.EquipmentSnapshot{
		Account: "0xabc",
		Items:   datatypes.JSON(`{"Boots":{"id":"b1","type":"Boots","rarity":"Common"}}`),
	}
	require.NoError(t, db.Create(snap).Error)

	var loaded model.EquipmentSnapshot
	require.NoError(t, db.First(&loaded, "account = ?", "0xabc").Error)
	assert.Contains(t, string(loaded.Items), "Boots")

	// AuditLog
	al := &model.AuditLog{
		TraceID: "trace-001", Account: "0xabc", Action: "equip",
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(al).Error)
	assert.Greater(t, al.ID, int64(0))
}
