package player

import (
	"testing"
	"time"

	"github.com/gamegems/client/chain"
	"github.com/stretchr/testify/assert"
)

func TestManager_NormalizesAccountKeys(t *testing.T) {
	m := NewManager()
	m.Put(&Session{Account: "0xAlice", CreatedAt: time.Now()})

	assert.NotNil(t, m.Get("0xalice"))
	assert.NotNil(t, m.Get("0xALICE"))
	assert.Equal(t, 1, m.Count())

	m.Remove(chain.Address("0xALICE"))
	assert.Nil(t, m.Get("0xalice"))
	assert.Equal(t, 0, m.Count())
}

func TestManager_PutReplaces(t *testing.T) {
	m := NewManager()
	m.Put(&Session{Account: "0xalice", Nickname: "old"})
	m.Put(&Session{Account: "0xAlice", Nickname: "new"})

	assert.Equal(t, 1, m.Count())
	assert.Equal(t, "new", m.Get("0xalice").Nickname)
}

func TestManager_AllSnapshot(t *testing.T) {
	m := NewManager()
	m.Put(&Session{Account: "0xalice"})
	m.Put(&Session{Account: "0xbob"})

	all := m.All()
	assert.Len(t, all, 2)
}
