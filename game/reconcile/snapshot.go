// Package reconcile owns the client-side game state: the equipped set, the
// bag inventory, and the NFT pool. All three are views reconciled from the
// backend store, the local snapshot, and on-chain ownership; every
// transition republishes a complete snapshot so readers never observe a
// half-applied state.
package reconcile

import (
	"sort"

	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/game/item"
)

// Snapshot is the complete per-account game state at one instant.
type Snapshot struct {
	Equipment item.Equipment   `json:"equipment"`
	Inventory []item.Item      `json:"inventory"`
	NFTs      []item.NFTRecord `json:"nfts"`
	Stats     item.Stats       `json:"stats"`
}

// Clone deep-copies the snapshot so callers can hand it out without
// exposing internal state to mutation.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Equipment: s.Equipment.Clone(),
		Inventory: make([]item.Item, 0, len(s.Inventory)),
		NFTs:      make([]item.NFTRecord, len(s.NFTs)),
		Stats:     s.Stats,
	}
	for _, it := range s.Inventory {
		out.Inventory = append(out.Inventory, it.Clone())
	}
	copy(out.NFTs, s.NFTs)
	return out
}

// reconcileInventory filters the remote item list down to what belongs in
// the bag: everything the backend knows about minus whatever currently
// occupies a slot. The operation is idempotent; running it twice over the
// same inputs yields the same bag.
func reconcileInventory(remote []item.Item, eq item.Equipment) []item.Item {
	equipped := eq.EquippedIDs()
	bag := make([]item.Item, 0, len(remote))
	seen := make(map[string]struct{}, len(remote))
	for _, it := range remote {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		if _, ok := equipped[it.ID]; ok {
			continue
		}
		bag = append(bag, it.Clone())
	}
	return bag
}

// reconcileNFTs keeps the records confirmed owned by account, dropping
// tokens whose equipped projection currently occupies a slot. verified maps
// tokenID to the confirmed owner; tokens absent from it were excluded
// upstream (ownership check failed or returned another account).
func reconcileNFTs(records []item.NFTRecord, verified map[uint64]chain.Address, account chain.Address, eq item.Equipment) []item.NFTRecord {
	equipped := eq.EquippedIDs()
	pool := make([]item.NFTRecord, 0, len(records))
	seen := make(map[uint64]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.TokenID]; dup {
			continue
		}
		seen[rec.TokenID] = struct{}{}
		owner, ok := verified[rec.TokenID]
		if !ok || !owner.Equal(account) {
			continue
		}
		if _, worn := equipped[item.VirtualID(rec.TokenID)]; worn {
			continue
		}
		rec.Owner = owner.Normalize()
		pool = append(pool, rec)
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].TokenID < pool[j].TokenID })
	return pool
}

// rebuild recomputes the derived parts of the snapshot after any
// transition.
func (s *Snapshot) rebuild() {
	s.Stats = item.CalcStats(s.Equipment)
}
