package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/gerr"
	"github.com/gamegems/client/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Backend is the slice of the remote service the reconciler needs.
type Backend interface {
	Inventory(ctx context.Context, address string) ([]item.Item, error)
	NFTs(ctx context.Context) ([]backend.NFTEntry, error)
	AddInventoryItem(ctx context.Context, address string, it item.Item) error
	DeleteInventoryItem(ctx context.Context, address, itemID string) error
	SellPrices(ctx context.Context) (backend.SellPrices, error)
}

const snapshotTTL = 24 * time.Hour

// state serializes all transitions for one account. The mutex is the
// transition queue: concurrent operations apply one at a time, each against
// the snapshot its predecessor left behind.
type state struct {
	mu   sync.Mutex
	snap Snapshot
}

// Service reconciles and transitions per-account game state.
type Service struct {
	db      *gorm.DB
	cache   cache.Cache
	pubsub  cache.PubSub
	backend Backend
	gen     *item.Generator
	log     *zap.Logger

	mu     sync.Mutex
	states map[chain.Address]*state
}

func NewService(db *gorm.DB, c cache.Cache, ps cache.PubSub, b Backend, gen *item.Generator, log *zap.Logger) *Service {
	return &Service{
		db:      db,
		cache:   c,
		pubsub:  ps,
		backend: b,
		gen:     gen,
		log:     log.Named("reconcile"),
		states:  make(map[chain.Address]*state),
	}
}

func (s *Service) stateFor(account chain.Address) *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[account.Normalize()]
	if !ok {
		st = &state{snap: Snapshot{Equipment: item.Equipment{}}}
		st.snap.rebuild()
		s.states[account.Normalize()] = st
	}
	return st
}

// Load builds the account snapshot from the backend and chain, falling back
// to the locally persisted equipment when the backend is unreachable.
// Equipment restored from the local snapshot is reconciled against the
// remote inventory the same way a fresh login would be.
func (s *Service) Load(ctx context.Context, account chain.Address, contracts chain.Contracts) (Snapshot, error) {
	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	eq := s.loadEquipment(account)

	remote, err := s.backend.Inventory(ctx, string(account.Normalize()))
	if err != nil {
		s.log.Warn("inventory fetch failed, serving cached state",
			zap.String("account", string(account)), zap.Error(err))
		st.snap.Equipment = eq
		st.snap.rebuild()
		s.publish(ctx, account, st.snap)
		return st.snap.Clone(), nil
	}

	records, verified := s.fetchNFTs(ctx, account, contracts)

	st.snap = Snapshot{
		Equipment: eq,
		Inventory: reconcileInventory(remote, eq),
		NFTs:      reconcileNFTs(records, verified, account, eq),
	}
	st.snap.rebuild()
	s.persist(ctx, account, st.snap)
	return st.snap.Clone(), nil
}

// Snapshot returns the current state without touching remote sources.
func (s *Service) Snapshot(account chain.Address) Snapshot {
	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snap.Clone()
}

// RefreshNFTs re-projects the NFT pool from backend records and on-chain
// ownership. Tokens whose ownership cannot be confirmed are excluded.
func (s *Service) RefreshNFTs(ctx context.Context, account chain.Address, contracts chain.Contracts) (Snapshot, error) {
	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	records, verified := s.fetchNFTs(ctx, account, contracts)
	st.snap.NFTs = reconcileNFTs(records, verified, account, st.snap.Equipment)
	st.snap.rebuild()
	s.persist(ctx, account, st.snap)
	return st.snap.Clone(), nil
}

// Equip moves the dragged item into the slot its type names. A previously
// equipped item returns to its origin pool. The transition is rejected
// whole when the payload is malformed, the type does not match, or the item
// is already worn.
func (s *Service) Equip(ctx context.Context, account chain.Address, slot item.SlotType, payload string) (Snapshot, error) {
	const op = "reconcile.Equip"

	if !slot.Valid() {
		return Snapshot{}, gerr.Validation(op, fmt.Sprintf("unknown slot %q", slot))
	}
	it, err := item.DecodePayload(payload)
	if err != nil {
		return Snapshot{}, gerr.Malformed(op, err)
	}
	if it.Type != slot {
		return Snapshot{}, gerr.Validation(op, fmt.Sprintf("%s does not fit the %s slot", it.Type, slot))
	}

	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, worn := st.snap.Equipment.SlotOf(it.ID); worn {
		return Snapshot{}, gerr.Validation(op, "item already equipped")
	}

	// The dragged copy must correspond to something the account holds.
	src, found := s.takeFromPools(st, it)
	if !found {
		return Snapshot{}, gerr.Validation(op, "item not in inventory")
	}

	if prev, occupied := st.snap.Equipment[slot]; occupied {
		s.returnToPool(st, prev)
	}
	st.snap.Equipment[slot] = src
	st.snap.rebuild()
	s.persist(ctx, account, st.snap)
	return st.snap.Clone(), nil
}

// Unequip clears a slot. NFT-derived items re-enter the NFT pool; regular
// items return to the bag.
func (s *Service) Unequip(ctx context.Context, account chain.Address, slot item.SlotType) (Snapshot, error) {
	const op = "reconcile.Unequip"
	if !slot.Valid() {
		return Snapshot{}, gerr.Validation(op, fmt.Sprintf("unknown slot %q", slot))
	}

	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	it, occupied := st.snap.Equipment[slot]
	if !occupied {
		return Snapshot{}, gerr.Validation(op, "slot is empty")
	}
	delete(st.snap.Equipment, slot)
	s.returnToPool(st, it)
	st.snap.rebuild()
	s.persist(ctx, account, st.snap)
	return st.snap.Clone(), nil
}

// GenerateDrop rolls the drop dice for one click and, on success, admits a
// freshly generated item. The item is persisted to the backend before it
// becomes visible locally; a persistence failure discards the drop.
func (s *Service) GenerateDrop(ctx context.Context, account chain.Address) (*item.Item, error) {
	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	stats := st.snap.Stats
	if !s.gen.Roll(stats.DropChance()) {
		return nil, nil
	}
	drop := s.gen.Item(stats.RarityMod, stats.LuckBoost)

	if err := s.backend.AddInventoryItem(ctx, string(account.Normalize()), drop); err != nil {
		s.log.Warn("drop discarded, backend persist failed",
			zap.String("account", string(account)), zap.String("item", drop.ID), zap.Error(err))
		return nil, err
	}
	st.snap.Inventory = append(st.snap.Inventory, drop)
	s.persist(ctx, account, st.snap)
	return &drop, nil
}

// Sell removes a bag item and returns the gems it is worth. NFT-derived
// items cannot be quick-sold; they must be delisted or transferred on
// chain. The backend deletion happens first so a remote failure leaves the
// item in place.
func (s *Service) Sell(ctx context.Context, account chain.Address, itemID string) (int64, error) {
	const op = "reconcile.Sell"

	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	idx := -1
	for i, it := range st.snap.Inventory {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, gerr.Validation(op, "item not in inventory")
	}
	it := st.snap.Inventory[idx]
	if it.FromNFT {
		return 0, gerr.Validation(op, "wrapped items cannot be quick-sold")
	}

	prices, err := s.backend.SellPrices(ctx)
	if err != nil {
		return 0, err
	}
	value := prices.Price(it.Rarity)
	if value <= 0 {
		return 0, gerr.Validation(op, fmt.Sprintf("no sell price for rarity %s", it.Rarity))
	}

	if err := s.backend.DeleteInventoryItem(ctx, string(account.Normalize()), itemID); err != nil {
		return 0, err
	}
	st.snap.Inventory = append(st.snap.Inventory[:idx], st.snap.Inventory[idx+1:]...)
	s.persist(ctx, account, st.snap)
	return value, nil
}

// RemoveItem drops an item from the local snapshot without touching the
// backend. The wrap flow calls this after the source item has been minted.
func (s *Service) RemoveItem(ctx context.Context, account chain.Address, itemID string) {
	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	for i, it := range st.snap.Inventory {
		if it.ID == itemID {
			st.snap.Inventory = append(st.snap.Inventory[:i], st.snap.Inventory[i+1:]...)
			break
		}
	}
	if slot, ok := st.snap.Equipment.SlotOf(itemID); ok {
		delete(st.snap.Equipment, slot)
	}
	st.snap.rebuild()
	s.persist(ctx, account, st.snap)
}

// FindItem locates an item in the bag or equipped set.
func (s *Service) FindItem(account chain.Address, itemID string) (item.Item, bool) {
	st := s.stateFor(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, it := range st.snap.Inventory {
		if it.ID == itemID {
			return it.Clone(), true
		}
	}
	if slot, ok := st.snap.Equipment.SlotOf(itemID); ok {
		return st.snap.Equipment[slot].Clone(), true
	}
	return item.Item{}, false
}

// ---- internals ----

// takeFromPools removes the item from whichever pool holds it and returns
// the canonical stored copy. The dragged payload is only used as a key; the
// stored attributes win.
func (s *Service) takeFromPools(st *state, it item.Item) (item.Item, bool) {
	for i, held := range st.snap.Inventory {
		if held.ID == it.ID {
			st.snap.Inventory = append(st.snap.Inventory[:i], st.snap.Inventory[i+1:]...)
			return held, true
		}
	}
	if rec, ok := item.RecordFromItem(it); ok {
		for i, held := range st.snap.NFTs {
			if held.TokenID == rec.TokenID {
				st.snap.NFTs = append(st.snap.NFTs[:i], st.snap.NFTs[i+1:]...)
				return held.VirtualItem(), true
			}
		}
	}
	return item.Item{}, false
}

// returnToPool puts an unequipped item back where it came from, guarding
// against duplicates in both pools.
func (s *Service) returnToPool(st *state, it item.Item) {
	if rec, ok := item.RecordFromItem(it); ok {
		for _, held := range st.snap.NFTs {
			if held.TokenID == rec.TokenID {
				return
			}
		}
		st.snap.NFTs = append(st.snap.NFTs, rec)
		return
	}
	for _, held := range st.snap.Inventory {
		if held.ID == it.ID {
			return
		}
	}
	st.snap.Inventory = append(st.snap.Inventory, it)
}

// fetchNFTs pulls the backend's global NFT index and verifies on-chain
// ownership per token. Verification failures exclude the token (fail
// closed) and are logged; a missing NFT contract excludes everything.
func (s *Service) fetchNFTs(ctx context.Context, account chain.Address, contracts chain.Contracts) ([]item.NFTRecord, map[uint64]chain.Address) {
	entries, err := s.backend.NFTs(ctx)
	if err != nil {
		s.log.Warn("nft fetch failed", zap.String("account", string(account)), zap.Error(err))
		return nil, nil
	}

	records := make([]item.NFTRecord, 0, len(entries))
	for _, e := range entries {
		rec := e.Record
		if e.Thin {
			// Legacy rows carry only the token id; type and bonus come from
			// token metadata, which the market view resolves lazily. The
			// reconciler still verifies ownership so the token counts.
			rec = item.NFTRecord{TokenID: e.Record.TokenID}
		}
		records = append(records, rec)
	}

	verified := make(map[uint64]chain.Address, len(records))
	if contracts.NFT == nil {
		s.log.Warn("nft contract unavailable, excluding all tokens",
			zap.String("account", string(account)))
		return records, verified
	}
	for _, rec := range records {
		owner, err := contracts.NFT.OwnerOf(ctx, rec.TokenID)
		if err != nil {
			s.log.Warn("ownership check failed, excluding token",
				zap.String("account", string(account)), zap.Uint64("token", rec.TokenID), zap.Error(err))
			continue
		}
		verified[rec.TokenID] = owner
	}
	return records, verified
}

// loadEquipment restores the persisted equipped set, preferring the cache
// over the database.
func (s *Service) loadEquipment(account chain.Address) item.Equipment {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if raw, err := s.cache.Get(ctx, cache.KeySnapshot(string(account.Normalize()))); err == nil {
		var eq item.Equipment
		if err := json.Unmarshal([]byte(raw), &eq); err == nil && eq.Validate() == nil {
			return eq
		}
	}

	var row model.EquipmentSnapshot
	err := s.db.First(&row, "account = ?", string(account.Normalize())).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("snapshot load failed", zap.String("account", string(account)), zap.Error(err))
		}
		return item.Equipment{}
	}
	var eq item.Equipment
	if err := json.Unmarshal(row.Items, &eq); err != nil || eq.Validate() != nil {
		return item.Equipment{}
	}
	return eq
}

// persist writes the equipped set to the database and cache, then notifies
// state subscribers. Persistence failures are logged, not surfaced; the
// in-memory snapshot is already the new truth.
func (s *Service) persist(ctx context.Context, account chain.Address, snap Snapshot) {
	acct := string(account.Normalize())

	raw, err := json.Marshal(snap.Equipment)
	if err != nil {
		s.log.Error("snapshot marshal failed", zap.String("account", acct), zap.Error(err))
		return
	}

	row := model.EquipmentSnapshot{Account: acct, Items: datatypes.JSON(raw)}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"items", "updated_at"}),
	}).Create(&row).Error; err != nil {
		s.log.Warn("snapshot db persist failed", zap.String("account", acct), zap.Error(err))
	}
	if err := s.cache.Set(ctx, cache.KeySnapshot(acct), string(raw), snapshotTTL); err != nil {
		s.log.Warn("snapshot cache persist failed", zap.String("account", acct), zap.Error(err))
	}
	s.publish(ctx, account, snap)
}

func (s *Service) publish(ctx context.Context, account chain.Address, snap Snapshot) {
	if s.pubsub == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	acct := string(account.Normalize())
	if err := s.pubsub.Publish(ctx, cache.ChannelState(acct), string(raw)); err != nil {
		s.log.Debug("state publish failed", zap.String("account", acct), zap.Error(err))
	}
}
