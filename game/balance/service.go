// Package balance manages the two GEM ledgers: the off-chain counter that
// clicking feeds, and the on-chain token balance. The two never merge; a
// deposit is the only bridge, and it moves value strictly from local to
// chain.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/gerr"
	"github.com/gamegems/client/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Backend is the slice of the remote service the ledger needs.
type Backend interface {
	Profile(ctx context.Context, address string) (*backend.Profile, error)
	CreateProfile(ctx context.Context, p *backend.Profile) error
	UpdateLocalGems(ctx context.Context, address string, gems int64) error
}

// ledger is the per-account local counter. dirty marks unflushed writes.
type ledger struct {
	mu    sync.Mutex
	gems  int64
	dirty bool
}

// Service owns the local gem ledger and fronts the on-chain one.
type Service struct {
	db      *gorm.DB
	cache   cache.Cache
	backend Backend
	log     *zap.Logger

	mu      sync.Mutex
	ledgers map[chain.Address]*ledger
}

func NewService(db *gorm.DB, c cache.Cache, b Backend, log *zap.Logger) *Service {
	return &Service{
		db:      db,
		cache:   c,
		backend: b,
		log:     log.Named("balance"),
		ledgers: make(map[chain.Address]*ledger),
	}
}

func (s *Service) ledgerFor(account chain.Address) *ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[account.Normalize()]
	if !ok {
		l = &ledger{}
		s.ledgers[account.Normalize()] = l
	}
	return l
}

// Load primes the local ledger from the backend profile, creating the
// profile on first login. When the backend is unreachable the locally
// persisted counter serves instead; the backend value wins once it is
// reachable again.
func (s *Service) Load(ctx context.Context, account chain.Address, nickname string) (int64, error) {
	acct := string(account.Normalize())
	l := s.ledgerFor(account)
	l.mu.Lock()
	defer l.mu.Unlock()

	prof, err := s.backend.Profile(ctx, acct)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		prof = &backend.Profile{Address: acct, Nickname: nickname}
		if err := s.backend.CreateProfile(ctx, prof); err != nil {
			return 0, err
		}
	case err != nil:
		cached := s.loadCached(acct)
		s.log.Warn("profile fetch failed, serving cached gems",
			zap.String("account", acct), zap.Int64("gems", cached), zap.Error(err))
		l.gems = cached
		return l.gems, nil
	}

	l.gems = prof.LocalGems
	l.dirty = false
	s.persistLocal(ctx, acct, prof.Nickname, l.gems)
	return l.gems, nil
}

// Local returns the current off-chain counter.
func (s *Service) Local(account chain.Address) int64 {
	l := s.ledgerFor(account)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gems
}

// AddLocal credits the off-chain counter (clicks, quick sells). Negative
// deltas are allowed for internal spend paths but never drive the counter
// below zero.
func (s *Service) AddLocal(ctx context.Context, account chain.Address, delta int64) int64 {
	l := s.ledgerFor(account)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gems += delta
	if l.gems < 0 {
		l.gems = 0
	}
	l.dirty = true
	s.persistLocal(ctx, string(account.Normalize()), "", l.gems)
	return l.gems
}

// OnChain reads the token balance for the account.
func (s *Service) OnChain(ctx context.Context, account chain.Address, contracts chain.Contracts) (uint64, error) {
	if contracts.Gems == nil {
		return 0, gerr.Validation("balance.OnChain", "gems contract unavailable")
	}
	bal, err := contracts.Gems.BalanceOf(ctx, account)
	if err != nil {
		return 0, gerr.Revert("balance.OnChain", err)
	}
	return bal, nil
}

// GemPrice returns the native-currency price of one GEM in wei.
func (s *Service) GemPrice(ctx context.Context, contracts chain.Contracts) (*big.Int, error) {
	if contracts.Gems == nil {
		return nil, gerr.Validation("balance.GemPrice", "gems contract unavailable")
	}
	price, err := contracts.Gems.GemPrice(ctx)
	if err != nil {
		return nil, gerr.Revert("balance.GemPrice", err)
	}
	return price, nil
}

// BuyGems purchases count GEM with native currency at the current price.
func (s *Service) BuyGems(ctx context.Context, account chain.Address, contracts chain.Contracts, count uint64) error {
	const op = "balance.BuyGems"
	if count == 0 {
		return gerr.Validation(op, "count must be positive")
	}
	if contracts.Gems == nil {
		return gerr.Validation(op, "gems contract unavailable")
	}
	price, err := contracts.Gems.GemPrice(ctx)
	if err != nil {
		return gerr.Revert(op, err)
	}
	value := new(big.Int).Mul(price, new(big.Int).SetUint64(count))
	if err := contracts.Gems.BuyGems(ctx, value); err != nil {
		return gerr.Revert(op, err)
	}
	return nil
}

// Deposit moves amount from the local counter onto the token balance. The
// local counter is debited only after the transaction is mined; a revert
// leaves both ledgers untouched.
func (s *Service) Deposit(ctx context.Context, account chain.Address, contracts chain.Contracts, amount int64) (int64, error) {
	const op = "balance.Deposit"
	if amount <= 0 {
		return 0, gerr.Validation(op, "amount must be positive")
	}
	if contracts.Gems == nil {
		return 0, gerr.Validation(op, "gems contract unavailable")
	}

	l := s.ledgerFor(account)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gems < amount {
		return 0, gerr.Validation(op, fmt.Sprintf("insufficient local gems: have %d, need %d", l.gems, amount))
	}
	if err := contracts.Gems.DepositGems(ctx, uint64(amount)); err != nil {
		return 0, gerr.Revert(op, err)
	}

	l.gems -= amount
	l.dirty = true
	acct := string(account.Normalize())
	s.persistLocal(ctx, acct, "", l.gems)
	if err := s.backend.UpdateLocalGems(ctx, acct, l.gems); err != nil {
		// The deposit succeeded on chain; the profile write catches up on
		// the next flush.
		s.log.Warn("post-deposit profile update failed", zap.String("account", acct), zap.Error(err))
	} else {
		l.dirty = false
	}
	return l.gems, nil
}

// FlushDirty writes every unflushed counter back to the backend. The
// scheduler calls this periodically; login and deposit flush inline.
func (s *Service) FlushDirty(ctx context.Context) {
	s.mu.Lock()
	accounts := make([]chain.Address, 0, len(s.ledgers))
	for acct := range s.ledgers {
		accounts = append(accounts, acct)
	}
	s.mu.Unlock()

	for _, acct := range accounts {
		l := s.ledgerFor(acct)
		l.mu.Lock()
		if !l.dirty {
			l.mu.Unlock()
			continue
		}
		gems := l.gems
		l.mu.Unlock()

		if err := s.backend.UpdateLocalGems(ctx, string(acct), gems); err != nil {
			s.log.Warn("gem flush failed", zap.String("account", string(acct)), zap.Error(err))
			continue
		}
		l.mu.Lock()
		// Only clear when nothing changed underneath the flush.
		if l.gems == gems {
			l.dirty = false
		}
		l.mu.Unlock()
	}
}

// ---- local persistence ----

func (s *Service) loadCached(acct string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if raw, err := s.cache.HGet(ctx, cache.KeyProfile(acct), "local_gems"); err == nil {
		var gems int64
		if _, err := fmt.Sscanf(raw, "%d", &gems); err == nil {
			return gems
		}
	}
	var row model.Profile
	if err := s.db.First(&row, "account = ?", acct).Error; err != nil {
		return 0
	}
	return row.LocalGems
}

func (s *Service) persistLocal(ctx context.Context, acct, nickname string, gems int64) {
	row := model.Profile{Account: acct, Nickname: nickname, LocalGems: gems}
	cols := []string{"local_gems", "updated_at"}
	if nickname != "" {
		cols = append(cols, "nickname")
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&row).Error; err != nil {
		s.log.Warn("profile persist failed", zap.String("account", acct), zap.Error(err))
	}
	if err := s.cache.HSet(ctx, cache.KeyProfile(acct), "local_gems", fmt.Sprintf("%d", gems)); err != nil {
		s.log.Debug("profile cache write failed", zap.String("account", acct), zap.Error(err))
	}
}
