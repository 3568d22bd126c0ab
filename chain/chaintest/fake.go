// Package chaintest provides in-memory contract fakes for tests and the
// development loop. The fakes keep just enough ledger state to exercise the
// client's reconciliation and history paths; they are not a chain simulator.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gamegems/client/chain"
)

// ErrForced is the base error injected via the Fail maps.
var ErrForced = errors.New("chaintest: forced failure")

// World holds the shared fake ledger: one gems contract, one NFT contract,
// one marketplace, and a block clock. All fakes bound to the same World see
// each other's effects.
type World struct {
	mu        sync.Mutex
	nextBlock uint64
	nextToken uint64
	nextTx    uint64
	blocks    map[uint64]time.Time

	GemsAddr   chain.Address
	NFTAddr    chain.Address
	MarketAddr chain.Address

	balances   map[chain.Address]uint64
	allowances map[string]uint64
	gemPrice   *big.Int
	admin      chain.Address

	owners   map[uint64]chain.Address
	uris     map[uint64]string
	approved map[uint64]chain.Address

	listings map[uint64]chain.Listing

	gemsEvents   map[string][]chain.Event
	marketEvents map[string][]chain.Event

	// BrokenBlocks lists block numbers whose timestamp lookup fails.
	BrokenBlocks map[uint64]bool
}

// NewWorld creates a fake ledger with fixed contract addresses and a gem
// price of 1000 wei.
func NewWorld() *World {
	return &World{
		nextBlock:    1,
		nextToken:    1,
		blocks:       make(map[uint64]time.Time),
		GemsAddr:     "0x00000000000000000000000000000000000gem5",
		NFTAddr:      "0x00000000000000000000000000000000000item",
		MarketAddr:   "0x000000000000000000000000000000000market",
		balances:     make(map[chain.Address]uint64),
		allowances:   make(map[string]uint64),
		gemPrice:     big.NewInt(1000),
		owners:       make(map[uint64]chain.Address),
		uris:         make(map[uint64]string),
		approved:     make(map[uint64]chain.Address),
		listings:     make(map[uint64]chain.Listing),
		gemsEvents:   make(map[string][]chain.Event),
		marketEvents: make(map[string][]chain.Event),
		BrokenBlocks: make(map[uint64]bool),
	}
}

// SetBalance seeds an account's GEM balance.
func (w *World) SetBalance(acct chain.Address, gems uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[acct] = gems
}

// MintNFT seeds a minted token owned by acct and returns its id.
func (w *World) MintNFT(acct chain.Address, uri string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextToken
	w.nextToken++
	w.owners[id] = acct
	w.uris[id] = uri
	return id
}

// SealBlock advances the block clock and returns the sealed block number.
func (w *World) SealBlock(at time.Time) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sealLocked(at)
}

func (w *World) sealLocked(at time.Time) uint64 {
	n := w.nextBlock
	w.nextBlock++
	w.blocks[n] = at
	return n
}

func (w *World) txLocked() string {
	w.nextTx++
	return fmt.Sprintf("0xtx%04d", w.nextTx)
}

func (w *World) emitGems(name string, block uint64, tx string, args chain.Args) {
	w.gemsEvents[name] = append(w.gemsEvents[name], chain.Event{
		Name: name, Address: w.GemsAddr, BlockNumber: block, TxHash: tx, Args: args,
	})
}

func (w *World) emitMarket(name string, block uint64, tx string, args chain.Args) {
	w.marketEvents[name] = append(w.marketEvents[name], chain.Event{
		Name: name, Address: w.MarketAddr, BlockNumber: block, TxHash: tx, Args: args,
	})
}

func allowanceKey(owner, spender chain.Address) string {
	return string(owner) + "|" + string(spender)
}

// GemsFor returns a fake gems contract bound to acct.
func (w *World) GemsFor(acct chain.Address) *Gems {
	return &Gems{world: w, account: acct, Fail: make(map[string]bool)}
}

// NFTFor returns a fake NFT contract bound to acct.
func (w *World) NFTFor(acct chain.Address) *NFT {
	return &NFT{world: w, account: acct, Fail: make(map[string]bool), FailTokens: make(map[uint64]bool)}
}

// MarketFor returns a fake marketplace contract bound to acct.
func (w *World) MarketFor(acct chain.Address) *Market {
	return &Market{world: w, account: acct, Fail: make(map[string]bool)}
}

// BlocksReader returns the fake block timestamp resolver.
func (w *World) BlocksReader() *Blocks { return &Blocks{world: w} }

// ContractsFor bundles all fakes for acct.
func (w *World) ContractsFor(acct chain.Address) chain.Contracts {
	return chain.Contracts{
		Gems:   w.GemsFor(acct),
		NFT:    w.NFTFor(acct),
		Market: w.MarketFor(acct),
		Blocks: w.BlocksReader(),
	}
}

// Dial returns a contract bundle bound to acct, satisfying chain.Dialer.
func (w *World) Dial(_ context.Context, acct chain.Address) (chain.Contracts, error) {
	return w.ContractsFor(acct), nil
}

// Gems is the fake GEM token bound to one signing account.
// Fail forces the named method to return ErrForced.
type Gems struct {
	world   *World
	account chain.Address
	Fail    map[string]bool
}

func (g *Gems) failed(method string) error {
	if g.Fail[method] {
		return fmt.Errorf("%w: Gems.%s", ErrForced, method)
	}
	return nil
}

func (g *Gems) ContractAddress() chain.Address { return g.world.GemsAddr }

func (g *Gems) BalanceOf(_ context.Context, owner chain.Address) (uint64, error) {
	if err := g.failed("BalanceOf"); err != nil {
		return 0, err
	}
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	return g.world.balances[chain.Normalize(string(owner))], nil
}

func (g *Gems) Allowance(_ context.Context, owner, spender chain.Address) (uint64, error) {
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	return g.world.allowances[allowanceKey(owner, spender)], nil
}

func (g *Gems) Approve(_ context.Context, spender chain.Address, amount uint64) error {
	if err := g.failed("Approve"); err != nil {
		return err
	}
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	g.world.allowances[allowanceKey(g.account, spender)] = amount
	return nil
}

func (g *Gems) GemPrice(_ context.Context) (*big.Int, error) {
	if err := g.failed("GemPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(g.world.gemPrice), nil
}

func (g *Gems) Admin(_ context.Context) (chain.Address, error) {
	return g.world.admin, nil
}

func (g *Gems) TotalSupply(_ context.Context) (uint64, error) {
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	var total uint64
	for _, b := range g.world.balances {
		total += b
	}
	return total, nil
}

func (g *Gems) AvailableForSale(_ context.Context) (uint64, error) {
	return 1_000_000, nil
}

func (g *Gems) BuyGems(_ context.Context, value *big.Int) error {
	if err := g.failed("BuyGems"); err != nil {
		return err
	}
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	gems := new(big.Int).Div(value, g.world.gemPrice).Uint64()
	g.world.balances[g.account] += gems
	block := g.world.sealLocked(time.Now())
	g.world.emitGems(chain.EventGemsPurchased, block, g.world.txLocked(), chain.Args{
		"buyer":        string(g.account),
		"gemsReceived": fmt.Sprintf("%d", gems),
	})
	return nil
}

func (g *Gems) DepositGems(_ context.Context, amount uint64) error {
	if err := g.failed("DepositGems"); err != nil {
		return err
	}
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	g.world.balances[g.account] += amount
	block := g.world.sealLocked(time.Now())
	g.world.emitGems(chain.EventGemsDeposited, block, g.world.txLocked(), chain.Args{
		"player":     string(g.account),
		"amountSent": fmt.Sprintf("%d", amount),
	})
	return nil
}

func (g *Gems) WrapItemAsNFT(_ context.Context, itemType string, rarity uint8, bonus uint8, uri string) (*chain.Receipt, error) {
	if err := g.failed("WrapItemAsNFT"); err != nil {
		return nil, err
	}
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	tokenID := g.world.nextToken
	g.world.nextToken++
	g.world.owners[tokenID] = g.account
	g.world.uris[tokenID] = uri
	block := g.world.sealLocked(time.Now())
	txHash := fmt.Sprintf("0xwrap%d", tokenID)
	g.world.emitGems(chain.EventItemWrapped, block, txHash, chain.Args{
		"player":  string(g.account),
		"tokenId": fmt.Sprintf("%d", tokenID),
	})
	return &chain.Receipt{
		TxHash:      txHash,
		BlockNumber: block,
		Logs: []chain.Log{
			{
				Address: g.world.GemsAddr,
				Topics: []string{
					chain.EventItemWrapped,
					"player", string(g.account),
					"tokenId", fmt.Sprintf("%d", tokenID),
					"itemType", itemType,
					"rarity", fmt.Sprintf("%d", rarity),
					"bonus", fmt.Sprintf("%d", bonus),
				},
			},
		},
	}, nil
}

func (g *Gems) QueryFilter(_ context.Context, event string) ([]chain.Event, error) {
	if g.Fail["QueryFilter:"+event] {
		return nil, fmt.Errorf("%w: Gems.QueryFilter(%s)", ErrForced, event)
	}
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	return append([]chain.Event(nil), g.world.gemsEvents[event]...), nil
}

// NFT is the fake item NFT contract bound to one signing account.
type NFT struct {
	world   *World
	account chain.Address
	Fail    map[string]bool
	// FailTokens forces OwnerOf to error for specific token ids.
	FailTokens map[uint64]bool
}

func (n *NFT) ContractAddress() chain.Address { return n.world.NFTAddr }

func (n *NFT) OwnerOf(_ context.Context, tokenID uint64) (chain.Address, error) {
	if n.Fail["OwnerOf"] || n.FailTokens[tokenID] {
		return "", fmt.Errorf("%w: NFT.OwnerOf(%d)", ErrForced, tokenID)
	}
	n.world.mu.Lock()
	defer n.world.mu.Unlock()
	owner, ok := n.world.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("chaintest: token %d does not exist", tokenID)
	}
	return owner, nil
}

func (n *NFT) TokenURI(_ context.Context, tokenID uint64) (string, error) {
	n.world.mu.Lock()
	defer n.world.mu.Unlock()
	uri, ok := n.world.uris[tokenID]
	if !ok {
		return "", fmt.Errorf("chaintest: token %d does not exist", tokenID)
	}
	return uri, nil
}

func (n *NFT) GetApproved(_ context.Context, tokenID uint64) (chain.Address, error) {
	n.world.mu.Lock()
	defer n.world.mu.Unlock()
	return n.world.approved[tokenID], nil
}

func (n *NFT) Approve(_ context.Context, to chain.Address, tokenID uint64) error {
	if n.Fail["Approve"] {
		return fmt.Errorf("%w: NFT.Approve", ErrForced)
	}
	n.world.mu.Lock()
	defer n.world.mu.Unlock()
	n.world.approved[tokenID] = to
	return nil
}

func (n *NFT) TotalSupply(_ context.Context) (uint64, error) {
	n.world.mu.Lock()
	defer n.world.mu.Unlock()
	return n.world.nextToken - 1, nil
}

// Market is the fake marketplace contract bound to one signing account.
type Market struct {
	world   *World
	account chain.Address
	Fail    map[string]bool
	// Commission taken from each sale, in gems.
	Commission uint64
}

func (m *Market) ContractAddress() chain.Address { return m.world.MarketAddr }

func (m *Market) GetListing(_ context.Context, tokenID uint64) (chain.Listing, error) {
	if m.Fail["GetListing"] {
		return chain.Listing{}, fmt.Errorf("%w: Market.GetListing", ErrForced)
	}
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	l, ok := m.world.listings[tokenID]
	if !ok {
		return chain.Listing{TokenID: tokenID}, nil
	}
	return l, nil
}

func (m *Market) ListItem(_ context.Context, tokenID, priceInGems uint64) error {
	if m.Fail["ListItem"] {
		return fmt.Errorf("%w: Market.ListItem", ErrForced)
	}
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	if !m.world.approved[tokenID].Equal(m.world.MarketAddr) {
		return errors.New("chaintest: marketplace not approved for token")
	}
	m.world.listings[tokenID] = chain.Listing{
		TokenID: tokenID, Seller: m.account, PriceInGems: priceInGems,
	}
	return nil
}

func (m *Market) DelistItem(_ context.Context, tokenID uint64) error {
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	l, ok := m.world.listings[tokenID]
	if !ok {
		return errors.New("chaintest: not listed")
	}
	if !l.Seller.Equal(m.account) {
		return chain.ErrNotOwner
	}
	delete(m.world.listings, tokenID)
	return nil
}

func (m *Market) BuyItem(_ context.Context, tokenID uint64) error {
	if m.Fail["BuyItem"] {
		return fmt.Errorf("%w: Market.BuyItem", ErrForced)
	}
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	l, ok := m.world.listings[tokenID]
	if !ok || !l.Listed() {
		return errors.New("chaintest: not listed")
	}
	price := l.PriceInGems
	if m.world.balances[m.account] < price {
		return errors.New("chaintest: insufficient gem balance")
	}
	if m.world.allowances[allowanceKey(m.account, m.world.MarketAddr)] < price {
		return errors.New("chaintest: insufficient allowance")
	}
	m.world.balances[m.account] -= price
	payout := price - m.Commission
	m.world.balances[l.Seller] += payout
	m.world.owners[tokenID] = m.account
	delete(m.world.listings, tokenID)

	block := m.world.sealLocked(time.Now())
	// Both events belong to the one purchase transaction.
	tx := m.world.txLocked()
	m.world.emitMarket(chain.EventItemPurchased, block, tx, chain.Args{
		"buyer":       string(m.account),
		"tokenId":     fmt.Sprintf("%d", tokenID),
		"priceInGems": fmt.Sprintf("%d", price),
	})
	m.world.emitMarket(chain.EventMarketplacePayment, block, tx, chain.Args{
		"seller":     string(l.Seller),
		"amount":     fmt.Sprintf("%d", payout),
		"commission": fmt.Sprintf("%d", m.Commission),
	})
	return nil
}

func (m *Market) QueryFilter(_ context.Context, event string) ([]chain.Event, error) {
	if m.Fail["QueryFilter:"+event] {
		return nil, fmt.Errorf("%w: Market.QueryFilter(%s)", ErrForced, event)
	}
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	return append([]chain.Event(nil), m.world.marketEvents[event]...), nil
}

// Blocks resolves fake block timestamps.
type Blocks struct {
	world *World
}

func (b *Blocks) BlockTime(_ context.Context, number uint64) (time.Time, error) {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	if b.world.BrokenBlocks[number] {
		return time.Time{}, fmt.Errorf("%w: block %d", ErrForced, number)
	}
	at, ok := b.world.blocks[number]
	if !ok {
		return time.Time{}, fmt.Errorf("chaintest: unknown block %d", number)
	}
	return at, nil
}
