package chain

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Event names emitted by the GEM token contract.
const (
	EventGemsPurchased = "GemsPurchased"
	EventGemsDeposited = "GemsDeposited"
	EventItemWrapped   = "ItemWrapped"
)

// Event names emitted by the NFT and marketplace contracts.
const (
	EventNFTMinted          = "NFTMinted"
	EventItemPurchased      = "ItemPurchased"
	EventMarketplacePayment = "MarketplacePayment"
)

// ErrNotOwner is returned by marketplace mutations rejected on-chain
// because the caller does not own the listing.
var ErrNotOwner = errors.New("chain: not your listing")

// GemsContract is the fungible GEM token call surface. Implementations are
// bound to a signing wallet; every mutating call submits a transaction and
// waits for it to be mined.
type GemsContract interface {
	ContractAddress() Address

	BalanceOf(ctx context.Context, owner Address) (uint64, error)
	Allowance(ctx context.Context, owner, spender Address) (uint64, error)
	Approve(ctx context.Context, spender Address, amount uint64) error
	GemPrice(ctx context.Context) (*big.Int, error)
	Admin(ctx context.Context) (Address, error)
	TotalSupply(ctx context.Context) (uint64, error)
	AvailableForSale(ctx context.Context) (uint64, error)

	// BuyGems exchanges native currency for GEM; value is the attached wei.
	BuyGems(ctx context.Context, value *big.Int) error
	// DepositGems credits off-chain gems onto the token balance.
	DepositGems(ctx context.Context, amount uint64) error
	// WrapItemAsNFT mints an NFT for an inventory item and returns the
	// mined receipt for event-log parsing.
	WrapItemAsNFT(ctx context.Context, itemType string, rarity uint8, bonus uint8, uri string) (*Receipt, error)

	// QueryFilter returns all historic events with the given name, oldest
	// first. Account filtering happens caller-side on the decoded args.
	QueryFilter(ctx context.Context, event string) ([]Event, error)
}

// NFTContract is the item NFT call surface.
type NFTContract interface {
	ContractAddress() Address

	OwnerOf(ctx context.Context, tokenID uint64) (Address, error)
	TokenURI(ctx context.Context, tokenID uint64) (string, error)
	GetApproved(ctx context.Context, tokenID uint64) (Address, error)
	Approve(ctx context.Context, to Address, tokenID uint64) error
	TotalSupply(ctx context.Context) (uint64, error)
}

// MarketContract is the marketplace call surface.
type MarketContract interface {
	ContractAddress() Address

	GetListing(ctx context.Context, tokenID uint64) (Listing, error)
	ListItem(ctx context.Context, tokenID, priceInGems uint64) error
	DelistItem(ctx context.Context, tokenID uint64) error
	BuyItem(ctx context.Context, tokenID uint64) error

	QueryFilter(ctx context.Context, event string) ([]Event, error)
}

// BlockReader resolves block numbers to timestamps for history display.
type BlockReader interface {
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// Contracts bundles the per-session contract handles produced by the wallet
// layer at login. Any handle may be nil when the wallet did not expose it.
type Contracts struct {
	Gems   GemsContract
	NFT    NFTContract
	Market MarketContract
	Blocks BlockReader
}

// Ready reports whether all three contract handles are present.
func (c Contracts) Ready() bool {
	return c.Gems != nil && c.NFT != nil && c.Market != nil
}

// Dialer produces a contract bundle for an account. The wallet integration
// supplies the implementation; tests and the dev loop use chaintest.
type Dialer interface {
	Dial(ctx context.Context, account Address) (Contracts, error)
}
