// Package market is the NFT marketplace view: browsing listings, listing
// and delisting owned tokens, and buying with on-chain GEM. Metadata and
// price analysis come from the backend and degrade per item; the chain is
// authoritative for everything else.
package market

import (
	"context"
	"fmt"

	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/gerr"
	"go.uber.org/zap"
)

// Backend is the slice of the remote service the market view needs.
type Backend interface {
	Metadata(ctx context.Context, metaURL string) (map[string]any, error)
	PredictPrice(ctx context.Context, rec item.NFTRecord, price int64) (*backend.PricePrediction, error)
}

// ListingView is one browsable marketplace row.
type ListingView struct {
	TokenID     uint64                   `json:"tokenId"`
	Seller      chain.Address            `json:"seller"`
	PriceInGems uint64                   `json:"priceInGems"`
	Metadata    map[string]any           `json:"metadata,omitempty"`
	Prediction  *backend.PricePrediction `json:"prediction,omitempty"`
	Mine        bool                     `json:"mine"`
}

// OwnedView is one row of the account's token panel.
type OwnedView struct {
	TokenID     uint64 `json:"tokenId"`
	TokenURI    string `json:"tokenUri,omitempty"`
	Listed      bool   `json:"listed"`
	PriceInGems uint64 `json:"priceInGems,omitempty"`
}

// Service is the marketplace facade.
type Service struct {
	backend Backend
	log     *zap.Logger
}

func NewService(b Backend, log *zap.Logger) *Service {
	return &Service{backend: b, log: log.Named("market")}
}

// Listings walks the token space and returns every active listing. Per-item
// failures degrade that item: an unreadable listing is skipped, missing
// metadata renders without it, and the price prediction is best effort.
func (s *Service) Listings(ctx context.Context, account chain.Address, contracts chain.Contracts) ([]ListingView, error) {
	const op = "market.Listings"
	if contracts.NFT == nil || contracts.Market == nil {
		return nil, gerr.Validation(op, "contracts unavailable")
	}

	supply, err := contracts.NFT.TotalSupply(ctx)
	if err != nil {
		return nil, gerr.Revert(op, err)
	}

	views := make([]ListingView, 0)
	for tokenID := uint64(1); tokenID <= supply; tokenID++ {
		listing, err := contracts.Market.GetListing(ctx, tokenID)
		if err != nil {
			s.log.Warn("listing read failed, skipping token", zap.Uint64("token", tokenID), zap.Error(err))
			continue
		}
		if !listing.Listed() {
			continue
		}
		view := ListingView{
			TokenID:     tokenID,
			Seller:      listing.Seller.Normalize(),
			PriceInGems: listing.PriceInGems,
			Mine:        listing.Seller.Equal(account),
		}
		view.Metadata = s.metadata(ctx, contracts, tokenID)
		view.Prediction = s.predict(ctx, view, tokenID)
		views = append(views, view)
	}
	return views, nil
}

// Owned returns the tokens the account can manage on the market: confirmed
// owned on chain, with their current listing state. Ownership checks fail
// closed; a token whose owner cannot be read is excluded.
func (s *Service) Owned(ctx context.Context, account chain.Address, contracts chain.Contracts, tokenIDs []uint64) ([]OwnedView, error) {
	const op = "market.Owned"
	if contracts.NFT == nil || contracts.Market == nil {
		return nil, gerr.Validation(op, "contracts unavailable")
	}

	views := make([]OwnedView, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		owner, err := contracts.NFT.OwnerOf(ctx, tokenID)
		if err != nil {
			s.log.Warn("ownership check failed, excluding token", zap.Uint64("token", tokenID), zap.Error(err))
			continue
		}
		if !owner.Equal(account) {
			continue
		}
		view := OwnedView{TokenID: tokenID}
		if uri, err := contracts.NFT.TokenURI(ctx, tokenID); err == nil {
			view.TokenURI = uri
		}
		if listing, err := contracts.Market.GetListing(ctx, tokenID); err == nil && listing.Listed() {
			view.Listed = true
			view.PriceInGems = listing.PriceInGems
		}
		views = append(views, view)
	}
	return views, nil
}

// List puts an owned token up for sale. The marketplace is approved for the
// token first when it is not already.
func (s *Service) List(ctx context.Context, account chain.Address, contracts chain.Contracts, tokenID uint64, priceInGems uint64) error {
	const op = "market.List"
	if priceInGems == 0 {
		return gerr.Validation(op, "price must be positive")
	}
	if contracts.NFT == nil || contracts.Market == nil {
		return gerr.Validation(op, "contracts unavailable")
	}

	approved, err := contracts.NFT.GetApproved(ctx, tokenID)
	if err != nil {
		return gerr.Revert(op, err)
	}
	if !approved.Equal(contracts.Market.ContractAddress()) {
		if err := contracts.NFT.Approve(ctx, contracts.Market.ContractAddress(), tokenID); err != nil {
			return gerr.Revert(op, err)
		}
	}
	if err := contracts.Market.ListItem(ctx, tokenID, priceInGems); err != nil {
		return gerr.Revert(op, err)
	}
	return nil
}

// Delist removes the account's own listing. A rejection for somebody
// else's listing surfaces verbatim.
func (s *Service) Delist(ctx context.Context, contracts chain.Contracts, tokenID uint64) error {
	const op = "market.Delist"
	if contracts.Market == nil {
		return gerr.Validation(op, "contracts unavailable")
	}
	if err := contracts.Market.DelistItem(ctx, tokenID); err != nil {
		return gerr.Revert(op, err)
	}
	return nil
}

// Buy purchases a listed token with on-chain GEM. The balance is checked
// before any transaction is sent, so an underfunded buy costs nothing; the
// token allowance is raised to the price when it is short.
func (s *Service) Buy(ctx context.Context, account chain.Address, contracts chain.Contracts, tokenID uint64) error {
	const op = "market.Buy"
	if !contracts.Ready() {
		return gerr.Validation(op, "contracts unavailable")
	}

	listing, err := contracts.Market.GetListing(ctx, tokenID)
	if err != nil {
		return gerr.Revert(op, err)
	}
	if !listing.Listed() {
		return gerr.Validation(op, fmt.Sprintf("token %d is not listed", tokenID))
	}
	if listing.Seller.Equal(account) {
		return gerr.Validation(op, "cannot buy your own listing")
	}

	balance, err := contracts.Gems.BalanceOf(ctx, account)
	if err != nil {
		return gerr.Revert(op, err)
	}
	if balance < listing.PriceInGems {
		return gerr.Validation(op, fmt.Sprintf("insufficient GEM: have %d, need %d", balance, listing.PriceInGems))
	}

	allowance, err := contracts.Gems.Allowance(ctx, account, contracts.Market.ContractAddress())
	if err != nil {
		return gerr.Revert(op, err)
	}
	if allowance < listing.PriceInGems {
		if err := contracts.Gems.Approve(ctx, contracts.Market.ContractAddress(), listing.PriceInGems); err != nil {
			return gerr.Revert(op, err)
		}
	}
	if err := contracts.Market.BuyItem(ctx, tokenID); err != nil {
		return gerr.Revert(op, err)
	}
	return nil
}

// metadata resolves the token's metadata through the backend proxy. Any
// failure renders the listing without metadata.
func (s *Service) metadata(ctx context.Context, contracts chain.Contracts, tokenID uint64) map[string]any {
	uri, err := contracts.NFT.TokenURI(ctx, tokenID)
	if err != nil || uri == "" {
		return nil
	}
	meta, err := s.backend.Metadata(ctx, uri)
	if err != nil {
		s.log.Debug("metadata fetch failed", zap.Uint64("token", tokenID), zap.Error(err))
		return nil
	}
	return meta
}

// predict asks the ML service for a fairness verdict. Best effort only.
func (s *Service) predict(ctx context.Context, view ListingView, tokenID uint64) *backend.PricePrediction {
	rec := item.NFTRecord{TokenID: tokenID}
	if view.Metadata != nil {
		if t, ok := view.Metadata["itemType"].(string); ok {
			rec.ItemType = item.SlotType(t)
		}
		if r, ok := view.Metadata["rarity"].(float64); ok {
			rec.Rarity = int(r)
		}
		if b, ok := view.Metadata["bonus"].(float64); ok {
			rec.Bonus.Value = int(b)
		}
	}
	pred, err := s.backend.PredictPrice(ctx, rec, int64(view.PriceInGems))
	if err != nil {
		s.log.Debug("price prediction failed", zap.Uint64("token", tokenID), zap.Error(err))
		return nil
	}
	return pred
}
