package market

import (
	"context"
	"errors"
	"testing"

	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/chain/chaintest"
	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/gerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	buyer  = chain.Address("0xbuyer")
	seller = chain.Address("0xseller")
)

type fakeBackend struct {
	meta        map[string]map[string]any
	failMeta    bool
	failPredict bool
	predictions int
}

func (f *fakeBackend) Metadata(_ context.Context, metaURL string) (map[string]any, error) {
	if f.failMeta {
		return nil, errors.New("proxy down")
	}
	m, ok := f.meta[metaURL]
	if !ok {
		return nil, errors.New("no metadata")
	}
	return m, nil
}

func (f *fakeBackend) PredictPrice(_ context.Context, rec item.NFTRecord, price int64) (*backend.PricePrediction, error) {
	if f.failPredict {
		return nil, errors.New("ml down")
	}
	f.predictions++
	return &backend.PricePrediction{RecommendedPrice: float64(price) * 0.8, PriceStatus: "fair"}, nil
}

func newTestService() (*Service, *fakeBackend) {
	fb := &fakeBackend{meta: make(map[string]map[string]any)}
	return NewService(fb, zap.NewNop()), fb
}

// listToken mints a token for seller and lists it at price.
func listToken(t *testing.T, world *chaintest.World, price uint64) uint64 {
	t.Helper()
	token := world.MintNFT(seller, "ipfs://meta")
	require.NoError(t, world.NFTFor(seller).Approve(context.Background(), world.MarketAddr, token))
	require.NoError(t, world.MarketFor(seller).ListItem(context.Background(), token, price))
	return token
}

func TestListings_EnrichedAndMarked(t *testing.T) {
	world := chaintest.NewWorld()
	svc, fb := newTestService()
	fb.meta["ipfs://meta"] = map[string]any{"name": "Epic Lamp", "itemType": "Lamp", "rarity": float64(3), "bonus": float64(7)}

	token := listToken(t, world, 120)
	world.MintNFT(seller, "ipfs://unlisted") // owned but not listed

	views, err := svc.Listings(context.Background(), seller, world.ContractsFor(seller))
	require.NoError(t, err)
	require.Len(t, views, 1, "unlisted tokens do not appear")

	v := views[0]
	assert.Equal(t, token, v.TokenID)
	assert.Equal(t, uint64(120), v.PriceInGems)
	assert.True(t, v.Mine)
	assert.Equal(t, "Epic Lamp", v.Metadata["name"])
	require.NotNil(t, v.Prediction)
	assert.Equal(t, "fair", v.Prediction.PriceStatus)
}

func TestListings_MetadataFailureDegradesItem(t *testing.T) {
	world := chaintest.NewWorld()
	svc, fb := newTestService()
	fb.failMeta = true
	fb.failPredict = true
	listToken(t, world, 50)

	views, err := svc.Listings(context.Background(), buyer, world.ContractsFor(buyer))
	require.NoError(t, err)
	require.Len(t, views, 1, "listing renders without metadata or prediction")
	assert.Nil(t, views[0].Metadata)
	assert.Nil(t, views[0].Prediction)
	assert.False(t, views[0].Mine)
}

func TestOwned_FailClosedOwnership(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()

	mine := world.MintNFT(buyer, "ipfs://1")
	other := world.MintNFT(seller, "ipfs://2")
	broken := world.MintNFT(buyer, "ipfs://3")

	contracts := world.ContractsFor(buyer)
	contracts.NFT.(*chaintest.NFT).FailTokens[broken] = true

	views, err := svc.Owned(context.Background(), buyer, contracts, []uint64{mine, other, broken})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, mine, views[0].TokenID)
	assert.False(t, views[0].Listed)
}

func TestList_ApprovesWhenNeeded(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()
	token := world.MintNFT(seller, "ipfs://1")

	require.NoError(t, svc.List(context.Background(), seller, world.ContractsFor(seller), token, 75))

	listing, err := world.MarketFor(seller).GetListing(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, uint64(75), listing.PriceInGems)
}

func TestList_ZeroPriceRejected(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()
	token := world.MintNFT(seller, "ipfs://1")

	err := svc.List(context.Background(), seller, world.ContractsFor(seller), token, 0)
	assert.True(t, gerr.IsKind(err, gerr.KindValidation))
}

func TestDelist_NotOwnerSurfaces(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()
	token := listToken(t, world, 50)

	err := svc.Delist(context.Background(), world.ContractsFor(buyer), token)
	require.Error(t, err)
	assert.True(t, gerr.IsKind(err, gerr.KindContractRevert))
	assert.ErrorIs(t, err, chain.ErrNotOwner)

	require.NoError(t, svc.Delist(context.Background(), world.ContractsFor(seller), token))
}

func TestBuy_TransfersTokenAndGems(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()
	token := listToken(t, world, 30)
	world.SetBalance(buyer, 100)

	require.NoError(t, svc.Buy(context.Background(), buyer, world.ContractsFor(buyer), token))

	owner, err := world.NFTFor(buyer).OwnerOf(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, owner.Equal(buyer))

	bal, err := world.GemsFor(buyer).BalanceOf(context.Background(), buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), bal)
}

func TestBuy_InsufficientBalanceShortCircuits(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()
	token := listToken(t, world, 300)
	world.SetBalance(buyer, 200)

	contracts := world.ContractsFor(buyer)
	market := world.MarketFor(buyer)
	market.Fail["BuyItem"] = true // would explode if reached
	contracts.Market = market

	err := svc.Buy(context.Background(), buyer, contracts, token)
	assert.True(t, gerr.IsKind(err, gerr.KindValidation), "no transaction attempted: %v", err)
}

func TestBuy_OwnListingRejected(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()
	token := listToken(t, world, 30)
	world.SetBalance(seller, 100)

	err := svc.Buy(context.Background(), seller, world.ContractsFor(seller), token)
	assert.True(t, gerr.IsKind(err, gerr.KindValidation))
}

func TestBuy_UnlistedRejected(t *testing.T) {
	world := chaintest.NewWorld()
	svc, _ := newTestService()
	token := world.MintNFT(seller, "ipfs://1")
	world.SetBalance(buyer, 100)

	err := svc.Buy(context.Background(), buyer, world.ContractsFor(buyer), token)
	assert.True(t, gerr.IsKind(err, gerr.KindValidation))
}
