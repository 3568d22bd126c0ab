package rest

import (
	"context"
	"testing"

	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/game/history"
	"github.com/gamegems/client/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHistoryCache_SameBlockEntriesStayDistinct(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	h := &GameHandler{cache: c, logger: zap.NewNop()}
	account := chain.Address("0xplayer")

	// Two deposits of the same amount mined into one block differ only by
	// transaction hash; the cached feed must keep both rows.
	feed := []history.Entry{
		{Type: history.KindDeposit, Value: "+10 GEM", BlockNumber: 5, TxHash: "0xaaa", Timestamp: "2026-01-01 10:00:00"},
		{Type: history.KindDeposit, Value: "+10 GEM", BlockNumber: 5, TxHash: "0xbbb", Timestamp: "2026-01-01 10:00:00"},
		{Type: history.KindPurchase, Value: "+5 GEM", BlockNumber: 3, TxHash: "0xccc", Timestamp: "2026-01-01 09:00:00"},
	}
	h.cacheFeed(context.Background(), account, feed)

	cached := h.cachedFeed(context.Background(), account)
	assert.Len(t, cached, 3)
	assert.ElementsMatch(t, feed, cached)
}

func TestHistoryCache_RecachingIsIdempotent(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	h := &GameHandler{cache: c, logger: zap.NewNop()}
	account := chain.Address("0xplayer")

	feed := []history.Entry{
		{Type: history.KindWrap, Value: "NFT #1", BlockNumber: 2, TxHash: "0xwrap1", Timestamp: "2026-01-01 08:00:00"},
	}
	h.cacheFeed(context.Background(), account, feed)
	h.cacheFeed(context.Background(), account, feed)

	assert.Len(t, h.cachedFeed(context.Background(), account), 1)
}
