// Package history aggregates the account's on-chain activity from contract
// event filters into one chronological feed. Sources are queried in
// parallel and failures are isolated: a dead source contributes nothing
// while the others still render.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gamegems/client/chain"
	"go.uber.org/zap"
)

// Entry kinds as displayed in the feed.
const (
	KindPurchase   = "Purchase"    // bought GEM with native currency
	KindDeposit    = "Deposit"     // moved local gems on chain
	KindWrap       = "Wrap"        // minted an item NFT
	KindMarketBuy  = "Market buy"  // bought a listed NFT
	KindMarketSale = "Market sale" // sold a listed NFT (seller side)
)

// TimestampUnresolved marks entries whose block timestamp could not be
// resolved; the entry still renders with its block number.
const TimestampUnresolved = "unresolved"

// Entry is one feed row. TxHash distinguishes otherwise identical events
// landing in the same block.
type Entry struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Service aggregates history feeds.
type Service struct {
	log *zap.Logger
}

func NewService(log *zap.Logger) *Service {
	return &Service{log: log.Named("history")}
}

// source is one event query contributing to the feed.
type source struct {
	name   string
	query  func(ctx context.Context) ([]chain.Event, error)
	accept func(ev chain.Event) (Entry, bool)
}

// Feed queries all five event sources concurrently and merges the results,
// newest block first. Entries within a block keep source order, so repeated
// aggregation over the same chain state renders identically.
func (s *Service) Feed(ctx context.Context, account chain.Address, contracts chain.Contracts) []Entry {
	if contracts.Gems == nil || contracts.Market == nil {
		return nil
	}
	acct := account.Normalize()

	sources := []source{
		{
			name:  chain.EventGemsPurchased,
			query: func(ctx context.Context) ([]chain.Event, error) { return contracts.Gems.QueryFilter(ctx, chain.EventGemsPurchased) },
			accept: func(ev chain.Event) (Entry, bool) {
				if !ev.Args.Address("buyer").Equal(acct) {
					return Entry{}, false
				}
				return Entry{Type: KindPurchase, Value: fmt.Sprintf("+%s GEM", ev.Args.String("gemsReceived"))}, true
			},
		},
		{
			name:  chain.EventGemsDeposited,
			query: func(ctx context.Context) ([]chain.Event, error) { return contracts.Gems.QueryFilter(ctx, chain.EventGemsDeposited) },
			accept: func(ev chain.Event) (Entry, bool) {
				if !ev.Args.Address("player").Equal(acct) {
					return Entry{}, false
				}
				return Entry{Type: KindDeposit, Value: fmt.Sprintf("+%s GEM", ev.Args.String("amountSent"))}, true
			},
		},
		{
			name:  chain.EventItemWrapped,
			query: func(ctx context.Context) ([]chain.Event, error) { return contracts.Gems.QueryFilter(ctx, chain.EventItemWrapped) },
			accept: func(ev chain.Event) (Entry, bool) {
				if !ev.Args.Address("player").Equal(acct) {
					return Entry{}, false
				}
				return Entry{Type: KindWrap, Value: fmt.Sprintf("NFT #%s", ev.Args.String("tokenId"))}, true
			},
		},
		{
			name:  chain.EventItemPurchased,
			query: func(ctx context.Context) ([]chain.Event, error) { return contracts.Market.QueryFilter(ctx, chain.EventItemPurchased) },
			accept: func(ev chain.Event) (Entry, bool) {
				if !ev.Args.Address("buyer").Equal(acct) {
					return Entry{}, false
				}
				return Entry{
					Type:  KindMarketBuy,
					Value: fmt.Sprintf("NFT #%s for %s GEM", ev.Args.String("tokenId"), ev.Args.String("priceInGems")),
				}, true
			},
		},
		{
			name:  chain.EventMarketplacePayment,
			query: func(ctx context.Context) ([]chain.Event, error) { return contracts.Market.QueryFilter(ctx, chain.EventMarketplacePayment) },
			accept: func(ev chain.Event) (Entry, bool) {
				if !ev.Args.Address("seller").Equal(acct) {
					return Entry{}, false
				}
				return Entry{Type: KindMarketSale, Value: fmt.Sprintf("+%s GEM", ev.Args.String("amount"))}, true
			},
		},
	}

	results := make([][]Entry, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src source) {
			defer wg.Done()
			events, err := src.query(ctx)
			if err != nil {
				s.log.Warn("history source failed, treating as empty",
					zap.String("event", src.name), zap.String("account", string(acct)), zap.Error(err))
				return
			}
			entries := make([]Entry, 0, len(events))
			for _, ev := range events {
				entry, ok := src.accept(ev)
				if !ok {
					continue
				}
				entry.BlockNumber = ev.BlockNumber
				entry.TxHash = ev.TxHash
				entry.Timestamp = s.blockTime(ctx, contracts.Blocks, ev.BlockNumber)
				entries = append(entries, entry)
			}
			results[i] = entries
		}(i, src)
	}
	wg.Wait()

	feed := make([]Entry, 0)
	for _, entries := range results {
		feed = append(feed, entries...)
	}
	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].BlockNumber > feed[j].BlockNumber
	})
	return feed
}

// blockTime resolves a block number to a display timestamp, degrading to
// TimestampUnresolved when the lookup fails.
func (s *Service) blockTime(ctx context.Context, blocks chain.BlockReader, number uint64) string {
	if blocks == nil {
		return TimestampUnresolved
	}
	at, err := blocks.BlockTime(ctx, number)
	if err != nil {
		s.log.Debug("block timestamp lookup failed", zap.Uint64("block", number), zap.Error(err))
		return TimestampUnresolved
	}
	return at.Format("2006-01-02 15:04:05")
}
