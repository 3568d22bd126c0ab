// Package wrap turns an inventory item into an NFT. The flow is a strict
// state machine; every step either advances it or moves it to Failed with
// the reason attached, and the source item is only removed after the mint
// is fully persisted.
package wrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/game/reconcile"
	"github.com/gamegems/client/gerr"
	"go.uber.org/zap"
)

// State names the wrap flow phases.
type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateUploading      State = "uploading"
	StateMinting        State = "minting"
	StateParsingReceipt State = "parsing_receipt"
	StatePersisting     State = "persisting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

var (
	// ErrAlreadyWrapped rejects wrapping an item that is itself an NFT
	// projection.
	ErrAlreadyWrapped = errors.New("wrap: item is already an NFT")
	// ErrContractsUnavailable rejects a wrap without a dialed gems contract.
	ErrContractsUnavailable = errors.New("wrap: contracts unavailable")
	// ErrTokenIDNotFound aborts the wrap when the mined receipt yields no
	// token id. The source item is left untouched; the operator resolves the
	// stray mint from the transaction hash in the result.
	ErrTokenIDNotFound = errors.New("wrap: token id not found in receipt")
	// ErrWrapInProgress rejects a second concurrent wrap for the account.
	ErrWrapInProgress = errors.New("wrap: another wrap is in progress")
)

const lockTTL = 2 * time.Minute

// Backend is the slice of the remote service the wrap flow needs.
type Backend interface {
	CreateNFTJSON(ctx context.Context, account, itemID string, rec item.NFTRecord) (string, error)
	SaveNFT(ctx context.Context, rec item.NFTRecord) error
	DeleteInventoryItem(ctx context.Context, address, itemID string) error
}

// Result reports a finished wrap flow.
type Result struct {
	State   State          `json:"state"`
	Reason  string         `json:"reason,omitempty"`
	TokenID uint64         `json:"tokenId,omitempty"`
	TxHash  string         `json:"txHash,omitempty"`
	Record  item.NFTRecord `json:"record,omitempty"`
}

// Service runs wrap flows.
type Service struct {
	backend Backend
	state   *reconcile.Service
	cache   cache.Cache
	log     *zap.Logger
}

// NewService wires the wrap flow.
func NewService(b Backend, state *reconcile.Service, c cache.Cache, log *zap.Logger) *Service {
	return &Service{
		backend: b,
		state:   state,
		cache:   c,
		log:     log.Named("wrap"),
	}
}

// DefaultRegistry builds the decoder registry for a contract bundle using
// the named-topic log shape. The registry is derived per wrap from the
// session's own bundle, so receipt logs decode against the addresses the
// wallet actually dialed.
func DefaultRegistry(contracts chain.Contracts) *chain.Registry {
	reg := chain.NewRegistry()
	if contracts.Gems != nil {
		reg.Register(contracts.Gems.ContractAddress(), chain.NamedEventDecoder(chain.EventItemWrapped))
	}
	if contracts.NFT != nil {
		reg.Register(contracts.NFT.ContractAddress(), chain.NamedEventDecoder(chain.EventNFTMinted))
	}
	return reg
}

// Wrap runs the full flow for one inventory item. Progress states are
// internal; the caller receives the terminal Result. Failures before the
// mint leave everything untouched; failures after the mint leave the NFT
// owned on chain and the result carries the transaction hash.
func (s *Service) Wrap(ctx context.Context, account chain.Address, contracts chain.Contracts, itemID string) (Result, error) {
	const op = "wrap.Wrap"
	acct := string(account.Normalize())

	// One wrap at a time per account. The lock expires on its own so a
	// crashed flow cannot wedge the account.
	locked, err := s.cache.SetNX(ctx, cache.KeyWrapLock(acct), "1", lockTTL)
	if err == nil && !locked {
		return s.fail(StateValidating, ErrWrapInProgress), gerr.Validation(op, ErrWrapInProgress.Error())
	}
	defer func() {
		if err := s.cache.Del(context.Background(), cache.KeyWrapLock(acct)); err != nil {
			s.log.Debug("wrap lock release failed", zap.String("account", acct), zap.Error(err))
		}
	}()

	// Validating
	src, rec, err := s.validate(account, contracts, itemID)
	if err != nil {
		return s.fail(StateValidating, err), err
	}

	// Uploading
	uri, err := s.backend.CreateNFTJSON(ctx, acct, src.ID, rec)
	if err != nil {
		s.log.Warn("metadata upload failed", zap.String("account", acct), zap.String("item", itemID), zap.Error(err))
		return s.fail(StateUploading, err), err
	}
	rec.URI = uri

	// Minting
	receipt, err := contracts.Gems.WrapItemAsNFT(ctx, string(rec.ItemType), uint8(rec.Rarity), uint8(rec.Bonus.Value), uri)
	if err != nil {
		return s.fail(StateMinting, err), gerr.Revert(op, err)
	}

	// ParsingReceipt
	tokenID, found := s.tokenIDFromReceipt(DefaultRegistry(contracts), receipt)
	if !found {
		s.log.Error("minted but token id unresolved, aborting",
			zap.String("account", acct), zap.String("tx", receipt.TxHash))
		res := s.fail(StateParsingReceipt, ErrTokenIDNotFound)
		res.TxHash = receipt.TxHash
		return res, ErrTokenIDNotFound
	}
	rec.TokenID = tokenID
	rec.Owner = account.Normalize()

	// Persisting
	if err := s.backend.SaveNFT(ctx, rec); err != nil {
		s.log.Warn("nft record save failed", zap.String("account", acct), zap.Uint64("token", tokenID), zap.Error(err))
		res := s.fail(StatePersisting, err)
		res.TokenID = tokenID
		res.TxHash = receipt.TxHash
		return res, err
	}

	// The source item is consumed by the mint. Local removal is the source
	// of truth here; the backend delete is best effort and a failure only
	// leaves a stale row the next reconciliation ignores.
	s.state.RemoveItem(ctx, account, src.ID)
	if err := s.backend.DeleteInventoryItem(ctx, acct, src.ID); err != nil {
		s.log.Warn("source item delete failed", zap.String("account", acct), zap.String("item", src.ID), zap.Error(err))
	}

	return Result{State: StateDone, TokenID: tokenID, TxHash: receipt.TxHash, Record: rec}, nil
}

func (s *Service) validate(account chain.Address, contracts chain.Contracts, itemID string) (item.Item, item.NFTRecord, error) {
	if contracts.Gems == nil {
		return item.Item{}, item.NFTRecord{}, ErrContractsUnavailable
	}
	src, found := s.state.FindItem(account, itemID)
	if !found {
		return item.Item{}, item.NFTRecord{}, gerr.Validation("wrap.Wrap", "item not found")
	}
	if src.FromNFT {
		return item.Item{}, item.NFTRecord{}, ErrAlreadyWrapped
	}
	rarity := src.Rarity.Index()
	if rarity == 0 {
		return item.Item{}, item.NFTRecord{}, gerr.Validation("wrap.Wrap", fmt.Sprintf("unknown rarity %q", src.Rarity))
	}

	rec := item.NFTRecord{
		ItemType: src.Type,
		Rarity:   rarity,
		Image:    src.Image,
	}
	if attr, val, ok := src.PrimaryBonus(); ok {
		rec.Bonus = item.Bonus{Attribute: attr, Value: val}
	}
	return src, rec, nil
}

// tokenIDFromReceipt scans the receipt logs through the decoder registry.
// Undecodable logs are skipped with a warning; the first decoded event
// carrying a tokenId argument wins.
func (s *Service) tokenIDFromReceipt(decoders *chain.Registry, receipt *chain.Receipt) (uint64, bool) {
	for _, l := range receipt.Logs {
		ev, ok := decoders.Decode(l)
		if !ok {
			s.log.Warn("skipping undecodable receipt log",
				zap.String("tx", receipt.TxHash), zap.String("address", string(l.Address)))
			continue
		}
		if id, ok := ev.Args.Uint("tokenId"); ok {
			return id, true
		}
	}
	return 0, false
}

func (s *Service) fail(at State, err error) Result {
	return Result{State: StateFailed, Reason: fmt.Sprintf("%s: %v", at, err)}
}
