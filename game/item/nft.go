package item

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gamegems/client/chain"
)

// nftIDPrefix prefixes the virtual item id derived from a token id.
const nftIDPrefix = "nft-"

// Bonus is the single attribute an NFT grants.
type Bonus struct {
	Attribute AttributeKey `json:"attribute"`
	Value     int          `json:"value"`
}

// NFTRecord mirrors one minted item NFT. The blockchain is the source of
// truth; the backend store is only an index over it.
type NFTRecord struct {
	TokenID  uint64        `json:"tokenId"`
	ItemType SlotType      `json:"itemType"`
	Rarity   int           `json:"rarity"` // 1-4 on-chain encoding
	Bonus    Bonus         `json:"bonus"`
	Image    string        `json:"image"`
	URI      string        `json:"uri,omitempty"`
	Owner    chain.Address `json:"owner,omitempty"`
}

// VirtualID derives the deterministic inventory id for a token.
func VirtualID(tokenID uint64) string {
	return fmt.Sprintf("%s%d", nftIDPrefix, tokenID)
}

// VirtualItem projects the NFT into a wearable inventory item. The
// projection is recomputed from ownership on every reconciliation pass and
// is never persisted.
func (n NFTRecord) VirtualItem() Item {
	return Item{
		ID:     VirtualID(n.TokenID),
		Type:   n.ItemType,
		Rarity: RarityFromIndex(n.Rarity),
		Image:  n.Image,
		Attributes: map[AttributeKey]int{
			n.Bonus.Attribute: n.Bonus.Value,
		},
		FromNFT: true,
	}
}

// RecordFromItem reverses the projection for an unequipped virtual item,
// reconstructing the NFTRecord that re-enters the NFT pool. ok is false
// when the item is not NFT-derived or its id does not parse.
func RecordFromItem(it Item) (NFTRecord, bool) {
	if !it.FromNFT || !strings.HasPrefix(it.ID, nftIDPrefix) {
		return NFTRecord{}, false
	}
	tokenID, err := strconv.ParseUint(strings.TrimPrefix(it.ID, nftIDPrefix), 10, 64)
	if err != nil {
		return NFTRecord{}, false
	}
	rec := NFTRecord{
		TokenID:  tokenID,
		ItemType: it.Type,
		Rarity:   it.Rarity.Index(),
		Image:    it.Image,
	}
	if attr, val, ok := it.PrimaryBonus(); ok {
		rec.Bonus = Bonus{Attribute: attr, Value: val}
	}
	return rec, true
}
