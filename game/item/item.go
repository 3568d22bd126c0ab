package item

import (
	"fmt"
	"strings"
)

// SlotType identifies an equipment slot. The set is closed: one slot per
// gear piece, and an item's type names the only slot it can occupy.
type SlotType string

const (
	SlotLamp    SlotType = "Lamp"    // head-gear
	SlotVest    SlotType = "Vest"    // body armor
	SlotGloves  SlotType = "Gloves"  // left hand
	SlotPickaxe SlotType = "Pickaxe" // right hand
	SlotBoots   SlotType = "Boots"   // footwear
)

// Slots returns all slot types in display order.
func Slots() []SlotType {
	return []SlotType{SlotPickaxe, SlotGloves, SlotBoots, SlotVest, SlotLamp}
}

// Valid reports whether s is one of the five known slots.
func (s SlotType) Valid() bool {
	switch s {
	case SlotLamp, SlotVest, SlotGloves, SlotPickaxe, SlotBoots:
		return true
	}
	return false
}

// Rarity is the ordered item rarity tier.
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityRare      Rarity = "Rare"
	RarityEpic      Rarity = "Epic"
	RarityLegendary Rarity = "Legendary"
)

// Rarities returns all tiers in ascending order.
func Rarities() []Rarity {
	return []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary}
}

// Index maps the tier to its on-chain encoding (1-4); 0 for unknown.
func (r Rarity) Index() int {
	switch r {
	case RarityCommon:
		return 1
	case RarityRare:
		return 2
	case RarityEpic:
		return 3
	case RarityLegendary:
		return 4
	}
	return 0
}

// RarityFromIndex is the inverse of Index; unknown indices map to Common.
func RarityFromIndex(i int) Rarity {
	switch i {
	case 2:
		return RarityRare
	case 3:
		return RarityEpic
	case 4:
		return RarityLegendary
	default:
		return RarityCommon
	}
}

// Key lower-cases the tier for sale-price lookup.
func (r Rarity) Key() string { return strings.ToLower(string(r)) }

// AttributeKey names an item attribute. Each slot type grants exactly one.
type AttributeKey string

const (
	AttrRarityMod     AttributeKey = "rarityModBonus"     // Boots: drop rarity bias
	AttrGemMultiplier AttributeKey = "gemMultiplierBonus" // Gloves: gem yield factor
	AttrDropChance    AttributeKey = "dropChanceBonus"    // Lamp: drop chance %
	AttrFlatPower     AttributeKey = "flatPowerBonus"     // Pickaxe: click power
	AttrLuck          AttributeKey = "vestLuckBoost"      // Vest: luck %
)

// AttributeFor returns the attribute granted by items of slot type t.
func AttributeFor(t SlotType) AttributeKey {
	switch t {
	case SlotBoots:
		return AttrRarityMod
	case SlotGloves:
		return AttrGemMultiplier
	case SlotLamp:
		return AttrDropChance
	case SlotPickaxe:
		return AttrFlatPower
	case SlotVest:
		return AttrLuck
	}
	return ""
}

// Item is one piece of gear. Items with FromNFT set are virtual projections
// of owned NFTs, recomputed on every reconciliation pass and identified as
// "nft-<tokenId>"; they are never persisted independently.
type Item struct {
	ID         string               `json:"id"`
	Type       SlotType             `json:"type"`
	Rarity     Rarity               `json:"rarity"`
	Image      string               `json:"image"`
	Attributes map[AttributeKey]int `json:"attributes"`
	FromNFT    bool                 `json:"fromNFT,omitempty"`
}

// Attr returns the named attribute value, 0 when absent.
func (it Item) Attr(key AttributeKey) int { return it.Attributes[key] }

// PrimaryBonus returns the item's single attribute entry. The slot-typed
// attribute wins when present; otherwise the entry is picked in a fixed key
// order so the projection round-trips deterministically.
func (it Item) PrimaryBonus() (AttributeKey, int, bool) {
	if key := AttributeFor(it.Type); key != "" {
		if v, ok := it.Attributes[key]; ok {
			return key, v, true
		}
	}
	for _, key := range []AttributeKey{AttrRarityMod, AttrGemMultiplier, AttrDropChance, AttrFlatPower, AttrLuck} {
		if v, ok := it.Attributes[key]; ok {
			return key, v, true
		}
	}
	return "", 0, false
}

// Clone returns a deep copy; snapshots never share attribute maps.
func (it Item) Clone() Item {
	attrs := make(map[AttributeKey]int, len(it.Attributes))
	for k, v := range it.Attributes {
		attrs[k] = v
	}
	it.Attributes = attrs
	return it
}

// Equipment maps each slot to the item equipped in it. Values are treated
// as immutable: every mutation goes through Clone and the whole map is
// republished, so readers never observe a half-applied transition.
type Equipment map[SlotType]Item

// Clone returns a deep copy of the equipment map.
func (e Equipment) Clone() Equipment {
	out := make(Equipment, len(e))
	for slot, it := range e {
		out[slot] = it.Clone()
	}
	return out
}

// EquippedIDs returns the set of item ids currently occupying slots.
func (e Equipment) EquippedIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(e))
	for _, it := range e {
		ids[it.ID] = struct{}{}
	}
	return ids
}

// SlotOf returns the slot holding the item with the given id.
func (e Equipment) SlotOf(id string) (SlotType, bool) {
	for slot, it := range e {
		if it.ID == id {
			return slot, true
		}
	}
	return "", false
}

// Validate checks the slot invariant: item.Type == slot for every occupied
// slot, and no item id appears twice.
func (e Equipment) Validate() error {
	seen := make(map[string]SlotType, len(e))
	for slot, it := range e {
		if it.Type != slot {
			return fmt.Errorf("item %s of type %s occupies slot %s", it.ID, it.Type, slot)
		}
		if prev, dup := seen[it.ID]; dup {
			return fmt.Errorf("item %s occupies both %s and %s", it.ID, prev, slot)
		}
		seen[it.ID] = slot
	}
	return nil
}
