package item

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BaseDropChance is the drop probability with no Lamp equipped.
const BaseDropChance = 0.03

// attrRange is an inclusive [min,max] roll range.
type attrRange struct{ min, max int }

// Per-type per-rarity attribute ranges. Boots grant a fixed value per tier,
// expressed as a degenerate range.
var attrRanges = map[SlotType]map[Rarity]attrRange{
	SlotBoots: {
		RarityCommon: {1, 1}, RarityRare: {2, 2}, RarityEpic: {3, 3}, RarityLegendary: {4, 4},
	},
	SlotGloves: {
		RarityCommon: {1, 2}, RarityRare: {2, 5}, RarityEpic: {2, 10}, RarityLegendary: {4, 20},
	},
	SlotLamp: {
		RarityCommon: {1, 3}, RarityRare: {2, 5}, RarityEpic: {4, 8}, RarityLegendary: {6, 15},
	},
	SlotPickaxe: {
		RarityCommon: {1, 5}, RarityRare: {4, 10}, RarityEpic: {7, 15}, RarityLegendary: {10, 35},
	},
	SlotVest: {
		RarityCommon: {1, 3}, RarityRare: {3, 6}, RarityEpic: {5, 10}, RarityLegendary: {8, 15},
	},
}

// luckBiased marks the slot attributes whose roll gets the luck bonus.
var luckBiased = map[SlotType]bool{
	SlotLamp:    true,
	SlotPickaxe: true,
}

// Generator synthesizes dropped items. Safe for concurrent use.
type Generator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	imageBase string
}

// NewGenerator creates a time-seeded Generator. imageBase is the item art
// location; image URLs are derived from it as <base>/<type>/<rarity>.jpg.
func NewGenerator(imageBase string) *Generator {
	return &Generator{
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		imageBase: strings.TrimRight(imageBase, "/"),
	}
}

// NewSeededGenerator creates a Generator with a fixed seed for tests.
func NewSeededGenerator(imageBase string, seed int64) *Generator {
	g := NewGenerator(imageBase)
	g.rng = rand.New(rand.NewSource(seed))
	return g
}

// Roll returns true with probability p.
func (g *Generator) Roll(p float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < p
}

// Item synthesizes one dropped item. rarityBias comes from equipped Boots
// and shifts the rarity roll upward; luckBias comes from the equipped Vest
// and biases the Lamp/Pickaxe attribute roll toward the top of its range.
func (g *Generator) Item(rarityBias, luckBias int) Item {
	g.mu.Lock()
	defer g.mu.Unlock()

	slots := Slots()
	itemType := slots[g.rng.Intn(len(slots))]
	rarity := g.rollRarity(rarityBias)

	ranges := attrRanges[itemType][rarity]
	var value int
	if luckBiased[itemType] {
		value = g.biasWithLuck(ranges.min, ranges.max, luckBias)
	} else {
		value = g.randomInt(ranges.min, ranges.max)
	}

	return Item{
		ID:         uuid.NewString(),
		Type:       itemType,
		Rarity:     rarity,
		Image:      ImageURL(g.imageBase, itemType, rarity),
		Attributes: map[AttributeKey]int{AttributeFor(itemType): value},
	}
}

// rollRarity draws uniform 0-99, shifts by bias, and maps thresholds
// 98/90/70 with the highest matching tier winning.
func (g *Generator) rollRarity(bias int) Rarity {
	roll := g.rng.Intn(100) + bias
	switch {
	case roll >= 98:
		return RarityLegendary
	case roll >= 90:
		return RarityEpic
	case roll >= 70:
		return RarityRare
	default:
		return RarityCommon
	}
}

func (g *Generator) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return min + g.rng.Intn(max-min+1)
}

// biasWithLuck draws uniform within [min,max], then with probability
// luck/100 adds floor(range*luck/100), clamped to max.
func (g *Generator) biasWithLuck(min, max, luck int) int {
	if max <= min {
		return min
	}
	size := max - min + 1
	value := min + g.rng.Intn(size)
	if g.rng.Float64()*100 < float64(luck) {
		value += size * luck / 100
	}
	if value > max {
		return max
	}
	return value
}

// ImageURL derives the deterministic art reference for a (type, rarity)
// pair.
func ImageURL(base string, t SlotType, r Rarity) string {
	return fmt.Sprintf("%s/%s/%s.jpg", base, strings.ToLower(string(t)), strings.ToLower(string(r)))
}
