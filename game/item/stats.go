package item

// Stats aggregates the bonuses of everything currently equipped.
type Stats struct {
	ClickPower    int `json:"click_power"`     // base 1 + Pickaxe flat power
	GemMultiplier int `json:"gem_multiplier"`  // base 1, multiplied by Gloves
	RarityMod     int `json:"rarity_mod"`      // Boots: rarity roll bias %
	LuckBoost     int `json:"luck_boost"`      // Vest: attribute luck %
	DropBoost     int `json:"drop_boost"`      // Lamp: added drop chance %
}

// CalcStats folds the equipped items into a Stats value.
func CalcStats(eq Equipment) Stats {
	stats := Stats{ClickPower: 1, GemMultiplier: 1}
	for _, it := range eq {
		switch it.Type {
		case SlotBoots:
			stats.RarityMod += it.Attr(AttrRarityMod)
		case SlotVest:
			stats.LuckBoost += it.Attr(AttrLuck)
		case SlotLamp:
			stats.DropBoost += it.Attr(AttrDropChance)
		case SlotPickaxe:
			stats.ClickPower += it.Attr(AttrFlatPower)
		case SlotGloves:
			if m := it.Attr(AttrGemMultiplier); m > 0 {
				stats.GemMultiplier *= m
			}
		}
	}
	return stats
}

// ClickYield is the number of gems earned per click.
func (s Stats) ClickYield() int64 {
	return int64(s.ClickPower) * int64(s.GemMultiplier)
}

// DropChance is the per-click item drop probability.
func (s Stats) DropChance() float64 {
	return BaseDropChance + float64(s.DropBoost)/100
}
