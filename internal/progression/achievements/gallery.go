package achievements

import (
	"encoding/json"
	"fmt"
	"os"
)

// Rarity tiers, lowest to highest.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
	RarityMythic    Rarity = "mythic"
)

type Definition struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Rarity Rarity `json:"rarity"`
	Desc   string `json:"desc"`
}

// Entry is a definition paired with the user's unlock state.
type Entry struct {
	Definition
	Unlocked bool `json:"unlocked"`
}

// LoadDefinitions reads a JSON array of definitions, keeping file order.
func LoadDefinitions(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("achievements.json: %w", err)
	}
	seen := map[string]struct{}{}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("achievements.json: empty id")
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("achievements.json: duplicate id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
		switch d.Rarity {
		case RarityCommon, RarityRare, RarityEpic, RarityLegendary, RarityMythic:
		default:
			return nil, fmt.Errorf("achievements.json: %s: unknown rarity %q", d.ID, d.Rarity)
		}
	}
	return defs, nil
}

// Gallery pairs every definition with whether the user unlocked it.
func Gallery(defs []Definition, records []Record) []Entry {
	unlocked := map[string]struct{}{}
	for _, id := range Normalize(records) {
		unlocked[id] = struct{}{}
	}
	out := make([]Entry, 0, len(defs))
	for _, d := range defs {
		_, ok := unlocked[d.ID]
		out = append(out, Entry{Definition: d, Unlocked: ok})
	}
	return out
}
