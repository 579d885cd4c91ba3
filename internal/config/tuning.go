// Package config loads the engine tuning file and runtime environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"xpfinance.app/internal/profile"
)

type Tuning struct {
	Currency string `yaml:"currency"`
	Locale   string `yaml:"locale"`

	// SlotCaps bounds how many catalog items of each type survive a merge.
	SlotCaps map[string]int `yaml:"slot_caps"`

	DefaultShopPrice   float64 `yaml:"default_shop_price"`
	LatestAchievements int     `yaml:"latest_achievements"`

	// PassOwnedFallback lets an owned pass-gated item count as unlocked once
	// its pass is purchased, even without the tier claim.
	PassOwnedFallback *bool `yaml:"pass_owned_fallback"`

	Passes []PassSpec `yaml:"passes"`
}

type PassSpec struct {
	Name  string     `yaml:"name"`
	Price float64    `yaml:"price"`
	Tiers []TierSpec `yaml:"tiers"`
}

// TierSpec rewards either a catalog frame or a currency credit.
type TierSpec struct {
	Tier   int     `yaml:"tier"`
	Level  int     `yaml:"level"`
	Frame  string  `yaml:"frame,omitempty"`
	Credit float64 `yaml:"credit,omitempty"`
}

// Load reads a tuning file. On a read error Defaults are returned with the
// error so callers can fall back on os.IsNotExist.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	var parsed Tuning
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	parsed.Normalize()
	if err := parsed.Validate(); err != nil {
		return parsed, fmt.Errorf("tuning.yaml: %w", err)
	}
	return parsed, nil
}

// Defaults reproduce the Kitsune season.
func Defaults() Tuning {
	frames := map[int]string{1: "frame_1", 3: "frame_3", 5: "frame_5", 6: "frame_6", 8: "frame_8", 10: "frame_10"}
	tiers := make([]TierSpec, 0, 10)
	for i := 1; i <= 10; i++ {
		ts := TierSpec{Tier: i, Level: i}
		if f, ok := frames[i]; ok {
			ts.Frame = f
		} else {
			ts.Credit = 5
		}
		tiers = append(tiers, ts)
	}
	t := Tuning{
		Currency:           "BRL",
		Locale:             "pt-BR",
		SlotCaps:           map[string]int{"frame": 12},
		DefaultShopPrice:   100,
		LatestAchievements: 3,
		Passes:             []PassSpec{{Name: "Kitsune", Price: 55, Tiers: tiers}},
	}
	t.Normalize()
	return t
}

// Normalize fills zero values.
func (t *Tuning) Normalize() {
	if strings.TrimSpace(t.Currency) == "" {
		t.Currency = "BRL"
	}
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if strings.TrimSpace(t.Locale) == "" {
		t.Locale = "pt-BR"
	}
	if t.SlotCaps == nil {
		t.SlotCaps = map[string]int{}
	}
	if t.DefaultShopPrice == 0 {
		t.DefaultShopPrice = 100
	}
	if t.LatestAchievements <= 0 {
		t.LatestAchievements = 3
	}
	if t.PassOwnedFallback == nil {
		v := true
		t.PassOwnedFallback = &v
	}
	for i := range t.Passes {
		for j := range t.Passes[i].Tiers {
			ts := &t.Passes[i].Tiers[j]
			if ts.Tier == 0 {
				ts.Tier = j + 1
			}
			if ts.Level == 0 {
				ts.Level = ts.Tier
			}
		}
	}
}

// Validate rejects tunings the engine cannot honor.
func (t Tuning) Validate() error {
	if _, err := currency.ParseISO(t.Currency); err != nil {
		return fmt.Errorf("currency %q: %w", t.Currency, err)
	}
	for slot, n := range t.SlotCaps {
		switch slot {
		case "avatar", "frame", "accessory":
		default:
			return fmt.Errorf("slot_caps: unknown slot %q", slot)
		}
		if n < 0 {
			return fmt.Errorf("slot_caps.%s: negative cap", slot)
		}
	}
	if t.DefaultShopPrice < 0 {
		return fmt.Errorf("default_shop_price: negative")
	}
	names := map[string]struct{}{}
	for _, p := range t.Passes {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("passes: empty name")
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("passes: duplicate pass %q", p.Name)
		}
		names[p.Name] = struct{}{}
		if p.Price <= 0 {
			return fmt.Errorf("passes.%s: price must be positive", p.Name)
		}
		tiers := map[int]struct{}{}
		for _, ts := range p.Tiers {
			if ts.Tier < 1 {
				return fmt.Errorf("passes.%s: tier %d must be positive", p.Name, ts.Tier)
			}
			if _, dup := tiers[ts.Tier]; dup {
				return fmt.Errorf("passes.%s: duplicate tier %d", p.Name, ts.Tier)
			}
			tiers[ts.Tier] = struct{}{}
			if ts.Level < 1 {
				return fmt.Errorf("passes.%s: tier %d level must be positive", p.Name, ts.Tier)
			}
			if ts.Frame != "" && ts.Credit != 0 {
				return fmt.Errorf("passes.%s: tier %d rewards both frame and credit", p.Name, ts.Tier)
			}
			if ts.Credit < 0 {
				return fmt.Errorf("passes.%s: tier %d negative credit", p.Name, ts.Tier)
			}
		}
	}
	return nil
}

// OwnedFallback reports the effective pass_owned_fallback policy.
func (t Tuning) OwnedFallback() bool {
	return t.PassOwnedFallback == nil || *t.PassOwnedFallback
}

// Caps returns the merge caps keyed by slot.
func (t Tuning) Caps() map[profile.Slot]int {
	out := make(map[profile.Slot]int, len(t.SlotCaps))
	for k, n := range t.SlotCaps {
		if slot, ok := profile.ParseSlot(k); ok {
			out[slot] = n
		}
	}
	return out
}
