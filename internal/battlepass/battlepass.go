// Package battlepass models seasonal pass tracks: tiers unlocked by player
// level and redeemed explicitly.
package battlepass

import (
	"fmt"
	"sort"

	"xpfinance.app/internal/config"
	"xpfinance.app/internal/profile"
)

// Reward is what claiming a tier grants: a frame item or a currency credit.
type Reward struct {
	Frame  string        `json:"frame,omitempty"`
	Credit profile.Money `json:"credit,omitempty"`
}

type Tier struct {
	Number int    `json:"tier"`
	Level  int    `json:"level"` // player level that unlocks the tier
	Reward Reward `json:"reward"`
}

type Pass struct {
	Name  string        `json:"name"`
	Price profile.Money `json:"price"`
	Tiers []Tier        `json:"tiers"` // ascending by Number
}

// MaxTier is the highest tier number.
func (p Pass) MaxTier() int {
	if len(p.Tiers) == 0 {
		return 0
	}
	return p.Tiers[len(p.Tiers)-1].Number
}

// Tier looks up a tier by number.
func (p Pass) Tier(n int) (Tier, bool) {
	for _, t := range p.Tiers {
		if t.Number == n {
			return t, true
		}
	}
	return Tier{}, false
}

// TierForFrame returns the tier that rewards frameID.
func (p Pass) TierForFrame(frameID string) (Tier, bool) {
	for _, t := range p.Tiers {
		if t.Reward.Frame == frameID {
			return t, true
		}
	}
	return Tier{}, false
}

// Registry indexes passes by name.
type Registry struct {
	byName map[string]Pass
	names  []string
}

// FromTuning builds the registry from validated tuning.
func FromTuning(t config.Tuning) (*Registry, error) {
	r := &Registry{byName: map[string]Pass{}}
	for _, ps := range t.Passes {
		if _, dup := r.byName[ps.Name]; dup {
			return nil, fmt.Errorf("duplicate pass %q", ps.Name)
		}
		p := Pass{Name: ps.Name, Price: profile.MoneyFromFloat(ps.Price)}
		for _, ts := range ps.Tiers {
			p.Tiers = append(p.Tiers, Tier{
				Number: ts.Tier,
				Level:  ts.Level,
				Reward: Reward{Frame: ts.Frame, Credit: profile.MoneyFromFloat(ts.Credit)},
			})
		}
		sort.Slice(p.Tiers, func(i, j int) bool { return p.Tiers[i].Number < p.Tiers[j].Number })
		r.byName[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	return r, nil
}

// Get returns the named pass.
func (r *Registry) Get(name string) (Pass, bool) {
	if r == nil {
		return Pass{}, false
	}
	p, ok := r.byName[name]
	return p, ok
}

// Names lists passes in tuning order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// TierState is one row of a pass track as the user sees it.
type TierState struct {
	Tier      int    `json:"tier"`
	Level     int    `json:"level"`
	Reached   bool   `json:"reached"`
	Claimed   bool   `json:"claimed"`
	Claimable bool   `json:"claimable"`
	Reward    Reward `json:"reward"`
}

// Track lays out every tier of pass for p. A tier is claimable once reached,
// the pass is purchased and the tier is not yet claimed.
func Track(pass Pass, p *profile.UserProfile) []TierState {
	state, _ := p.Pass(pass.Name)
	level := 1
	if p != nil && p.Level > 0 {
		level = p.Level
	}
	out := make([]TierState, 0, len(pass.Tiers))
	for _, t := range pass.Tiers {
		reached := level >= t.Level
		claimed := state.HasClaimed(t.Number)
		out = append(out, TierState{
			Tier:      t.Number,
			Level:     t.Level,
			Reached:   reached,
			Claimed:   claimed,
			Claimable: reached && state.Purchased && !claimed,
			Reward:    t.Reward,
		})
	}
	return out
}
