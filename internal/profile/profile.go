// Package profile holds the user profile model shared by every engine
// component: balance, xp/level, cosmetic inventory, equipped slots, passes
// and achievements.
package profile

import (
	"encoding/json"
	"sort"
	"time"

	"xpfinance.app/internal/progression/achievements"
)

// Slot is both an equip slot and a catalog item type.
type Slot string

const (
	SlotAvatar    Slot = "avatar"
	SlotFrame     Slot = "frame"
	SlotAccessory Slot = "accessory"
)

// Slots lists every slot in display order.
var Slots = []Slot{SlotAvatar, SlotFrame, SlotAccessory}

// ParseSlot validates a slot name.
func ParseSlot(s string) (Slot, bool) {
	switch Slot(s) {
	case SlotAvatar, SlotFrame, SlotAccessory:
		return Slot(s), true
	}
	return "", false
}

type OwnedItem struct {
	ID         string    `json:"id"`
	Owned      *bool     `json:"owned,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// IsOwned treats a missing owned flag as owned, to tolerate partial records.
func (o OwnedItem) IsOwned() bool { return o.Owned == nil || *o.Owned }

type PassState struct {
	Purchased     bool  `json:"purchased"`
	ClaimedLevels []int `json:"claimedLevels"`
}

// HasClaimed reports whether tier is in ClaimedLevels.
func (p PassState) HasClaimed(tier int) bool {
	for _, c := range p.ClaimedLevels {
		if c == tier {
			return true
		}
	}
	return false
}

// Cosmetics is the entitlement-bearing part of a profile.
type Cosmetics struct {
	Inventory []OwnedItem          `json:"inventory"`
	Equipped  map[Slot]string      `json:"equipped"`
	Passes    map[string]PassState `json:"passes"`
	AvatarURL string               `json:"avatarUrl,omitempty"`
}

type UserProfile struct {
	ID           string                `json:"id"`
	Name         string                `json:"name,omitempty"`
	Email        string                `json:"email,omitempty"`
	Balance      Money                 `json:"balance"`
	XP           int64                 `json:"xp"`
	Level        int                   `json:"level"`
	Achievements []achievements.Record `json:"achievements"`
	Cosmetics    Cosmetics             `json:"profile"`

	// Degraded marks a locally projected profile that the authority has not
	// confirmed.
	Degraded bool `json:"degraded,omitempty"`
}

// UnmarshalJSON accepts the legacy "_id" identity field.
func (p *UserProfile) UnmarshalJSON(b []byte) error {
	type plain UserProfile
	var aux struct {
		plain
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = UserProfile(aux.plain)
	if p.ID == "" {
		p.ID = aux.LegacyID
	}
	return nil
}

// Find returns the inventory entry for itemID.
func (p *UserProfile) Find(itemID string) (OwnedItem, bool) {
	if p == nil {
		return OwnedItem{}, false
	}
	for _, it := range p.Cosmetics.Inventory {
		if it.ID == itemID {
			return it, true
		}
	}
	return OwnedItem{}, false
}

// Pass returns the state of the named pass; missing passes are zero.
func (p *UserProfile) Pass(name string) (PassState, bool) {
	if p == nil || p.Cosmetics.Passes == nil {
		return PassState{}, false
	}
	ps, ok := p.Cosmetics.Passes[name]
	return ps, ok
}

// EquippedIn returns the item id in slot, or "".
func (p *UserProfile) EquippedIn(slot Slot) string {
	if p == nil || p.Cosmetics.Equipped == nil {
		return ""
	}
	return p.Cosmetics.Equipped[slot]
}

// AchievementIDs returns the normalized achievement ids.
func (p *UserProfile) AchievementIDs() []string {
	if p == nil {
		return nil
	}
	return achievements.Normalize(p.Achievements)
}

// Normalize restores the model invariants in place: unique inventory ids
// (first wins), unique sorted positive claimed levels, level >= 1, xp >= 0,
// and non-nil maps.
func (p *UserProfile) Normalize() {
	if p.XP < 0 {
		p.XP = 0
	}
	if p.Level < 1 {
		p.Level = 1
	}
	if len(p.Cosmetics.Inventory) > 0 {
		seen := make(map[string]struct{}, len(p.Cosmetics.Inventory))
		inv := p.Cosmetics.Inventory[:0]
		for _, it := range p.Cosmetics.Inventory {
			if it.ID == "" {
				continue
			}
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			inv = append(inv, it)
		}
		p.Cosmetics.Inventory = inv
	}
	if p.Cosmetics.Equipped == nil {
		p.Cosmetics.Equipped = map[Slot]string{}
	}
	if p.Cosmetics.Passes == nil {
		p.Cosmetics.Passes = map[string]PassState{}
	}
	for name, ps := range p.Cosmetics.Passes {
		ps.ClaimedLevels = uniqueLevels(ps.ClaimedLevels)
		p.Cosmetics.Passes[name] = ps
	}
}

func uniqueLevels(in []int) []int {
	out := make([]int, 0, len(in))
	seen := map[int]struct{}{}
	for _, l := range in {
		if l < 1 {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Achievements = append([]achievements.Record(nil), p.Achievements...)
	c.Cosmetics.Inventory = make([]OwnedItem, len(p.Cosmetics.Inventory))
	for i, it := range p.Cosmetics.Inventory {
		if it.Owned != nil {
			v := *it.Owned
			it.Owned = &v
		}
		c.Cosmetics.Inventory[i] = it
	}
	c.Cosmetics.Equipped = make(map[Slot]string, len(p.Cosmetics.Equipped))
	for k, v := range p.Cosmetics.Equipped {
		c.Cosmetics.Equipped[k] = v
	}
	c.Cosmetics.Passes = make(map[string]PassState, len(p.Cosmetics.Passes))
	for k, v := range p.Cosmetics.Passes {
		v.ClaimedLevels = append([]int(nil), v.ClaimedLevels...)
		c.Cosmetics.Passes[k] = v
	}
	return &c
}

// CarryInventory appends entries of prev missing from p. Authority
// responses sometimes omit inventory the client already knows about.
func (p *UserProfile) CarryInventory(prev *UserProfile) {
	if prev == nil {
		return
	}
	have := make(map[string]struct{}, len(p.Cosmetics.Inventory))
	for _, it := range p.Cosmetics.Inventory {
		have[it.ID] = struct{}{}
	}
	for _, it := range prev.Cosmetics.Inventory {
		if _, ok := have[it.ID]; ok {
			continue
		}
		have[it.ID] = struct{}{}
		p.Cosmetics.Inventory = append(p.Cosmetics.Inventory, it)
	}
}

// Grant appends an owned inventory entry unless itemID is already present.
func (p *UserProfile) Grant(itemID string, at time.Time) bool {
	if _, ok := p.Find(itemID); ok {
		return false
	}
	owned := true
	p.Cosmetics.Inventory = append(p.Cosmetics.Inventory, OwnedItem{ID: itemID, Owned: &owned, AcquiredAt: at.UTC()})
	return true
}
