package entitlement

import (
	"time"

	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/profile"
)

// The Project* functions compute the post-operation profile locally. They
// are only used when the authority confirmed an operation without returning
// a profile; results are marked Degraded.

// ProjectPurchase grants item and debits its price.
func ProjectPurchase(p *profile.UserProfile, item catalog.Item, now time.Time) *profile.UserProfile {
	next := p.Clone()
	next.Normalize()
	if next.Grant(item.ID, now) {
		next.Balance -= item.Price
	}
	next.Degraded = true
	return next
}

// ProjectBuyPass marks pass purchased and debits its price.
func ProjectBuyPass(p *profile.UserProfile, pass battlepass.Pass) *profile.UserProfile {
	next := p.Clone()
	next.Normalize()
	state := next.Cosmetics.Passes[pass.Name]
	if !state.Purchased {
		state.Purchased = true
		next.Balance -= pass.Price
	}
	next.Cosmetics.Passes[pass.Name] = state
	next.Degraded = true
	return next
}

// ProjectClaim records tier as claimed and applies its reward.
func ProjectClaim(p *profile.UserProfile, pass battlepass.Pass, tier int, now time.Time) *profile.UserProfile {
	next := p.Clone()
	next.Normalize()
	state := next.Cosmetics.Passes[pass.Name]
	if !state.HasClaimed(tier) {
		state.ClaimedLevels = append(state.ClaimedLevels, tier)
		if t, ok := pass.Tier(tier); ok {
			if t.Reward.Frame != "" {
				next.Grant(t.Reward.Frame, now)
			}
			next.Balance += t.Reward.Credit
		}
	}
	next.Cosmetics.Passes[pass.Name] = state
	next.Normalize()
	next.Degraded = true
	return next
}

// ProjectEquip sets slot to itemID ("" clears it).
func ProjectEquip(p *profile.UserProfile, slot profile.Slot, itemID string) *profile.UserProfile {
	next := p.Clone()
	next.Normalize()
	if itemID == "" {
		delete(next.Cosmetics.Equipped, slot)
	} else {
		next.Cosmetics.Equipped[slot] = itemID
	}
	next.Degraded = true
	return next
}
