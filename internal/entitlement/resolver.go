// Package entitlement decides whether a user may use a catalog item and
// checks purchase, pass, claim and equip requests before they are sent to
// the transaction authority.
package entitlement

import (
	"strconv"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/profile"
)

// Resolver applies the unlock rules. The zero value disables the owned
// fallback for pass items.
type Resolver struct {
	// OwnedPassFallback treats an owned pass item as unlocked once its pass
	// is purchased, even when the tier was never claimed.
	OwnedPassFallback bool
}

// IsOwned reports whether the inventory holds itemID with a truthy owned flag.
func IsOwned(p *profile.UserProfile, itemID string) bool {
	it, ok := p.Find(itemID)
	return ok && it.IsOwned()
}

// IsUnlocked resolves the entitlement of item for p.
func (r Resolver) IsUnlocked(item catalog.Item, p *profile.UserProfile) bool {
	switch item.Source {
	case catalog.SourceFree:
		return true
	case catalog.SourceShop:
		return IsOwned(p, item.ID)
	case catalog.SourcePass:
		if item.RequiredPass == nil {
			return false
		}
		state, ok := p.Pass(item.RequiredPass.Pass)
		if !ok || !state.Purchased {
			return false
		}
		if state.HasClaimed(item.RequiredPass.Tier) {
			return true
		}
		return r.OwnedPassFallback && IsOwned(p, item.ID)
	}
	return false
}

// CheckPurchase validates a shop purchase of item.
func (r Resolver) CheckPurchase(item catalog.Item, p *profile.UserProfile) error {
	if item.Price < 0 {
		return apperr.Validation("item %s: negative price", item.ID)
	}
	if item.Source != catalog.SourceShop {
		return apperr.WithMetadata(apperr.CodeValidation, "item "+item.ID+" is not sold in the shop",
			map[string]string{"item_id": item.ID, "source": string(item.Source)})
	}
	if IsOwned(p, item.ID) {
		return apperr.WithMetadata(apperr.CodeAlreadyOwned, "item "+item.ID+" already owned",
			map[string]string{"item_id": item.ID})
	}
	if p.Balance < item.Price {
		return insufficient(item.ID, item.Price, p.Balance)
	}
	return nil
}

// CheckBuyPass validates the purchase of pass.
func (r Resolver) CheckBuyPass(pass battlepass.Pass, p *profile.UserProfile) error {
	if pass.Price < 0 {
		return apperr.Validation("pass %s: negative price", pass.Name)
	}
	if state, _ := p.Pass(pass.Name); state.Purchased {
		return apperr.WithMetadata(apperr.CodePassAlreadyPurchased, "pass "+pass.Name+" already purchased",
			map[string]string{"pass": pass.Name})
	}
	if p.Balance < pass.Price {
		return insufficient(pass.Name, pass.Price, p.Balance)
	}
	return nil
}

// CheckClaim validates claiming tier of pass.
func (r Resolver) CheckClaim(pass battlepass.Pass, tier int, p *profile.UserProfile) error {
	t, ok := pass.Tier(tier)
	if !ok {
		return apperr.WithMetadata(apperr.CodeValidation, "unknown tier",
			map[string]string{"pass": pass.Name, "tier": strconv.Itoa(tier), "max_tier": strconv.Itoa(pass.MaxTier())})
	}
	meta := map[string]string{"pass": pass.Name, "tier": strconv.Itoa(tier)}
	state, _ := p.Pass(pass.Name)
	if !state.Purchased {
		return apperr.WithMetadata(apperr.CodePassNotPurchased, "pass "+pass.Name+" not purchased", meta)
	}
	if p.Level < t.Level {
		meta["required_level"] = strconv.Itoa(t.Level)
		meta["level"] = strconv.Itoa(p.Level)
		return apperr.WithMetadata(apperr.CodeTierNotReached, "tier not reached", meta)
	}
	if state.HasClaimed(tier) {
		return apperr.WithMetadata(apperr.CodeAlreadyClaimed, "tier already claimed", meta)
	}
	return nil
}

// CheckEquip validates toggling item in slot and returns the item id the
// slot should hold afterwards ("" to unequip). A nil item unequips.
func (r Resolver) CheckEquip(slot profile.Slot, item *catalog.Item, p *profile.UserProfile) (string, error) {
	if _, ok := profile.ParseSlot(string(slot)); !ok {
		return "", apperr.Validation("unknown slot %q", slot)
	}
	if item == nil {
		return "", nil
	}
	if item.Type != slot {
		return "", apperr.WithMetadata(apperr.CodeValidation, "item does not fit slot",
			map[string]string{"item_id": item.ID, "slot": string(slot), "type": string(item.Type)})
	}
	if p.EquippedIn(slot) == item.ID {
		return "", nil
	}
	meta := map[string]string{"item_id": item.ID, "slot": string(slot)}
	switch item.Source {
	case catalog.SourceFree:
	case catalog.SourceShop:
		if !IsOwned(p, item.ID) {
			return "", apperr.WithMetadata(apperr.CodeNotOwned, "item "+item.ID+" not owned", meta)
		}
	default:
		if !r.IsUnlocked(*item, p) {
			return "", apperr.WithMetadata(apperr.CodeNotUnlocked, "item "+item.ID+" not unlocked", meta)
		}
	}
	return item.ID, nil
}

func insufficient(what string, price, balance profile.Money) error {
	return apperr.WithMetadata(apperr.CodeInsufficientFunds, "insufficient funds for "+what,
		map[string]string{"price": price.String(), "balance": balance.String(), "item_id": what})
}
