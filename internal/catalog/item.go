// Package catalog loads the static cosmetic catalog and merges it with the
// remote catalog. Static entries own the unlock rules; remote entries only
// contribute display data.
package catalog

import "xpfinance.app/internal/profile"

// Source is the unlock channel of an item.
type Source string

const (
	SourceFree Source = "free"
	SourceShop Source = "shop"
	SourcePass Source = "pass"
)

// PassRequirement names the pass tier that grants an item.
type PassRequirement struct {
	Pass string `json:"passName"`
	Tier int    `json:"level"`
}

type Item struct {
	ID           string           `json:"id"`
	Type         profile.Slot     `json:"type"`
	Name         string           `json:"name"`
	Image        string           `json:"image,omitempty"`
	Source       Source           `json:"source"`
	Price        profile.Money    `json:"price"`
	RequiredPass *PassRequirement `json:"requiredPass,omitempty"`
}

// Valid reports whether the item carries a coherent unlock rule: a known type
// and source, a positive price for shop items and a tier for pass items.
func (it Item) Valid() bool {
	if it.ID == "" {
		return false
	}
	if _, ok := profile.ParseSlot(string(it.Type)); !ok {
		return false
	}
	switch it.Source {
	case SourceFree:
		return true
	case SourceShop:
		return it.Price > 0
	case SourcePass:
		return it.RequiredPass != nil && it.RequiredPass.Pass != "" && it.RequiredPass.Tier >= 1
	}
	return false
}
