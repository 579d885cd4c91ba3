// Package view builds the presentation models pushed to clients: the
// dashboard summary, the frame grid and the pass tracks.
package view

import (
	"regexp"

	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/format"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/progression/achievements"
	"xpfinance.app/internal/progression/levelcurve"
)

type Dashboard struct {
	UserID             string              `json:"user_id"`
	Name               string              `json:"name,omitempty"`
	Standing           levelcurve.Standing `json:"standing"`
	ProgressLabel      string              `json:"progress_label"`
	XPLabel            string              `json:"xp_label"`
	Balance            profile.Money       `json:"balance"`
	BalanceLabel       string              `json:"balance_label"`
	LatestAchievements []string            `json:"latest_achievements"`
	Degraded           bool                `json:"degraded,omitempty"`
}

// Action is what a frame card's button does.
type Action string

const (
	ActionEquip   Action = "equip"
	ActionUnequip Action = "unequip"
	ActionBuy     Action = "buy"
	ActionLocked  Action = "locked"
)

type FrameCard struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	Image        string                   `json:"image,omitempty"`
	Source       catalog.Source           `json:"source"`
	Price        profile.Money            `json:"price,omitempty"`
	PriceLabel   string                   `json:"price_label,omitempty"`
	RequiredPass *catalog.PassRequirement `json:"required_pass,omitempty"`
	Owned        bool                     `json:"owned"`
	Unlocked     bool                     `json:"unlocked"`
	Equipped     bool                     `json:"equipped"`
	Action       Action                   `json:"action"`
}

type PassTrack struct {
	Name       string                 `json:"name"`
	Price      profile.Money          `json:"price"`
	PriceLabel string                 `json:"price_label"`
	Purchased  bool                   `json:"purchased"`
	Tiers      []battlepass.TierState `json:"tiers"`
}

type Gallery struct {
	Entries  []achievements.Entry `json:"entries"`
	Unlocked int                  `json:"unlocked"`
}

// Profile is everything a client renders for one user.
type Profile struct {
	Dashboard Dashboard   `json:"dashboard"`
	Frames    []FrameCard `json:"frames"`
	Passes    []PassTrack `json:"passes"`
	Gallery   *Gallery    `json:"gallery,omitempty"`
}

// Builder holds the display configuration shared by every view.
type Builder struct {
	Format      *format.Formatter
	Resolver    entitlement.Resolver
	Passes      *battlepass.Registry
	Definitions []achievements.Definition
	Latest      int
}

func (b Builder) formatter() *format.Formatter {
	if b.Format == nil {
		return format.Default()
	}
	return b.Format
}

// Dashboard summarizes level progress, balance and recent achievements.
func (b Builder) Dashboard(p *profile.UserProfile) Dashboard {
	f := b.formatter()
	s := levelcurve.Describe(p.XP, p.Level)
	n := b.Latest
	if n <= 0 {
		n = 3
	}
	return Dashboard{
		UserID:             p.ID,
		Name:               p.Name,
		Standing:           s,
		ProgressLabel:      f.Percent(s.Progress),
		XPLabel:            f.Number(s.InLevel) + " / " + f.Number(s.Span) + " XP",
		Balance:            p.Balance,
		BalanceLabel:       f.Money(p.Balance),
		LatestAchievements: achievements.Latest(p.Achievements, n),
		Degraded:           p.Degraded,
	}
}

// FrameGrid lays out the frames of the merged catalog in catalog order.
func (b Builder) FrameGrid(m *catalog.Merged, p *profile.UserProfile) []FrameCard {
	f := b.formatter()
	equipped := p.EquippedIn(profile.SlotFrame)
	items := m.OfType(profile.SlotFrame)
	out := make([]FrameCard, 0, len(items))
	for _, it := range items {
		card := FrameCard{
			ID:           it.ID,
			Name:         it.Name,
			Image:        frameImage(it),
			Source:       it.Source,
			RequiredPass: it.RequiredPass,
			Owned:        entitlement.IsOwned(p, it.ID),
			Unlocked:     b.Resolver.IsUnlocked(it, p),
			Equipped:     equipped == it.ID,
		}
		if it.Source == catalog.SourceShop {
			card.Price = it.Price
			card.PriceLabel = f.Money(it.Price)
		}
		card.Action = action(card)
		out = append(out, card)
	}
	return out
}

func action(c FrameCard) Action {
	switch {
	case c.Equipped:
		return ActionUnequip
	case c.Unlocked:
		return ActionEquip
	case c.Source == catalog.SourceShop:
		return ActionBuy
	}
	return ActionLocked
}

var numberedFrame = regexp.MustCompile(`^frame_(\d{1,2})$`)

// frameImage falls back to the numbered asset for frame_N ids.
func frameImage(it catalog.Item) string {
	if it.Image != "" {
		return it.Image
	}
	if m := numberedFrame.FindStringSubmatch(it.ID); m != nil {
		return "/assets/" + m[1] + ".png"
	}
	return ""
}

// Tracks lays out every configured pass track.
func (b Builder) Tracks(p *profile.UserProfile) []PassTrack {
	f := b.formatter()
	var out []PassTrack
	for _, name := range b.Passes.Names() {
		pass, _ := b.Passes.Get(name)
		state, _ := p.Pass(name)
		out = append(out, PassTrack{
			Name:       pass.Name,
			Price:      pass.Price,
			PriceLabel: f.Money(pass.Price),
			Purchased:  state.Purchased,
			Tiers:      battlepass.Track(pass, p),
		})
	}
	return out
}

// Gallery pairs the achievement definitions with p's unlocks. Nil without
// definitions.
func (b Builder) Gallery(p *profile.UserProfile) *Gallery {
	if len(b.Definitions) == 0 {
		return nil
	}
	entries := achievements.Gallery(b.Definitions, p.Achievements)
	g := &Gallery{Entries: entries}
	for _, e := range entries {
		if e.Unlocked {
			g.Unlocked++
		}
	}
	return g
}

// Profile builds the full view.
func (b Builder) Profile(m *catalog.Merged, p *profile.UserProfile) Profile {
	return Profile{
		Dashboard: b.Dashboard(p),
		Frames:    b.FrameGrid(m, p),
		Passes:    b.Tracks(p),
		Gallery:   b.Gallery(p),
	}
}
