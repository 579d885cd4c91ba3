package view

import (
	"testing"
	"time"

	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/config"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/progression/achievements"
)

func fixture(t *testing.T) (Builder, *catalog.Merged) {
	t.Helper()
	passes, err := battlepass.FromTuning(config.Defaults())
	if err != nil {
		t.Fatalf("passes: %v", err)
	}
	static, err := catalog.NewStatic([]catalog.Item{
		{ID: "frame_1", Type: profile.SlotFrame, Name: "Kitsune I", Source: catalog.SourcePass,
			RequiredPass: &catalog.PassRequirement{Pass: "Kitsune", Tier: 1}},
		{ID: "frame_2", Type: profile.SlotFrame, Name: "Ouro", Source: catalog.SourceShop, Price: 10000},
		{ID: "frame_4", Type: profile.SlotFrame, Name: "Prata", Source: catalog.SourceShop, Price: 10000, Image: "/img/prata.png"},
		{ID: "frame_10", Type: profile.SlotFrame, Name: "Kitsune X", Source: catalog.SourcePass,
			RequiredPass: &catalog.PassRequirement{Pass: "Kitsune", Tier: 10}},
		{ID: "avatar_default", Type: profile.SlotAvatar, Name: "Padrão", Source: catalog.SourceFree},
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	b := Builder{
		Resolver: entitlement.Resolver{OwnedPassFallback: true},
		Passes:   passes,
		Definitions: []achievements.Definition{
			{ID: "first_deposit", Title: "Primeiro depósito", Rarity: achievements.RarityCommon},
			{ID: "saver", Title: "Poupador", Rarity: achievements.RarityRare},
		},
	}
	return b, catalog.Merge(static, nil, nil)
}

func user() *profile.UserProfile {
	p := &profile.UserProfile{
		ID:      "u1",
		Balance: 123456,
		XP:      550,
		Level:   3,
		Achievements: []achievements.Record{
			achievements.ID("a"), achievements.ID("b"), achievements.ID("first_deposit"), achievements.ID("c"),
		},
	}
	p.Normalize()
	p.Cosmetics.Passes["Kitsune"] = profile.PassState{Purchased: true, ClaimedLevels: []int{1}}
	p.Grant("frame_1", time.Unix(0, 0))
	p.Grant("frame_2", time.Unix(0, 0))
	p.Cosmetics.Equipped[profile.SlotFrame] = "frame_2"
	return p
}

func TestDashboard(t *testing.T) {
	b, _ := fixture(t)
	d := b.Dashboard(user())
	if d.Standing.InLevel != 150 || d.Standing.Needed != 350 || d.ProgressLabel != "30%" {
		t.Fatalf("standing: %+v label=%q", d.Standing, d.ProgressLabel)
	}
	if d.BalanceLabel != "R$ 1.234,56" {
		t.Fatalf("balance label: %q", d.BalanceLabel)
	}
	if d.XPLabel != "150 / 500 XP" {
		t.Fatalf("xp label: %q", d.XPLabel)
	}
	want := []string{"c", "first_deposit", "b"}
	if len(d.LatestAchievements) != 3 {
		t.Fatalf("latest: %v", d.LatestAchievements)
	}
	for i := range want {
		if d.LatestAchievements[i] != want[i] {
			t.Fatalf("latest: %v, want %v", d.LatestAchievements, want)
		}
	}
}

func TestFrameGridActions(t *testing.T) {
	b, m := fixture(t)
	cards := b.FrameGrid(m, user())
	got := map[string]FrameCard{}
	var order []string
	for _, c := range cards {
		got[c.ID] = c
		order = append(order, c.ID)
	}
	if len(cards) != 4 || order[0] != "frame_1" || order[3] != "frame_10" {
		t.Fatalf("frame order: %v", order)
	}
	if got["frame_2"].Action != ActionUnequip || !got["frame_2"].Equipped {
		t.Fatalf("frame_2: %+v", got["frame_2"])
	}
	if got["frame_1"].Action != ActionEquip {
		t.Fatalf("frame_1: %+v", got["frame_1"])
	}
	if got["frame_4"].Action != ActionBuy || got["frame_4"].PriceLabel != "R$ 100,00" || got["frame_4"].Image != "/img/prata.png" {
		t.Fatalf("frame_4: %+v", got["frame_4"])
	}
	if got["frame_10"].Action != ActionLocked || got["frame_10"].Image != "/assets/10.png" {
		t.Fatalf("frame_10: %+v", got["frame_10"])
	}
}

func TestProfileView(t *testing.T) {
	b, m := fixture(t)
	v := b.Profile(m, user())
	if len(v.Passes) != 1 || !v.Passes[0].Purchased || v.Passes[0].PriceLabel != "R$ 55,00" {
		t.Fatalf("passes: %+v", v.Passes)
	}
	tiers := v.Passes[0].Tiers
	if !tiers[0].Claimed || !tiers[1].Claimable || tiers[3].Reached {
		t.Fatalf("tiers: %+v", tiers)
	}
	if v.Gallery == nil || v.Gallery.Unlocked != 1 || len(v.Gallery.Entries) != 2 {
		t.Fatalf("gallery: %+v", v.Gallery)
	}
}
