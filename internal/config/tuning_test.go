package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsMatchKitsuneSeason(t *testing.T) {
	d := Defaults()
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if len(d.Passes) != 1 || d.Passes[0].Name != "Kitsune" || d.Passes[0].Price != 55 {
		t.Fatalf("pass: %+v", d.Passes)
	}
	tiers := d.Passes[0].Tiers
	if len(tiers) != 10 {
		t.Fatalf("expected 10 tiers, got %d", len(tiers))
	}
	if tiers[0].Frame != "frame_1" || tiers[1].Credit != 5 || tiers[9].Frame != "frame_10" {
		t.Fatalf("tier rewards: %+v", tiers)
	}
	if d.SlotCaps["frame"] != 12 || !d.OwnedFallback() {
		t.Fatalf("caps/fallback: %+v", d)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := `currency: brl
slot_caps:
  frame: 4
pass_owned_fallback: false
passes:
  - name: Tanuki
    price: 30
    tiers:
      - frame: frame_9
      - level: 5
        credit: 2.5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Currency != "BRL" || tu.SlotCaps["frame"] != 4 || tu.OwnedFallback() {
		t.Fatalf("tuning: %+v", tu)
	}
	ts := tu.Passes[0].Tiers
	if ts[0].Tier != 1 || ts[0].Level != 1 || ts[1].Tier != 2 || ts[1].Level != 5 {
		t.Fatalf("tiers not normalized: %+v", ts)
	}
	if tu.LatestAchievements != 3 || tu.DefaultShopPrice != 100 {
		t.Fatalf("zero values not filled: %+v", tu)
	}
}

func TestLoadRejectsDuplicateTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "passes:\n  - name: K\n    price: 1\n    tiers:\n      - tier: 2\n      - tier: 2\n"
	_ = os.WriteFile(path, []byte(body), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate tier error")
	}
}

func TestLoadRejectsBadCurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	_ = os.WriteFile(path, []byte("currency: XXQ\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected currency error")
	}
}

func TestLoadRuntimeFromEnv(t *testing.T) {
	t.Setenv("XPF_API_BASE_URL", "http://api.test")
	t.Setenv("XPF_REFRESH_EVERY", "5s")
	rt, err := LoadRuntime()
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if rt.APIBaseURL != "http://api.test" || rt.RefreshEvery != 5*time.Second || rt.HTTPTimeout != 10*time.Second {
		t.Fatalf("runtime: %+v", rt)
	}
}

func TestShippedTuningMatchesDefaults(t *testing.T) {
	got, err := Load("../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	if got.Currency != want.Currency || got.Locale != want.Locale || !got.OwnedFallback() {
		t.Fatalf("tuning: %+v", got)
	}
	if len(got.Passes) != 1 || len(got.Passes[0].Tiers) != len(want.Passes[0].Tiers) {
		t.Fatalf("passes: %+v", got.Passes)
	}
	for i, ts := range got.Passes[0].Tiers {
		if ts != want.Passes[0].Tiers[i] {
			t.Fatalf("tier %d: got %+v want %+v", i+1, ts, want.Passes[0].Tiers[i])
		}
	}
	if caps := got.Caps(); caps["frame"] != 12 || len(caps) != 1 {
		t.Fatalf("caps: %v", caps)
	}
}
