package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/authority"
	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/config"
	"xpfinance.app/internal/engine"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/profilesync"
	"xpfinance.app/internal/protocol"
	"xpfinance.app/internal/view"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	static, err := catalog.NewStatic([]catalog.Item{
		{ID: "avatar_default", Type: profile.SlotAvatar, Name: "Avatar Default", Source: catalog.SourceFree},
		{ID: "frame_1", Type: profile.SlotFrame, Name: "Neko Sombrio", Source: catalog.SourcePass,
			RequiredPass: &catalog.PassRequirement{Pass: "Kitsune", Tier: 1}},
		{ID: "frame_2", Type: profile.SlotFrame, Name: "Halo Celestial", Source: catalog.SourceShop, Price: 10000},
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	passes, err := battlepass.FromTuning(config.Defaults())
	if err != nil {
		t.Fatalf("passes: %v", err)
	}
	resolver := entitlement.Resolver{OwnedPassFallback: true}
	now := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	store, err := authority.Open(filepath.Join(t.TempDir(), "authority.db"), authority.Options{
		Catalog: static, Passes: passes, Resolver: resolver, Now: now,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.CreateUser(context.Background(), authority.User{ID: "u1", Name: "Ana", Balance: 15000}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	guard := profilesync.New(profilesync.Options{Store: store, Now: now})
	eng, err := engine.New(engine.Options{
		Guard:     guard,
		Authority: store,
		Catalog:   store,
		Cache:     catalog.NewCache(static, nil),
		Passes:    passes,
		Resolver:  resolver,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	h := NewHandler(eng, view.Builder{Resolver: resolver, Passes: passes}, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func frame(t *testing.T, v view.Profile, id string) view.FrameCard {
	t.Helper()
	for _, c := range v.Frames {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("frame %s missing from %+v", id, v.Frames)
	return view.FrameCard{}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newServer(t)

	var eb protocol.ErrorBody
	if code := call(t, srv, http.MethodGet, "/v1/profile", nil, &eb); code != http.StatusUnauthorized || eb.Code != string(apperr.CodeSessionInvalidated) {
		t.Fatalf("signed out: %d %+v", code, eb)
	}

	var v view.Profile
	if code := call(t, srv, http.MethodPost, "/v1/session", SessionRequest{UserID: "u1"}, &v); code != http.StatusOK {
		t.Fatalf("session: %d", code)
	}
	if v.Dashboard.UserID != "u1" || v.Dashboard.Balance != 15000 || len(v.Passes) != 1 {
		t.Fatalf("view: %+v", v.Dashboard)
	}

	if code := call(t, srv, http.MethodDelete, "/v1/session", nil, nil); code != http.StatusNoContent {
		t.Fatalf("logout: %d", code)
	}
	if code := call(t, srv, http.MethodGet, "/v1/profile", nil, &eb); code != http.StatusUnauthorized {
		t.Fatalf("after logout: %d", code)
	}
}

func TestUnknownUserIsNotFound(t *testing.T) {
	srv := newServer(t)
	var eb protocol.ErrorBody
	code := call(t, srv, http.MethodPost, "/v1/session", SessionRequest{UserID: "ghost"}, &eb)
	if code != http.StatusUnauthorized || eb.Code != string(apperr.CodeSessionInvalidated) {
		t.Fatalf("ghost: %d %+v", code, eb)
	}
}

func TestShopPurchaseAndEquip(t *testing.T) {
	srv := newServer(t)
	var v view.Profile
	call(t, srv, http.MethodPost, "/v1/session", SessionRequest{UserID: "u1"}, &v)
	if c := frame(t, v, "frame_2"); c.Action != view.ActionBuy {
		t.Fatalf("before purchase: %+v", c)
	}

	if code := call(t, srv, http.MethodPost, "/v1/purchase", PurchaseRequest{ItemID: "frame_2"}, &v); code != http.StatusOK {
		t.Fatalf("purchase: %d", code)
	}
	if c := frame(t, v, "frame_2"); !c.Owned || c.Action != view.ActionEquip || v.Dashboard.Balance != 5000 {
		t.Fatalf("after purchase: %+v balance=%v", c, v.Dashboard.Balance)
	}

	var eb protocol.ErrorBody
	if code := call(t, srv, http.MethodPost, "/v1/purchase", PurchaseRequest{ItemID: "frame_2"}, &eb); code != http.StatusConflict || eb.Code != string(apperr.CodeAlreadyOwned) {
		t.Fatalf("repurchase: %d %+v", code, eb)
	}

	if code := call(t, srv, http.MethodPost, "/v1/equip", EquipRequest{Slot: "frame", ItemID: "frame_2"}, &v); code != http.StatusOK {
		t.Fatalf("equip: %d", code)
	}
	if c := frame(t, v, "frame_2"); !c.Equipped || c.Action != view.ActionUnequip {
		t.Fatalf("after equip: %+v", c)
	}

	if code := call(t, srv, http.MethodPost, "/v1/equip", EquipRequest{Slot: "hat", ItemID: "frame_2"}, &eb); code != http.StatusBadRequest {
		t.Fatalf("bad slot: %d", code)
	}
}

func TestPassNeedsFunds(t *testing.T) {
	srv := newServer(t)
	var v view.Profile
	call(t, srv, http.MethodPost, "/v1/session", SessionRequest{UserID: "u1"}, &v)

	var eb protocol.ErrorBody
	if code := call(t, srv, http.MethodPost, "/v1/passes/Kitsune/claim", ClaimRequest{Tier: 1}, &eb); code != http.StatusConflict || eb.Code != string(apperr.CodePassNotPurchased) {
		t.Fatalf("claim before buying: %d %+v", code, eb)
	}

	if code := call(t, srv, http.MethodPost, "/v1/passes/Kitsune/buy", nil, &v); code != http.StatusOK {
		t.Fatalf("buy pass: %d", code)
	}
	if v.Dashboard.Balance != 9500 || !v.Passes[0].Purchased {
		t.Fatalf("after buy: balance=%v passes=%+v", v.Dashboard.Balance, v.Passes)
	}

	if code := call(t, srv, http.MethodPost, "/v1/passes/Kitsune/claim", ClaimRequest{Tier: 1}, &v); code != http.StatusOK {
		t.Fatalf("claim: %d", code)
	}
	if c := frame(t, v, "frame_1"); !c.Unlocked || c.Action != view.ActionEquip {
		t.Fatalf("frame_1 after claim: %+v", c)
	}

	if code := call(t, srv, http.MethodPost, "/v1/purchase", PurchaseRequest{ItemID: "frame_2"}, &eb); code != http.StatusPaymentRequired || eb.Code != string(apperr.CodeInsufficientFunds) {
		t.Fatalf("purchase without funds: %d %+v", code, eb)
	}
}
