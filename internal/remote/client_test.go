package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/opctx"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/protocol"
)

type recorder struct {
	mu      sync.Mutex
	headers []http.Header
	bodies  []map[string]any
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = append(r.headers, req.Header.Clone())
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.bodies = append(r.bodies, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T, rec *recorder) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /bank/balance/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		switch r.PathValue("id") {
		case "u1":
			writeJSON(w, 200, map[string]any{"balance": 1234.56})
		case "flaky":
			writeJSON(w, 503, protocol.ErrorBody{Code: "TRANSIENT", Message: "try later"})
		default:
			writeJSON(w, 404, protocol.ErrorBody{Code: "NOT_FOUND", Message: "user not found"})
		}
	})
	mux.HandleFunc("GET /user/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.PathValue("id") != "u1" {
			writeJSON(w, 404, protocol.ErrorBody{Code: "NOT_FOUND"})
			return
		}
		_, _ = w.Write([]byte(`{"_id":"u1","name":"Ana","xp":10,"level":1,
			"profile":{"inventory":[{"id":"frame_2","owned":true}],"equipped":{"frame":"frame_2"},"passes":{}}}`))
	})
	mux.HandleFunc("GET /gamification/profile/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`{"xp":550,"level":3,"achievements":["a",{"id":"b","unlockedAt":"2024-01-01"},"a"]}`))
	})
	mux.HandleFunc("GET /shop/catalog", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`[{"id":"frame_2","name":"Ouro","image":"/img/ouro.png"},{"name":"no id"}]`))
	})
	mux.HandleFunc("POST /user/purchase", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		writeJSON(w, 402, protocol.ErrorBody{Code: "INSUFFICIENT_FUNDS", Message: "saldo insuficiente",
			Metadata: map[string]string{"price": "100.00"}})
	})
	mux.HandleFunc("POST /user/equip", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /user/claim-pass", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`{"id":"u1","balance":5,"xp":550,"level":3,"profile":{"passes":{"Kitsune":{"purchased":true,"claimedLevels":[1,3]}}}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFetchProfileAndBalance(t *testing.T) {
	rec := &recorder{}
	c := newServer(t, rec)
	ctx := context.Background()

	bal, err := c.FetchBalance(ctx, "u1")
	if err != nil || bal != 123456 {
		t.Fatalf("FetchBalance: %v %v", bal, err)
	}
	p, err := c.FetchProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if p.ID != "u1" || p.XP != 550 || p.Level != 3 || p.EquippedIn(profile.SlotFrame) != "frame_2" {
		t.Fatalf("profile: %+v", p)
	}
	if ids := p.AchievementIDs(); len(ids) != 2 {
		t.Fatalf("achievements: %v", ids)
	}
	for _, h := range rec.headers {
		if _, err := uuid.Parse(h.Get(protocol.RequestIDHeader)); err != nil {
			t.Fatalf("missing request id: %v", h)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	c := newServer(t, &recorder{})
	ctx := context.Background()

	_, err := c.FetchBalance(ctx, "ghost")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("404: %v", err)
	}
	_, err = c.FetchBalance(ctx, "flaky")
	if !errors.Is(err, apperr.ErrTransient) || !IsTransient(err) {
		t.Fatalf("503: %v", err)
	}
	_, err = c.Purchase(ctx, "u1", "frame_2", 10000)
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("402: %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Message != "saldo insuficiente" || ae.Metadata["price"] != "100.00" {
		t.Fatalf("error detail: %+v", ae)
	}

	dead, err := New("http://127.0.0.1:1", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := dead.FetchBalance(ctx, "u1"); !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("network error: %v", err)
	}
}

func TestMutations(t *testing.T) {
	rec := &recorder{}
	c := newServer(t, rec)
	ctx, op := opctx.Start(context.Background())

	p, err := c.Equip(ctx, "u1", profile.SlotFrame, "")
	if err != nil || p != nil {
		t.Fatalf("empty equip response should be nil profile: %+v %v", p, err)
	}
	last := rec.bodies[len(rec.bodies)-1]
	if last["itemId"] != nil || last["type"] != "frame" || last["userId"] != "u1" {
		t.Fatalf("equip body: %v", last)
	}
	if got := rec.headers[len(rec.headers)-1].Get(protocol.RequestIDHeader); got != op {
		t.Fatalf("request id %q, want operation id %q", got, op)
	}

	p, err = c.ClaimTier(ctx, "u1", "Kitsune", 3)
	if err != nil {
		t.Fatalf("ClaimTier: %v", err)
	}
	if !p.Cosmetics.Passes["Kitsune"].HasClaimed(3) || p.Balance != 500 {
		t.Fatalf("claim response: %+v", p)
	}
	last = rec.bodies[len(rec.bodies)-1]
	if last["passName"] != "Kitsune" || last["level"] != float64(3) {
		t.Fatalf("claim body: %v", last)
	}
}

func TestFetchCatalogSkipsInvalidEntries(t *testing.T) {
	c := newServer(t, &recorder{})
	items, err := c.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if len(items) != 1 || items[0].ID != "frame_2" || items[0].Image != "/img/ouro.png" {
		t.Fatalf("items: %+v", items)
	}
}

func TestNewValidatesURL(t *testing.T) {
	if _, err := New("  ", 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
	c, err := New("api.example.com/", 0)
	if err != nil || c.baseURL != "https://api.example.com" {
		t.Fatalf("normalized url: %v %v", c, err)
	}
}
