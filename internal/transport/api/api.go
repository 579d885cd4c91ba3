// Package api serves the signed-in user's actions over HTTP: session start
// and end, refresh, purchases, pass tiers and equips. Every success answers
// with the rendered profile view.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/engine"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/protocol"
	"xpfinance.app/internal/view"
)

const maxBody = 64 << 10

type SessionRequest struct {
	UserID string `json:"user_id"`
}

type PurchaseRequest struct {
	ItemID string `json:"item_id"`
}

type ClaimRequest struct {
	Tier int `json:"tier"`
}

type EquipRequest struct {
	Slot   string `json:"slot"`
	ItemID string `json:"item_id"`
}

type Handler struct {
	engine  *engine.Engine
	builder view.Builder
	log     *log.Logger
	mux     *http.ServeMux
}

func NewHandler(eng *engine.Engine, builder view.Builder, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &Handler{engine: eng, builder: builder, log: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /v1/profile", h.getProfile)
	h.mux.HandleFunc("GET /v1/catalog", h.getCatalog)
	h.mux.HandleFunc("POST /v1/session", h.postSession)
	h.mux.HandleFunc("DELETE /v1/session", h.deleteSession)
	h.mux.HandleFunc("POST /v1/refresh", h.postRefresh)
	h.mux.HandleFunc("POST /v1/purchase", h.postPurchase)
	h.mux.HandleFunc("POST /v1/passes/{name}/buy", h.postBuyPass)
	h.mux.HandleFunc("POST /v1/passes/{name}/claim", h.postClaim)
	h.mux.HandleFunc("POST /v1/equip", h.postEquip)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Render builds the view of p against the latest merged catalog.
func (h *Handler) Render(ctx context.Context, p *profile.UserProfile) view.Profile {
	return h.builder.Profile(h.engine.Catalog(ctx), p)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p := h.engine.Guard().Current()
	if p == nil {
		h.writeError(w, r, apperr.ErrSessionInvalidated)
		return
	}
	writeJSON(w, http.StatusOK, h.Render(r.Context(), p))
}

func (h *Handler) getCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Catalog(r.Context()).Items())
}

func (h *Handler) postSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	guard := h.engine.Guard()
	if err := guard.Authenticate(r.Context(), req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeProfile(w, r)(guard.Refresh(r.Context()))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	h.engine.Guard().Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) postRefresh(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r)(h.engine.Guard().Refresh(r.Context()))
}

func (h *Handler) postPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeProfile(w, r)(h.engine.Purchase(r.Context(), req.ItemID))
}

func (h *Handler) postBuyPass(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r)(h.engine.BuyPass(r.Context(), r.PathValue("name")))
}

func (h *Handler) postClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeProfile(w, r)(h.engine.Claim(r.Context(), r.PathValue("name"), req.Tier))
}

func (h *Handler) postEquip(w http.ResponseWriter, r *http.Request) {
	var req EquipRequest
	if !h.decode(w, r, &req) {
		return
	}
	slot, ok := profile.ParseSlot(req.Slot)
	if !ok {
		h.writeError(w, r, apperr.Validation("unknown slot %q", req.Slot))
		return
	}
	h.writeProfile(w, r)(h.engine.Equip(r.Context(), slot, req.ItemID))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, apperr.Validation("malformed request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeProfile(w http.ResponseWriter, r *http.Request) func(*profile.UserProfile, error) {
	return func(p *profile.UserProfile, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.Render(r.Context(), p))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorBody{
			Code:    string(apperr.CodeUnknown),
			Message: "internal error",
		})
		return
	}
	writeJSON(w, ae.Code.HTTPStatus(), protocol.ErrorBody{
		Code:     string(ae.Code),
		Message:  ae.Message,
		Metadata: ae.Metadata,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
