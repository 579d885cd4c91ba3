package authority

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/protocol"
)

const maxRequestBody = 64 << 10

type Handler struct {
	store  *Store
	logger *log.Logger
	mux    *http.ServeMux
}

func NewHandler(store *Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &Handler{store: store, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET "+protocol.PathBalance+"{id}", h.getBalance)
	h.mux.HandleFunc("GET "+protocol.PathProgress+"{id}", h.getProgress)
	h.mux.HandleFunc("POST "+protocol.PathRecompute, h.postRecompute)
	h.mux.HandleFunc("GET "+protocol.PathUser+"{id}", h.getUser)
	h.mux.HandleFunc("GET "+protocol.PathCatalog, h.getCatalog)
	h.mux.HandleFunc("POST "+protocol.PathPurchase, h.postPurchase)
	h.mux.HandleFunc("POST "+protocol.PathBuyPass, h.postBuyPass)
	h.mux.HandleFunc("POST "+protocol.PathClaimPass, h.postClaimPass)
	h.mux.HandleFunc("POST "+protocol.PathEquip, h.postEquip)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(protocol.RequestIDHeader); id != "" {
		w.Header().Set(protocol.RequestIDHeader, id)
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.FetchBalance(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.BalanceResponse{Balance: b})
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.FetchProfile(r.Context(), r.PathValue("id"))
	h.writeProfile(w, r, p, err)
}

func (h *Handler) getCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.FetchCatalog(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) postRecompute(w http.ResponseWriter, r *http.Request) {
	var req protocol.RecomputeRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.store.Recompute(r.Context(), req.UserID)
	h.writeProfile(w, r, p, err)
}

func (h *Handler) postPurchase(w http.ResponseWriter, r *http.Request) {
	var req protocol.PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.store.Purchase(r.Context(), req.UserID, req.ItemID, req.Price)
	h.writeProfile(w, r, p, err)
}

func (h *Handler) postBuyPass(w http.ResponseWriter, r *http.Request) {
	var req protocol.BuyPassRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.store.BuyPass(r.Context(), req.UserID, req.PassName, req.Price)
	h.writeProfile(w, r, p, err)
}

func (h *Handler) postClaimPass(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimPassRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.store.ClaimTier(r.Context(), req.UserID, req.PassName, req.Level)
	h.writeProfile(w, r, p, err)
}

func (h *Handler) postEquip(w http.ResponseWriter, r *http.Request) {
	var req protocol.EquipRequest
	if !h.decode(w, r, &req) {
		return
	}
	itemID := ""
	if req.ItemID != nil {
		itemID = *req.ItemID
	}
	p, err := h.store.Equip(r.Context(), req.UserID, req.Type, itemID)
	h.writeProfile(w, r, p, err)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.CodeValidation, "malformed request body", err))
		return false
	}
	return true
}

func (h *Handler) writeProfile(w http.ResponseWriter, r *http.Request, p *profile.UserProfile, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
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
