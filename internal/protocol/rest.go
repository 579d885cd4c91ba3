package protocol

import (
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/progression/achievements"
)

// REST paths served by the transaction authority.
const (
	PathBalance   = "/bank/balance/"
	PathProgress  = "/gamification/profile/"
	PathRecompute = "/gamification/recompute"
	PathUser      = "/user/"
	PathCatalog   = "/shop/catalog"
	PathPurchase  = "/user/purchase"
	PathBuyPass   = "/user/buy-pass"
	PathClaimPass = "/user/claim-pass"
	PathEquip     = "/user/equip"
)

// RequestIDHeader correlates a request with the engine operation behind it.
const RequestIDHeader = "X-Request-Id"

type BalanceResponse struct {
	Balance profile.Money `json:"balance"`
}

// ProgressResponse is the gamification slice of a user. Level is omitted
// by authorities that only track xp.
type ProgressResponse struct {
	XP           int64                 `json:"xp"`
	Level        int                   `json:"level,omitempty"`
	Achievements []achievements.Record `json:"achievements"`
}

type PurchaseRequest struct {
	UserID string        `json:"userId"`
	ItemID string        `json:"itemId"`
	Price  profile.Money `json:"price"`
}

type BuyPassRequest struct {
	UserID   string        `json:"userId"`
	PassName string        `json:"passName"`
	Price    profile.Money `json:"price"`
}

type ClaimPassRequest struct {
	UserID   string `json:"userId"`
	PassName string `json:"passName"`
	Level    int    `json:"level"` // tier number
}

// EquipRequest clears the slot when ItemID is nil.
type EquipRequest struct {
	UserID string       `json:"userId"`
	Type   profile.Slot `json:"type"`
	ItemID *string      `json:"itemId"`
}

type RecomputeRequest struct {
	UserID string `json:"userId"`
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
