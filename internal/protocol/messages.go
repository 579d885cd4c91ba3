package protocol

import (
	"time"

	"xpfinance.app/internal/view"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	CatalogDigest   string        `json:"catalog_digest,omitempty"`
	Profile         *view.Profile `json:"profile,omitempty"`
}

// PROFILE (server -> client): sent whenever the profile materially changes.
type ProfileMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	UserID          string       `json:"user_id"`
	Seq             uint64       `json:"seq"`
	SentAt          time.Time    `json:"sent_at"`
	Profile         view.Profile `json:"profile"`
}

// INVALIDATED (server -> client): the session is gone; the client should
// return to the signed-out state.
type InvalidatedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
	Reason          string `json:"reason,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
