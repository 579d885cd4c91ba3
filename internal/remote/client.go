// Package remote talks to the REST transaction authority. It implements the
// profile store, catalog source and authority interfaces of the engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/opctx"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/protocol"
)

// maxBody bounds the size of any response we read.
const maxBody = 4 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url: %s", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// FetchProfile reads the full user and overlays the gamification progress,
// which the authority keeps more current than the user document.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*profile.UserProfile, error) {
	var p profile.UserProfile
	if err := c.do(ctx, http.MethodGet, protocol.PathUser+url.PathEscape(userID), nil, &p); err != nil {
		return nil, err
	}
	var prog protocol.ProgressResponse
	if err := c.do(ctx, http.MethodGet, protocol.PathProgress+url.PathEscape(userID), nil, &prog); err != nil {
		return nil, err
	}
	p.XP = prog.XP
	if prog.Level > 0 {
		p.Level = prog.Level
	}
	if prog.Achievements != nil {
		p.Achievements = prog.Achievements
	}
	if p.ID == "" {
		p.ID = userID
	}
	return &p, nil
}

func (c *Client) FetchBalance(ctx context.Context, userID string) (profile.Money, error) {
	var b protocol.BalanceResponse
	if err := c.do(ctx, http.MethodGet, protocol.PathBalance+url.PathEscape(userID), nil, &b); err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// FetchCatalog returns the valid entries of the remote catalog.
func (c *Client) FetchCatalog(ctx context.Context) ([]catalog.Item, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, protocol.PathCatalog, nil, &raw); err != nil {
		return nil, err
	}
	items, err := catalog.DecodeRemote(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTransient, "decode catalog", err)
	}
	return items, nil
}

func (c *Client) Purchase(ctx context.Context, userID, itemID string, price profile.Money) (*profile.UserProfile, error) {
	return c.mutate(ctx, protocol.PathPurchase, protocol.PurchaseRequest{UserID: userID, ItemID: itemID, Price: price})
}

func (c *Client) BuyPass(ctx context.Context, userID, passName string, price profile.Money) (*profile.UserProfile, error) {
	return c.mutate(ctx, protocol.PathBuyPass, protocol.BuyPassRequest{UserID: userID, PassName: passName, Price: price})
}

func (c *Client) ClaimTier(ctx context.Context, userID, passName string, tier int) (*profile.UserProfile, error) {
	return c.mutate(ctx, protocol.PathClaimPass, protocol.ClaimPassRequest{UserID: userID, PassName: passName, Level: tier})
}

func (c *Client) Equip(ctx context.Context, userID string, slot profile.Slot, itemID string) (*profile.UserProfile, error) {
	req := protocol.EquipRequest{UserID: userID, Type: slot}
	if itemID != "" {
		req.ItemID = &itemID
	}
	return c.mutate(ctx, protocol.PathEquip, req)
}

// Recompute asks the authority to recompute derived progression (level).
func (c *Client) Recompute(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, protocol.PathRecompute, protocol.RecomputeRequest{UserID: userID}, nil)
}

// mutate posts body and decodes the returned profile. An empty 2xx body
// yields a nil profile.
func (c *Client) mutate(ctx context.Context, path string, body any) (*profile.UserProfile, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, body, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}
	var p profile.UserProfile
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, apperr.Wrap(apperr.CodeTransient, "decode profile", err)
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.CodeValidation, "encode request", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return apperr.Wrap(apperr.CodeValidation, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := opctx.ID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set(protocol.RequestIDHeader, reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeTransient, method+" "+path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return apperr.Wrap(apperr.CodeTransient, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.CodeTransient, "decode "+path, err)
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy: 404 is
// NOT_FOUND, 5xx TRANSIENT, and other 4xx carry the body's code.
func statusError(method, path string, status int, data []byte) error {
	var body protocol.ErrorBody
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("%s %s: status %d", method, path, status)
	}
	cause := fmt.Errorf("%s %s: status %d", method, path, status)

	switch {
	case status == http.StatusNotFound:
		return &apperr.Error{Code: apperr.CodeNotFound, Message: msg, Metadata: body.Metadata, Cause: cause}
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return &apperr.Error{Code: apperr.CodeTransient, Message: msg, Metadata: body.Metadata, Cause: cause}
	}
	code := apperr.Code(body.Code)
	if !apperr.IsKnownCode(code) || code == apperr.CodeUnknown || code == "" {
		code = apperr.CodeValidation
	}
	return &apperr.Error{Code: code, Message: msg, Metadata: body.Metadata, Cause: cause}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var ae *apperr.Error
	return errors.As(err, &ae) && ae.Code == apperr.CodeTransient
}
