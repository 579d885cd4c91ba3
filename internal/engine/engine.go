// Package engine runs the cosmetic operations of a signed-in user: shop
// purchases, pass purchases, tier claims and equip toggles. Each operation is
// checked locally, confirmed by the transaction authority, and the confirmed
// profile replaces the local one.
package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"time"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/opctx"
	auditlog "xpfinance.app/internal/persistence/log"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/profilesync"
)

// Authority confirms state transitions. A nil profile with a nil error means
// the authority accepted the operation without returning the new state.
type Authority interface {
	Purchase(ctx context.Context, userID, itemID string, price profile.Money) (*profile.UserProfile, error)
	BuyPass(ctx context.Context, userID, passName string, price profile.Money) (*profile.UserProfile, error)
	ClaimTier(ctx context.Context, userID, passName string, tier int) (*profile.UserProfile, error)
	Equip(ctx context.Context, userID string, slot profile.Slot, itemID string) (*profile.UserProfile, error)
}

// CatalogSource serves the remote catalog.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]catalog.Item, error)
}

type Options struct {
	Guard     *profilesync.Guard
	Authority Authority
	Catalog   CatalogSource // optional
	Cache     *catalog.Cache
	Passes    *battlepass.Registry
	Resolver  entitlement.Resolver
	Audit     profilesync.Auditor
	Logger    *log.Logger
	Now       func() time.Time
}

type Engine struct {
	guard     *profilesync.Guard
	authority Authority
	source    CatalogSource
	cache     *catalog.Cache
	passes    *battlepass.Registry
	resolver  entitlement.Resolver
	audit     profilesync.Auditor
	logger    *log.Logger
	now       func() time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Guard == nil || opts.Authority == nil || opts.Cache == nil {
		return nil, errors.New("engine: guard, authority and catalog cache are required")
	}
	e := &Engine{
		guard:     opts.Guard,
		authority: opts.Authority,
		source:    opts.Catalog,
		cache:     opts.Cache,
		passes:    opts.Passes,
		resolver:  opts.Resolver,
		audit:     opts.Audit,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *Engine) Guard() *profilesync.Guard      { return e.guard }
func (e *Engine) Passes() *battlepass.Registry   { return e.passes }
func (e *Engine) Resolver() entitlement.Resolver { return e.resolver }

// Catalog fetches the remote catalog and merges it over the static one.
// When the remote catalog is unavailable the static catalog is used alone.
func (e *Engine) Catalog(ctx context.Context) *catalog.Merged {
	if e.source == nil {
		return e.cache.Merge(nil)
	}
	remote, err := e.source.FetchCatalog(ctx)
	if err != nil {
		e.logger.Printf("remote catalog unavailable, using static catalog: %v", err)
		return e.cache.Merge(nil)
	}
	return e.cache.Merge(remote)
}

// IsUnlocked resolves item against the current profile.
func (e *Engine) IsUnlocked(item catalog.Item) bool {
	return e.resolver.IsUnlocked(item, e.guard.Current())
}

func (e *Engine) session() (*profile.UserProfile, error) {
	p := e.guard.Current()
	if p == nil {
		return nil, apperr.ErrSessionInvalidated
	}
	return p, nil
}

func (e *Engine) item(itemID string) (catalog.Item, error) {
	if itemID == "" {
		return catalog.Item{}, apperr.Validation("empty item id")
	}
	it, ok := e.cache.Last().Get(itemID)
	if !ok {
		return catalog.Item{}, apperr.WithMetadata(apperr.CodeValidation, "unknown item "+itemID,
			map[string]string{"item_id": itemID})
	}
	return it, nil
}

func (e *Engine) pass(name string) (battlepass.Pass, error) {
	p, ok := e.passes.Get(name)
	if !ok {
		return battlepass.Pass{}, apperr.WithMetadata(apperr.CodeValidation, "unknown pass "+name,
			map[string]string{"pass": name})
	}
	return p, nil
}

// Purchase buys a shop item.
func (e *Engine) Purchase(ctx context.Context, itemID string) (*profile.UserProfile, error) {
	ctx, op := opctx.Start(ctx)
	prev, err := e.session()
	if err != nil {
		return nil, err
	}
	detail := map[string]string{"op": op, "item_id": itemID}
	item, err := e.item(itemID)
	if err == nil {
		err = e.resolver.CheckPurchase(item, prev)
	}
	if err != nil {
		return nil, e.reject(prev.ID, detail, err)
	}
	detail["price"] = item.Price.String()

	resp, err := e.authority.Purchase(ctx, prev.ID, item.ID, item.Price)
	return e.commit(ctx, prev, auditlog.KindPurchase, detail, resp, err, func(resp *profile.UserProfile) {
		resp.Grant(item.ID, e.now())
	}, func() *profile.UserProfile {
		return entitlement.ProjectPurchase(prev, item, e.now())
	})
}

// BuyPass purchases the named pass.
func (e *Engine) BuyPass(ctx context.Context, passName string) (*profile.UserProfile, error) {
	ctx, op := opctx.Start(ctx)
	prev, err := e.session()
	if err != nil {
		return nil, err
	}
	detail := map[string]string{"op": op, "pass": passName}
	pass, err := e.pass(passName)
	if err == nil {
		err = e.resolver.CheckBuyPass(pass, prev)
	}
	if err != nil {
		return nil, e.reject(prev.ID, detail, err)
	}
	detail["price"] = pass.Price.String()

	resp, err := e.authority.BuyPass(ctx, prev.ID, pass.Name, pass.Price)
	return e.commit(ctx, prev, auditlog.KindBuyPass, detail, resp, err, nil, func() *profile.UserProfile {
		return entitlement.ProjectBuyPass(prev, pass)
	})
}

// Claim redeems tier of the named pass.
func (e *Engine) Claim(ctx context.Context, passName string, tier int) (*profile.UserProfile, error) {
	ctx, op := opctx.Start(ctx)
	prev, err := e.session()
	if err != nil {
		return nil, err
	}
	detail := map[string]string{"op": op, "pass": passName, "tier": strconv.Itoa(tier)}
	pass, err := e.pass(passName)
	if err == nil {
		err = e.resolver.CheckClaim(pass, tier, prev)
	}
	if err != nil {
		return nil, e.reject(prev.ID, detail, err)
	}

	resp, err := e.authority.ClaimTier(ctx, prev.ID, pass.Name, tier)
	return e.commit(ctx, prev, auditlog.KindClaim, detail, resp, err, nil, func() *profile.UserProfile {
		return entitlement.ProjectClaim(prev, pass, tier, e.now())
	})
}

// Equip toggles itemID in slot: equipping the equipped item clears the slot,
// and an empty itemID clears it too.
func (e *Engine) Equip(ctx context.Context, slot profile.Slot, itemID string) (*profile.UserProfile, error) {
	ctx, op := opctx.Start(ctx)
	prev, err := e.session()
	if err != nil {
		return nil, err
	}
	detail := map[string]string{"op": op, "slot": string(slot), "item_id": itemID}
	var item *catalog.Item
	if itemID != "" {
		it, err := e.item(itemID)
		if err != nil {
			return nil, e.reject(prev.ID, detail, err)
		}
		item = &it
	}
	target, err := e.resolver.CheckEquip(slot, item, prev)
	if err != nil {
		return nil, e.reject(prev.ID, detail, err)
	}
	detail["equipped"] = target

	resp, err := e.authority.Equip(ctx, prev.ID, slot, target)
	return e.commit(ctx, prev, auditlog.KindEquip, detail, resp, err, nil, func() *profile.UserProfile {
		return entitlement.ProjectEquip(prev, slot, target)
	})
}

// commit turns an authority answer into the new current profile. fix adjusts
// a confirmed response; project builds the degraded fallback.
func (e *Engine) commit(ctx context.Context, prev *profile.UserProfile, kind string, detail map[string]string,
	resp *profile.UserProfile, err error, fix func(*profile.UserProfile), project func() *profile.UserProfile) (*profile.UserProfile, error) {
	if err != nil {
		return nil, e.authorityFailed(ctx, prev.ID, detail, err)
	}

	var next *profile.UserProfile
	if resp == nil {
		next = project()
		e.logger.Printf("%s for %s: authority returned no profile, projecting locally", kind, prev.ID)
		e.record(auditlog.Entry{UserID: prev.ID, Kind: auditlog.KindDegradedProjection, Detail: withKind(detail, kind)})
	} else {
		next = resp.Clone()
		next.ID = prev.ID
		next.Normalize()
		next.CarryInventory(prev)
		if fix != nil {
			fix(next)
		}
		next.Degraded = false
	}
	if err := e.guard.Replace(ctx, next); err != nil {
		// The authority already committed; a local write failure must not
		// report the operation as failed.
		if !errors.Is(err, profilesync.ErrNotPersisted) {
			return nil, err
		}
		e.logger.Printf("%s for %s: %v", kind, prev.ID, err)
	}
	e.record(auditlog.Entry{UserID: prev.ID, Kind: kind, Detail: detail})
	return next.Clone(), nil
}

func (e *Engine) authorityFailed(ctx context.Context, userID string, detail map[string]string, err error) error {
	code := apperr.CodeOf(err)
	switch {
	case code == apperr.CodeNotFound:
		e.guard.Invalidate(ctx)
		return apperr.Wrap(apperr.CodeSessionInvalidated, "user "+userID+" no longer exists", err)
	case code == apperr.CodeValidation || code.IsBusinessRule():
		return e.reject(userID, detail, err)
	case code == apperr.CodeTransient:
		e.logger.Printf("authority unavailable for %s: %v", userID, err)
		return err
	default:
		e.logger.Printf("authority failed for %s: %v", userID, err)
		return apperr.Wrap(apperr.CodeTransient, "authority failed", err)
	}
}

func (e *Engine) reject(userID string, detail map[string]string, err error) error {
	e.record(auditlog.Entry{UserID: userID, Kind: auditlog.KindRejected, Code: string(apperr.CodeOf(err)), Detail: detail})
	return err
}

func (e *Engine) record(entry auditlog.Entry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(entry); err != nil {
		e.logger.Printf("audit: %v", err)
	}
}

func withKind(detail map[string]string, kind string) map[string]string {
	out := make(map[string]string, len(detail)+1)
	for k, v := range detail {
		out[k] = v
	}
	out["operation"] = kind
	return out
}
