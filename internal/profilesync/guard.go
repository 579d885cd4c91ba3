// Package profilesync keeps the local copy of the signed-in user's profile
// in step with the authority. At most one refresh is in flight; callers that
// arrive meanwhile share its result.
package profilesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/persistence/kv"
	auditlog "xpfinance.app/internal/persistence/log"
	"xpfinance.app/internal/persistence/snapshot"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/progression/achievements"
)

// ProfileStore is the authoritative source of profiles and balances.
type ProfileStore interface {
	FetchProfile(ctx context.Context, userID string) (*profile.UserProfile, error)
	FetchBalance(ctx context.Context, userID string) (profile.Money, error)
}

// Publisher is told about persisted profile changes and session loss.
type Publisher interface {
	Publish(userID string, p *profile.UserProfile)
	Invalidate(userID string)
}

// Auditor records state transitions.
type Auditor interface {
	Record(e auditlog.Entry) error
}

type State int

const (
	StateSignedOut State = iota
	StateIdle
	StateFetching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	}
	return "SIGNED_OUT"
}

const sessionKey = "session"

func profileKey(userID string) string { return "profile:" + userID }

type Options struct {
	Store     ProfileStore
	KV        kv.Store
	Publisher Publisher
	Audit     Auditor
	Logger    *log.Logger
	Now       func() time.Time
}

type Guard struct {
	store  ProfileStore
	kv     kv.Store
	pub    Publisher
	audit  Auditor
	logger *log.Logger
	now    func() time.Time

	sf       singleflight.Group
	fetching atomic.Bool
	waiting  atomic.Int64

	mu        sync.Mutex
	userID    string
	current   *profile.UserProfile
	persisted *profile.UserProfile
}

func New(opts Options) *Guard {
	g := &Guard{
		store:  opts.Store,
		kv:     opts.KV,
		pub:    opts.Publisher,
		audit:  opts.Audit,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if g.kv == nil {
		g.kv = kv.NewMemory()
	}
	if g.logger == nil {
		g.logger = log.New(io.Discard, "", 0)
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Restore resumes the session recorded in the store, if any. It returns the
// restored user id ("" when there is none).
func (g *Guard) Restore(ctx context.Context) (string, error) {
	b, ok, err := g.kv.Get(ctx, sessionKey)
	if err != nil || !ok || len(b) == 0 {
		return "", err
	}
	userID := string(b)
	if err := g.Authenticate(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

// Authenticate starts a session for userID and loads its last persisted
// profile. Refreshes are refused until this is called.
func (g *Guard) Authenticate(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.Validation("empty user id")
	}
	var restored *profile.UserProfile
	b, ok, err := g.kv.Get(ctx, profileKey(userID))
	if err != nil {
		return err
	}
	if ok {
		snap, err := snapshot.Unmarshal(b)
		if err != nil {
			g.logger.Printf("discarding unreadable snapshot for %s: %v", userID, err)
		} else if snap.Profile.ID == userID {
			restored = snap.Profile
		}
	}
	if err := g.kv.Set(ctx, sessionKey, []byte(userID)); err != nil {
		return err
	}

	g.mu.Lock()
	g.userID = userID
	g.current = restored
	g.persisted = restored.Clone()
	g.mu.Unlock()
	return nil
}

// UserID is the signed-in user, or "".
func (g *Guard) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userID
}

// Current returns a copy of the last good profile, or nil.
func (g *Guard) Current() *profile.UserProfile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current.Clone()
}

func (g *Guard) State() State {
	if g.UserID() == "" {
		return StateSignedOut
	}
	if g.fetching.Load() {
		return StateFetching
	}
	return StateIdle
}

// Refresh fetches profile and balance and merges them into the local
// profile. A call made while another refresh is in flight does not fetch;
// it waits for and returns the in-flight result.
//
// On a not-found failure the session is cleared and SESSION_INVALIDATED is
// returned; other failures return TRANSIENT alongside the last good profile.
func (g *Guard) Refresh(ctx context.Context) (*profile.UserProfile, error) {
	userID := g.UserID()
	if userID == "" {
		return nil, apperr.ErrSessionInvalidated
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(userID, func() (any, error) {
		return g.refresh(fetchCtx, userID)
	})
	g.waiting.Add(1)
	defer g.waiting.Add(-1)

	select {
	case <-ctx.Done():
		return g.Current(), ctx.Err()
	case res := <-ch:
		if res.Shared {
			g.logger.Printf("refresh for %s shared an in-flight fetch", userID)
		}
		if res.Err != nil {
			return g.Current(), res.Err
		}
		return res.Val.(*profile.UserProfile).Clone(), nil
	}
}

func (g *Guard) refresh(ctx context.Context, userID string) (*profile.UserProfile, error) {
	g.fetching.Store(true)
	defer g.fetching.Store(false)

	var (
		fetched *profile.UserProfile
		balance profile.Money
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		p, err := g.store.FetchProfile(ectx, userID)
		fetched = p
		return err
	})
	eg.Go(func() error {
		b, err := g.store.FetchBalance(ectx, userID)
		balance = b
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, g.fail(ctx, userID, err)
	}
	if fetched == nil {
		return nil, g.fail(ctx, userID, apperr.New(apperr.CodeTransient, "empty profile response"))
	}

	g.mu.Lock()
	if g.userID != userID {
		g.mu.Unlock()
		return nil, apperr.ErrSessionInvalidated
	}
	candidate := overlay(g.current, fetched, balance)
	candidate.ID = userID
	changed := materiallyDiffers(g.persisted, candidate)
	g.current = candidate
	g.mu.Unlock()

	if !changed {
		g.record(auditlog.Entry{UserID: userID, Kind: auditlog.KindRefreshNoop})
		return candidate, nil
	}
	perr := g.persist(ctx, candidate)
	if g.pub != nil {
		g.pub.Publish(userID, candidate.Clone())
	}
	if perr != nil {
		// The next refresh still sees a difference and retries the write.
		g.logger.Printf("persist profile %s: %v", userID, perr)
		return candidate, nil
	}
	g.markPersisted(userID, candidate)
	g.record(auditlog.Entry{UserID: userID, Kind: auditlog.KindRefreshPersisted, Detail: map[string]string{
		"balance": candidate.Balance.String(),
	}})
	return candidate, nil
}

// overlay applies the fetched balance, xp, level and achievements to base.
// Without a base the fetched profile is taken whole.
func overlay(base, fetched *profile.UserProfile, balance profile.Money) *profile.UserProfile {
	var out *profile.UserProfile
	if base == nil {
		out = fetched.Clone()
	} else {
		out = base.Clone()
		out.XP = fetched.XP
		if fetched.Level > 0 {
			out.Level = fetched.Level
		}
		if fetched.Achievements != nil {
			out.Achievements = append([]achievements.Record(nil), fetched.Achievements...)
		}
		if out.Name == "" {
			out.Name = fetched.Name
		}
	}
	out.Balance = balance
	out.Degraded = false
	out.Normalize()
	return out
}

func materiallyDiffers(prev, next *profile.UserProfile) bool {
	if prev == nil {
		return true
	}
	return prev.Balance != next.Balance ||
		prev.XP != next.XP ||
		prev.Level != next.Level ||
		!achievements.Equal(prev.Achievements, next.Achievements)
}

func (g *Guard) fail(ctx context.Context, userID string, err error) error {
	if apperr.IsNotFound(err) {
		g.clear(ctx, userID)
		g.record(auditlog.Entry{UserID: userID, Kind: auditlog.KindSessionInvalidated, Code: string(apperr.CodeNotFound)})
		return apperr.Wrap(apperr.CodeSessionInvalidated, "user "+userID+" no longer exists", err)
	}
	g.logger.Printf("refresh %s failed, keeping last profile: %v", userID, err)
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Code == apperr.CodeTransient {
		return err
	}
	return apperr.Wrap(apperr.CodeTransient, "refresh failed", err)
}

// ErrNotPersisted reports that Replace installed and published a profile but
// could not write it to local storage.
var ErrNotPersisted = errors.New("profile not persisted")

// Replace installs an authority-confirmed (or degraded) profile as current,
// persists and publishes it.
func (g *Guard) Replace(ctx context.Context, p *profile.UserProfile) error {
	if p == nil {
		return apperr.Validation("nil profile")
	}
	next := p.Clone()
	next.Normalize()

	g.mu.Lock()
	userID := g.userID
	if userID == "" || (next.ID != "" && next.ID != userID) {
		g.mu.Unlock()
		return apperr.ErrSessionInvalidated
	}
	next.ID = userID
	g.current = next
	g.mu.Unlock()

	perr := g.persist(ctx, next)
	if g.pub != nil {
		g.pub.Publish(userID, next.Clone())
	}
	if perr != nil {
		return fmt.Errorf("%w: %v", ErrNotPersisted, perr)
	}
	g.markPersisted(userID, next)
	return nil
}

// markPersisted records p as the last written profile if userID is still
// signed in.
func (g *Guard) markPersisted(userID string, p *profile.UserProfile) {
	g.mu.Lock()
	if g.userID == userID {
		g.persisted = p.Clone()
	}
	g.mu.Unlock()
}

// Invalidate clears the session after the authority reported the user gone.
func (g *Guard) Invalidate(ctx context.Context) {
	userID := g.UserID()
	if userID == "" {
		return
	}
	g.clear(ctx, userID)
	g.record(auditlog.Entry{UserID: userID, Kind: auditlog.KindSessionInvalidated})
}

// Logout ends the session and removes its persisted state.
func (g *Guard) Logout(ctx context.Context) {
	if userID := g.UserID(); userID != "" {
		g.clear(ctx, userID)
	}
}

func (g *Guard) clear(ctx context.Context, userID string) {
	g.mu.Lock()
	if g.userID == userID {
		g.userID = ""
		g.current = nil
		g.persisted = nil
	}
	g.mu.Unlock()

	if err := g.kv.Delete(ctx, profileKey(userID)); err != nil {
		g.logger.Printf("clear profile %s: %v", userID, err)
	}
	if err := g.kv.Delete(ctx, sessionKey); err != nil {
		g.logger.Printf("clear session: %v", err)
	}
	if g.pub != nil {
		g.pub.Invalidate(userID)
	}
}

func (g *Guard) persist(ctx context.Context, p *profile.UserProfile) error {
	b, err := snapshot.Marshal(snapshot.New(p, g.now()))
	if err != nil {
		return err
	}
	return g.kv.Set(ctx, profileKey(p.ID), b)
}

func (g *Guard) record(e auditlog.Entry) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Record(e); err != nil {
		g.logger.Printf("audit: %v", err)
	}
}
