package profilesync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/persistence/kv"
	auditlog "xpfinance.app/internal/persistence/log"
	"xpfinance.app/internal/persistence/snapshot"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/progression/achievements"
)

type fakeStore struct {
	mu      sync.Mutex
	p       *profile.UserProfile
	balance profile.Money
	err     error

	profileCalls atomic.Int64
	balanceCalls atomic.Int64
	started      chan struct{}
	release      chan struct{}
}

func (f *fakeStore) FetchProfile(ctx context.Context, userID string) (*profile.UserProfile, error) {
	f.profileCalls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.p.Clone(), nil
}

func (f *fakeStore) FetchBalance(ctx context.Context, userID string) (profile.Money, error) {
	f.balanceCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.balance, nil
}

type countingKV struct {
	*kv.Memory
	sets atomic.Int64
	// failProfiles makes writes of profile keys fail.
	failProfiles atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (c *countingKV) Set(ctx context.Context, key string, value []byte) error {
	c.sets.Add(1)
	if c.failProfiles.Load() && strings.HasPrefix(key, "profile:") {
		return errDiskFull
	}
	return c.Memory.Set(ctx, key, value)
}

type recordingPublisher struct {
	mu          sync.Mutex
	published   []*profile.UserProfile
	invalidated []string
}

func (r *recordingPublisher) Publish(userID string, p *profile.UserProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, p)
}

func (r *recordingPublisher) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, userID)
}

func (r *recordingPublisher) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published), len(r.invalidated)
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (m *memAudit) Record(e auditlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Kind)
	}
	return out
}

func remoteProfile() *profile.UserProfile {
	return &profile.UserProfile{
		ID:           "u1",
		Name:         "Ana",
		XP:           550,
		Level:        3,
		Achievements: []achievements.Record{achievements.ID("first_deposit")},
	}
}

func newGuard(t *testing.T, store *fakeStore) (*Guard, *countingKV, *recordingPublisher, *memAudit) {
	t.Helper()
	kvs := &countingKV{Memory: kv.NewMemory()}
	pub := &recordingPublisher{}
	audit := &memAudit{}
	g := New(Options{Store: store, KV: kvs, Publisher: pub, Audit: audit})
	if err := g.Authenticate(context.Background(), "u1"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return g, kvs, pub, audit
}

func TestRefreshMergesAndPersists(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 12345}
	g, kvs, pub, audit := newGuard(t, store)
	kvs.sets.Store(0)

	p, err := g.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if p.Balance != 12345 || p.XP != 550 || p.Level != 3 {
		t.Fatalf("merged profile: %+v", p)
	}
	if kvs.sets.Load() != 1 {
		t.Fatalf("expected one persisted write, got %d", kvs.sets.Load())
	}
	if n, _ := pub.counts(); n != 1 {
		t.Fatalf("expected one publish, got %d", n)
	}
	if k := audit.kinds(); len(k) != 1 || k[0] != auditlog.KindRefreshPersisted {
		t.Fatalf("audit kinds: %v", k)
	}
}

func TestRefreshWithoutChangesDoesNotWrite(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 12345}
	g, kvs, pub, audit := newGuard(t, store)
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	writes := kvs.sets.Load()

	// Same data, achievements reordered and duplicated: still no material change.
	store.mu.Lock()
	store.p.Achievements = []achievements.Record{achievements.ID("first_deposit"), achievements.ID("first_deposit")}
	store.mu.Unlock()

	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if kvs.sets.Load() != writes {
		t.Fatalf("no-op refresh wrote to storage")
	}
	if n, _ := pub.counts(); n != 1 {
		t.Fatalf("no-op refresh published, publishes=%d", n)
	}
	k := audit.kinds()
	if k[len(k)-1] != auditlog.KindRefreshNoop {
		t.Fatalf("audit kinds: %v", k)
	}

	store.mu.Lock()
	store.balance = 12346
	store.mu.Unlock()
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("third Refresh: %v", err)
	}
	if kvs.sets.Load() != writes+1 {
		t.Fatalf("balance change not persisted")
	}
}

func TestConcurrentRefreshFetchesOnce(t *testing.T) {
	store := &fakeStore{
		p:       remoteProfile(),
		balance: 500,
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	g, _, _, _ := newGuard(t, store)

	type result struct {
		p   *profile.UserProfile
		err error
	}
	results := make(chan result, 2)
	call := func() {
		p, err := g.Refresh(context.Background())
		results <- result{p, err}
	}
	go call()
	<-store.started
	if g.State() != StateFetching {
		t.Fatalf("state: %v", g.State())
	}
	go call()

	deadline := time.Now().Add(5 * time.Second)
	for g.waiting.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second caller never joined")
		}
		time.Sleep(time.Millisecond)
	}
	close(store.release)

	a, b := <-results, <-results
	if a.err != nil || b.err != nil {
		t.Fatalf("errors: %v %v", a.err, b.err)
	}
	if n := store.profileCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one profile fetch, got %d", n)
	}
	if a.p.Balance != b.p.Balance || a.p.XP != b.p.XP || !achievements.Equal(a.p.Achievements, b.p.Achievements) {
		t.Fatalf("callers saw different profiles: %+v vs %+v", a.p, b.p)
	}
	if g.State() != StateIdle {
		t.Fatalf("state after refresh: %v", g.State())
	}
}

func TestNotFoundInvalidatesSession(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 100}
	g, kvs, pub, audit := newGuard(t, store)
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	store.mu.Lock()
	store.err = apperr.New(apperr.CodeNotFound, "user not found")
	store.mu.Unlock()

	_, err := g.Refresh(context.Background())
	if !errors.Is(err, apperr.ErrSessionInvalidated) {
		t.Fatalf("expected session invalidated, got %v", err)
	}
	if g.Current() != nil || g.UserID() != "" || g.State() != StateSignedOut {
		t.Fatalf("session not cleared")
	}
	if _, ok, _ := kvs.Get(context.Background(), profileKey("u1")); ok {
		t.Fatalf("persisted profile not cleared")
	}
	if _, n := pub.counts(); n != 1 {
		t.Fatalf("expected one invalidation, got %d", n)
	}
	k := audit.kinds()
	if k[len(k)-1] != auditlog.KindSessionInvalidated {
		t.Fatalf("audit kinds: %v", k)
	}

	calls := store.profileCalls.Load()
	if _, err := g.Refresh(context.Background()); !errors.Is(err, apperr.ErrSessionInvalidated) {
		t.Fatalf("expected refusal, got %v", err)
	}
	if store.profileCalls.Load() != calls {
		t.Fatalf("fetch attempted after invalidation")
	}

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	if err := g.Authenticate(context.Background(), "u1"); err != nil {
		t.Fatalf("re-authenticate: %v", err)
	}
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after re-authentication: %v", err)
	}
}

func TestTransientFailureKeepsProfile(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 100}
	g, _, _, _ := newGuard(t, store)
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	store.mu.Lock()
	store.err = errors.New("connection refused")
	store.mu.Unlock()

	p, err := g.Refresh(context.Background())
	if !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	if p == nil || p.Balance != 100 || g.UserID() != "u1" {
		t.Fatalf("last good profile not kept: %+v", p)
	}
}

func TestRestoreFromStore(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 777}
	kvs := kv.NewMemory()
	g := New(Options{Store: store, KV: kvs})
	if err := g.Authenticate(context.Background(), "u1"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	again := New(Options{Store: store, KV: kvs})
	userID, err := again.Restore(context.Background())
	if err != nil || userID != "u1" {
		t.Fatalf("Restore: %q %v", userID, err)
	}
	p := again.Current()
	if p == nil || p.Balance != 777 || p.Level != 3 {
		t.Fatalf("restored profile: %+v", p)
	}
}

func TestReplaceKeepsCosmeticsAcrossRefresh(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 100}
	g, _, pub, _ := newGuard(t, store)
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	next := g.Current()
	next.Grant("frame_2", time.Unix(0, 0))
	if err := g.Replace(context.Background(), next); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if n, _ := pub.counts(); n != 2 {
		t.Fatalf("Replace should publish, publishes=%d", n)
	}
	p, err := g.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := p.Find("frame_2"); !ok {
		t.Fatalf("refresh dropped inventory: %+v", p.Cosmetics)
	}
	other := g.Current()
	other.ID = "u2"
	if err := g.Replace(context.Background(), other); !errors.Is(err, apperr.ErrSessionInvalidated) {
		t.Fatalf("Replace for another user: %v", err)
	}
}

func TestFailedWriteIsRetriedByNextRefresh(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 500}
	g, kvs, pub, audit := newGuard(t, store)
	ctx := context.Background()

	kvs.failProfiles.Store(true)
	p, err := g.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh with failing storage: %v", err)
	}
	if p.Balance != 500 || g.Current().Balance != 500 {
		t.Fatalf("fetched data must still be current: %+v", p)
	}
	if _, ok, _ := kvs.Get(ctx, profileKey("u1")); ok {
		t.Fatalf("profile stored despite failing write")
	}
	if n, _ := pub.counts(); n != 1 {
		t.Fatalf("expected publish after failed write, got %d", n)
	}
	for _, k := range audit.kinds() {
		if k == auditlog.KindRefreshPersisted {
			t.Fatalf("failed write audited as persisted: %v", audit.kinds())
		}
	}

	// Storage recovers; identical authority data must still be written.
	kvs.failProfiles.Store(false)
	if _, err := g.Refresh(ctx); err != nil {
		t.Fatalf("Refresh after recovery: %v", err)
	}
	if _, ok, _ := kvs.Get(ctx, profileKey("u1")); !ok {
		t.Fatalf("profile not written once storage recovered")
	}
	writes := kvs.sets.Load()
	if _, err := g.Refresh(ctx); err != nil {
		t.Fatalf("third Refresh: %v", err)
	}
	if kvs.sets.Load() != writes {
		t.Fatalf("refresh after a successful write wrote again")
	}
}

func TestReplaceReportsFailedWrite(t *testing.T) {
	store := &fakeStore{p: remoteProfile(), balance: 100}
	g, kvs, pub, _ := newGuard(t, store)
	ctx := context.Background()
	if _, err := g.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	kvs.failProfiles.Store(true)
	next := g.Current()
	next.Balance = 40
	err := g.Replace(ctx, next)
	if !errors.Is(err, ErrNotPersisted) {
		t.Fatalf("Replace with failing storage: %v", err)
	}
	if g.Current().Balance != 40 {
		t.Fatalf("confirmed profile must be current: %+v", g.Current())
	}
	if n, _ := pub.counts(); n != 2 {
		t.Fatalf("confirmed profile must be published, publishes=%d", n)
	}

	// The authority agrees with the unwritten profile; the refresh writes it.
	kvs.failProfiles.Store(false)
	store.mu.Lock()
	store.balance = 40
	store.mu.Unlock()
	if _, err := g.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	raw, ok, _ := kvs.Get(ctx, profileKey("u1"))
	if !ok {
		t.Fatalf("profile missing after recovery")
	}
	snap, err := snapshot.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if snap.Profile.Balance != 40 {
		t.Fatalf("stored balance %v, want 40", snap.Profile.Balance)
	}
}
