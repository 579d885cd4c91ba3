// Package authority is a reference transaction authority: it owns user
// balances, progression and cosmetics in SQLite and applies every operation
// in one transaction. The HTTP handler exposes it over the REST paths the
// remote client speaks.
package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/progression/achievements"
	"xpfinance.app/internal/progression/levelcurve"
	"xpfinance.app/internal/protocol"
)

type Options struct {
	Catalog  *catalog.Static
	Passes   *battlepass.Registry
	Resolver entitlement.Resolver
	Now      func() time.Time
}

type Store struct {
	db       *sql.DB
	catalog  *catalog.Static
	passes   *battlepass.Registry
	resolver entitlement.Resolver
	now      func() time.Time
	once     sync.Once
}

func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if opts.Catalog == nil || opts.Passes == nil {
		return nil, fmt.Errorf("catalog and passes are required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{
		db:       db,
		catalog:  opts.Catalog,
		passes:   opts.Passes,
		resolver: opts.Resolver,
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
			xp INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS user_items (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			item_id TEXT NOT NULL,
			acquired_at TEXT NOT NULL,
			PRIMARY KEY (user_id, item_id)
		);`,
		`CREATE TABLE IF NOT EXISTS user_equipped (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			slot TEXT NOT NULL,
			item_id TEXT NOT NULL,
			PRIMARY KEY (user_id, slot)
		);`,
		`CREATE TABLE IF NOT EXISTS user_passes (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			pass_name TEXT NOT NULL,
			purchased_at TEXT NOT NULL,
			PRIMARY KEY (user_id, pass_name)
		);`,
		`CREATE TABLE IF NOT EXISTS user_pass_claims (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			pass_name TEXT NOT NULL,
			tier INTEGER NOT NULL,
			claimed_at TEXT NOT NULL,
			PRIMARY KEY (user_id, pass_name, tier)
		);`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			achievement_id TEXT NOT NULL,
			unlocked_at TEXT NOT NULL,
			PRIMARY KEY (user_id, achievement_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_achievements_time ON user_achievements(user_id, unlocked_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() { err = s.db.Close() })
	return err
}

func (s *Store) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

// User is the seed data for CreateUser.
type User struct {
	ID      string
	Name    string
	Email   string
	Balance profile.Money
}

func (s *Store) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" || u.Name == "" {
		return apperr.Validation("user id and name are required")
	}
	if u.Balance < 0 {
		return apperr.Validation("negative balance")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id,name,email,balance_cents,xp,level,created_at) VALUES(?,?,?,?,0,1,?)`,
		u.ID, u.Name, u.Email, int64(u.Balance), s.stamp())
	if err != nil {
		if _, lookupErr := s.FetchBalance(ctx, u.ID); lookupErr == nil {
			return apperr.Validation("user %s already exists", u.ID)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func notFound(userID string) error {
	return apperr.WithMetadata(apperr.CodeNotFound, "user "+userID+" not found", map[string]string{"user_id": userID})
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) load(ctx context.Context, q querier, userID string) (*profile.UserProfile, error) {
	p := &profile.UserProfile{ID: userID}
	var balance int64
	err := q.QueryRowContext(ctx,
		`SELECT name,email,avatar_url,balance_cents,xp,level FROM users WHERE id=?`, userID).
		Scan(&p.Name, &p.Email, &p.Cosmetics.AvatarURL, &balance, &p.XP, &p.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	p.Balance = profile.Money(balance)
	p.Normalize()

	rows, err := q.QueryContext(ctx, `SELECT item_id,acquired_at FROM user_items WHERE user_id=? ORDER BY acquired_at, item_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	err = eachRow(rows, "items", func(scan func(...any) error) error {
		var id, at string
		if err := scan(&id, &at); err != nil {
			return err
		}
		ts, _ := time.Parse(time.RFC3339Nano, at)
		owned := true
		p.Cosmetics.Inventory = append(p.Cosmetics.Inventory, profile.OwnedItem{ID: id, Owned: &owned, AcquiredAt: ts})
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT slot,item_id FROM user_equipped WHERE user_id=?`, userID)
	if err != nil {
		return nil, fmt.Errorf("load equipped: %w", err)
	}
	err = eachRow(rows, "equipped", func(scan func(...any) error) error {
		var slot, id string
		if err := scan(&slot, &id); err != nil {
			return err
		}
		p.Cosmetics.Equipped[profile.Slot(slot)] = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT pass_name FROM user_passes WHERE user_id=?`, userID)
	if err != nil {
		return nil, fmt.Errorf("load passes: %w", err)
	}
	err = eachRow(rows, "passes", func(scan func(...any) error) error {
		var name string
		if err := scan(&name); err != nil {
			return err
		}
		ps := p.Cosmetics.Passes[name]
		ps.Purchased = true
		p.Cosmetics.Passes[name] = ps
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT pass_name,tier FROM user_pass_claims WHERE user_id=? ORDER BY tier`, userID)
	if err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}
	err = eachRow(rows, "claims", func(scan func(...any) error) error {
		var name string
		var tier int
		if err := scan(&name, &tier); err != nil {
			return err
		}
		ps := p.Cosmetics.Passes[name]
		ps.ClaimedLevels = append(ps.ClaimedLevels, tier)
		p.Cosmetics.Passes[name] = ps
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT achievement_id,unlocked_at FROM user_achievements WHERE user_id=? ORDER BY unlocked_at DESC, achievement_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	p.Achievements = []achievements.Record{}
	err = eachRow(rows, "achievements", func(scan func(...any) error) error {
		var id, at string
		if err := scan(&id, &at); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			p.Achievements = append(p.Achievements, achievements.ID(id))
			return nil
		}
		p.Achievements = append(p.Achievements, achievements.Unlocked(id, ts))
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.Normalize()
	return p, nil
}

type rowIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// eachRow calls fn per row and closes rows. An iteration error that ends
// Next early is reported like a scan error.
func eachRow(rows rowIter, what string, fn func(scan func(...any) error) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows.Scan); err != nil {
			return fmt.Errorf("load %s: %w", what, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	return nil
}

// FetchProfile returns the full profile of userID.
func (s *Store) FetchProfile(ctx context.Context, userID string) (*profile.UserProfile, error) {
	return s.load(ctx, s.db, userID)
}

func (s *Store) FetchBalance(ctx context.Context, userID string) (profile.Money, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance_cents FROM users WHERE id=?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound(userID)
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return profile.Money(balance), nil
}

// Progress returns the gamification slice of userID.
func (s *Store) Progress(ctx context.Context, userID string) (protocol.ProgressResponse, error) {
	p, err := s.FetchProfile(ctx, userID)
	if err != nil {
		return protocol.ProgressResponse{}, err
	}
	return protocol.ProgressResponse{XP: p.XP, Level: p.Level, Achievements: p.Achievements}, nil
}

// FetchCatalog serves the static catalog.
func (s *Store) FetchCatalog(context.Context) ([]catalog.Item, error) {
	return append([]catalog.Item(nil), s.catalog.Items...), nil
}

// tx loads userID inside a transaction, runs fn and returns the profile as
// committed.
func (s *Store) tx(ctx context.Context, userID string, fn func(tx *sql.Tx, p *profile.UserProfile) error) (*profile.UserProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := s.load(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(tx, p); err != nil {
		return nil, err
	}
	out, err := s.load(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func debit(ctx context.Context, tx *sql.Tx, userID string, amount profile.Money, what string, balance profile.Money) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance_cents = balance_cents - ? WHERE id=? AND balance_cents >= ?`,
		int64(amount), userID, int64(amount))
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return apperr.WithMetadata(apperr.CodeInsufficientFunds, "insufficient funds for "+what,
			map[string]string{"price": amount.String(), "balance": balance.String(), "item_id": what})
	}
	return nil
}

func priceMismatch(what string, want, got profile.Money) error {
	return apperr.WithMetadata(apperr.CodeValidation, "price mismatch for "+what,
		map[string]string{"item_id": what, "price": want.String(), "requested": got.String()})
}

// Purchase debits price and grants itemID. price must match the catalog.
func (s *Store) Purchase(ctx context.Context, userID, itemID string, price profile.Money) (*profile.UserProfile, error) {
	item, ok := s.catalog.ByID[itemID]
	if !ok {
		return nil, apperr.WithMetadata(apperr.CodeValidation, "unknown item "+itemID, map[string]string{"item_id": itemID})
	}
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		if err := s.resolver.CheckPurchase(item, p); err != nil {
			return err
		}
		if price != item.Price {
			return priceMismatch(item.ID, item.Price, price)
		}
		if err := debit(ctx, tx, userID, item.Price, item.ID, p.Balance); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO user_items(user_id,item_id,acquired_at) VALUES(?,?,?)`, userID, item.ID, s.stamp())
		return err
	})
}

func (s *Store) BuyPass(ctx context.Context, userID, passName string, price profile.Money) (*profile.UserProfile, error) {
	pass, ok := s.passes.Get(passName)
	if !ok {
		return nil, apperr.WithMetadata(apperr.CodeValidation, "unknown pass "+passName, map[string]string{"pass": passName})
	}
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		if err := s.resolver.CheckBuyPass(pass, p); err != nil {
			return err
		}
		if price != pass.Price {
			return priceMismatch(pass.Name, pass.Price, price)
		}
		if err := debit(ctx, tx, userID, pass.Price, pass.Name, p.Balance); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO user_passes(user_id,pass_name,purchased_at) VALUES(?,?,?)`, userID, pass.Name, s.stamp())
		return err
	})
}

// ClaimTier records the claim and applies the tier reward.
func (s *Store) ClaimTier(ctx context.Context, userID, passName string, tier int) (*profile.UserProfile, error) {
	pass, ok := s.passes.Get(passName)
	if !ok {
		return nil, apperr.WithMetadata(apperr.CodeValidation, "unknown pass "+passName, map[string]string{"pass": passName})
	}
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		if err := s.resolver.CheckClaim(pass, tier, p); err != nil {
			return err
		}
		t, _ := pass.Tier(tier)
		now := s.stamp()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_pass_claims(user_id,pass_name,tier,claimed_at) VALUES(?,?,?,?)`,
			userID, pass.Name, tier, now); err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if t.Reward.Frame != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_items(user_id,item_id,acquired_at) VALUES(?,?,?) ON CONFLICT DO NOTHING`,
				userID, t.Reward.Frame, now); err != nil {
				return fmt.Errorf("grant frame: %w", err)
			}
		}
		if t.Reward.Credit > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET balance_cents = balance_cents + ? WHERE id=?`, int64(t.Reward.Credit), userID); err != nil {
				return fmt.Errorf("credit: %w", err)
			}
		}
		return nil
	})
}

// Equip sets slot to itemID; an empty itemID clears the slot.
func (s *Store) Equip(ctx context.Context, userID string, slot profile.Slot, itemID string) (*profile.UserProfile, error) {
	if _, ok := profile.ParseSlot(string(slot)); !ok {
		return nil, apperr.Validation("unknown slot %q", slot)
	}
	var item *catalog.Item
	if itemID != "" {
		it, ok := s.catalog.ByID[itemID]
		if !ok {
			return nil, apperr.WithMetadata(apperr.CodeValidation, "unknown item "+itemID, map[string]string{"item_id": itemID})
		}
		item = &it
	}
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		if item == nil {
			_, err := tx.ExecContext(ctx, `DELETE FROM user_equipped WHERE user_id=? AND slot=?`, userID, string(slot))
			return err
		}
		if p.EquippedIn(slot) == item.ID {
			return nil
		}
		if _, err := s.resolver.CheckEquip(slot, item, p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_equipped(user_id,slot,item_id) VALUES(?,?,?)
			 ON CONFLICT(user_id,slot) DO UPDATE SET item_id=excluded.item_id`,
			userID, string(slot), item.ID)
		return err
	})
}

// Deposit credits amount to userID.
func (s *Store) Deposit(ctx context.Context, userID string, amount profile.Money) (*profile.UserProfile, error) {
	if amount <= 0 {
		return nil, apperr.Validation("deposit must be positive")
	}
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		_, err := tx.ExecContext(ctx, `UPDATE users SET balance_cents = balance_cents + ? WHERE id=?`, int64(amount), userID)
		return err
	})
}

// GrantXP adds xp and raises the level to match. Levels never go down.
func (s *Store) GrantXP(ctx context.Context, userID string, xp int64) (*profile.UserProfile, error) {
	if xp <= 0 {
		return nil, apperr.Validation("xp grant must be positive")
	}
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		if p.XP > math.MaxInt64-xp {
			return apperr.Validation("xp grant of %d overflows total %d", xp, p.XP)
		}
		total := p.XP + xp
		level := p.Level
		if l := levelcurve.LevelForXP(total); l > level {
			level = l
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET xp=?, level=? WHERE id=?`, total, level, userID)
		return err
	})
}

// Recompute realigns the stored level with xp.
func (s *Store) Recompute(ctx context.Context, userID string) (*profile.UserProfile, error) {
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		level := levelcurve.LevelForXP(p.XP)
		if level < p.Level {
			level = p.Level
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET level=? WHERE id=?`, level, userID)
		return err
	})
}

// UnlockAchievement records achievementID once; later unlocks keep the
// first time.
func (s *Store) UnlockAchievement(ctx context.Context, userID, achievementID string, at time.Time) (*profile.UserProfile, error) {
	if achievementID == "" {
		return nil, apperr.Validation("empty achievement id")
	}
	return s.tx(ctx, userID, func(tx *sql.Tx, p *profile.UserProfile) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_achievements(user_id,achievement_id,unlocked_at) VALUES(?,?,?) ON CONFLICT DO NOTHING`,
			userID, achievementID, at.UTC().Format(time.RFC3339Nano))
		return err
	})
}
