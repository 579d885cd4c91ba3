package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"xpfinance.app/internal/authority"
	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/config"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/profile"
)

type dbFlags struct {
	configDir *string
	dbPath    *string
	userID    *string
}

func addDBFlags(fs *flag.FlagSet) dbFlags {
	return dbFlags{
		configDir: fs.String("configs", "./configs", "config directory"),
		dbPath:    fs.String("db", "./data/authority.db", "authority sqlite path"),
		userID:    fs.String("user", "", "user id (required)"),
	}
}

func (f dbFlags) open() (*authority.Store, string) {
	id := strings.TrimSpace(*f.userID)
	if id == "" {
		fmt.Fprintln(os.Stderr, "missing -user")
		os.Exit(2)
	}
	tune, err := config.Load(filepath.Join(*f.configDir, "tuning.yaml"))
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}
	static, err := catalog.LoadStatic(filepath.Join(*f.configDir, "catalog.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "catalog:", err)
		os.Exit(1)
	}
	passes, err := battlepass.FromTuning(tune)
	if err != nil {
		fmt.Fprintln(os.Stderr, "passes:", err)
		os.Exit(1)
	}
	s, err := authority.Open(*f.dbPath, authority.Options{
		Catalog:  static,
		Passes:   passes,
		Resolver: entitlement.Resolver{OwnedPassFallback: tune.OwnedFallback()},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return s, id
}

func printProfile(p *profile.UserProfile, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(p, "", "  ")
	fmt.Println(string(b))
}

func userCmd(args []string) {
	fs := flag.NewFlagSet("user", flag.ExitOnError)
	f := addDBFlags(fs)
	name := fs.String("name", "", "display name (required)")
	email := fs.String("email", "", "email")
	balance := fs.String("balance", "0", "starting balance, e.g. 150.00")
	_ = fs.Parse(args)

	s, id := f.open()
	defer s.Close()
	amount, err := profile.ParseMoney(*balance)
	if err != nil {
		fmt.Fprintln(os.Stderr, "balance:", err)
		os.Exit(2)
	}
	ctx := context.Background()
	if err := s.CreateUser(ctx, authority.User{ID: id, Name: *name, Email: *email, Balance: amount}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printProfile(s.FetchProfile(ctx, id))
}

func depositCmd(args []string) {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	f := addDBFlags(fs)
	amount := fs.String("amount", "", "amount to credit, e.g. 25.50")
	_ = fs.Parse(args)

	s, id := f.open()
	defer s.Close()
	m, err := profile.ParseMoney(*amount)
	if err != nil || m <= 0 {
		fmt.Fprintln(os.Stderr, "amount must be positive")
		os.Exit(2)
	}
	printProfile(s.Deposit(context.Background(), id, m))
}

func xpCmd(args []string) {
	fs := flag.NewFlagSet("xp", flag.ExitOnError)
	f := addDBFlags(fs)
	amount := fs.Int64("amount", 0, "xp to grant")
	_ = fs.Parse(args)

	s, id := f.open()
	defer s.Close()
	printProfile(s.GrantXP(context.Background(), id, *amount))
}

func unlockCmd(args []string) {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	f := addDBFlags(fs)
	achievement := fs.String("achievement", "", "achievement id")
	_ = fs.Parse(args)

	s, id := f.open()
	defer s.Close()
	if strings.TrimSpace(*achievement) == "" {
		fmt.Fprintln(os.Stderr, "missing -achievement")
		os.Exit(2)
	}
	printProfile(s.UnlockAchievement(context.Background(), id, *achievement, time.Now()))
}

func recomputeCmd(args []string) {
	fs := flag.NewFlagSet("recompute", flag.ExitOnError)
	f := addDBFlags(fs)
	_ = fs.Parse(args)

	s, id := f.open()
	defer s.Close()
	printProfile(s.Recompute(context.Background(), id))
}
