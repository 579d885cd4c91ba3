package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/authority"
	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/config"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/profile"
)

func main() {
	var (
		addr      = flag.String("addr", ":3000", "http listen address")
		configDir = flag.String("configs", "./configs", "config directory")
		dbPath    = flag.String("db", "./data/authority.db", "sqlite database path")
		seedUser  = flag.String("seed_user", "", "create this user at startup if missing")
		seedName  = flag.String("seed_name", "Demo", "display name of the seeded user")
		seedMoney = flag.String("seed_balance", "150.00", "starting balance of the seeded user")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[authority] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := config.Load(filepath.Join(*configDir, "tuning.yaml"))
	if err != nil && !os.IsNotExist(err) {
		logger.Fatalf("load tuning: %v", err)
	}
	static, err := catalog.LoadStatic(filepath.Join(*configDir, "catalog.json"))
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}
	passes, err := battlepass.FromTuning(tune)
	if err != nil {
		logger.Fatalf("passes: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		logger.Fatalf("db dir: %v", err)
	}
	store, err := authority.Open(*dbPath, authority.Options{
		Catalog:  static,
		Passes:   passes,
		Resolver: entitlement.Resolver{OwnedPassFallback: tune.OwnedFallback()},
	})
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if *seedUser != "" {
		balance, err := profile.ParseMoney(*seedMoney)
		if err != nil {
			logger.Fatalf("seed_balance: %v", err)
		}
		err = store.CreateUser(context.Background(), authority.User{ID: *seedUser, Name: *seedName, Balance: balance})
		switch {
		case err == nil:
			logger.Printf("seeded user %s with %s", *seedUser, balance)
		case apperr.CodeOf(err) == apperr.CodeValidation:
			logger.Printf("seed user %s: %v", *seedUser, err)
		default:
			logger.Fatalf("seed user: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/", authority.NewHandler(store, logger))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}
