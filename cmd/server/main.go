package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"xpfinance.app/internal/apperr"
	"xpfinance.app/internal/authority"
	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/config"
	"xpfinance.app/internal/engine"
	"xpfinance.app/internal/entitlement"
	"xpfinance.app/internal/format"
	"xpfinance.app/internal/persistence/kv"
	auditlog "xpfinance.app/internal/persistence/log"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/profilesync"
	"xpfinance.app/internal/progression/achievements"
	"xpfinance.app/internal/remote"
	"xpfinance.app/internal/transport/api"
	"xpfinance.app/internal/transport/ws"
	"xpfinance.app/internal/view"
)

// upstream is what the engine needs from the source of truth.
type upstream interface {
	profilesync.ProfileStore
	engine.Authority
	engine.CatalogSource
}

func main() {
	rt, err := config.LoadRuntime()
	if err != nil {
		log.Fatalf("runtime env: %v", err)
	}
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", rt.ConfigDir, "config directory")
		dataDir      = flag.String("data", rt.DataDir, "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		apiBase      = flag.String("api", rt.APIBaseURL, "transaction authority base url")
		authorityDB  = flag.String("authority_db", "", "run the reference authority in-process on this sqlite file instead of -api")
		userID       = flag.String("user", rt.UserID, "sign this user in at startup")
		refreshEvery = flag.Duration("refresh", rt.RefreshEvery, "profile refresh interval")
		httpTimeout  = flag.Duration("timeout", rt.HTTPTimeout, "authority request timeout")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := config.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
	}
	static, err := catalog.LoadStatic(filepath.Join(*configDir, "catalog.json"))
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}
	defs, err := achievements.LoadDefinitions(filepath.Join(*configDir, "achievements.json"))
	if err != nil && !os.IsNotExist(err) {
		logger.Fatalf("load achievements: %v", err)
	}
	passes, err := battlepass.FromTuning(tune)
	if err != nil {
		logger.Fatalf("passes: %v", err)
	}
	fmtr, err := format.New(tune.Locale, tune.Currency)
	if err != nil {
		logger.Fatalf("format: %v", err)
	}
	resolver := entitlement.Resolver{OwnedPassFallback: tune.OwnedFallback()}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	store, err := kv.OpenSQLite(filepath.Join(*dataDir, "session.db"), "session")
	if err != nil {
		logger.Fatalf("open session store: %v", err)
	}
	defer store.Close()
	audit := auditlog.NewAuditLogger(*dataDir)
	defer audit.Close()

	var up upstream
	if path := strings.TrimSpace(*authorityDB); path != "" {
		local, err := authority.Open(path, authority.Options{Catalog: static, Passes: passes, Resolver: resolver})
		if err != nil {
			logger.Fatalf("open authority: %v", err)
		}
		defer local.Close()
		up = local
		logger.Printf("authority in-process (%s)", path)
	} else {
		client, err := remote.New(*apiBase, *httpTimeout)
		if err != nil {
			logger.Fatalf("remote: %v", err)
		}
		up = client
		logger.Printf("authority at %s", *apiBase)
	}

	cache := catalog.NewCache(static, tune.Caps())
	builder := view.Builder{
		Format:      fmtr,
		Resolver:    resolver,
		Passes:      passes,
		Definitions: defs,
		Latest:      tune.LatestAchievements,
	}
	hub := ws.NewHub(func(p *profile.UserProfile) view.Profile {
		return builder.Profile(cache.Last(), p)
	}, logger)

	guard := profilesync.New(profilesync.Options{
		Store:     up,
		KV:        store,
		Publisher: hub,
		Audit:     audit,
		Logger:    logger,
	})
	eng, err := engine.New(engine.Options{
		Guard:     guard,
		Authority: up,
		Catalog:   up,
		Cache:     cache,
		Passes:    passes,
		Resolver:  resolver,
		Audit:     audit,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng.Catalog(ctx)
	if id := strings.TrimSpace(*userID); id != "" {
		if err := guard.Authenticate(ctx, id); err != nil {
			logger.Fatalf("authenticate %s: %v", id, err)
		}
	} else if id, err := guard.Restore(ctx); err != nil {
		logger.Printf("restore session: %v", err)
	} else if id != "" {
		logger.Printf("restored session for %s", id)
	}

	go refreshLoop(ctx, guard, *refreshEvery, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/v1/", api.NewHandler(eng, builder, logger))
	mux.HandleFunc("/v1/ws", ws.NewServer(hub, func(id string) bool {
		return id == guard.UserID()
	}, func() string {
		return static.Digest
	}, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// refreshLoop refreshes the signed-in profile on every tick. Signed-out ticks
// are skipped.
func refreshLoop(ctx context.Context, guard *profilesync.Guard, every time.Duration, logger *log.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if guard.UserID() != "" {
			if _, err := guard.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				switch apperr.CodeOf(err) {
				case apperr.CodeSessionInvalidated:
					logger.Printf("session invalidated by authority")
				default:
					logger.Printf("refresh: %v", err)
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
