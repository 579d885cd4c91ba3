package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"xpfinance.app/internal/persistence/kv"
	auditlog "xpfinance.app/internal/persistence/log"
	"xpfinance.app/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "user":
			userCmd(os.Args[2:])
			return
		case "deposit":
			depositCmd(os.Args[2:])
			return
		case "xp":
			xpCmd(os.Args[2:])
			return
		case "unlock":
			unlockCmd(os.Args[2:])
			return
		case "recompute":
			recomputeCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "refresh":
			refreshCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin user|deposit|xp|unlock|recompute|audit|snapshot|state|refresh [flags]")
	os.Exit(2)
}

// auditCmd prints audit entries in time order, optionally filtered.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	userID := fs.String("user", "", "user id filter")
	kind := fs.String("kind", "", "entry kind filter (purchase, claim, rejected, ...)")
	limit := fs.Int("limit", 0, "print at most this many entries (0 = all)")
	_ = fs.Parse(args)

	files, err := filepath.Glob(filepath.Join(*dataDir, "audit", "audit-*.jsonl.zst"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "glob:", err)
		os.Exit(1)
	}
	// Hourly names sort chronologically.
	sort.Strings(files)

	printed := 0
	for _, path := range files {
		err := scanAudit(path, func(e auditlog.Entry) bool {
			if *userID != "" && e.UserID != *userID {
				return true
			}
			if *kind != "" && e.Kind != *kind {
				return true
			}
			b, _ := json.Marshal(e)
			fmt.Println(string(b))
			printed++
			return *limit <= 0 || printed < *limit
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
		}
		if *limit > 0 && printed >= *limit {
			return
		}
	}
}

// scanAudit feeds each entry of a compressed audit file to fn until fn
// returns false. A file still being written ends in a partial frame; entries
// before it are still delivered.
func scanAudit(path string, fn func(auditlog.Entry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e auditlog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if !fn(e) {
			return nil
		}
	}
	return sc.Err()
}

// snapshotCmd exports a user's persisted profile from the session store to a
// snapshot file, or prints a snapshot file.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	userID := fs.String("user", "", "user id to export from the session store")
	in := fs.String("in", "", "snapshot file to print")
	out := fs.String("out", "", "write the exported snapshot here (default: print)")
	_ = fs.Parse(args)

	var snap snapshot.ProfileV1
	switch {
	case strings.TrimSpace(*in) != "":
		s, err := snapshot.ReadFile(*in)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		snap = s
	case strings.TrimSpace(*userID) != "":
		store, err := kv.OpenSQLite(filepath.Join(*dataDir, "session.db"), "session")
		if err != nil {
			fmt.Fprintln(os.Stderr, "open session store:", err)
			os.Exit(1)
		}
		defer store.Close()
		b, ok, err := store.Get(context.Background(), "profile:"+*userID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "no persisted profile for", *userID)
			os.Exit(2)
		}
		if snap, err = snapshot.Unmarshal(b); err != nil {
			fmt.Fprintln(os.Stderr, "decode:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "missing -in or -user")
		os.Exit(2)
	}

	if strings.TrimSpace(*out) != "" {
		if err := snapshot.WriteFile(*out, snap); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
		fmt.Println(*out)
		return
	}
	b, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(b))
}
