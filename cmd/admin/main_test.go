package main

import (
	"path/filepath"
	"testing"

	auditlog "xpfinance.app/internal/persistence/log"
)

func TestScanAuditReadsClosedFile(t *testing.T) {
	dir := t.TempDir()
	l := auditlog.NewAuditLogger(dir)
	for _, kind := range []string{auditlog.KindPurchase, auditlog.KindRejected, auditlog.KindEquip} {
		if err := l.Record(auditlog.Entry{UserID: "u1", Kind: kind}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var kinds []string
	if err := scanAudit(files[0], func(e auditlog.Entry) bool {
		kinds = append(kinds, e.Kind)
		return len(kinds) < 2
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != auditlog.KindPurchase || kinds[1] != auditlog.KindRejected {
		t.Fatalf("kinds=%v", kinds)
	}
}
