package state

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/evanofslack/dnsup/internal/metrics"
)

func TestBadgerStore(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "badger")
	store, err := Open(BackendBadger, dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	now := time.Unix(1700000000, 0)
	tests := []struct {
		name string
		key  Key
		rec  Record
	}{
		{
			name: "first success",
			key:  Key{Provider: "cloudflare", Host: "home.example.com"},
			rec:  Record{IP: netip.MustParseAddr("203.0.113.9"), LastSuccess: now, LastAttempt: now},
		},
		{
			name: "overwrite",
			key:  Key{Provider: "cloudflare", Host: "home.example.com"},
			rec:  Record{IP: netip.MustParseAddr("203.0.113.10"), LastSuccess: now.Add(time.Hour), LastAttempt: now.Add(time.Hour)},
		},
		{
			name: "failure only",
			key:  Key{Provider: "route53", Host: "vpn.example.org"},
			rec:  Record{LastAttempt: now},
		},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Save(ctx, tt.key, tt.rec); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, ok, err := store.Load(ctx, tt.key)
			if err != nil || !ok {
				t.Fatalf("Load failed: ok=%v err=%v", ok, err)
			}
			if !reflect.DeepEqual(got, tt.rec) {
				t.Errorf("Expected %+v but got %+v", tt.rec, got)
			}
		})
	}

	if _, ok, err := store.Load(ctx, Key{Provider: "cloudflare", Host: "other.example.com"}); ok || err != nil {
		t.Errorf("expected missing key, ok=%v err=%v", ok, err)
	}
}

func TestBadgerStoreCorruptValue(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "badger-corrupt-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "badger")
	key := Key{Provider: "duckdns", Host: "box.duckdns.org"}

	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		t.Fatalf("failed to open badger db: %v", err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("failed to set value: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	store, err := NewBadgerStore(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, ok, err := store.Load(ctx, key); ok || err != nil {
		t.Fatalf("corrupt value must load as absent, ok=%v err=%v", ok, err)
	}

	rec := Record{IP: netip.MustParseAddr("192.0.2.1"), LastSuccess: time.Unix(1700000000, 0), LastAttempt: time.Unix(1700000000, 0)}
	if err := store.Save(ctx, key, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := store.Load(ctx, key)
	if err != nil || !ok || !reflect.DeepEqual(got, rec) {
		t.Errorf("after rewrite got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestBadgerStoreError(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain-file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewBadgerStore(filepath.Join(file, "badger"), metrics.New(false))
	if err == nil {
		t.Fatal("expected error for invalid path but got nil")
	}
}
