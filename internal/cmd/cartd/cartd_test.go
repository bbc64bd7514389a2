package cartd

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(catalogPath, []byte(`[{"id": "sku-1", "name": "Widget", "price": 9.99}]`), 0o644); err != nil {
		t.Fatalf("write catalog fixture: %v", err)
	}
	return Config{
		Addr:              "127.0.0.1:0",
		EventsDBPath:      filepath.Join(dir, "events.db"),
		ProjectionsDBPath: filepath.Join(dir, "projections.db"),
		CatalogPath:       catalogPath,
		PollInterval:      10 * time.Millisecond,
		OutboxBatchSize:   10,
		RetryAttempts:     3,
	}
}

func TestParseConfigDefaultsAndFlags(t *testing.T) {
	t.Setenv("CARTLEDGER_PORT", "")
	t.Setenv("CARTLEDGER_EVENTS_DB_PATH", "")

	fs := flag.NewFlagSet("cartd-test", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "9999", "-outbox-batch", "7"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("port = %d, want flag override 9999", cfg.Port)
	}
	if cfg.OutboxBatchSize != 7 {
		t.Fatalf("outbox batch = %d, want 7", cfg.OutboxBatchSize)
	}
	if cfg.EventsDBPath != "data/cartledger-events.db" {
		t.Fatalf("events db path = %q, want default", cfg.EventsDBPath)
	}
	if cfg.PollInterval != time.Second {
		t.Fatalf("poll interval = %v, want 1s default", cfg.PollInterval)
	}
	if cfg.RetryAttempts != 3 {
		t.Fatalf("retry attempts = %d, want 3 default", cfg.RetryAttempts)
	}
}

func TestServerServesCommandsAndProjections(t *testing.T) {
	server, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("expected a bound listen address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	service := server.Service()
	created, err := service.CreateCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if _, err := service.AddItem(ctx, created.CartID, "sku-1", 2); err != nil {
		t.Fatalf("add item: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := service.AwaitVersion(waitCtx, created.CartID, 2); err != nil {
		t.Fatalf("await version: %v", err)
	}
	record, err := service.GetCart(ctx, created.CartID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if record.Version != 2 || record.ItemCount != 2 {
		t.Fatalf("record = %+v, want version 2 with 2 items", record)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v, want nil on shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewRejectsBadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}
