package idempotency

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	key := ScopedKey("0x00000000000000000000000000000000000A11CE", "test-key")
	rec := Record{
		Account:    "0x00000000000000000000000000000000000a11ce",
		StatusCode: 201,
		Response:   []byte("payload"),
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().Add(time.Minute).UTC(),
	}

	if err := store.Save(ctx, key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.StatusCode != rec.StatusCode || got.Account != rec.Account {
		t.Fatalf("unexpected record: %#v", got)
	}

	expired := ScopedKey(rec.Account, "expired")
	rec.ExpiresAt = time.Now().Add(-time.Minute).UTC()
	if err := store.Save(ctx, expired, rec); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if _, err := store.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if got, _ := store.Get(ctx, expired); got != nil {
		t.Fatalf("expected expired record to be gone")
	}
}
