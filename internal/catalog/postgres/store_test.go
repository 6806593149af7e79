package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/catalog/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if EARSHOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EARSHOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EARSHOT_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS recordings CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewStore_BadDSN(t *testing.T) {
	if _, err := postgres.NewStore(context.Background(), "not a dsn ::"); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}

func TestStore_SaveGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := catalog.Entry{
		RecordingID: "rec-1",
		Path:        "/tmp/Recording_1.wav",
		StartedAt:   base,
		EndedAt:     base.Add(2 * time.Second),
		Duration:    2 * time.Second,
		Bytes:       64000,
		Status:      "finished",
		EndReason:   "silence",
	}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	e.Transcript, e.Language, e.Provider = "open the garage door", "en", "whisper"
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("Save transcript: %v", err)
	}
	// A later save without transcript must not erase it.
	e.Transcript, e.Language, e.Provider = "", "", ""
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err := s.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Transcript != "open the garage door" || got.Provider != "whisper" {
		t.Errorf("transcript = %q provider = %q", got.Transcript, got.Provider)
	}
	if got.Duration != 2*time.Second || got.Bytes != 64000 {
		t.Errorf("duration = %v bytes = %d", got.Duration, got.Bytes)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestStore_SearchAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, tr := range []string{"turn on the kitchen lights", "", "kitchen weather please"} {
		status := "finished"
		if tr == "" {
			status = "short"
		}
		e := catalog.Entry{
			RecordingID: string(rune('a' + i)),
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			EndedAt:     base.Add(time.Duration(i)*time.Minute + time.Second),
			Status:      status,
			Transcript:  tr,
		}
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].RecordingID != "c" || recent[1].RecordingID != "b" {
		t.Fatalf("Recent = %+v", recent)
	}

	hits, err := s.Search(ctx, catalog.Query{Text: "kitchen"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].RecordingID != "c" || hits[1].RecordingID != "a" {
		t.Fatalf("Search(kitchen) = %+v", hits)
	}

	short, err := s.Search(ctx, catalog.Query{Status: "short", After: base})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(short) != 1 || short[0].RecordingID != "b" {
		t.Fatalf("Search(short) = %+v", short)
	}
}
