package history_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hermes/internal/history"
	"github.com/MrWong99/hermes/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if HERMES_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HERMES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HERMES_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS translations CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := history.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_AppendAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	results := []types.TranslationResult{
		{Seq: 1, Original: "good game", Translated: "хорошая игра", SourceLang: "en", TargetLang: "ru", Timestamp: now.Add(-2 * time.Second)},
		{Seq: 2, Original: "nice shot", Translated: "хороший выстрел", SourceLang: "en", TargetLang: "ru", Timestamp: now.Add(-time.Second)},
	}
	for _, r := range results {
		if err := s.Append(ctx, "session-a", r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, "session-b", types.TranslationResult{Seq: 1, Original: "gg", Translated: "хорошая игра"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := s.Search(ctx, history.Query{SessionID: "session-a"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 2 || all[0].Seq != 2 {
		t.Fatalf("Search(session-a) = %+v, want 2 entries newest first", all)
	}

	hits, err := s.Search(ctx, history.Query{Text: "shot"})
	if err != nil {
		t.Fatalf("Search(text): %v", err)
	}
	if len(hits) != 1 || hits[0].Original != "nice shot" {
		t.Errorf("Search(shot) = %+v", hits)
	}

	limited, err := s.Search(ctx, history.Query{Limit: 1})
	if err != nil {
		t.Fatalf("Search(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Search(limit 1) returned %d entries", len(limited))
	}
}
