package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranslations = `
CREATE TABLE IF NOT EXISTS translations (
    id           BIGSERIAL         PRIMARY KEY,
    session_id   TEXT              NOT NULL,
    seq          BIGINT            NOT NULL,
    original     TEXT              NOT NULL,
    translated   TEXT              NOT NULL,
    source_lang  TEXT              NOT NULL DEFAULT '',
    target_lang  TEXT              NOT NULL DEFAULT '',
    confidence   DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_translations_session_seq
    ON translations (session_id, seq);

CREATE INDEX IF NOT EXISTS idx_translations_created_at
    ON translations (created_at);

CREATE INDEX IF NOT EXISTS idx_translations_fts
    ON translations USING GIN (to_tsvector('simple', original || ' ' || translated));
`

// Migrate creates the history table and its indexes if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranslations); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}
