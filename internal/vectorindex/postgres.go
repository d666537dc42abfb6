package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/dgallion1/specgest/internal/doctree"
)

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Postgres stores records in a pgvector table with one vector column per
// field. Distances use the <=> cosine operator.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgres connects to dsn. The table name must be a plain lower-case
// identifier.
func NewPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, table: table}, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_file TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL,
			%s vector(%d),
			%s vector(%d),
			%s vector(%d),
			%s vector(%d)
		)`, p.table,
			FieldContent, dim, FieldQuestion1, dim, FieldQuestion2, dim, FieldTags, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_file_idx ON %s (source_file)`, p.table, p.table),
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, points []Point) error {
	if err := validate(points, 0); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, source_file, payload, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			source_file = EXCLUDED.source_file,
			payload = EXCLUDED.payload,
			%[2]s = EXCLUDED.%[2]s,
			%[3]s = EXCLUDED.%[3]s,
			%[4]s = EXCLUDED.%[4]s,
			%[5]s = EXCLUDED.%[5]s`,
		p.table, FieldContent, FieldQuestion1, FieldQuestion2, FieldTags)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, pt := range points {
		payload, err := json.Marshal(pt.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload %s: %w", pt.ID, err)
		}
		args := []any{pt.ID, pt.Payload[doctree.KeySourceFile], payload}
		for _, f := range Fields {
			if v, ok := pt.Vectors[f]; ok {
				args = append(args, pgvector.NewVector(v))
			} else {
				args = append(args, nil)
			}
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", pt.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Search(ctx context.Context, field Field, vec []float32, limit int) ([]Hit, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`
		SELECT id, payload, %s <=> $1 AS distance
		FROM %s
		WHERE %[1]s IS NOT NULL
		ORDER BY distance ASC
		LIMIT $2`, field, p.table)

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", field, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h   Hit
			raw []byte
		)
		if err := rows.Scan(&h.ID, &raw, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		var payload doctree.Record
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode payload %s: %w", h.ID, err)
		}
		h.Payload = payload.Normalize(false)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return hits, nil
}

func (p *Postgres) Delete(ctx context.Context, f Filter) (int, error) {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE source_file = $1`, p.table), f.SourceFile)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", f.SourceFile, err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
