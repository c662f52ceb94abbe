// Package vectorindex implements the Vector Index (spec §4.5): a pgvector-
// backed K-NN cosine search over Chunk embeddings, scoped to a single
// IndexingRun.
//
// The similarity threshold is never part of the SQL predicate — results are
// always returned in ascending-distance order for the caller to filter
// post-hoc. Baking a threshold into the query would silently change which
// rows are eligible for ORDER BY/LIMIT, which is the pitfall spec §9 calls
// out explicitly.
package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxK is the hard cap on requested neighbors, regardless of caller input
// (spec §4.5).
const MaxK = 200

// Neighbor is one K-NN result, ordered by ascending Distance (most similar
// first for cosine distance).
type Neighbor struct {
	ChunkID  string
	Distance float64
}

// Index is the interface both backends satisfy.
type Index interface {
	Upsert(ctx context.Context, runID, chunkID string, embedding []float32) error
	Search(ctx context.Context, runID string, embedding []float32, k int) ([]Neighbor, error)
	Delete(ctx context.Context, runID, chunkID string) error
}

func clampK(k int) int {
	if k <= 0 {
		return 10
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// Postgres is the primary backend, grounded on the teacher's pgVector
// implementation but scoped per-Run and restricted to cosine distance, the
// only metric the query pipeline's relevance model assumes.
type Postgres struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgres opens the chunk_embeddings table (creating the pgvector
// extension and table if absent) and returns a run-scoped Index.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, dimensions int) (*Postgres, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunk_embeddings (
  run_id TEXT NOT NULL,
  chunk_id TEXT NOT NULL,
  vec %s NOT NULL,
  PRIMARY KEY (run_id, chunk_id)
);
CREATE INDEX IF NOT EXISTS chunk_embeddings_run_id_idx ON chunk_embeddings (run_id);
`, vecType)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create chunk_embeddings table: %w", err)
	}
	return &Postgres{pool: pool, dimensions: dimensions}, nil
}

func (p *Postgres) Upsert(ctx context.Context, runID, chunkID string, embedding []float32) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO chunk_embeddings(run_id, chunk_id, vec) VALUES ($1, $2, $3::vector)
ON CONFLICT (run_id, chunk_id) DO UPDATE SET vec = EXCLUDED.vec
`, runID, chunkID, toVectorLiteral(embedding))
	return err
}

func (p *Postgres) Delete(ctx context.Context, runID, chunkID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunk_embeddings WHERE run_id=$1 AND chunk_id=$2`, runID, chunkID)
	return err
}

// Search returns the K nearest neighbors to embedding within runID, ordered
// by ascending cosine distance. No WHERE clause filters by distance —
// only by run_id.
func (p *Postgres) Search(ctx context.Context, runID string, embedding []float32, k int) ([]Neighbor, error) {
	k = clampK(k)
	rows, err := p.pool.Query(ctx, `
SELECT chunk_id, vec <=> $1::vector AS distance
FROM chunk_embeddings
WHERE run_id = $2
ORDER BY vec <=> $1::vector, chunk_id
LIMIT $3
`, toVectorLiteral(embedding), runID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Neighbor, 0, k)
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ChunkID, &n.Distance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
