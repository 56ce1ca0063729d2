package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type Options struct {
	DSN          string
	Table        string
	Dimension    int
	MaxTopK      int
	MaxOpenConns int
}

// Store delegates nearest-neighbour search to Postgres with the pgvector
// extension. Scores are 1 - cosine distance, i.e. cosine similarity.
type Store struct {
	db        *sqlx.DB
	table     string
	dimension int
	maxTopK   int
	locks     *vector.KeyedMutex
}

type hitRow struct {
	ChunkID    string  `db:"chunk_id"`
	DocumentID string  `db:"document_id"`
	Content    string  `db:"content"`
	ChunkIndex int     `db:"chunk_index"`
	Metadata   []byte  `db:"metadata"`
	Score      float64 `db:"score"`
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: pgvector store needs a positive dimension", models.ErrConfiguration)
	}
	if opts.Table == "" {
		opts.Table = "chunk_embeddings"
	}
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", models.ErrConfiguration, opts.Table)
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 100
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to postgres: %v", models.ErrVectorStore, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s := &Store{
		db:        db,
		table:     pq.QuoteIdentifier(opts.Table),
		dimension: opts.Dimension,
		maxTopK:   opts.MaxTopK,
		locks:     vector.NewKeyedMutex(),
	}

	if err := s.initSchema(ctx, opts.Table); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("pgvector store initialized",
		zap.String("table", opts.Table),
		zap.Int("dimension", opts.Dimension),
	)

	return s, nil
}

func (s *Store) initSchema(ctx context.Context, rawTable string) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	chunk_id TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL,
	content TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%[2]d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (document_id);
CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, s.table, s.dimension,
		pq.QuoteIdentifier("idx_"+rawTable+"_document"),
		pq.QuoteIdentifier("idx_"+rawTable+"_embedding"))

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", models.ErrVectorStore, err)
	}

	var existing int
	err := s.db.GetContext(ctx, &existing, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding'`, rawTable)
	if err != nil {
		return fmt.Errorf("%w: failed to read embedding column: %v", models.ErrVectorStore, err)
	}
	if existing != s.dimension {
		return fmt.Errorf("%w: table %s stores dimension %d, configured dimension is %d",
			models.ErrConfiguration, rawTable, existing, s.dimension)
	}
	return nil
}

func (s *Store) Kind() vector.Kind { return vector.KindNative }
func (s *Store) Dimension() int    { return s.dimension }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if err := vector.ValidateUpsert(chunks, embeddings, s.dimension); err != nil {
		return err
	}

	for _, batch := range vector.GroupByDocument(chunks, embeddings) {
		if err := s.replaceDocument(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) replaceDocument(ctx context.Context, batch vector.DocumentBatch) error {
	unlock := s.locks.Lock(batch.DocumentID)
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", models.ErrVectorStore, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE document_id = $1`, batch.DocumentID); err != nil {
		return fmt.Errorf("%w: failed to delete previous chunks: %v", models.ErrVectorStore, err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO `+s.table+`
		(chunk_id, document_id, content, chunk_index, start_offset, end_offset, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", models.ErrVectorStore, err)
	}
	defer stmt.Close()

	for i, c := range batch.Chunks {
		meta := []byte("{}")
		if c.Metadata != nil {
			meta, err = json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("%w: metadata is not JSON encodable: %v", models.ErrValidation, err)
			}
		}

		_, err := stmt.ExecContext(ctx, c.ChunkID, c.DocumentID, c.Content, c.Index,
			c.StartOffset, c.EndOffset, string(meta), pgvector.NewVector(batch.Embeddings[i]))
		if err != nil {
			return fmt.Errorf("%w: failed to insert chunk %s: %v", models.ErrVectorStore, c.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", models.ErrVectorStore, err)
	}

	logger.Debug("Document chunks replaced",
		zap.String("document_id", batch.DocumentID),
		zap.Int("chunks", len(batch.Chunks)),
	)
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, topK int, filters map[string]any) ([]models.RetrievalHit, error) {
	if err := vector.ValidateSearch(query, topK, s.maxTopK, s.dimension); err != nil {
		return nil, err
	}

	where, args, err := buildWhere(filters, 2)
	if err != nil {
		return nil, err
	}
	args = append([]any{pgvector.NewVector(query)}, args...)
	args = append(args, topK)

	var rows []hitRow
	if err := s.db.SelectContext(ctx, &rows, searchSQL(s.table, where, len(args)), args...); err != nil {
		return nil, fmt.Errorf("%w: similarity search failed: %v", models.ErrVectorStore, err)
	}

	hits := make([]models.RetrievalHit, 0, len(rows))
	for _, r := range rows {
		var meta map[string]any
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &meta); err != nil {
				return nil, fmt.Errorf("%w: corrupt metadata for chunk %s: %v", models.ErrVectorStore, r.ChunkID, err)
			}
		}
		hits = append(hits, models.RetrievalHit{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Index:      r.ChunkIndex,
			Score:      r.Score,
			Metadata:   meta,
		})
	}

	vector.SortHits(hits)
	return hits, nil
}

// searchSQL orders by the bare distance expression so the planner can use the
// hnsw index. Exact ties are broken by chunk_id in SortHits.
func searchSQL(table, where string, limitArg int) string {
	return fmt.Sprintf(`
		SELECT chunk_id, document_id, content, chunk_index, metadata,
			1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, table, where, limitArg)
}

// buildWhere translates filters into a conjunctive WHERE clause. Metadata
// values are compared as jsonb; placeholders start at $first.
func buildWhere(filters map[string]any, first int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any
	n := first
	for _, key := range keys {
		value := filters[key]
		if key == vector.DocumentIDFilter {
			clauses = append(clauses, fmt.Sprintf("document_id = $%d", n))
			args = append(args, vector.DocumentIDValue(value))
			n++
			continue
		}

		encoded, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: filter %q is not JSON encodable: %v", models.ErrValidation, key, err)
		}
		clauses = append(clauses, fmt.Sprintf("metadata -> $%d = $%d::jsonb", n, n+1))
		args = append(args, key, string(encoded))
		n += 2
	}

	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (s *Store) Delete(ctx context.Context, documentID string) (int, error) {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete document %s: %v", models.ErrVectorStore, documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read affected rows: %v", models.ErrVectorStore, err)
	}
	return int(n), nil
}

func (s *Store) Count(ctx context.Context) (models.StoreCount, error) {
	var counts struct {
		Chunks    int `db:"chunks"`
		Documents int `db:"documents"`
	}
	err := s.db.GetContext(ctx, &counts,
		`SELECT COUNT(*) AS chunks, COUNT(DISTINCT document_id) AS documents FROM `+s.table)
	if err != nil {
		return models.StoreCount{}, fmt.Errorf("%w: failed to count chunks: %v", models.ErrVectorStore, err)
	}

	return models.StoreCount{
		Backend:         s.Kind().String(),
		TotalChunks:     counts.Chunks,
		UniqueDocuments: counts.Documents,
		Dimension:       s.dimension,
	}, nil
}
