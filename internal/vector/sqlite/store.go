package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS store_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL,
	content TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_document ON chunk_embeddings(document_id);
`

type Options struct {
	// Path is a file path or ":memory:".
	Path      string
	Dimension int
	MaxTopK   int
}

// Store keeps chunks in an ordinary table and ranks them in process.
// Search cost is linear in the number of stored chunks.
type Store struct {
	db        *sqlx.DB
	dimension int
	maxTopK   int
	locks     *vector.KeyedMutex
}

type chunkRow struct {
	ChunkID     string `db:"chunk_id"`
	DocumentID  string `db:"document_id"`
	Content     string `db:"content"`
	ChunkIndex  int    `db:"chunk_index"`
	StartOffset int    `db:"start_offset"`
	EndOffset   int    `db:"end_offset"`
	Metadata    string `db:"metadata"`
	Embedding   string `db:"embedding"`
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: sqlite store needs a positive dimension", models.ErrConfiguration)
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 100
	}

	dsn := opts.Path
	if opts.Path != ":memory:" {
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: failed to create database directory: %v", models.ErrVectorStore, err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", opts.Path)
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", models.ErrVectorStore, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dimension: opts.Dimension, maxTopK: opts.MaxTopK, locks: vector.NewKeyedMutex()}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("SQLite vector store initialized",
		zap.String("path", opts.Path),
		zap.Int("dimension", opts.Dimension),
	)

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", models.ErrVectorStore, err)
	}

	var stored string
	err := s.db.GetContext(ctx, &stored, `SELECT value FROM store_meta WHERE key = 'dimension'`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO store_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(s.dimension))
		if err != nil {
			return fmt.Errorf("%w: failed to record dimension: %v", models.ErrVectorStore, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: failed to read store metadata: %v", models.ErrVectorStore, err)
	}

	if stored != strconv.Itoa(s.dimension) {
		return fmt.Errorf("%w: store was created with dimension %s, configured dimension is %d",
			models.ErrConfiguration, stored, s.dimension)
	}
	return nil
}

func (s *Store) Kind() vector.Kind { return vector.KindFallback }
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE document_id = ?`, batch.DocumentID); err != nil {
		return fmt.Errorf("%w: failed to delete previous chunks: %v", models.ErrVectorStore, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO chunk_embeddings
			(chunk_id, document_id, content, chunk_index, start_offset, end_offset, metadata, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", models.ErrVectorStore, err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, c := range batch.Chunks {
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		emb, err := json.Marshal(batch.Embeddings[i])
		if err != nil {
			return fmt.Errorf("%w: failed to encode embedding: %v", models.ErrVectorStore, err)
		}

		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocumentID, c.Content, c.Index,
			c.StartOffset, c.EndOffset, meta, string(emb), now, now); err != nil {
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

	q := `SELECT chunk_id, document_id, content, chunk_index, start_offset, end_offset, metadata, embedding
		FROM chunk_embeddings`
	var args []any
	if id, ok := filters[vector.DocumentIDFilter]; ok {
		q += ` WHERE document_id = ?`
		args = append(args, vector.DocumentIDValue(id))
	}

	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("%w: failed to load candidates: %v", models.ErrVectorStore, err)
	}

	candidates := make([]vector.Candidate, 0, len(rows))
	for _, r := range rows {
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("%w: corrupt metadata for chunk %s: %v", models.ErrVectorStore, r.ChunkID, err)
		}
		if !vector.MatchFilters(r.DocumentID, meta, filters) {
			continue
		}

		var emb []float32
		if err := json.Unmarshal([]byte(r.Embedding), &emb); err != nil {
			return nil, fmt.Errorf("%w: corrupt embedding for chunk %s: %v", models.ErrVectorStore, r.ChunkID, err)
		}
		if len(emb) != s.dimension {
			return nil, fmt.Errorf("%w: chunk %s has dimension %d, store expects %d",
				models.ErrConfiguration, r.ChunkID, len(emb), s.dimension)
		}

		candidates = append(candidates, vector.Candidate{
			Hit: models.RetrievalHit{
				ChunkID:    r.ChunkID,
				DocumentID: r.DocumentID,
				Content:    r.Content,
				Index:      r.ChunkIndex,
				Metadata:   meta,
			},
			Embedding: emb,
		})
	}

	return vector.Rank(query, candidates, topK), nil
}

func (s *Store) Delete(ctx context.Context, documentID string) (int, error) {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE document_id = ?`, documentID)
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
		`SELECT COUNT(*) AS chunks, COUNT(DISTINCT document_id) AS documents FROM chunk_embeddings`)
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

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: metadata is not JSON encodable: %v", models.ErrValidation, err)
	}
	return string(data), nil
}
