package zilliz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

const (
	fieldChunkID     = "chunk_id"
	fieldDocumentID  = "document_id"
	fieldContent     = "content"
	fieldChunkIndex  = "chunk_index"
	fieldStartOffset = "start_offset"
	fieldEndOffset   = "end_offset"
	fieldMetadata    = "metadata"
	fieldEmbedding   = "embedding"

	// countLimit bounds the document_id scan used for unique document counts.
	countLimit = 16384
)

var outputFields = []string{fieldChunkID, fieldDocumentID, fieldContent, fieldChunkIndex, fieldMetadata}

type Options struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	Dimension      int
	MaxTopK        int
}

// Client is a Store on a Milvus or Zilliz Cloud collection using the COSINE
// metric, so scores are cosine similarity like the other backends.
type Client struct {
	client         client.Client
	collectionName string
	dimension      int
	maxTopK        int
	locks          *vector.KeyedMutex
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: milvus store needs a positive dimension", models.ErrConfiguration)
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 100
	}

	c, err := client.NewClient(ctx, client.Config{
		Address: opts.Endpoint,
		APIKey:  opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create milvus client: %v", models.ErrVectorStore, err)
	}

	z := &Client{
		client:         c,
		collectionName: opts.CollectionName,
		dimension:      opts.Dimension,
		maxTopK:        opts.MaxTopK,
		locks:          vector.NewKeyedMutex(),
	}

	if err := z.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.Info("Milvus vector store initialized",
		zap.String("endpoint", opts.Endpoint),
		zap.String("collection", opts.CollectionName),
		zap.Int("dimension", opts.Dimension),
	)

	return z, nil
}

func (z *Client) Kind() vector.Kind { return vector.KindMilvus }
func (z *Client) Dimension() int    { return z.dimension }

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) ensureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("%w: failed to check collection: %v", models.ErrVectorStore, err)
	}

	if has {
		coll, err := z.client.DescribeCollection(ctx, z.collectionName)
		if err != nil {
			return fmt.Errorf("%w: failed to describe collection: %v", models.ErrVectorStore, err)
		}
		if err := checkDimension(coll.Schema, z.dimension); err != nil {
			return err
		}
		return z.load(ctx)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Thai traditional medicine chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       fieldDocumentID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       fieldContent,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldStartOffset, DataType: entity.FieldTypeInt64},
			{Name: fieldEndOffset, DataType: entity.FieldTypeInt64},
			{Name: fieldMetadata, DataType: entity.FieldTypeJSON},
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(z.dimension)},
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("%w: failed to create collection: %v", models.ErrVectorStore, err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
	if err != nil {
		return fmt.Errorf("%w: failed to build index params: %v", models.ErrVectorStore, err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("%w: failed to create index: %v", models.ErrVectorStore, err)
	}

	logger.Info("Collection created", zap.String("collection", z.collectionName))

	return z.load(ctx)
}

func (z *Client) load(ctx context.Context) error {
	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("%w: failed to load collection: %v", models.ErrVectorStore, err)
	}
	return nil
}

func checkDimension(schema *entity.Schema, want int) error {
	if schema == nil {
		return fmt.Errorf("%w: collection has no schema", models.ErrVectorStore)
	}
	for _, f := range schema.Fields {
		if f.Name != fieldEmbedding {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams["dim"])
		if err != nil || dim != want {
			return fmt.Errorf("%w: collection stores dimension %q, configured dimension is %d",
				models.ErrConfiguration, f.TypeParams["dim"], want)
		}
		return nil
	}
	return fmt.Errorf("%w: collection has no %s field", models.ErrConfiguration, fieldEmbedding)
}

// Upsert writes the new chunk set by primary key, then deletes any chunk of
// the document that is not part of it. Milvus has no multi-statement
// transactions, so searches during the window may see old and new chunks
// together but never an empty document.
func (z *Client) Upsert(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if err := vector.ValidateUpsert(chunks, embeddings, z.dimension); err != nil {
		return err
	}

	for _, batch := range vector.GroupByDocument(chunks, embeddings) {
		if err := z.replaceDocument(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (z *Client) replaceDocument(ctx context.Context, batch vector.DocumentBatch) error {
	unlock := z.locks.Lock(batch.DocumentID)
	defer unlock()

	n := len(batch.Chunks)
	chunkIDs := make([]string, n)
	docIDs := make([]string, n)
	contents := make([]string, n)
	indexes := make([]int64, n)
	starts := make([]int64, n)
	ends := make([]int64, n)
	metas := make([][]byte, n)

	for i, c := range batch.Chunks {
		chunkIDs[i] = c.ChunkID
		docIDs[i] = c.DocumentID
		contents[i] = c.Content
		indexes[i] = int64(c.Index)
		starts[i] = int64(c.StartOffset)
		ends[i] = int64(c.EndOffset)

		meta := c.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("%w: metadata is not JSON encodable: %v", models.ErrValidation, err)
		}
		metas[i] = data
	}

	_, err := z.client.Upsert(ctx, z.collectionName, "",
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldDocumentID, docIDs),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnInt64(fieldChunkIndex, indexes),
		entity.NewColumnInt64(fieldStartOffset, starts),
		entity.NewColumnInt64(fieldEndOffset, ends),
		entity.NewColumnJSONBytes(fieldMetadata, metas),
		entity.NewColumnFloatVector(fieldEmbedding, z.dimension, batch.Embeddings),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert chunks: %v", models.ErrVectorStore, err)
	}

	stale := fmt.Sprintf("%s == %s && %s not in [%s]",
		fieldDocumentID, quote(batch.DocumentID), fieldChunkID, quoteList(chunkIDs))
	if err := z.client.Delete(ctx, z.collectionName, "", stale); err != nil {
		return fmt.Errorf("%w: failed to delete stale chunks: %v", models.ErrVectorStore, err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("%w: failed to flush: %v", models.ErrVectorStore, err)
	}

	logger.Debug("Document chunks replaced",
		zap.String("document_id", batch.DocumentID),
		zap.Int("chunks", n),
	)
	return nil
}

func (z *Client) Search(ctx context.Context, query []float32, topK int, filters map[string]any) ([]models.RetrievalHit, error) {
	if err := vector.ValidateSearch(query, topK, z.maxTopK, z.dimension); err != nil {
		return nil, err
	}

	expr, err := buildExpr(filters)
	if err != nil {
		return nil, err
	}

	ef := topK * 4
	if ef < 64 {
		ef = 64
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build search params: %v", models.ErrVectorStore, err)
	}

	results, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(query)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search failed: %v", models.ErrVectorStore, err)
	}

	var hits []models.RetrievalHit
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			hit, err := hitFromColumns(sr.Fields, i)
			if err != nil {
				return nil, err
			}
			hit.Score = float64(sr.Scores[i])
			hits = append(hits, hit)
		}
	}
	if hits == nil {
		hits = []models.RetrievalHit{}
	}

	vector.SortHits(hits)

	logger.Debug("Vector search completed",
		zap.Int("top_k", topK),
		zap.Int("results", len(hits)),
		zap.String("expr", expr),
	)

	return hits, nil
}

type columns interface {
	GetColumn(name string) entity.Column
}

func hitFromColumns(fields columns, i int) (models.RetrievalHit, error) {
	var hit models.RetrievalHit

	chunkID, err := stringAt(fields, fieldChunkID, i)
	if err != nil {
		return hit, err
	}
	docID, err := stringAt(fields, fieldDocumentID, i)
	if err != nil {
		return hit, err
	}
	content, err := stringAt(fields, fieldContent, i)
	if err != nil {
		return hit, err
	}

	hit.ChunkID, hit.DocumentID, hit.Content = chunkID, docID, content

	if col := fields.GetColumn(fieldChunkIndex); col != nil {
		if v, err := col.GetAsInt64(i); err == nil {
			hit.Index = int(v)
		}
	}

	if col := fields.GetColumn(fieldMetadata); col != nil {
		if raw, err := col.Get(i); err == nil {
			if data, ok := raw.([]byte); ok && len(data) > 0 {
				if err := json.Unmarshal(data, &hit.Metadata); err != nil {
					return hit, fmt.Errorf("%w: corrupt metadata for chunk %s: %v", models.ErrVectorStore, chunkID, err)
				}
			}
		}
	}

	return hit, nil
}

func stringAt(fields columns, name string, i int) (string, error) {
	col := fields.GetColumn(name)
	if col == nil {
		return "", fmt.Errorf("%w: search result is missing field %s", models.ErrVectorStore, name)
	}
	v, err := col.GetAsString(i)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read field %s: %v", models.ErrVectorStore, name, err)
	}
	return v, nil
}

// buildExpr translates filters into a boolean expression over the document_id
// field and the JSON metadata field. Only scalar filter values are supported.
func buildExpr(filters map[string]any) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == vector.DocumentIDFilter {
			id := vector.DocumentIDValue(filters[key])
			clauses = append(clauses, fmt.Sprintf("%s == %s", fieldDocumentID, quote(id)))
			continue
		}
		literal, err := scalarLiteral(filters[key])
		if err != nil {
			return "", fmt.Errorf("%w: filter %q: %v", models.ErrValidation, key, err)
		}
		clauses = append(clauses, fmt.Sprintf("%s[%s] == %s", fieldMetadata, quote(key), literal))
	}

	return strings.Join(clauses, " && "), nil
}

func scalarLiteral(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return quote(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case json.Number:
		return val.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func quote(s string) string {
	return strconv.Quote(s)
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return strings.Join(quoted, ", ")
}

func (z *Client) Delete(ctx context.Context, documentID string) (int, error) {
	unlock := z.locks.Lock(documentID)
	defer unlock()

	expr := fmt.Sprintf("%s == %s", fieldDocumentID, quote(documentID))
	existing, err := z.client.Query(ctx, z.collectionName, nil, expr, []string{fieldChunkID},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to look up document %s: %v", models.ErrVectorStore, documentID, err)
	}

	n := 0
	if col := existing.GetColumn(fieldChunkID); col != nil {
		n = col.Len()
	}
	if n == 0 {
		return 0, nil
	}

	if err := z.client.Delete(ctx, z.collectionName, "", expr); err != nil {
		return 0, fmt.Errorf("%w: failed to delete document %s: %v", models.ErrVectorStore, documentID, err)
	}
	return n, nil
}

func (z *Client) Count(ctx context.Context) (models.StoreCount, error) {
	res, err := z.client.Query(ctx, z.collectionName, nil, "", []string{"count(*)"},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return models.StoreCount{}, fmt.Errorf("%w: failed to count chunks: %v", models.ErrVectorStore, err)
	}

	total := 0
	if col := res.GetColumn("count(*)"); col != nil && col.Len() > 0 {
		if v, err := col.GetAsInt64(0); err == nil {
			total = int(v)
		}
	}

	docs, err := z.client.Query(ctx, z.collectionName, nil, fieldChunkID+` != ""`, []string{fieldDocumentID},
		client.WithLimit(countLimit),
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return models.StoreCount{}, fmt.Errorf("%w: failed to count documents: %v", models.ErrVectorStore, err)
	}

	unique := make(map[string]struct{})
	if col := docs.GetColumn(fieldDocumentID); col != nil {
		for i := 0; i < col.Len(); i++ {
			if v, err := col.GetAsString(i); err == nil {
				unique[v] = struct{}{}
			}
		}
	}

	return models.StoreCount{
		Backend:         z.Kind().String(),
		TotalChunks:     total,
		UniqueDocuments: len(unique),
		Dimension:       z.dimension,
	}, nil
}
