package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Record is emitted once per Ingest, Query or Delete call.
type Record struct {
	ID         string    `json:"id"`
	Tool       string    `json:"tool"`
	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash"`
	Seed       int64     `json:"seed"`
	LatencyMS  int64     `json:"latency_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recorder is the external audit sink. Recording must not fail the call it
// describes, so implementations swallow and log their own errors.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// CanonicalJSON encodes v with object keys sorted at every depth.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to normalize audit payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode audit payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns sha256 over the canonical JSON of v.
func Hash(v any) ([]byte, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Seed derives a deterministic non-negative seed from the first 8 bytes of
// an input hash read big-endian.
func Seed(inputHash []byte) int64 {
	if len(inputHash) < 8 {
		padded := make([]byte, 8)
		copy(padded, inputHash)
		inputHash = padded
	}
	return int64(binary.BigEndian.Uint64(inputHash[:8]) & math.MaxInt64)
}

// New builds a record for one call. Hashing failures are reported in the
// record instead of being returned.
func New(tool string, input, output any, started time.Time, callErr error) Record {
	rec := Record{
		ID:        uuid.New().String(),
		Tool:      tool,
		Status:    StatusOK,
		LatencyMS: time.Since(started).Milliseconds(),
		Timestamp: time.Now().UTC(),
	}

	if in, err := Hash(input); err == nil {
		rec.InputHash = hex.EncodeToString(in)
		rec.Seed = Seed(in)
	} else {
		rec.Status = StatusError
		rec.Error = err.Error()
	}

	if out, err := Hash(output); err == nil {
		rec.OutputHash = hex.EncodeToString(out)
	} else if rec.Error == "" {
		rec.Status = StatusError
		rec.Error = err.Error()
	}

	if callErr != nil {
		rec.Status = StatusError
		rec.Error = callErr.Error()
	}

	return rec
}

// InputSeed is the seed New would assign to input.
func InputSeed(input any) (int64, error) {
	in, err := Hash(input)
	if err != nil {
		return 0, err
	}
	return Seed(in), nil
}

type logRecorder struct {
	log *zap.Logger
}

// NewLogRecorder writes records as structured entries on the "audit" logger.
func NewLogRecorder(log *zap.Logger) Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &logRecorder{log: log.Named("audit")}
}

func (r *logRecorder) Record(_ context.Context, rec Record) {
	fields := []zap.Field{
		zap.String("audit_id", rec.ID),
		zap.String("tool", rec.Tool),
		zap.String("input_hash", rec.InputHash),
		zap.String("output_hash", rec.OutputHash),
		zap.Int64("seed", rec.Seed),
		zap.Int64("latency_ms", rec.LatencyMS),
		zap.String("status", rec.Status),
		zap.Time("timestamp", rec.Timestamp),
	}
	if rec.Error != "" {
		fields = append(fields, zap.String("error", rec.Error))
	}
	r.log.Info("Audit record", fields...)
}

type multi []Recorder

// Multi fans a record out to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Record(ctx context.Context, rec Record) {
	for _, r := range m {
		r.Record(ctx, rec)
	}
}

type nopRecorder struct{}

func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) Record(context.Context, Record) {}

// MemoryRecorder keeps records in memory. Used by tests and the CLI.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemoryRecorder) Record(_ context.Context, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
