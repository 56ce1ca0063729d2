package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thfmn/ttm-rag/internal/models"
)

const maxLineBytes = 16 << 20

var (
	ingestBatchSize int
	ingestJSON      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.jsonl]",
	Short: "Ingest documents from a JSON Lines file",
	Long: `Reads one document per line as {"id", "content", "metadata"} and ingests
them in batches. Re-ingesting an id replaces its chunks. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestBatchSize, "batch", "b", 10, "documents per batch")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output stats as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestBatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", ingestBatchSize)
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	docs, skipped, err := readDocuments(in)
	if err != nil {
		return err
	}
	for _, id := range skipped {
		cmd.PrintErrf("Skipping document %s due to empty content.\n", id)
	}

	return withService(cmd, func(ctx context.Context, svc Service) error {
		started := time.Now()
		total, err := ingestInBatches(ctx, svc, docs, ingestBatchSize)
		if err != nil {
			return err
		}
		total.Elapsed = time.Since(started)

		if ingestJSON {
			return printJSON(cmd, total)
		}
		printIngestSummary(cmd, total, len(docs)+len(skipped))
		return nil
	})
}

// readDocuments parses JSON Lines input. Blank lines are ignored and
// documents without content are returned as skipped ids.
func readDocuments(r io.Reader) ([]models.Document, []string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var docs []models.Document
	var skipped []string
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var doc models.Document
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, nil, fmt.Errorf("line %d: invalid document: %w", line, err)
		}
		if doc.ID == "" {
			return nil, nil, fmt.Errorf("line %d: document id is required", line)
		}
		if strings.TrimSpace(doc.Content) == "" {
			skipped = append(skipped, doc.ID)
			continue
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read input: %w", err)
	}

	return docs, skipped, nil
}

func ingestInBatches(ctx context.Context, svc Service, docs []models.Document, size int) (models.IngestStats, error) {
	var total models.IngestStats
	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}

		stats, err := svc.IngestBatch(ctx, docs[start:end])
		total.DocumentsProcessed += stats.DocumentsProcessed
		total.DocumentsFailed += stats.DocumentsFailed
		total.ChunksStored += stats.ChunksStored
		total.Errors = append(total.Errors, stats.Errors...)
		if err != nil {
			return total, fmt.Errorf("batch starting at document %d: %w", start, err)
		}
	}
	return total, nil
}

func printIngestSummary(cmd *cobra.Command, stats models.IngestStats, read int) {
	perMinute := 0.0
	if secs := stats.Elapsed.Seconds(); secs > 0 {
		perMinute = float64(stats.DocumentsProcessed) / secs * 60
	}

	cmd.Println("--- Ingestion Summary ---")
	cmd.Printf("Documents read:        %d\n", read)
	cmd.Printf("Successfully ingested: %d\n", stats.DocumentsProcessed)
	cmd.Printf("Failed:                %d\n", stats.DocumentsFailed)
	cmd.Printf("Chunks stored:         %d\n", stats.ChunksStored)
	cmd.Printf("Total time:            %.2fs\n", stats.Elapsed.Seconds())
	cmd.Printf("Throughput:            %.2f docs/minute\n", perMinute)

	if len(stats.Errors) > 0 {
		cmd.Println()
		cmd.Println("--- Errors ---")
		for _, e := range stats.Errors {
			cmd.Printf("%s: %s\n", e.DocumentID, e.Error)
		}
	}
}
