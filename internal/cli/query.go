package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thfmn/ttm-rag/internal/models"
)

var (
	queryTopK    int
	queryModel   string
	queryFilters []string
	queryJSON    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Query the retrieval pipeline",
	Long: `Retrieves the closest chunks for a query. With --model an answer is
generated and released only when the policy gate allows it. Use --model auto to
let the selector pick a model.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	queryCmd.Flags().StringVarP(&queryModel, "model", "m", "", "model id for answer generation")
	queryCmd.Flags().StringArrayVarP(&queryFilters, "filter", "f", nil, "metadata filter key=value (repeatable)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the full result as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	filters, err := parseFilters(queryFilters)
	if err != nil {
		return err
	}

	req := models.QueryRequest{
		Query:   args[0],
		TopK:    queryTopK,
		Model:   queryModel,
		Filters: filters,
	}

	return withService(cmd, func(ctx context.Context, svc Service) error {
		result, err := svc.Query(ctx, req)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		if queryJSON {
			return printJSON(cmd, result)
		}
		printResult(cmd, result)
		return nil
	})
}

// parseFilters reads key=value pairs. Values that parse as JSON scalars keep
// their type, so year=2020 matches a numeric metadata field.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	filters := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			switch v.(type) {
			case string, bool, float64:
				filters[key] = v
				continue
			}
		}
		filters[key] = raw
	}
	return filters, nil
}

func printResult(cmd *cobra.Command, r *models.QueryResult) {
	if r.Model != "" {
		cmd.Printf("Model: %s\n", r.Model)
	}
	cmd.Printf("Decision: %s", r.Decision)
	if r.Reason != "" {
		cmd.Printf(" (%s)", r.Reason)
	}
	cmd.Println()
	cmd.Printf("Scores: retrieval=%.3f confidence=%.3f\n", r.Scores.Retrieval, r.Scores.AnswerConfidence)

	if r.Answer != "" {
		cmd.Println()
		cmd.Println(r.Answer)
		for _, d := range r.Disclaimers {
			cmd.Printf("  * %s\n", d)
		}
	}

	cmd.Println()
	if len(r.Context) == 0 {
		cmd.Println("No results found.")
		return
	}

	cmd.Println("Context:")
	for i, hit := range r.Context {
		title, _ := hit.Metadata["title"].(string)
		if title == "" {
			title = hit.DocumentID
		}
		cmd.Printf("  [%d] %s #%d (%.3f)\n", i+1, title, hit.Index, hit.Score)
		cmd.Printf("      %s\n", snippet(hit.Content, 160))
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
