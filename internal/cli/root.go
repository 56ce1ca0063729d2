// Package cli implements the ragctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/app"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/pipeline"
	"github.com/thfmn/ttm-rag/pkg/config"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

var (
	configPath string
	logLevel   string
)

// Service is the part of pipeline.Pipeline the commands use.
type Service interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	IngestBatch(ctx context.Context, docs []models.Document) (models.IngestStats, error)
	Delete(ctx context.Context, documentID string) (int, error)
	Models() []models.ModelDescriptor
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

// openService builds the pipeline for one command. Tests replace it.
var openService = func(ctx context.Context) (Service, func() error, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	// Logs go to stderr so stdout stays parseable.
	if err := logger.Init(level, "console", "stderr"); err != nil {
		return nil, nil, err
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a.Pipeline, a.Close, nil
}

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Manage and query the Thai traditional medicine retrieval pipeline",
	Long: `ragctl ingests documents into the vector store, runs retrieval and
generation queries, and evaluates retrieval quality against a labelled dataset.`,
	SilenceUsage: true,
}

func init() {
	// cmd.Print* defaults to stderr; results belong on stdout.
	rootCmd.SetOut(os.Stdout)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func withService(cmd *cobra.Command, fn func(ctx context.Context, svc Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, closeFn, err := openService(ctx)
	if err != nil {
		return fmt.Errorf("failed to open pipeline: %w", err)
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("Failed to close pipeline", zap.Error(err))
		}
	}()

	return fn(ctx, svc)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
