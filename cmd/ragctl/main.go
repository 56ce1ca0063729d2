package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/thfmn/ttm-rag/internal/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
