// Package main is the entry point for the stockdesk CLI.
package main

import (
	"github.com/joho/godotenv"

	"github.com/stockdesk/stockdesk-cli/internal/cli"
)

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	cli.Execute()
}
