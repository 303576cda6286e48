package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/mnemo-ai/mnemo/internal/cli"
)

func main() {
	// A .env file in the working directory is optional.
	_ = godotenv.Load()

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
