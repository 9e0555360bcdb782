package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/quizora/quizora/internal/cli"
)

func main() {
	// A .env in the working directory can carry QUIZORA_* overrides.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
