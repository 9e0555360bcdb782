package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var solveCmd = &cobra.Command{
	Use:   "solve <chain-url>",
	Short: "Solve a quiz chain",
	Long: `Solve the quiz chain starting at the given URL and print the final
tally. Interrupting with Ctrl-C stops after the current step.`,
	Args: cobra.ExactArgs(1),
	RunE: runSolve,
}

func init() {
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := buildApp(cfg, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := app.Driver.Solve(ctx, args[0])
	if err != nil {
		return fmt.Errorf("solve failed: %w", err)
	}

	fmt.Printf("Chain:    %s\n", result.ChainURL)
	fmt.Printf("Correct:  %d/%d\n", result.Summary.Correct, result.Summary.Total)
	fmt.Printf("Episodes: %d (retry sweeps: %d)\n", result.Episodes, result.Sweeps)
	fmt.Printf("Elapsed:  %s\n", formatDuration(result.Elapsed))
	if result.Summary.Wrong > 0 {
		fmt.Printf("Unsolved:\n")
		for _, u := range result.Summary.WrongURLs {
			fmt.Printf("  %s\n", u)
		}
	}

	return nil
}
