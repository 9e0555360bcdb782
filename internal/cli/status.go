package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizora/quizora/internal/config"
	"github.com/quizora/quizora/pkg/quiz"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent chain runs",
	Long:  `Show the most recent quiz chain runs from the results store.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Reading the store needs only the data directory, not a full
	// validated config.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	store, err := quiz.NewStore(filepath.Join(cfg.DataDir, "results.db"))
	if err != nil {
		return fmt.Errorf("failed to open results store: %w", err)
	}
	defer store.Close()

	chains, err := store.RecentChains(statusLimit)
	if err != nil {
		return fmt.Errorf("failed to query results: %w", err)
	}
	if len(chains) == 0 {
		fmt.Println("No chain runs recorded yet.")
		return nil
	}

	for _, c := range chains {
		duration := time.Duration(c.DurationMS) * time.Millisecond
		fmt.Printf("#%d  %s\n", c.ID, c.ChainURL)
		fmt.Printf("    correct %d / wrong %d, %d episodes, %d sweeps, %s, started %s\n",
			c.Correct, c.Wrong, c.Episodes, c.Sweeps,
			formatDuration(duration), c.StartedAt.Format(time.RFC3339))
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
