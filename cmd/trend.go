package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/report"
)

var trendCmd = &cobra.Command{
	Use:   "trend <player>",
	Short: "Chronological per-session coaching trend for a player",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrend,
}

func runTrend(cmd *cobra.Command, args []string) error {
	player := args[0]
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.PlayerTrend(player)
	if err != nil {
		return fmt.Errorf("query trend: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("no sessions found")
		return nil
	}
	report.PrintTrendTable(os.Stdout, rows)
	return nil
}
