package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/report"
	"github.com/pable/go-rl-metrics/internal/storage"
)

var (
	showPlayer  string
	showSamples bool
)

var showCmd = &cobra.Command{
	Use:   "show <hash-prefix>",
	Short: "Show a stored session by hash prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().StringVar(&showPlayer, "player", "", "only show this player's detail")
	showCmd.Flags().BoolVar(&showSamples, "samples", false, "also print the player's stored metric samples (requires --player)")
}

func runShow(cmd *cobra.Command, args []string) error {
	prefix := args[0]

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := showByHash(db, prefix, showPlayer); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "No session found with hash prefix %q\n", prefix)
			return nil
		}
		return err
	}
	if !showSamples || showPlayer == "" {
		return nil
	}

	s, err := db.GetSessionByPrefix(prefix)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	samples, err := db.GetStreamMetrics(s.Hash, showPlayer)
	if err != nil {
		return fmt.Errorf("get stream metrics: %w", err)
	}
	report.Section(os.Stdout, showPlayer+" — metric samples")
	report.PrintSamples(os.Stdout, samples)
	return nil
}
