package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/storage"
)

var (
	dropForce   bool
	dropSession string
)

// dropCmd deletes the metrics database file, or a single stored session.
var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the metrics database (or one session)",
	Long:  "Permanently delete the SQLite metrics database. All stored sessions will be lost. Re-analyze your timelines afterwards to rebuild. With --session only that session is removed.",
	Args:  cobra.NoArgs,
	RunE:  runDrop,
}

func init() {
	dropCmd.Flags().BoolVarP(&dropForce, "force", "f", false, "skip confirmation prompt")
	dropCmd.Flags().StringVar(&dropSession, "session", "", "only delete the session with this hash prefix")
}

func runDrop(cmd *cobra.Command, args []string) error {
	if dropSession != "" {
		return dropOne(dropSession)
	}
	if !dropForce {
		fmt.Fprintf(os.Stderr, "This will permanently delete: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
		return nil
	}
	if err := os.Remove(dbPath); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stdout, "Database does not exist, nothing to drop.")
			return nil
		}
		return fmt.Errorf("remove database: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Deleted: %s\n", dbPath)
	return nil
}

func dropOne(prefix string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.GetSessionByPrefix(prefix)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "No session found with hash prefix %q\n", prefix)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	if !dropForce {
		fmt.Fprintf(os.Stderr, "This will permanently delete session %s (%s).\n", s.Hash[:12], s.AnalyzedAt)
		fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
		return nil
	}
	if err := db.DeleteSession(s.Hash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Deleted session: %s\n", s.Hash)
	return nil
}
