package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/aggregator"
	"github.com/pable/go-rl-metrics/internal/model"
	"github.com/pable/go-rl-metrics/internal/parser"
	"github.com/pable/go-rl-metrics/internal/report"
	"github.com/pable/go-rl-metrics/internal/storage"
)

var (
	analyzePlayer      string
	analyzeLabel       string
	analyzeForce       bool
	analyzeConcurrency int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <timeline.jsonl[.gz]>",
	Short: "Run the full pipeline on a recorded timeline and store the results",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePlayer, "player", "", "focus player name")
	analyzeCmd.Flags().StringVar(&analyzeLabel, "label", "", "free-form label stored with the session")
	analyzeCmd.Flags().BoolVarP(&analyzeForce, "force", "f", false, "re-analyze even if the session is already stored")
	analyzeCmd.Flags().IntVar(&analyzeConcurrency, "concurrency", 4, "players analyzed in parallel")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintf(os.Stdout, "Parsing %s...\n", path)
	raw, err := parser.ParseTimeline(path)
	if err != nil {
		return fmt.Errorf("parse timeline: %w", err)
	}
	if raw.SkippedLines > 0 {
		fmt.Fprintf(os.Stderr, "warning: skipped %d malformed lines\n", raw.SkippedLines)
	}
	if raw.RepairedLines > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d lines had ill-typed fields, defaults used\n", raw.RepairedLines)
	}

	exists, err := db.SessionExists(raw.Hash)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists && !analyzeForce {
		fmt.Fprintf(os.Stdout, "Session %s already stored — showing cached results.\n", raw.Hash[:12])
		return showByHash(db, raw.Hash, analyzePlayer)
	}

	agg := aggregator.New(*cfg,
		aggregator.WithMetrics(metricsMgr),
		aggregator.WithConcurrency(analyzeConcurrency),
	)
	res, err := agg.Analyze(cmd.Context(), raw)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	res.Summary.Label = analyzeLabel

	if err := db.SaveSession(res); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return showByHash(db, raw.Hash, analyzePlayer)
}

// showByHash prints a stored session: the player overview, then the grades,
// events and suppressions of the focus player (or of every player).
func showByHash(db *storage.DB, hash, focus string) error {
	s, err := db.GetSessionByPrefix(hash)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	players, err := db.GetSessionPlayers(s.Hash)
	if err != nil {
		return fmt.Errorf("get session players: %w", err)
	}

	report.PrintSessionSummary(os.Stdout, *s)
	report.PrintPlayerTable(os.Stdout, players, focus)

	for _, p := range players {
		if focus != "" && p.Player != focus {
			continue
		}
		if err := printPlayerDetail(db, s.Hash, p); err != nil {
			return err
		}
	}
	return nil
}

func printPlayerDetail(db *storage.DB, hash string, p model.PlayerTrendRow) error {
	grades, err := db.GetMechanicGrades(hash, p.Player)
	if err != nil {
		return fmt.Errorf("get grades: %w", err)
	}
	events, err := db.GetEvents(hash, p.Player)
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}
	mev, err := db.GetMechanicEvents(hash, p.Player)
	if err != nil {
		return fmt.Errorf("get mechanic events: %w", err)
	}
	sup, err := db.GetSuppressions(hash, p.Player)
	if err != nil {
		return fmt.Errorf("get suppressions: %w", err)
	}

	report.Section(os.Stdout, fmt.Sprintf("%s (%s) — mechanics, overall %.1f", p.Player, p.Team, p.Overall))
	report.PrintGradeTable(os.Stdout, grades)
	if len(mev) > 0 {
		report.Section(os.Stdout, p.Player+" — mechanic events")
		report.PrintMechanicEvents(os.Stdout, mev)
	}
	if len(events) > 0 {
		report.Section(os.Stdout, p.Player+" — whiffs & hesitations")
		report.PrintEventTable(os.Stdout, events)
	}
	if len(sup) > 0 {
		report.Section(os.Stdout, p.Player+" — suppressed candidates")
		report.PrintSuppressions(os.Stdout, sup)
	}
	return nil
}
