package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

// summaryCmd is the cobra command for displaying a high-level database overview.
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a high-level overview of the database",
	Long: `Display aggregate statistics about all sessions stored in the database:
session count, date range, most active players, and store-wide mechanic
averages.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func runSummary(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ov, err := db.GetOverview()
	if err != nil {
		return fmt.Errorf("get overview: %w", err)
	}
	if ov.TotalSessions == 0 {
		fmt.Fprintln(os.Stdout, "No sessions stored yet. Run 'rlmetrics analyze <timeline.jsonl.gz>' to add one.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "\n=== Database Summary ===\n\n")
	fmt.Fprintf(os.Stdout, "  Sessions stored : %d\n", ov.TotalSessions)
	fmt.Fprintf(os.Stdout, "  Date range      : %s → %s\n", ov.Earliest, ov.Latest)
	fmt.Fprintf(os.Stdout, "  Players seen    : %d\n", ov.UniquePlayers)
	fmt.Fprintf(os.Stdout, "  Total frames    : %d\n", ov.TotalFrames)
	fmt.Fprintf(os.Stdout, "  Refined events  : %d\n", ov.TotalEvents)
	fmt.Fprintf(os.Stdout, "  Mechanic events : %d\n", ov.TotalMechanics)

	// Most active players.
	players, err := db.GetTopPlayers(10)
	if err != nil {
		return fmt.Errorf("get top players: %w", err)
	}
	fmt.Fprintf(os.Stdout, "\n--- Most Active Players ---\n\n")
	pt := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))
	pt.Header("PLAYER", "SESSIONS", "AVG OVERALL", "WHIFFS")
	for _, p := range players {
		pt.Append(
			p.Player,
			fmt.Sprintf("%d", p.Sessions),
			fmt.Sprintf("%.1f", p.AvgOverall),
			fmt.Sprintf("%d", p.Whiffs),
		)
	}
	pt.Render()

	// Weakest mechanics of the most active player, over their last 10 sessions.
	if len(players) == 0 {
		return nil
	}
	top := players[0].Player
	hashes, err := db.RecentSessionHashes(top, 10)
	if err != nil {
		return fmt.Errorf("recent sessions: %w", err)
	}
	avgs, err := db.MechanicAverages(top, hashes)
	if err != nil {
		return fmt.Errorf("mechanic averages: %w", err)
	}
	fmt.Fprintf(os.Stdout, "\n--- Mechanics: %s (last %d sessions) ---\n\n", top, len(hashes))
	mt := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))
	mt.Header("MECHANIC", "AVG SCORE", "AVG CONF", "EVENTS", "GOOD", "BAD")
	for _, a := range avgs {
		mt.Append(
			a.Title,
			fmt.Sprintf("%.1f", a.AvgScore),
			fmt.Sprintf("%.2f", a.AvgConfidence),
			fmt.Sprintf("%d", a.Events),
			fmt.Sprintf("%d", a.Good),
			fmt.Sprintf("%d", a.Bad),
		)
	}
	mt.Render()

	// Refined event reasons, only shown when any were recorded.
	reasons, err := db.EventReasons(top, hashes)
	if err != nil {
		return fmt.Errorf("event reasons: %w", err)
	}
	if len(reasons) > 0 {
		fmt.Fprintf(os.Stdout, "\n--- Event Reasons: %s ---\n\n", top)
		rt := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
			Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
			Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
		}))
		rt.Header("TYPE", "REASON", "COUNT")
		for _, r := range reasons {
			rt.Append(r.Type, r.Reason, fmt.Sprintf("%d", r.Count))
		}
		rt.Render()
	}
	return nil
}
