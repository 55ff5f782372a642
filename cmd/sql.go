package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a raw SQL query against the metrics database",
	Long: `Run an arbitrary SQL query against the metrics database and print results as a table.

Schema overview:
  sessions(hash, run_id, source, analyzed_at, frame_count, duration_s,
    blue_score, orange_score, label)
  session_players(session_hash, player, team, overall_score, candidate_count,
    whiffs, hesitations, hesitation_pct, hesitation_max_s, boost_waste_pct,
    supersonic_pct, useful_supersonic_pct, pressure_pct, whiff_rate_per_min,
    approach_efficiency, recovery_time_avg_s, recovery_count, total_frames)
  stream_metrics(session_hash, player, t, speed, hesitation_score, ...)
  events(session_hash, player, seq, t, type, reason, distance, opportunity,
    confidence, context, intent_flags, window_start, window_end, commit_signal, ...)
  suppressions(session_hash, player, reason, count)
  mechanic_events(session_hash, player, seq, mechanic, short, t, quality, label, reason, ...)
  mechanic_grades(session_hash, player, mechanic, title, score, confidence,
    event_count, good_count, neutral_count, bad_count, mean_quality, stability, hint)

Example: rlmetrics sql "SELECT mechanic, AVG(score) FROM mechanic_grades WHERE player = 'alice' GROUP BY mechanic"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func runSQL(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	cols, rows, err := db.QueryRaw(query)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))

	colsAny := make([]any, len(cols))
	for i, c := range cols {
		colsAny[i] = c
	}
	table.Header(colsAny...)

	for _, row := range rows {
		rowAny := make([]any, len(row))
		for i, v := range row {
			rowAny[i] = v
		}
		table.Append(rowAny...)
	}
	table.Render()
	fmt.Fprintf(os.Stdout, "\n(%d rows)\n", len(rows))
	return nil
}

