package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/pable/go-rl-metrics/internal/model"
)

var (
	cGood    = color.New(color.FgGreen)
	cNeutral = color.New(color.FgYellow)
	cBad     = color.New(color.FgRed, color.Bold)
	cHeader  = color.New(color.FgCyan, color.Bold)
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Header: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignCenter},
		},
	}))
}

// Section prints a "--- title ---" divider.
func Section(w io.Writer, title string) {
	fmt.Fprintln(w)
	cHeader.Fprintf(w, "--- %s ---\n", title)
	fmt.Fprintln(w)
}

// colorLabel renders a quality label in its band color.
func colorLabel(l model.QualityLabel) string {
	switch l {
	case model.LabelGood:
		return cGood.Sprint(string(l))
	case model.LabelBad:
		return cBad.Sprint(string(l))
	default:
		return cNeutral.Sprint(string(l))
	}
}

// colorScore renders a 0..100 score in the band of its quality.
func colorScore(score float64) string {
	s := fmt.Sprintf("%.1f", score)
	switch model.LabelFor(score / 100) {
	case model.LabelGood:
		return cGood.Sprint(s)
	case model.LabelBad:
		return cBad.Sprint(s)
	default:
		return cNeutral.Sprint(s)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func dash(ok bool, s string) string {
	if !ok {
		return "—"
	}
	return s
}

// PrintSessionSummary prints a one-line summary header for the session.
func PrintSessionSummary(w io.Writer, s model.SessionSummary) {
	label := ""
	if s.Label != "" {
		label = "  |  Label: " + s.Label
	}
	fmt.Fprintf(w, "\nAnalyzed: %s  |  Frames: %d  |  Duration: %.1fs  |  Score: BLUE %d – ORANGE %d  |  Hash: %s%s\n\n",
		s.AnalyzedAt, s.FrameCount, s.DurationS, s.BlueScore, s.OrangeScore, shortHash(s.Hash), label)
}

// PrintSessionList prints one line per stored session.
func PrintSessionList(w io.Writer, sessions []model.SessionSummary) {
	fmt.Fprintf(w, "%-14s  %-20s  %7s  %8s  %6s  %s\n",
		"HASH", "ANALYZED", "FRAMES", "DURATION", "SCORE", "LABEL")
	fmt.Fprintf(w, "%-14s  %-20s  %7s  %8s  %6s  %s\n",
		"──────────────", "────────────────────", "───────", "────────", "──────", "─────")
	for _, s := range sessions {
		score := fmt.Sprintf("%d-%d", s.BlueScore, s.OrangeScore)
		fmt.Fprintf(w, "%-14s  %-20s  %7d  %7.1fs  %6s  %s\n",
			shortHash(s.Hash), s.AnalyzedAt, s.FrameCount, s.DurationS, score, s.Label)
	}
}

// PrintPlayerTable prints the per-player overview of one session.
// If focus is non-empty, that player's row is marked with ">".
func PrintPlayerTable(w io.Writer, rows []model.PlayerTrendRow, focus string) {
	table := newTable(w)
	table.Header(" ", "PLAYER", "TEAM", "OVERALL", "WHIFFS", "HESIT", "HESIT%", "BOOST_WASTE%", "PRESSURE%", "RECOVERY")
	for _, r := range rows {
		marker := " "
		if focus != "" && r.Player == focus {
			marker = ">"
		}
		table.Append(
			marker,
			r.Player,
			r.Team.String(),
			colorScore(r.Overall),
			strconv.Itoa(r.Whiffs),
			strconv.Itoa(r.Hesitations),
			fmt.Sprintf("%.1f%%", r.HesitationPct),
			fmt.Sprintf("%.1f%%", r.BoostWastePct),
			fmt.Sprintf("%.1f%%", r.PressurePct),
			dash(r.RecoveryTimeAvg > 0, fmt.Sprintf("%.2fs", r.RecoveryTimeAvg)),
		)
	}
	table.Render()
}

// PrintMetrics prints the scalar session metrics of one player.
func PrintMetrics(w io.Writer, m model.CurrentMetrics) {
	table := newTable(w)
	table.Header("METRIC", "VALUE")
	rows := [][2]string{
		{"speed", fmt.Sprintf("%.0f uu/s", m.Speed)},
		{"hesitation_score", fmt.Sprintf("%.3f", m.HesitationScore)},
		{"hesitation_percent", fmt.Sprintf("%.1f%%", m.HesitationPct)},
		{"hesitation_streak_max", fmt.Sprintf("%.2fs", m.HesitationStreakMax)},
		{"boost_waste_percent", fmt.Sprintf("%.1f%%", m.BoostWastePct)},
		{"supersonic_percent", fmt.Sprintf("%.1f%%", m.SupersonicPct)},
		{"useful_supersonic_percent", fmt.Sprintf("%.1f%%", m.UsefulSupersonicPct)},
		{"pressure_percent", fmt.Sprintf("%.1f%%", m.PressurePct)},
		{"whiff_rate_per_min", fmt.Sprintf("%.2f", m.WhiffRatePerMin)},
		{"approach_efficiency", fmt.Sprintf("%.2f", m.ApproachEfficiency)},
		{"recovery_time_avg_s", dash(m.Counters.RecoveryCount > 0, fmt.Sprintf("%.3f", m.RecoveryTimeAvg))},
	}
	for _, r := range rows {
		table.Append(r[0], r[1])
	}
	table.Render()
}

// PrintSamples prints a metric time series, one row per sample.
func PrintSamples(w io.Writer, samples []model.MetricSample) {
	table := newTable(w)
	table.Header("T", "SPEED", "HESIT", "HESIT%", "WASTE%", "SS%", "USEFUL_SS%", "PRESS%", "WHIFF/MIN", "APPROACH", "RECOVERY")
	for _, s := range samples {
		table.Append(
			fmt.Sprintf("%.2f", s.T),
			fmt.Sprintf("%.0f", s.Speed),
			fmt.Sprintf("%.2f", s.HesitationScore),
			fmt.Sprintf("%.1f", s.HesitationPct),
			fmt.Sprintf("%.1f", s.BoostWastePct),
			fmt.Sprintf("%.1f", s.SupersonicPct),
			fmt.Sprintf("%.1f", s.UsefulSupersonicPct),
			fmt.Sprintf("%.1f", s.PressurePct),
			fmt.Sprintf("%.2f", s.WhiffRatePerMin),
			fmt.Sprintf("%.2f", s.ApproachEfficiency),
			fmt.Sprintf("%.2f", s.RecoveryTimeAvg),
		)
	}
	table.Render()
}

// PrintSnapshot prints a compact one-line live view of a player's metrics.
func PrintSnapshot(w io.Writer, player string, m model.CurrentMetrics) {
	fmt.Fprintf(w, "[t=%7.2fs] %-14s spd=%5.0f hes=%.2f hes%%=%5.1f waste%%=%5.1f ss%%=%5.1f press%%=%5.1f whiff/min=%.2f recent(w/h)=%d/%d\n",
		m.Timestamp, player, m.Speed, m.HesitationScore, m.HesitationPct, m.BoostWastePct,
		m.SupersonicPct, m.PressurePct, m.WhiffRatePerMin, m.WhiffEventsRecent, m.HesitationEventsRecent)
}

// PrintGradeTable prints mechanic grades in the order given (weakest first
// when coming from the grader or the store).
func PrintGradeTable(w io.Writer, grades []model.MechanicGrade) {
	table := newTable(w)
	table.Header("MECHANIC", "SCORE", "CONF", "EVENTS", "GOOD", "NEUT", "BAD", "STABILITY", "HINT")
	for _, g := range grades {
		table.Append(
			g.Title,
			colorScore(g.Score),
			fmt.Sprintf("%.2f", g.Confidence),
			strconv.Itoa(g.EventCount),
			strconv.Itoa(g.GoodCount),
			strconv.Itoa(g.NeutralCount),
			strconv.Itoa(g.BadCount),
			dash(g.EventCount > 0, fmt.Sprintf("%.2f", g.Stability)),
			g.Hint,
		)
	}
	table.Render()
}

// PrintEventTable prints refined whiff and hesitation events.
func PrintEventTable(w io.Writer, events []model.Event) {
	table := newTable(w)
	table.Header("#", "TIME", "TYPE", "REASON", "DIST", "OPP", "CONF", "COMMIT", "CONTEXT")
	for i, e := range events {
		table.Append(
			strconv.Itoa(i),
			fmt.Sprintf("%.2fs", e.Time),
			string(e.Type),
			e.Reason,
			dash(e.Distance > 0, fmt.Sprintf("%.0f", e.Distance)),
			fmt.Sprintf("%.2f", e.Opportunity),
			fmt.Sprintf("%.2f", e.Confidence),
			dash(e.CommitSignal != "", e.CommitSignal),
			strings.Join(e.Context, ","),
		)
	}
	table.Render()
}

// PrintMechanicEvents prints scored mechanic events with an index usable by
// the explain command.
func PrintMechanicEvents(w io.Writer, events []model.MechanicEvent) {
	table := newTable(w)
	table.Header("#", "TIME", "MECH", "QUALITY", "LABEL", "REASON")
	for i, e := range events {
		table.Append(
			strconv.Itoa(i),
			fmt.Sprintf("%.2fs", e.Time),
			e.Short,
			fmt.Sprintf("%.2f", e.Quality),
			colorLabel(e.Label),
			e.Reason,
		)
	}
	table.Render()
}

// PrintSuppressions prints refinement suppression counts, most frequent first.
func PrintSuppressions(w io.Writer, sup map[string]int) {
	type kv struct {
		reason string
		n      int
	}
	rows := make([]kv, 0, len(sup))
	for r, n := range sup {
		rows = append(rows, kv{r, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].reason < rows[j].reason
	})
	table := newTable(w)
	table.Header("SUPPRESSION", "COUNT")
	for _, r := range rows {
		table.Append(r.reason, strconv.Itoa(r.n))
	}
	table.Render()
}

// PrintTrendTable prints a player's history, one row per session, with one
// column per mechanic.
func PrintTrendTable(w io.Writer, rows []model.PlayerTrendRow) {
	header := []any{"DATE", "HASH", "LABEL", "OVERALL", "WHIFFS", "HESIT%"}
	for _, m := range model.Mechanics {
		header = append(header, m.Short())
	}
	table := newTable(w)
	table.Header(header...)
	for _, r := range rows {
		date := r.AnalyzedAt
		if len(date) >= 10 {
			date = date[:10]
		}
		row := []any{
			date,
			shortHash(r.Hash),
			r.Label,
			colorScore(r.Overall),
			strconv.Itoa(r.Whiffs),
			fmt.Sprintf("%.1f%%", r.HesitationPct),
		}
		for _, m := range model.Mechanics {
			v, ok := r.Scores[m]
			row = append(row, dash(ok, fmt.Sprintf("%.0f", v)))
		}
		table.Append(row...)
	}
	table.Render()
}

// PrintExplanation prints the reconstructed reasoning for one mechanic event.
func PrintExplanation(w io.Writer, ex model.Explanation) {
	if !ex.OK {
		fmt.Fprintf(w, "explanation unavailable: %s\n", ex.Error)
		return
	}
	fmt.Fprintf(w, "\n%s [%s] at %.2fs  quality=%.0f/100 (%s)  reason=%s\n",
		ex.Title, ex.Short, ex.EventTime, ex.Quality100, colorLabel(ex.Label), ex.Reason)
	fmt.Fprintf(w, "%s\n", ex.Summary)

	Section(w, "Trigger Checks")
	table := newTable(w)
	table.Header("CHECK", "CONDITION", "VALUE", "MET")
	for _, c := range ex.Thresholds {
		met := cBad.Sprint("no")
		if c.Met {
			met = cGood.Sprint("yes")
		}
		table.Append(c.Name, c.Condition, fmt.Sprint(c.Value), met)
	}
	table.Render()

	if len(ex.Breakdown) > 0 {
		Section(w, "Quality Breakdown")
		bt := newTable(w)
		bt.Header("COMPONENT", "WEIGHT")
		for _, b := range ex.Breakdown {
			bt.Append(b.Component, fmt.Sprintf("%.2f", b.Weight))
		}
		bt.Render()
	}

	if len(ex.Observed) > 0 {
		Section(w, "Observed")
		keys := make([]string, 0, len(ex.Observed))
		for k := range ex.Observed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-24s %v\n", k, ex.Observed[k])
		}
	}

	Section(w, "Coaching")
	fmt.Fprintf(w, "  role=%s  pressure=%s  distance=%s\n",
		ex.Context.Role, ex.Context.PressureProxy, ex.Context.DistanceBand)
	for _, h := range ex.Hints {
		fmt.Fprintf(w, "  • %s\n", h)
	}
	if ex.ConfidenceNote != "" {
		fmt.Fprintf(w, "  (%s)\n", ex.ConfidenceNote)
	}
}
