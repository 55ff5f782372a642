package cmd

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/pable/go-rl-metrics/internal/model"
)

var (
	exportSince    int
	exportOut      string
	exportHalfLife float64
)

// trainingProfile is the JSON document written by export.
type trainingProfile struct {
	Player        string            `json:"player"`
	GeneratedAt   string            `json:"generated_at"`
	WindowDays    int               `json:"window_days"`
	HalfLifeDays  float64           `json:"half_life_days"`
	SessionCount  int               `json:"session_count"`
	LatestSession string            `json:"latest_session"`
	Overall       float64           `json:"overall"`
	HesitationPct float64           `json:"hesitation_pct"`
	BoostWastePct float64           `json:"boost_waste_pct"`
	WhiffsPerSess float64           `json:"whiffs_per_session"`
	Mechanics     []profileMechanic `json:"mechanics"`
	TrainingFocus []string          `json:"training_focus"`
}

type profileMechanic struct {
	Mechanic string  `json:"mechanic"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	Sessions int     `json:"sessions"`
}

var exportCmd = &cobra.Command{
	Use:   "export <player>",
	Short: "Export a player's recency-weighted training profile as JSON",
	Long: `Combine a player's stored sessions into one JSON profile. Each session is
weighted by exp(-ln2 · age / half-life), so recent form dominates. The three
weakest mechanics are listed as the training focus.

Examples:
  rlmetrics export alice --out alice.json
  rlmetrics export alice --since 30 --half-life 7`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().IntVar(&exportSince, "since", 90, "look-back window in days (0 = all sessions)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file path (default: stdout)")
	exportCmd.Flags().Float64Var(&exportHalfLife, "half-life", 14,
		"temporal decay half-life in days (0 = uniform weights)")
}

func runExport(_ *cobra.Command, args []string) error {
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
	now := time.Now().UTC()
	if exportSince > 0 {
		rows = sessionsSince(rows, now.AddDate(0, 0, -exportSince))
	}
	if len(rows) == 0 {
		return fmt.Errorf("no sessions for %q in the last %d days", player, exportSince)
	}
	fmt.Fprintf(os.Stderr, "Found %d sessions for %s\n", len(rows), player)

	prof := buildProfile(player, rows, now, exportHalfLife)
	prof.WindowDays = exportSince

	b, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	b = append(b, '\n')
	if exportOut == "" {
		_, err = os.Stdout.Write(b)
		return err
	}
	if err := os.WriteFile(exportOut, b, 0644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", exportOut)
	return nil
}

func sessionsSince(rows []model.PlayerTrendRow, since time.Time) []model.PlayerTrendRow {
	var out []model.PlayerTrendRow
	for _, r := range rows {
		at, err := time.Parse(time.RFC3339, r.AnalyzedAt)
		if err != nil || !at.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

// sessionWeights returns one decay weight per row, relative to ref.
// halfLife <= 0 returns uniform weights of 1.0.
func sessionWeights(rows []model.PlayerTrendRow, ref time.Time, halfLife float64) []float64 {
	weights := make([]float64, len(rows))
	if halfLife <= 0 {
		for i := range weights {
			weights[i] = 1.0
		}
		return weights
	}
	lambda := math.Log(2) / halfLife
	for i, r := range rows {
		at, err := time.Parse(time.RFC3339, r.AnalyzedAt)
		if err != nil {
			weights[i] = 1.0
			continue
		}
		days := ref.Sub(at).Hours() / 24
		if days < 0 {
			days = 0
		}
		weights[i] = math.Exp(-lambda * days)
	}
	return weights
}

// buildProfile folds trend rows (oldest first) into a weighted profile.
func buildProfile(player string, rows []model.PlayerTrendRow, ref time.Time, halfLife float64) trainingProfile {
	w := sessionWeights(rows, ref, halfLife)
	overall := make([]float64, len(rows))
	hes := make([]float64, len(rows))
	waste := make([]float64, len(rows))
	whiffs := make([]float64, len(rows))
	for i, r := range rows {
		overall[i] = r.Overall
		hes[i] = r.HesitationPct
		waste[i] = r.BoostWastePct
		whiffs[i] = float64(r.Whiffs)
	}

	prof := trainingProfile{
		Player:        player,
		GeneratedAt:   ref.Format(time.RFC3339),
		HalfLifeDays:  halfLife,
		SessionCount:  len(rows),
		LatestSession: rows[len(rows)-1].Hash,
		Overall:       model.Round(stat.Mean(overall, w), 2),
		HesitationPct: model.Round(stat.Mean(hes, w), 2),
		BoostWastePct: model.Round(stat.Mean(waste, w), 2),
		WhiffsPerSess: model.Round(stat.Mean(whiffs, w), 2),
	}

	for _, m := range model.Mechanics {
		var xs, ws []float64
		for i, r := range rows {
			if v, ok := r.Scores[m]; ok {
				xs = append(xs, v)
				ws = append(ws, w[i])
			}
		}
		if len(xs) == 0 {
			continue
		}
		prof.Mechanics = append(prof.Mechanics, profileMechanic{
			Mechanic: string(m),
			Title:    m.Title(),
			Score:    model.Round(stat.Mean(xs, ws), 2),
			Sessions: len(xs),
		})
	}

	weakest := append([]profileMechanic(nil), prof.Mechanics...)
	sort.SliceStable(weakest, func(i, j int) bool { return weakest[i].Score < weakest[j].Score })
	for i := 0; i < len(weakest) && i < 3; i++ {
		prof.TrainingFocus = append(prof.TrainingFocus, weakest[i].Title)
	}
	return prof
}
