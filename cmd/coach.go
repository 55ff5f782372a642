package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/model"
	"github.com/pable/go-rl-metrics/internal/storage"
)

const coachSystemPrompt = `You are a car-soccer (Rocket League) coach. You are given structured data
from a telemetry analysis tool and a question from the player.

Rules:
- Answer ONLY from the data provided. Never invent or estimate statistics.
- Always cite specific numbers when making a claim.
- If the data is insufficient to answer confidently, say so explicitly.
- Be concise and actionable: name the one or two mechanics to train first.
- Avoid generic advice unless it directly explains a pattern in the data.

Metrics glossary:
- Mechanic score (0-100): 20 + 75 × mean event quality, shrunk toward 50 when
  few events exist. Confidence (0-1) grows with the event count.
- Hints: insufficient_data (<3 events), priority_improvement (score < 55),
  good_progress (score >= 75), keep_training otherwise.
- Whiff: committed to the ball (flip, jump, boost) and missed within the close-miss band.
- Hesitation: near the ball, under pressure, without committing (stalling, turning away).
- Hesitation %: share of active frames spent hesitating. Lower is better.
- Boost waste %: boost spent without speed gain or ball progress. Lower is better.
- Pressure %: share of active frames with an opponent closing on the ball nearby.
- Recovery time: seconds from landing to being back up to speed toward play. Lower is better.
- Suppressions: candidate events dropped after review (fake challenge, bump intent,
  opponent touched first, cooldown...). Many suppressions are not mistakes.`

var (
	coachModel  string
	coachAPIKey string
	coachLast   int
)

var coachCmd = &cobra.Command{
	Use:   "coach",
	Short: "AI coaching grounded in stored sessions (requires ANTHROPIC_API_KEY)",
}

var coachPlayerCmd = &cobra.Command{
	Use:   "player <player> <question>",
	Short: "Coach a player from their recent sessions",
	Args:  cobra.ExactArgs(2),
	RunE:  runCoachPlayer,
}

var coachMatchCmd = &cobra.Command{
	Use:   "match <hash-prefix> <question>",
	Short: "Coach from a single stored session",
	Args:  cobra.ExactArgs(2),
	RunE:  runCoachMatch,
}

func init() {
	coachCmd.PersistentFlags().StringVar(&coachModel, "model", "claude-haiku-4-5-20251001", "Anthropic model to use")
	coachCmd.PersistentFlags().StringVar(&coachAPIKey, "api-key", "", "Anthropic API key (falls back to $ANTHROPIC_API_KEY)")

	coachPlayerCmd.Flags().IntVar(&coachLast, "last", 10, "only use the N most recent sessions")

	coachCmd.AddCommand(coachPlayerCmd)
	coachCmd.AddCommand(coachMatchCmd)
}

func runCoachPlayer(cmd *cobra.Command, args []string) error {
	player, question := args[0], args[1]

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	contextJSON, err := buildPlayerContext(db, player, coachLast)
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}
	return callAnthropic(cmd.Context(), coachAPIKey, coachModel, contextJSON, question)
}

func runCoachMatch(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.GetSessionByPrefix(args[0])
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	contextJSON, err := buildMatchContext(db, s)
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}
	return callAnthropic(cmd.Context(), coachAPIKey, coachModel, contextJSON, args[1])
}

// buildPlayerContext serialises a player's averaged grades and most frequent
// event reasons over their recent sessions into compact JSON.
func buildPlayerContext(db *storage.DB, player string, last int) (string, error) {
	if last <= 0 {
		last = 10
	}
	hashes, err := db.RecentSessionHashes(player, last)
	if err != nil {
		return "", fmt.Errorf("recent sessions: %w", err)
	}
	if len(hashes) == 0 {
		return "", fmt.Errorf("no sessions stored for player %q", player)
	}
	avgs, err := db.MechanicAverages(player, hashes)
	if err != nil {
		return "", fmt.Errorf("mechanic averages: %w", err)
	}
	reasons, err := db.EventReasons(player, hashes)
	if err != nil {
		return "", fmt.Errorf("event reasons: %w", err)
	}
	trend, err := db.PlayerTrend(player)
	if err != nil {
		return "", fmt.Errorf("trend: %w", err)
	}

	type mechEntry struct {
		Mechanic      string  `json:"mechanic"`
		AvgScore      float64 `json:"avg_score"`
		AvgConfidence float64 `json:"avg_confidence"`
		Events        int     `json:"events"`
		Good          int     `json:"good"`
		Bad           int     `json:"bad"`
	}
	mechs := make([]mechEntry, 0, len(avgs))
	for _, a := range avgs {
		mechs = append(mechs, mechEntry{
			Mechanic:      a.Title,
			AvgScore:      model.Round(a.AvgScore, 1),
			AvgConfidence: model.Round(a.AvgConfidence, 2),
			Events:        a.Events,
			Good:          a.Good,
			Bad:           a.Bad,
		})
	}

	type sessionEntry struct {
		Date          string  `json:"date"`
		Overall       float64 `json:"overall"`
		Whiffs        int     `json:"whiffs"`
		Hesitations   int     `json:"hesitations"`
		HesitationPct float64 `json:"hesitation_pct"`
		BoostWastePct float64 `json:"boost_waste_pct"`
		RecoveryAvgS  float64 `json:"recovery_avg_s"`
	}
	keep := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		keep[h] = true
	}
	var sessions []sessionEntry
	for _, r := range trend {
		if !keep[r.Hash] {
			continue
		}
		sessions = append(sessions, sessionEntry{
			Date:          r.AnalyzedAt,
			Overall:       model.Round(r.Overall, 1),
			Whiffs:        r.Whiffs,
			Hesitations:   r.Hesitations,
			HesitationPct: model.Round(r.HesitationPct, 1),
			BoostWastePct: model.Round(r.BoostWastePct, 1),
			RecoveryAvgS:  model.Round(r.RecoveryTimeAvg, 2),
		})
	}

	doc := map[string]any{
		"subject":           "player",
		"player":            player,
		"sessions_analyzed": len(hashes),
		"mechanics":         mechs,
		"event_reasons":     reasons,
		"sessions":          sessions,
	}
	b, err := json.Marshal(doc)
	return string(b), err
}

// buildMatchContext serialises one stored session, every player's grades
// and refined events included, into compact JSON.
func buildMatchContext(db *storage.DB, s *model.SessionSummary) (string, error) {
	rows, err := db.GetSessionPlayers(s.Hash)
	if err != nil {
		return "", fmt.Errorf("session players: %w", err)
	}

	type gradeEntry struct {
		Mechanic   string  `json:"mechanic"`
		Score      float64 `json:"score"`
		Confidence float64 `json:"confidence"`
		Events     int     `json:"events"`
		Hint       string  `json:"hint"`
	}
	type eventEntry struct {
		T      float64 `json:"t"`
		Type   string  `json:"type"`
		Reason string  `json:"reason"`
	}
	type playerEntry struct {
		Name          string         `json:"name"`
		Team          string         `json:"team"`
		Overall       float64        `json:"overall"`
		HesitationPct float64        `json:"hesitation_pct"`
		BoostWastePct float64        `json:"boost_waste_pct"`
		PressurePct   float64        `json:"pressure_pct"`
		Grades        []gradeEntry   `json:"grades"`
		Events        []eventEntry   `json:"events"`
		Suppressions  map[string]int `json:"suppressions"`
	}

	players := make([]playerEntry, 0, len(rows))
	for _, r := range rows {
		grades, err := db.GetMechanicGrades(s.Hash, r.Player)
		if err != nil {
			return "", err
		}
		events, err := db.GetEvents(s.Hash, r.Player)
		if err != nil {
			return "", err
		}
		sup, err := db.GetSuppressions(s.Hash, r.Player)
		if err != nil {
			return "", err
		}
		p := playerEntry{
			Name:          r.Player,
			Team:          r.Team.String(),
			Overall:       model.Round(r.Overall, 1),
			HesitationPct: model.Round(r.HesitationPct, 1),
			BoostWastePct: model.Round(r.BoostWastePct, 1),
			PressurePct:   model.Round(r.PressurePct, 1),
			Suppressions:  sup,
		}
		for _, g := range grades {
			p.Grades = append(p.Grades, gradeEntry{
				Mechanic: g.Title, Score: model.Round(g.Score, 1),
				Confidence: model.Round(g.Confidence, 2), Events: g.EventCount, Hint: g.Hint,
			})
		}
		for _, e := range events {
			p.Events = append(p.Events, eventEntry{T: model.Round(e.Time, 2), Type: string(e.Type), Reason: e.Reason})
		}
		players = append(players, p)
	}

	doc := map[string]any{
		"subject":    "match",
		"date":       s.AnalyzedAt,
		"duration_s": model.Round(s.DurationS, 1),
		"score":      fmt.Sprintf("%d-%d", s.BlueScore, s.OrangeScore),
		"label":      s.Label,
		"players":    players,
	}
	b, err := json.Marshal(doc)
	return string(b), err
}

// callAnthropic streams a response from the Anthropic API and prints it to stdout.
func callAnthropic(ctx context.Context, apiKey, modelID, dataJSON, question string) error {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY or use --api-key")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	userMsg := fmt.Sprintf("DATA:\n%s\n\nQUESTION: %s", dataJSON, question)

	fmt.Fprintln(os.Stdout, "\n─── Coaching ────────────────────────────────────────")

	stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: coachSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMsg)),
		},
	})

	for stream.Next() {
		evt := stream.Current()
		if evt.Type == "content_block_delta" {
			delta := evt.AsContentBlockDelta()
			if delta.Delta.Type == "text_delta" {
				fmt.Fprint(os.Stdout, delta.Delta.AsTextDelta().Text)
			}
		}
	}
	fmt.Fprintln(os.Stdout, "\n─────────────────────────────────────────────────────")

	if err := stream.Err(); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "authentication") {
			return fmt.Errorf("API authentication failed, check your API key")
		}
		return fmt.Errorf("streaming error: %w", err)
	}
	return nil
}
