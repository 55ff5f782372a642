package cmd

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/mechanics"
	"github.com/pable/go-rl-metrics/internal/model"
	"github.com/pable/go-rl-metrics/internal/parser"
	"github.com/pable/go-rl-metrics/internal/report"
)

var (
	explainPlayer   string
	explainEvent    int
	explainAt       float64
	explainMechanic string
	explainJSON     bool
)

var explainCmd = &cobra.Command{
	Use:   "explain <timeline.jsonl[.gz]>",
	Short: "Explain why a mechanic event was scored the way it was",
	Long: `Grade the player's mechanics on the timeline, pick one event (by index from
'analyze' output, or the event nearest to --at), and print the trigger checks,
observed values, quality breakdown and coaching hints behind its score.
Without --event or --at the event list is printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().StringVar(&explainPlayer, "player", "", "player to grade (required)")
	explainCmd.Flags().IntVar(&explainEvent, "event", -1, "event index")
	explainCmd.Flags().Float64Var(&explainAt, "at", -1, "pick the event nearest to this time (seconds)")
	explainCmd.Flags().StringVar(&explainMechanic, "mechanic", "", "restrict to one mechanic (e.g. kickoff, challenge)")
	explainCmd.Flags().BoolVar(&explainJSON, "json", false, "print the explanation as JSON")
	_ = explainCmd.MarkFlagRequired("player")
}

func runExplain(cmd *cobra.Command, args []string) error {
	raw, err := parser.ParseTimeline(args[0])
	if err != nil {
		return fmt.Errorf("parse timeline: %w", err)
	}

	g := mechanics.New(cfg.Grade)
	rep := g.Grade(raw.Frames, explainPlayer, raw.Teams)
	events := rep.Events
	if explainMechanic != "" {
		id, ok := model.ParseMechanic(explainMechanic)
		if !ok {
			return fmt.Errorf("unknown mechanic %q", explainMechanic)
		}
		events = filterMechanic(events, id)
	}
	if len(events) == 0 {
		fmt.Fprintf(os.Stdout, "No mechanic events for %s.\n", explainPlayer)
		return nil
	}

	ev, ok := pickEvent(events, explainEvent, explainAt)
	if !ok {
		report.PrintMechanicEvents(os.Stdout, events)
		if explainEvent >= len(events) {
			return fmt.Errorf("event index %d out of range (0..%d)", explainEvent, len(events)-1)
		}
		return nil
	}

	ex := g.Explain(raw.Frames, explainPlayer, raw.Teams, ev)
	if explainJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ex)
	}
	report.PrintExplanation(os.Stdout, ex)
	return nil
}

func filterMechanic(events []model.MechanicEvent, id model.MechanicID) []model.MechanicEvent {
	var out []model.MechanicEvent
	for _, e := range events {
		if e.Mechanic == id {
			out = append(out, e)
		}
	}
	return out
}

// pickEvent selects by index when idx >= 0, else the event nearest to at
// when at >= 0.
func pickEvent(events []model.MechanicEvent, idx int, at float64) (model.MechanicEvent, bool) {
	switch {
	case idx >= 0:
		if idx >= len(events) {
			return model.MechanicEvent{}, false
		}
		return events[idx], true
	case at >= 0:
		best, bestD := 0, math.Inf(1)
		for i, e := range events {
			if d := math.Abs(e.Time - at); d < bestD {
				best, bestD = i, d
			}
		}
		return events[best], true
	default:
		return model.MechanicEvent{}, false
	}
}
