package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/model"
	"github.com/pable/go-rl-metrics/internal/parser"
	"github.com/pable/go-rl-metrics/internal/report"
	"github.com/pable/go-rl-metrics/internal/stream"
)

var (
	replayPlayer string
	replayEvery  float64
	replayQuiet  bool
)

var (
	cWhiff      = color.New(color.FgRed, color.Bold)
	cHesitation = color.New(color.FgYellow)
)

var replayCmd = &cobra.Command{
	Use:   "replay <timeline.jsonl[.gz]>",
	Short: "Feed a recorded timeline through the live engine and print feedback as it happens",
	Long: `Replay a timeline frame by frame through the streaming engine, exactly as a
live session would see it: no lookahead, events printed the moment they are
decided, and a metrics line per player every --every seconds of game time.
Nothing is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayPlayer, "player", "", "only track this player")
	replayCmd.Flags().Float64Var(&replayEvery, "every", 5, "seconds of game time between metric lines (0 disables)")
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "only print the final snapshot")
}

func runReplay(cmd *cobra.Command, args []string) error {
	raw, err := parser.ParseTimeline(args[0])
	if err != nil {
		return fmt.Errorf("parse timeline: %w", err)
	}
	metricsMgr.AddFrames(len(raw.Frames))
	metricsMgr.AddSkippedLines(raw.SkippedLines)
	metricsMgr.AddRepairedLines(raw.RepairedLines)

	players := raw.Players()
	if replayPlayer != "" {
		players = []string{replayPlayer}
	}
	if len(players) == 0 {
		fmt.Fprintln(os.Stdout, "timeline has no players")
		return nil
	}

	eng := stream.New(cfg.Stream)
	nextPrint := replayEvery
	ctx := cmd.Context()
	for i := range raw.Frames {
		if i%512 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		f := &raw.Frames[i]
		for _, name := range players {
			events, err := eng.Update(f, name)
			if err != nil {
				return fmt.Errorf("stream %s: %w", name, err)
			}
			for _, ev := range events {
				metricsMgr.AddCandidate(string(ev.Type))
				if !replayQuiet {
					printLiveEvent(name, ev)
				}
			}
		}
		if replayEvery > 0 && !replayQuiet && f.T >= nextPrint {
			for _, name := range eng.Players() {
				if snap, ok := eng.Snapshot(name); ok {
					report.PrintSnapshot(os.Stdout, name, snap.Current)
				}
			}
			for nextPrint <= f.T {
				nextPrint += replayEvery
			}
		}
	}

	for _, name := range eng.Players() {
		snap, _ := eng.Snapshot(name)
		report.Section(os.Stdout, fmt.Sprintf("%s — final live metrics (t=%.2fs)", name, snap.Current.Timestamp))
		report.PrintMetrics(os.Stdout, snap.Current)
		fmt.Fprintf(os.Stdout, "  recent events in window: %d\n", len(snap.Events))
	}
	return nil
}

func printLiveEvent(player string, ev model.Event) {
	c := cHesitation
	if ev.Type == model.EventWhiff {
		c = cWhiff
	}
	c.Fprintf(os.Stdout, "[t=%7.2fs] %-14s %-10s", ev.Time, player, ev.Type)
	fmt.Fprintf(os.Stdout, " %s  dist=%.0f conf=%.2f\n", ev.Reason, ev.Distance, ev.Confidence)
}
