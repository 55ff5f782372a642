package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/logger"
	"github.com/pable/go-rl-metrics/internal/metrics"
	"github.com/pable/go-rl-metrics/internal/model"
	"github.com/pable/go-rl-metrics/internal/stream"
)

// makeRaw builds a 4s session at 60Hz: blue drives past a resting ball
// while orange holds position near its own goal.
func makeRaw(hash string) *model.RawSession { return makeRawFor(hash, 4) }

func makeRawFor(hash string, seconds int) *model.RawSession {
	var frames []model.Frame
	for i := 0; i <= seconds*60; i++ {
		t := float64(i) / 60
		frames = append(frames, model.Frame{
			Index: i,
			T:     t,
			Ball:  model.BallState{Pos: model.Vec3{Z: model.BallRestZ}, Quat: model.IdentityQuat},
			Players: []model.PlayerState{
				{Name: "blue", Team: model.TeamBlue, Pos: model.Vec3{X: 300, Y: -2000 + 1000*t, Z: 17}, Vel: model.Vec3{Y: 1000}, Boost: 50, OnGround: true},
				{Name: "orange", Team: model.TeamOrange, Pos: model.Vec3{Y: 4000, Z: 17}, Boost: 100, OnGround: true},
			},
			Scores: model.Scoreboard{Blue: 1},
		})
	}
	return &model.RawSession{
		Hash:   hash,
		Path:   "mem",
		Frames: frames,
		Teams:  map[string]model.Team{"blue": model.TeamBlue, "orange": model.TeamOrange},
	}
}

func newAgg() *Aggregator {
	return New(config.Default(), WithMetrics(metrics.NewManager()), WithLogger(logger.Nop()))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestAnalyze_AllPlayers(t *testing.T) {
	raw := makeRaw("h1")
	res, err := newAgg().Analyze(context.Background(), raw)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Players) != 2 || res.Players[0].Player != "blue" || res.Players[1].Player != "orange" {
		t.Fatalf("players = %+v", res.Players)
	}
	if res.Summary.Hash != "h1" || res.Summary.FrameCount != 241 || res.Summary.BlueScore != 1 || res.Summary.RunID == "" {
		t.Errorf("summary = %+v", res.Summary)
	}
	for _, pa := range res.Players {
		if len(pa.Mechanics.Grades) != len(model.Mechanics) {
			t.Errorf("%s: %d grades", pa.Player, len(pa.Mechanics.Grades))
		}
		sum := 0
		for _, n := range pa.Suppressions {
			sum += n
		}
		if sum != len(pa.Candidates)-len(pa.Events) {
			t.Errorf("%s: suppressions %d != candidates %d - events %d", pa.Player, sum, len(pa.Candidates), len(pa.Events))
		}
		if pa.Metrics.Counters.TotalFrames != 241 {
			t.Errorf("%s: total frames %d", pa.Player, pa.Metrics.Counters.TotalFrames)
		}
	}
}

func TestAnalyzePlayer_SamplesSpaced(t *testing.T) {
	pa, err := newAgg().AnalyzePlayer(context.Background(), makeRaw("h2"), "blue")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(pa.Samples) < 8 {
		t.Fatalf("samples = %d, want at least 8 over 4s", len(pa.Samples))
	}
	for i := 1; i < len(pa.Samples)-1; i++ {
		if gap := pa.Samples[i].T - pa.Samples[i-1].T; gap < SampleInterval-1e-9 {
			t.Errorf("sample gap %.3f at %d below %.1f", gap, i, SampleInterval)
		}
	}
	if last := pa.Samples[len(pa.Samples)-1].T; last != 4 {
		t.Errorf("last sample at %.3f, want final frame", last)
	}
}

func TestAnalyzePlayer_Cached(t *testing.T) {
	a := newAgg()
	raw := makeRaw("h3")
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]model.PlayerAnalysis, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pa, err := a.AnalyzePlayer(ctx, raw, "blue")
			if err != nil {
				t.Errorf("analyze: %v", err)
			}
			results[i] = pa
		}()
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		if diff := cmp.Diff(results[0], results[i]); diff != "" {
			t.Fatalf("concurrent result %d differs:\n%s", i, diff)
		}
	}

	if _, err := a.AnalyzePlayer(ctx, raw, "blue"); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	reg := a.Metrics().Registry()
	const name = "rlmetrics_pipeline_cache_lookups_total"
	hits := counterValue(t, reg, name, "outcome", "hit")
	misses := counterValue(t, reg, name, "outcome", "miss")
	if hits < 1 || hits+misses != 9 {
		t.Errorf("hits=%.0f misses=%.0f, want 9 lookups with at least one hit", hits, misses)
	}
}

func TestAnalyzePlayer_CancelledCallerDoesNotFailOthers(t *testing.T) {
	a := newAgg()
	raw := makeRawFor("h6", 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.AnalyzePlayer(ctx, raw, "blue")
		done <- err
	}()
	cancel()

	pa, err := a.AnalyzePlayer(context.Background(), raw, "blue")
	if err != nil {
		t.Fatalf("analyze alongside a cancelled caller: %v", err)
	}
	if pa.Player != "blue" || len(pa.Samples) == 0 {
		t.Errorf("result = player %q with %d samples", pa.Player, len(pa.Samples))
	}
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want nil or context.Canceled", err)
	}
}

func TestAnalyze_NonMonotonicAborts(t *testing.T) {
	raw := makeRaw("h4")
	raw.Frames[100].T = raw.Frames[99].T
	_, err := newAgg().Analyze(context.Background(), raw)
	if !errors.Is(err, stream.ErrNonMonotonic) {
		t.Fatalf("err = %v, want ErrNonMonotonic", err)
	}
}

func TestAnalyze_Nil(t *testing.T) {
	if _, err := newAgg().Analyze(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil session")
	}
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newAgg().Analyze(ctx, makeRaw("h5")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
