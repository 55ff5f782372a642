// Package aggregator runs the full analysis pipeline over a decoded session:
// streaming metrics, retrospective refinement and mechanic grading for every
// player.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/logger"
	"github.com/pable/go-rl-metrics/internal/mechanics"
	"github.com/pable/go-rl-metrics/internal/metrics"
	"github.com/pable/go-rl-metrics/internal/model"
	"github.com/pable/go-rl-metrics/internal/refine"
	"github.com/pable/go-rl-metrics/internal/stream"
)

// SampleInterval is the minimum spacing of metric samples kept in a result.
const SampleInterval = 0.5

type cacheKey struct {
	hash, player string
}

// Aggregator is safe for concurrent use. Results are cached per
// (session hash, player).
type Aggregator struct {
	cfg         config.Config
	refiner     *refine.Refiner
	grader      *mechanics.Grader
	metrics     *metrics.Manager
	log         logger.Logger
	concurrency int

	group singleflight.Group
	mu    sync.RWMutex
	cache map[cacheKey]model.PlayerAnalysis
}

type Option func(*Aggregator)

func WithMetrics(m *metrics.Manager) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

// WithConcurrency bounds how many players are analyzed at once.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func New(cfg config.Config, opts ...Option) *Aggregator {
	a := &Aggregator{
		cfg:         cfg,
		refiner:     refine.New(cfg.Refine),
		grader:      mechanics.New(cfg.Grade),
		concurrency: 4,
		cache:       make(map[cacheKey]model.PlayerAnalysis),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.NewManager()
	}
	if a.log == nil {
		a.log = logger.Named("aggregator")
	}
	return a
}

// Metrics returns the collector set the aggregator reports into.
func (a *Aggregator) Metrics() *metrics.Manager { return a.metrics }

// Grader returns the mechanic grader built from the aggregator's config.
func (a *Aggregator) Grader() *mechanics.Grader { return a.grader }

// Analyze runs every player of raw through the pipeline concurrently.
func (a *Aggregator) Analyze(ctx context.Context, raw *model.RawSession) (*model.SessionAnalysis, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil RawSession")
	}
	players := raw.Players()
	out := &model.SessionAnalysis{
		Summary: summarize(raw),
		Players: make([]model.PlayerAnalysis, len(players)),
	}
	a.metrics.AddFrames(len(raw.Frames))
	a.metrics.AddSkippedLines(raw.SkippedLines)
	a.metrics.AddRepairedLines(raw.RepairedLines)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, name := range players {
		g.Go(func() error {
			pa, err := a.AnalyzePlayer(gctx, raw, name)
			if err != nil {
				return err
			}
			out.Players[i] = pa
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	a.metrics.SessionAnalyzed()
	a.log.Info(ctx, "session analyzed",
		logger.String("hash", shortHash(raw.Hash)),
		logger.Int("frames", len(raw.Frames)),
		logger.Int("players", len(players)),
	)
	return out, nil
}

// AnalyzePlayer returns the pipeline result for one player, computing it at
// most once per (session hash, player) even under concurrent callers. A
// caller whose ctx ends stops waiting, but the shared computation carries on
// for the others.
func (a *Aggregator) AnalyzePlayer(ctx context.Context, raw *model.RawSession, player string) (model.PlayerAnalysis, error) {
	if raw == nil {
		return model.PlayerAnalysis{}, fmt.Errorf("nil RawSession")
	}
	if err := ctx.Err(); err != nil {
		return model.PlayerAnalysis{}, err
	}
	if raw.Hash == "" {
		return a.analyze(ctx, raw, player)
	}
	key := cacheKey{raw.Hash, player}
	a.mu.RLock()
	pa, ok := a.cache[key]
	a.mu.RUnlock()
	if ok {
		a.metrics.CacheHit()
		return pa, nil
	}
	a.metrics.CacheMiss()

	ch := a.group.DoChan(raw.Hash+"/"+player, func() (any, error) {
		pa, err := a.analyze(context.WithoutCancel(ctx), raw, player)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.cache[key] = pa
		a.mu.Unlock()
		return pa, nil
	})
	select {
	case <-ctx.Done():
		return model.PlayerAnalysis{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return model.PlayerAnalysis{}, r.Err
		}
		return r.Val.(model.PlayerAnalysis), nil
	}
}

func (a *Aggregator) analyze(ctx context.Context, raw *model.RawSession, player string) (model.PlayerAnalysis, error) {
	start := time.Now()
	team, ok := raw.Teams[player]
	if !ok {
		team = model.TeamBlue
	}
	pa := model.PlayerAnalysis{Player: player, Team: team}

	// ---- Pass 1: stream every frame through the live engine. ----

	engine := stream.New(a.cfg.Stream)
	lastKept := -1.0
	for i := range raw.Frames {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return pa, err
			}
		}
		f := &raw.Frames[i]
		evs, err := engine.Update(f, player)
		if err != nil {
			return pa, fmt.Errorf("stream %s: %w", player, err)
		}
		pa.Candidates = append(pa.Candidates, evs...)
		s, ok := engine.LastSample(player)
		if ok && s.T == f.T && (lastKept < 0 || s.T-lastKept >= SampleInterval || i == len(raw.Frames)-1) {
			pa.Samples = append(pa.Samples, s)
			lastKept = s.T
		}
	}
	if snap, ok := engine.Snapshot(player); ok {
		pa.Metrics = snap.Current
	}

	// ---- Pass 2: refine candidates with the full timeline. ----

	res := a.refiner.Refine(raw.Frames, player, pa.Candidates)
	pa.Events = res.Events
	pa.Suppressions = res.Suppressions
	pa.Diagnostics = res.Diagnostics
	pa.Samples = refine.ApplyWhiffRate(pa.Samples, pa.Events, a.cfg.Refine.WhiffRateWindow)
	if n := len(pa.Samples); n > 0 {
		pa.Metrics.WhiffRatePerMin = model.Round(pa.Samples[n-1].WhiffRatePerMin, 2)
	}

	// ---- Pass 3: grade mechanics. ----

	pa.Mechanics = a.grader.Grade(raw.Frames, player, raw.Teams)

	for _, ev := range pa.Candidates {
		a.metrics.AddCandidate(string(ev.Type))
	}
	for _, ev := range pa.Events {
		a.metrics.AddRefined(string(ev.Type))
	}
	a.metrics.AddSuppressions(pa.Suppressions)
	for _, ev := range pa.Mechanics.Events {
		a.metrics.AddMechanicEvent(string(ev.Mechanic), string(ev.Label))
	}
	elapsed := time.Since(start)
	a.metrics.ObservePlayer(elapsed)
	a.log.Debug(ctx, "player analyzed",
		logger.String("player", player),
		logger.Int("candidates", len(pa.Candidates)),
		logger.Int("events", len(pa.Events)),
		logger.Int("mechanic_events", pa.Mechanics.EventCount),
		logger.Any("elapsed", elapsed),
	)
	return pa, nil
}

func summarize(raw *model.RawSession) model.SessionSummary {
	s := model.SessionSummary{
		Hash:       raw.Hash,
		RunID:      uuid.NewString(),
		Source:     raw.Path,
		AnalyzedAt: time.Now().UTC().Format(time.RFC3339),
		FrameCount: len(raw.Frames),
		DurationS:  model.Round(raw.Duration(), 3),
	}
	if n := len(raw.Frames); n > 0 {
		s.BlueScore = raw.Frames[n-1].Scores.Blue
		s.OrangeScore = raw.Frames[n-1].Scores.Orange
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
