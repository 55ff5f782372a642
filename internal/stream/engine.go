// Package stream is the live, no-lookahead metrics engine. It consumes one
// frame at a time per tracked player and emits whiff and hesitation events
// as soon as they can be decided.
package stream

import (
	"fmt"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/model"
)

// History series names, in display order.
const (
	SeriesSpeed               = "speed"
	SeriesHesitationScore     = "hesitation_score"
	SeriesHesitationPct       = "hesitation_percent"
	SeriesBoostWastePct       = "boost_waste_percent"
	SeriesSupersonicPct       = "supersonic_percent"
	SeriesUsefulSupersonicPct = "useful_supersonic_percent"
	SeriesPressurePct         = "pressure_percent"
	SeriesWhiffRate           = "whiff_rate_per_min"
	SeriesApproachEfficiency  = "approach_efficiency"
	SeriesRecoveryTimeAvg     = "recovery_time_avg_s"
)

// Series lists every history series name.
var Series = []string{
	SeriesSpeed, SeriesHesitationScore, SeriesHesitationPct, SeriesBoostWastePct,
	SeriesSupersonicPct, SeriesUsefulSupersonicPct, SeriesPressurePct,
	SeriesWhiffRate, SeriesApproachEfficiency, SeriesRecoveryTimeAvg,
}

// Snapshot is a point-in-time view of one player's streaming state.
type Snapshot struct {
	Current model.CurrentMetrics
	History map[string][]model.Point
	Events  []model.Event // oldest first
}

// Engine holds independent streaming state for every tracked player.
// It is not safe for concurrent use.
type Engine struct {
	cfg      config.StreamConfig
	trackers map[string]*tracker
	order    []string
}

// New returns an empty engine.
func New(cfg config.StreamConfig) *Engine {
	return &Engine{
		cfg:      cfg,
		trackers: make(map[string]*tracker),
	}
}

// Update advances player's state by one frame and returns the events decided
// on it. A frame without the player is ignored. A timestamp that does not
// advance past the player's previous frame is rejected with ErrNonMonotonic
// and leaves the state untouched.
func (e *Engine) Update(f *model.Frame, player string) ([]model.Event, error) {
	self, ok := f.Player(player)
	if !ok {
		return nil, nil
	}
	t, ok := e.trackers[player]
	if !ok {
		t = newTracker(e.cfg, player)
		e.trackers[player] = t
		e.order = append(e.order, player)
	}
	if t.started && f.T <= t.prevT {
		return nil, fmt.Errorf("update %s: t=%.4f after t=%.4f: %w", player, f.T, t.prevT, ErrNonMonotonic)
	}
	return t.step(f, self), nil
}

// Players returns the tracked players in first-seen order.
func (e *Engine) Players() []string {
	return append([]string(nil), e.order...)
}

// LastSample returns the most recent metric sample of player.
func (e *Engine) LastSample(player string) (model.MetricSample, bool) {
	t, ok := e.trackers[player]
	if !ok || !t.hasLast {
		return model.MetricSample{}, false
	}
	return t.last, true
}

// Snapshot returns player's current metrics, rolling history and recent
// events. An untracked player yields a zero snapshot and false.
func (e *Engine) Snapshot(player string) (Snapshot, bool) {
	snap := Snapshot{History: make(map[string][]model.Point, len(Series))}
	for _, name := range Series {
		snap.History[name] = []model.Point{}
	}
	t, ok := e.trackers[player]
	if !ok {
		return snap, false
	}

	snap.Current.Counters = t.c
	snap.Current.HesitationStreakMax = model.Round(t.hes.maxStreak, 3)
	if t.hasLast {
		s := t.last
		snap.Current.Timestamp = s.T
		snap.Current.Speed = model.Round(s.Speed, 2)
		snap.Current.HesitationScore = model.Round(s.HesitationScore, 3)
		snap.Current.HesitationPct = model.Round(s.HesitationPct, 2)
		snap.Current.BoostWastePct = model.Round(s.BoostWastePct, 2)
		snap.Current.SupersonicPct = model.Round(s.SupersonicPct, 2)
		snap.Current.UsefulSupersonicPct = model.Round(s.UsefulSupersonicPct, 2)
		snap.Current.PressurePct = model.Round(s.PressurePct, 2)
		snap.Current.WhiffRatePerMin = model.Round(s.WhiffRatePerMin, 2)
		snap.Current.ApproachEfficiency = model.Round(s.ApproachEfficiency, 2)
		snap.Current.RecoveryTimeAvg = model.Round(s.RecoveryTimeAvg, 3)
		snap.Current.WhiffEventsRecent = t.countRecent(s.T, model.EventWhiff)
		snap.Current.HesitationEventsRecent = t.countRecent(s.T, model.EventHesitation)
	}

	for _, s := range t.samples {
		for name, v := range sampleValues(s) {
			snap.History[name] = append(snap.History[name], model.Point{T: s.T, V: model.Round(v, 4)})
		}
	}
	snap.Events = make([]model.Event, len(t.events))
	for i, ev := range t.events {
		snap.Events[i] = ev.Clone()
	}
	return snap, true
}

func sampleValues(s model.MetricSample) map[string]float64 {
	return map[string]float64{
		SeriesSpeed:               s.Speed,
		SeriesHesitationScore:     s.HesitationScore,
		SeriesHesitationPct:       s.HesitationPct,
		SeriesBoostWastePct:       s.BoostWastePct,
		SeriesSupersonicPct:       s.SupersonicPct,
		SeriesUsefulSupersonicPct: s.UsefulSupersonicPct,
		SeriesPressurePct:         s.PressurePct,
		SeriesWhiffRate:           s.WhiffRatePerMin,
		SeriesApproachEfficiency:  s.ApproachEfficiency,
		SeriesRecoveryTimeAvg:     s.RecoveryTimeAvg,
	}
}
