// Package mechanics detects, scores and grades game mechanics from a recorded
// timeline and explains individual scored events.
package mechanics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/model"
)

// Version tags every report produced by this package.
const Version = "mechanic_v2"

// Recommendation hints attached to grades.
const (
	HintInsufficient = "insufficient_sample"
	HintGoodProgress = "good_progress"
	HintPriority     = "priority_improvement"
	HintKeepTraining = "keep_training"
)

// Grader is stateless apart from its thresholds and is safe for concurrent use.
type Grader struct {
	cfg config.GradeConfig
}

func New(cfg config.GradeConfig) *Grader {
	return &Grader{cfg: cfg}
}

func (g *Grader) cooldown(m model.MechanicID) float64 {
	c := g.cfg.Cooldowns
	switch m {
	case model.MechShadow:
		return c.Shadow
	case model.MechChallenge:
		return c.Challenge
	case model.MechFiftyFifty:
		return c.FiftyFifty
	case model.MechAerialOffense:
		return c.AerialOffense
	case model.MechAerialDefense:
		return c.AerialDefense
	case model.MechFlick:
		return c.Flick
	case model.MechCarry:
		return c.Carry
	}
	return 0
}

// Grade detects every mechanic event for player and folds them into one
// grade per mechanic, weakest first.
func (g *Grader) Grade(timeline []model.Frame, player string, teams map[string]model.Team) model.MechanicReport {
	events := g.Detect(timeline, player, teams)

	byMech := make(map[model.MechanicID][]model.MechanicEvent, len(model.Mechanics))
	for _, ev := range events {
		byMech[ev.Mechanic] = append(byMech[ev.Mechanic], ev)
	}
	grades := make([]model.MechanicGrade, 0, len(model.Mechanics))
	scores := make([]float64, 0, len(model.Mechanics))
	for _, m := range model.Mechanics {
		gr := g.gradeOne(m, byMech[m])
		grades = append(grades, gr)
		scores = append(scores, gr.Score)
	}
	sort.SliceStable(grades, func(i, j int) bool { return grades[i].Score < grades[j].Score })

	return model.MechanicReport{
		Version:     Version,
		Player:      player,
		Overall:     model.Round(stat.Mean(scores, nil), 2),
		TotalFrames: len(timeline),
		EventCount:  len(events),
		Grades:      grades,
		Events:      events,
	}
}

func (g *Grader) gradeOne(m model.MechanicID, evs []model.MechanicEvent) model.MechanicGrade {
	gr := model.MechanicGrade{
		Mechanic: m,
		Title:    m.Title(),
		Evidence: []model.Evidence{},
	}
	n := len(evs)
	if n == 0 {
		gr.Score = 50
		gr.Confidence = 0.2
		gr.MeanQuality = 0.5
		gr.Hint = HintInsufficient
		return gr
	}

	qs := make([]float64, n)
	for i, ev := range evs {
		qs[i] = ev.Quality
		switch model.LabelFor(ev.Quality) {
		case model.LabelGood:
			gr.GoodCount++
		case model.LabelBad:
			gr.BadCount++
		default:
			gr.NeutralCount++
		}
	}
	mean, sigma := stat.PopMeanStdDev(qs, nil)
	mean = model.Clamp01(mean)
	stability := model.Clamp01(1 - sigma/g.cfg.StabilitySpread)
	score := model.Clamp(100*(0.15+0.85*mean), 0, 100)
	saturation := 1 - math.Exp(-float64(n)/g.cfg.ConfidenceHalfLife)
	conf := model.Clamp(0.2+0.78*saturation*(0.7+0.3*stability), 0.2, 0.98)

	sorted := make([]model.MechanicEvent, n)
	copy(sorted, evs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Quality < sorted[j].Quality })
	picks := sorted[:min(2, n)]
	if n > 2 {
		picks = append(picks[:2:2], sorted[n-1])
	}
	for _, ev := range picks {
		gr.Evidence = append(gr.Evidence, model.Evidence{
			Time:    model.Round(ev.Time, 3),
			Quality: model.Round(ev.Quality, 3),
			Reason:  ev.Reason,
		})
	}

	switch {
	case score >= g.cfg.HintGood:
		gr.Hint = HintGoodProgress
	case score < g.cfg.HintPriority:
		gr.Hint = HintPriority
	default:
		gr.Hint = HintKeepTraining
	}
	gr.EventCount = n
	gr.Score = model.Round(score, 2)
	gr.Confidence = model.Round(conf, 3)
	gr.MeanQuality = model.Round(mean, 3)
	gr.Stability = model.Round(stability, 3)
	return gr
}
