package mechanics

import (
	"fmt"
	"math"

	"github.com/pable/go-rl-metrics/internal/model"
)

const confidenceNote = "Confidence is higher when outcome and safety checks point in the same direction."

type explainer struct {
	checks []model.ThresholdCheck
}

func (x *explainer) check(name, cond string, value any, met bool) {
	x.checks = append(x.checks, model.ThresholdCheck{Name: name, Condition: cond, Value: value, Met: met})
}

func pair(a, b float64) map[string]float64 {
	return map[string]float64{"you": model.Round(a, 1), "opp": model.Round(b, 1)}
}

func heights(p, b float64) map[string]float64 {
	return map[string]float64{"player_z": model.Round(p, 1), "ball_z": model.Round(b, 1)}
}

func pos(v model.Vec3) map[string]float64 {
	return map[string]float64{"x": model.Round(v.X, 1), "y": model.Round(v.Y, 1), "z": model.Round(v.Z, 1)}
}

// Explain rebuilds the trigger checks, observations and coaching context of
// a scored event from the frames around its timestamp.
func (g *Grader) Explain(timeline []model.Frame, player string, teams map[string]model.Team, ev model.MechanicEvent) model.Explanation {
	if len(timeline) == 0 {
		return model.Explanation{
			Error:      "empty_timeline",
			Summary:    "No timeline available for explanation.",
			Thresholds: []model.ThresholdCheck{},
			Observed:   map[string]any{},
			Breakdown:  []model.BreakdownItem{},
		}
	}
	s := newScene(timeline, player, teams)
	team := s.team
	ownGoal, oppGoal := team.OwnGoalY(), team.OppGoalY()
	i := s.nearest(ev.Time)
	f := &timeline[i]
	f2 := &timeline[s.next(i, 1.0)]
	p, _ := f.Player(player)
	b, b2 := f.Ball, f2.Ball

	selfDist := f.BallDist(player)
	oppDist := s.oppBallDist(f)
	x := &explainer{}
	var breakdown []model.BreakdownItem
	var hints []string

	switch ev.Mechanic {
	case model.MechKickoff:
		start := ev.Time
		if ev.HasWindow {
			start = ev.WindowStart
		}
		dt := math.Max(0, ev.Time-start)
		x.check("kickoff_entry_time", "first touch arrives within kickoff window", model.Round(dt, 3), dt <= g.cfg.KickoffTouchMax)
		attempt := g.attempted(s, player, s.nearest(start), i)
		x.check("attempt_requirements", "approach reached contest speed and range before touch", attempt, attempt)
		breakdown = []model.BreakdownItem{
			{Component: "first_touch_execution", Weight: 0.4},
			{Component: "post_touch_control", Weight: 0.4},
			{Component: "defensive_safety", Weight: 0.2},
		}
		hints = []string{
			"Accelerate into the ball early enough to arrive in your first touch window.",
			"If you cannot win cleanly, angle your touch so the opponent cannot launch an instant counter.",
		}

	case model.MechChallenge:
		our, opp := s.teamBallDist(f2, team), s.teamBallDist(f2, team.Opponent())
		counter := towardOwnGoalFast(f, f2, team) && opp+180 < our
		x.check("contest_proximity", "player and opponent both within challenge range", pair(selfDist, oppDist), selfDist <= 900 && oppDist <= 900)
		x.check("possession_outcome", "team gains first access after challenge", model.Round(opp-our, 1), our+120 < opp)
		x.check("counterattack_risk", "no easy counter toward own net", counter, !counter)
		breakdown = []model.BreakdownItem{
			{Component: "possession_or_pressure_outcome", Weight: 0.5},
			{Component: "counterattack_safety", Weight: 0.4},
			{Component: "entry_execution", Weight: 0.1},
		}
		hints = []string{
			"Challenge when you can still recover goal-side if the ball slips through.",
			"If you cannot win cleanly, angle contact so opponent loses control instead of breaking out.",
		}

	case model.MechFiftyFifty:
		our, opp := s.teamBallDist(f2, team), s.teamBallDist(f2, team.Opponent())
		x.check("simultaneous_contest", "both players in contact range", pair(selfDist, oppDist), selfDist < 300 && oppDist < 300)
		x.check("post_5050_access", "team exits with equal or better access", model.Round(opp-our, 1), our <= opp+80)
		breakdown = []model.BreakdownItem{
			{Component: "outcome_direction", Weight: 0.4},
			{Component: "followup_access", Weight: 0.35},
			{Component: "contact_quality_proxy", Weight: 0.25},
		}
		hints = []string{
			"Drive through the center of the ball so the outcome stays neutral or favorable.",
			"Plan your landing to reach the next touch before the opponent.",
		}

	case model.MechAerialOffense:
		gain := math.Abs(b.Pos.Y-oppGoal) - math.Abs(b2.Pos.Y-oppGoal)
		x.check("airborne_setup", "player and ball are airborne in attack", heights(p.Pos.Z, b.Pos.Z), p.Pos.Z > 150 && b.Pos.Z > 300)
		x.check("threat_direction", "touch moves ball toward opponent goal", model.Round(gain, 1), gain > 0)
		breakdown = []model.BreakdownItem{
			{Component: "attacking_touch_quality", Weight: 0.45},
			{Component: "followup_possession", Weight: 0.35},
			{Component: "execution_speed", Weight: 0.2},
		}
		hints = []string{
			"Meet the ball earlier in the air so your touch has forward intent, not just contact.",
			"Recover quickly after the hit so your team keeps the next play.",
		}

	case model.MechAerialDefense:
		gain := math.Abs(b2.Pos.Y-ownGoal) - math.Abs(b.Pos.Y-ownGoal)
		x.check("defensive_air_context", "airborne defensive contest", heights(p.Pos.Z, b.Pos.Z), p.Pos.Z > 150 && b.Pos.Z > 260)
		x.check("clear_direction", "touch sends ball away from own net", model.Round(gain, 1), gain > 0)
		breakdown = []model.BreakdownItem{
			{Component: "danger_reduction", Weight: 0.5},
			{Component: "center_lane_avoidance", Weight: 0.3},
			{Component: "recovery_and_spacing", Weight: 0.2},
		}
		hints = []string{
			"Prioritize clears that remove danger first, then look for distance.",
			"Avoid centering the ball after the save; use side lanes when possible.",
		}

	case model.MechShadow:
		margin := math.Abs(b.Pos.Y-ownGoal) - math.Abs(p.Pos.Y-ownGoal)
		x.check("goal_side", "stay between ball and own net", model.Round(margin, 1), margin > 0)
		x.check("distance_window", "controlled shadow spacing (500-1500)", model.Round(selfDist, 1), selfDist >= 500 && selfDist <= 1500)
		breakdown = []model.BreakdownItem{
			{Component: "goal_side_discipline", Weight: 0.45},
			{Component: "spacing_control", Weight: 0.35},
			{Component: "shot_delay_effect", Weight: 0.2},
		}
		hints = []string{
			"Keep enough spacing to react to flicks without giving a free shot lane.",
			"Match attacker pace and wait for the safe challenge window.",
		}

	case model.MechFlick:
		up := b2.Vel.Z - b.Vel.Z
		fwd := forwardSpeed(f2, team) - forwardSpeed(f, team)
		x.check("dribble_control", "ball controlled near car before flick",
			map[string]float64{"distance": model.Round(selfDist, 1), "ball_z": model.Round(b.Pos.Z, 1)},
			selfDist <= 200 && b.Pos.Z < 250)
		x.check("launch_spike", "upward and forward velocity increase",
			map[string]float64{"up_gain": model.Round(up, 1), "forward_gain": model.Round(fwd, 1)},
			up > 200 && fwd > 240)
		breakdown = []model.BreakdownItem{
			{Component: "launch_power", Weight: 0.4},
			{Component: "threat_direction", Weight: 0.35},
			{Component: "setup_control", Weight: 0.25},
		}
		hints = []string{
			"Stabilize the dribble first, then flick with a sharper forward release.",
			"Use flick timing when the defender commits so the touch creates immediate threat.",
		}

	case model.MechCarry:
		x.check("carry_state", "close, low, controlled carry state",
			map[string]float64{
				"distance":       model.Round(selfDist, 1),
				"ball_z":         model.Round(b.Pos.Z, 1),
				"relative_speed": model.Round(relSpeed(f, p), 1),
			},
			selfDist <= 200 && b.Pos.Z < 250)
		breakdown = []model.BreakdownItem{
			{Component: "control_duration", Weight: 0.35},
			{Component: "pressure_retention", Weight: 0.35},
			{Component: "transition_to_threat", Weight: 0.3},
		}
		hints = []string{
			"Keep the ball close enough to react before the first challenge arrives.",
			"Transition carry into a flick, pass, or shot before pressure closes space.",
		}

	default:
		breakdown = []model.BreakdownItem{{Component: "quality_score", Weight: 1}}
		hints = []string{"Review approach timing and spacing before committing."}
	}

	label := ev.Label
	if label == "" {
		label = model.LabelNeutral
	}
	short := ev.Short
	if short == "" {
		short = ev.Mechanic.Short()
	}
	met := 0
	for _, c := range x.checks {
		if c.Met {
			met++
		}
	}
	checks := x.checks
	if checks == nil {
		checks = []model.ThresholdCheck{}
	}

	return model.Explanation{
		OK:         true,
		Mechanic:   ev.Mechanic,
		Title:      ev.Mechanic.Title(),
		Short:      short,
		EventTime:  model.Round(ev.Time, 3),
		Quality:    model.Round(ev.Quality, 4),
		Quality100: model.Round(ev.Quality*100, 2),
		Label:      label,
		Reason:     ev.Reason,
		Thresholds: checks,
		Observed: map[string]any{
			"frame_time_s":              model.Round(f.T, 3),
			"player_ball_distance":      model.Round(selfDist, 2),
			"nearest_opp_ball_distance": model.Round(oppDist, 2),
			"player_speed":              model.Round(p.Speed(), 2),
			"ball_speed":                model.Round(b.Speed(), 2),
			"player_pos":                pos(p.Pos),
			"ball_pos":                  pos(b.Pos),
		},
		Breakdown: breakdown,
		Context: model.CoachingContext{
			Role:          roleOf(ev.Mechanic),
			PressureProxy: pressureOf(selfDist, oppDist),
			DistanceBand:  bandOf(selfDist),
		},
		Hints:          hints,
		ConfidenceNote: confidenceNote,
		Summary: fmt.Sprintf("%s scored %.1f/100 (%s). %d/%d trigger checks matched.",
			ev.Mechanic.Title(), model.Round(ev.Quality*100, 1), label, met, len(checks)),
	}
}

func roleOf(m model.MechanicID) string {
	switch m {
	case model.MechShadow, model.MechAerialDefense, model.MechChallenge:
		return "defense"
	case model.MechAerialOffense, model.MechFlick, model.MechCarry:
		return "offense"
	}
	return "neutral"
}

func pressureOf(self, opp float64) string {
	switch {
	case self < 900 && opp < 1200:
		return "high"
	case self < 1700:
		return "medium"
	}
	return "low"
}

func bandOf(d float64) string {
	switch {
	case d < 600:
		return "close"
	case d < 1800:
		return "mid"
	}
	return "far"
}
