package mechanics

import (
	"math"

	"github.com/pable/go-rl-metrics/internal/model"
)

// centerSlow reports a ball resting on the centre spot.
func (g *Grader) centerSlow(f *model.Frame) bool {
	c := g.cfg
	return f.Ball.Pos.DistTo(model.Vec3{Z: model.BallRestZ}) <= c.KickoffCenterMaxDist &&
		f.Ball.Speed() <= c.KickoffBallSpeedMax
}

// firstTouch finds the first frame from start up to endT where some player
// confidently touched the ball. It returns -1 when nobody did.
func (g *Grader) firstTouch(s *scene, start int, endT float64) (int, string) {
	var names []string
	for _, p := range s.frames[start].Players {
		names = append(names, p.Name)
	}
	for i := start; i < len(s.frames)-1; i++ {
		if s.times[i] > endT {
			break
		}
		fr, fr2 := &s.frames[i], &s.frames[i+1]
		best, bestConf := "", 0.0
		for _, name := range names {
			p, ok := fr.Player(name)
			if !ok {
				continue
			}
			if conf := touchConfidence(fr, fr2, p, g.cfg.TouchRadius); conf > bestConf {
				best, bestConf = name, conf
			}
		}
		if best != "" && bestConf >= g.cfg.KickoffTouchConfidence {
			return i, best
		}
	}
	return -1, ""
}

// attempted reports whether name drove into the kickoff: within attempt
// range while closing fast for a sustained stretch, before the touch.
func (g *Grader) attempted(s *scene, name string, start, touch int) bool {
	c := g.cfg
	reached := false
	sustain := 0.0
	lastT := s.times[start]
	end := max(start+1, touch+1)
	for i := start; i < end && i < len(s.frames); i++ {
		fr := &s.frames[i]
		t := s.times[i]
		p, ok := fr.Player(name)
		if ok && p.Pos.DistTo(fr.Ball.Pos) <= c.KickoffAttemptDist {
			reached = true
		}
		cs := 0.0
		if ok {
			cs = closingSpeed(fr, p)
		}
		if cs >= c.KickoffAttemptClosingSpeed {
			sustain += math.Max(0, t-lastT)
		} else {
			sustain = 0
		}
		if reached && sustain >= c.KickoffAttemptSustain {
			return true
		}
		lastT = t
	}
	return false
}

// kickoffs scans the whole timeline for kickoffs and grades each from the
// touching player's side.
func (g *Grader) kickoffs(s *scene) []model.MechanicEvent {
	c := g.cfg
	var out []model.MechanicEvent
	if len(s.frames) == 0 {
		return out
	}
	lastEnd := math.Inf(-1)
	last := s.times[len(s.times)-1]
	for i := 0; i < len(s.frames); {
		t := s.times[i]
		if t < lastEnd || !g.centerSlow(&s.frames[i]) {
			i++
			continue
		}
		start := i
		endT := math.Min(last, t+c.KickoffWindowTimeout)
		touch, toucher := g.firstTouch(s, start, endT)
		if touch < 0 {
			i++
			continue
		}
		touchT := s.times[touch]

		anyAttempt, toucherAttempt := false, false
		for _, p := range s.frames[start].Players {
			if p.Name == "" {
				continue
			}
			if g.attempted(s, p.Name, start, touch) {
				anyAttempt = true
				if p.Name == toucher {
					toucherAttempt = true
				}
			}
		}
		if !anyAttempt || touchT-t > c.KickoffTouchMax || !toucherAttempt {
			i = touch + 1
			continue
		}

		team := s.teamOf(toucher, model.TeamBlue)
		mid := &s.frames[s.next(touch, 0.65)]
		exit := &s.frames[s.next(touch, 1.20)]
		won := s.teamBallDist(exit, team)+120 < s.teamBallDist(exit, team.Opponent()) ||
			s.teamBallDist(mid, team)+100 < s.teamBallDist(mid, team.Opponent())
		safe := !towardOwnGoalFast(&s.frames[touch], exit, team)

		q := 0.35 + 0.25*0.2
		if safe {
			q = 0.35 + 0.25
		}
		reason := "kickoff lost into pressure"
		switch {
		case won:
			q += 0.4
			reason = "kickoff won with follow-up control"
		case safe:
			reason = "kickoff neutral but safe"
		}
		ev := newEvent(model.MechKickoff, touchT, q, reason, toucher)
		ev.HasWindow = true
		ev.WindowStart = model.Round(t, 3)
		ev.WindowEnd = model.Round(math.Min(endT, touchT), 3)
		out = append(out, ev)

		lastEnd = touchT
		i = touch + 1
	}
	return out
}
