package mechanics

import (
	"math"

	"github.com/pable/go-rl-metrics/internal/model"
)

// scene is a timeline viewed from one tracked player.
type scene struct {
	frames []model.Frame
	times  []float64
	teams  map[string]model.Team
	player string
	team   model.Team
}

func newScene(timeline []model.Frame, player string, teams map[string]model.Team) *scene {
	s := &scene{
		frames: timeline,
		times:  model.Times(timeline),
		teams:  teams,
		player: player,
	}
	s.team = s.teamOf(player, model.TeamBlue)
	return s
}

// teamOf returns name's side, or fallback when it is unknown.
func (s *scene) teamOf(name string, fallback model.Team) model.Team {
	if t, ok := s.teams[name]; ok && t.Valid() {
		return t
	}
	return fallback
}

// next returns the first index at or after times[idx]+dt, capped at the
// last frame.
func (s *scene) next(idx int, dt float64) int {
	target := s.times[idx] + math.Max(0, dt)
	j := idx
	for j+1 < len(s.times) && s.times[j] < target {
		j++
	}
	return j
}

// nearest returns the index of the frame closest in time to t.
func (s *scene) nearest(t float64) int {
	best, bestDT := 0, math.Inf(1)
	for i, ft := range s.times {
		if dt := math.Abs(ft - t); dt < bestDT {
			best, bestDT = i, dt
		}
	}
	return best
}

// oppBallDist is the distance from the ball to the nearest opponent of the
// tracked player. Players of unknown side count as teammates.
func (s *scene) oppBallDist(f *model.Frame) float64 {
	best := model.FarAway
	for _, p := range f.Players {
		if p.Name == s.player || s.teamOf(p.Name, s.team) == s.team {
			continue
		}
		best = math.Min(best, p.Pos.DistTo(f.Ball.Pos))
	}
	return best
}

// oppSpeed is the speed of the opponent closest to the tracked player.
func (s *scene) oppSpeed(f *model.Frame) float64 {
	self, ok := f.Player(s.player)
	if !ok {
		return 0
	}
	bestD, speed := model.FarAway, 0.0
	for _, p := range f.Players {
		if p.Name == s.player || s.teamOf(p.Name, s.team) == s.team {
			continue
		}
		if d := p.Pos.DistTo(self.Pos); d < bestD {
			bestD, speed = d, p.Speed()
		}
	}
	return speed
}

// teamBallDist is the closest approach of any member of team to the ball.
func (s *scene) teamBallDist(f *model.Frame, team model.Team) float64 {
	best := model.FarAway
	for _, p := range f.Players {
		if s.teamOf(p.Name, team) != team {
			continue
		}
		best = math.Min(best, p.Pos.DistTo(f.Ball.Pos))
	}
	return best
}

// doubleCommit reports whether a teammate is also committed to the ball.
func (s *scene) doubleCommit(f *model.Frame, selfDist float64) bool {
	for _, p := range f.Players {
		if p.Name == s.player || s.teamOf(p.Name, s.team) != s.team {
			continue
		}
		d := p.Pos.DistTo(f.Ball.Pos)
		if d <= 850 && d <= selfDist+120 {
			return true
		}
	}
	return false
}

// ---- Ball and contact helpers ----

// forwardSpeed is the ball's velocity component toward team's target goal.
func forwardSpeed(f *model.Frame, team model.Team) float64 {
	if team == model.TeamBlue {
		return f.Ball.Vel.Y
	}
	return -f.Ball.Vel.Y
}

// towardOwnGoalFast reports a fast, central ball heading back at team's net.
func towardOwnGoalFast(f0, f1 *model.Frame, team model.Team) bool {
	y0, y1, vy1 := f0.Ball.Pos.Y, f1.Ball.Pos.Y, f1.Ball.Vel.Y
	var toward bool
	if team == model.TeamBlue {
		toward = y1 < y0-100 && vy1 <= -900
	} else {
		toward = y1 > y0+100 && vy1 >= 900
	}
	return toward && math.Abs(f1.Ball.Pos.X) < 1800
}

// dirFlip reports a ball velocity reversal between two moving states.
func dirFlip(f0, f1 *model.Frame) bool {
	v0, v1 := f0.Ball.Vel, f1.Ball.Vel
	s0, s1 := v0.Norm(), v1.Norm()
	if s0 < 250 || s1 < 250 {
		return false
	}
	return v0.Dot(v1)/math.Max(1e-6, s0*s1) < -0.2
}

// touchConfidence scores how likely p struck the ball between f0 and f1,
// from proximity and how well the ball's velocity change lines up with p.
func touchConfidence(f0, f1 *model.Frame, p model.PlayerState, radius float64) float64 {
	b0 := f0.Ball
	d := p.Pos.DistTo(b0.Pos)
	if d > radius {
		return 0
	}
	dv := f1.Ball.Vel.Sub(b0.Vel)
	toBall := b0.Pos.Sub(p.Pos)
	toBall = toBall.Scale(1 / math.Max(1e-6, toBall.Norm()))
	align := 0.0
	if m := dv.Norm(); m >= 1e-6 {
		align = toBall.Dot(dv.Scale(1 / m))
	}
	prox := model.Clamp01((radius - d) / radius)
	return model.Clamp01(0.65*prox + 0.35*model.Clamp01((align+1)*0.5))
}

// closingSpeed is p's velocity component toward the ball.
func closingSpeed(f *model.Frame, p model.PlayerState) float64 {
	to := f.Ball.Pos.Sub(p.Pos)
	return p.Vel.Dot(to.Scale(1 / math.Max(1e-6, to.Norm())))
}

func relSpeed(f *model.Frame, p model.PlayerState) float64 {
	return p.Vel.Sub(f.Ball.Vel).Norm()
}
