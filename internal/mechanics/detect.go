package mechanics

import (
	"math"
	"sort"

	"github.com/pable/go-rl-metrics/internal/model"
)

func newEvent(m model.MechanicID, t, q float64, reason, player string) model.MechanicEvent {
	q = model.Clamp01(q)
	return model.MechanicEvent{
		Mechanic: m,
		Short:    m.Short(),
		Time:     t,
		Quality:  model.Round(q, 4),
		Label:    model.LabelFor(q),
		Reason:   reason,
		Player:   player,
	}
}

func b2f(ok bool, yes, no float64) float64 {
	if ok {
		return yes
	}
	return no
}

// tick is the per-frame view shared by the detectors.
type tick struct {
	i         int
	t         float64
	f         *model.Frame
	p         model.PlayerState
	selfDist  float64
	oppDist   float64
	speed     float64
	ballSpeed float64
	attacking bool
	defending bool
}

// detector carries the cross-frame state of one detection pass.
type detector struct {
	g      *Grader
	s      *scene
	last   map[model.MechanicID]float64
	events []model.MechanicEvent

	carrying    bool
	carryStart  int
	carryMinOpp float64
}

func (d *detector) ready(m model.MechanicID, t float64) bool {
	return t-d.last[m] >= d.g.cooldown(m)
}

func (d *detector) emit(m model.MechanicID, at, q float64, reason string, mark float64) {
	d.events = append(d.events, newEvent(m, at, q, reason, d.s.player))
	d.last[m] = mark
}

// Detect returns every mechanic event for player in time order. Kickoffs are
// reported only when player made the touch.
func (g *Grader) Detect(timeline []model.Frame, player string, teams map[string]model.Team) []model.MechanicEvent {
	out := []model.MechanicEvent{}
	if len(timeline) == 0 || player == "" {
		return out
	}
	s := newScene(timeline, player, teams)
	d := &detector{
		g:           g,
		s:           s,
		last:        make(map[model.MechanicID]float64, len(model.Mechanics)),
		carryMinOpp: model.FarAway,
	}
	for _, m := range model.Mechanics {
		d.last[m] = -9999
	}
	for _, ev := range g.kickoffs(s) {
		if ev.Player == player {
			d.events = append(d.events, ev)
		}
	}

	for i := range timeline {
		f := &timeline[i]
		p, ok := f.Player(player)
		if !ok {
			continue
		}
		by := f.Ball.Pos.Y
		k := tick{
			i:         i,
			t:         s.times[i],
			f:         f,
			p:         p,
			selfDist:  p.Pos.DistTo(f.Ball.Pos),
			oppDist:   s.oppBallDist(f),
			speed:     p.Speed(),
			ballSpeed: f.Ball.Speed(),
		}
		if s.team == model.TeamBlue {
			k.attacking, k.defending = by > 200, by < -300
		} else {
			k.attacking, k.defending = by < -200, by > 300
		}

		d.shadow(k)
		d.challenge(k)
		d.fiftyFifty(k)
		d.aerialOffense(k)
		d.aerialDefense(k)
		d.flick(k)
		d.carry(k)
	}

	sort.SliceStable(d.events, func(i, j int) bool { return d.events[i].Time < d.events[j].Time })
	return d.events
}

// ---- Shadow defense ----

func (d *detector) shadow(k tick) {
	s := d.s
	ownGoal := s.team.OwnGoalY()
	goalSide := math.Abs(k.p.Pos.Y-ownGoal) < math.Abs(k.f.Ball.Pos.Y-ownGoal)
	oppControl := k.oppDist+120 < k.selfDist
	spacing := k.selfDist >= 500 && k.selfDist <= 1500
	paceMatch := math.Abs(k.speed-s.oppSpeed(k.f)) < 650
	if !(k.defending && oppControl && goalSide && spacing && paceMatch) || !d.ready(model.MechShadow, k.t) {
		return
	}
	f2 := &s.frames[s.next(k.i, 1.0)]
	wide := math.Abs(f2.Ball.Pos.X) > math.Abs(k.f.Ball.Pos.X)+220
	denied := !towardOwnGoalFast(k.f, f2, s.team)
	q := 0.30 + 0.25*b2f(goalSide, 1, 0) + 0.20*b2f(wide, 1, 0.35) + 0.25*b2f(denied, 1, 0.2)
	d.emit(model.MechShadow, k.t, q, "goal-side shadow spacing and delay quality", k.t)
}

// ---- Challenge ----

func (d *detector) challenge(k tick) {
	s := d.s
	bz := k.f.Ball.Pos.Z
	candidate := k.selfDist <= 900 && k.oppDist <= 900 && bz <= 320 && math.Abs(k.selfDist-k.oppDist) <= 280
	if !candidate || !d.ready(model.MechChallenge, k.t) {
		return
	}
	fTouch := &s.frames[s.next(k.i, 0.35)]
	fMid := &s.frames[s.next(k.i, 0.60)]
	fOut := &s.frames[s.next(k.i, 1.20)]
	pTouch, ok := fTouch.Player(s.player)
	if !ok {
		pTouch = k.p
	}
	if touchConfidence(k.f, fTouch, pTouch, d.g.cfg.TouchRadius) < 0.45 && !dirFlip(k.f, fTouch) {
		return
	}

	opp := s.team.Opponent()
	ourMid, oppMid := s.teamBallDist(fMid, s.team), s.teamBallDist(fMid, opp)
	ourOut, oppOut := s.teamBallDist(fOut, s.team), s.teamBallDist(fOut, opp)
	oppHadControl := k.oppDist+80 < k.selfDist
	won := ourOut+120 < oppOut || ourMid+120 < oppMid
	forced := oppHadControl && (oppMid-k.oppDist > 140 || ourMid+120 < oppMid)
	counter := towardOwnGoalFast(k.f, fOut, s.team) && oppOut+180 < ourOut
	doubled := s.doubleCommit(k.f, k.selfDist)
	dTouch := fTouch.BallDist(s.player)
	gain := model.Clamp01((k.selfDist - dTouch) / math.Max(1, k.selfDist))
	success := (won || forced) && !counter

	q := 0.32 + 0.40*b2f(success, 1, 0) + 0.12*b2f(won, 1, 0) + 0.10*b2f(forced, 1, 0) + 0.10*gain
	if counter {
		q -= 0.40
	}
	if doubled {
		q -= 0.15
	}
	if oppOut+150 < ourOut && dTouch > k.selfDist {
		q -= 0.10
	}
	reason := "challenge failed to improve outcome"
	switch {
	case counter:
		reason = "challenge conceded easy counter"
	case won:
		reason = "won possession after challenge"
	case forced:
		reason = "forced weak opponent touch"
	}
	d.emit(model.MechChallenge, k.t, q, reason, k.t)
}

// ---- 50/50 ----

func (d *detector) fiftyFifty(k tick) {
	s := d.s
	if !(k.selfDist < 300 && k.oppDist < 300 && k.f.Ball.Pos.Z < 260) || !d.ready(model.MechFiftyFifty, k.t) {
		return
	}
	fj := &s.frames[s.next(k.i, 0.20)]
	fk := &s.frames[s.next(k.i, 0.80)]
	if !dirFlip(k.f, fj) && math.Abs(fj.Ball.Speed()-k.ballSpeed) <= 250 {
		return
	}
	our, opp := s.teamBallDist(fk, s.team), s.teamBallDist(fk, s.team.Opponent())
	ownD := math.Abs(fk.Ball.Pos.Y - s.team.OwnGoalY())
	oppD := math.Abs(fk.Ball.Pos.Y - s.team.OppGoalY())
	q, reason := 0.50, "50/50 neutral outcome"
	switch {
	case our+100 < opp && (oppD < ownD || ownD > 2600):
		q, reason = 0.76, "50/50 won to team control"
	case opp+100 < our && ownD < 2500:
		q, reason = 0.24, "50/50 lost into danger"
	}
	d.emit(model.MechFiftyFifty, k.t, q, reason, k.t)
}

// ---- Aerials ----

func (d *detector) aerialOffense(k tick) {
	s := d.s
	pz, bz := k.p.Pos.Z, k.f.Ball.Pos.Z
	if !(k.attacking && pz > 150 && bz > 300 && k.selfDist < 950) || !d.ready(model.MechAerialOffense, k.t) {
		return
	}
	f2 := &s.frames[s.next(k.i, 0.90)]
	oppGoal := s.team.OppGoalY()
	toward := math.Abs(f2.Ball.Pos.Y-oppGoal) < math.Abs(k.f.Ball.Pos.Y-oppGoal)
	retain := s.teamBallDist(f2, s.team) <= s.teamBallDist(f2, s.team.Opponent())+60
	q := model.Clamp01(0.35 + 0.30*b2f(toward, 1, 0.25) + 0.25*b2f(retain, 1, 0.3) + 0.10*model.Clamp01(k.speed/2100))
	reason := "aerial touch gave up pressure"
	if q >= 0.5 {
		reason = "air touch created attacking value"
	}
	d.emit(model.MechAerialOffense, k.t, q, reason, k.t)
}

func (d *detector) aerialDefense(k tick) {
	s := d.s
	ownGoal := s.team.OwnGoalY()
	by := k.f.Ball.Pos.Y
	threat := math.Abs(by-ownGoal) < 2600
	if !(k.defending && threat && k.p.Pos.Z > 150 && k.f.Ball.Pos.Z > 260 && k.selfDist < 1200) ||
		!d.ready(model.MechAerialDefense, k.t) {
		return
	}
	f2 := &s.frames[s.next(k.i, 1.00)]
	away := math.Abs(f2.Ball.Pos.Y-ownGoal) > math.Abs(by-ownGoal)
	wide := math.Abs(f2.Ball.Pos.X) > math.Abs(k.f.Ball.Pos.X)+180
	doubled := s.doubleCommit(k.f, k.selfDist)
	q := 0.35 + 0.35*b2f(away, 1, 0.2) + 0.20*b2f(wide, 1, 0.35) + 0.10*b2f(doubled, 0.2, 1)
	d.emit(model.MechAerialDefense, k.t, q, "aerial defensive clear quality", k.t)
}

// ---- Ball control ----

func (d *detector) controlling(k tick) bool {
	return k.selfDist <= 200 && k.f.Ball.Pos.Z < 250 && relSpeed(k.f, k.p) < 700
}

func (d *detector) flick(k tick) {
	s := d.s
	if !d.controlling(k) || !(k.p.Jumped || k.p.DoubleJumped) || !d.ready(model.MechFlick, k.t) {
		return
	}
	f2 := &s.frames[s.next(k.i, 0.35)]
	b, b2 := k.f.Ball, f2.Ball
	rise := b2.Pos.Z - b.Pos.Z
	up := rise > 120 || b2.Vel.Z-b.Vel.Z > 220
	fwdGain := forwardSpeed(f2, s.team) - forwardSpeed(k.f, s.team)
	if !up || fwdGain <= 260 {
		return
	}
	power := b2.Speed() > k.ballSpeed+300
	q := model.Clamp01(0.35 + 0.25*b2f(power, 1, 0.4) + 0.25*model.Clamp01(fwdGain/900) + 0.15*model.Clamp01(rise/240))
	reason := "flick lacked threat or power"
	if q >= 0.5 {
		reason = "flick generated threatening ball launch"
	}
	d.emit(model.MechFlick, k.t, q, reason, k.t)
}

func (d *detector) carry(k tick) {
	if d.controlling(k) {
		if !d.carrying {
			d.carrying = true
			d.carryStart = k.i
			d.carryMinOpp = k.oppDist
		} else {
			d.carryMinOpp = math.Min(d.carryMinOpp, k.oppDist)
		}
		return
	}
	if !d.carrying {
		return
	}
	s := d.s
	t0 := s.times[d.carryStart]
	dur := math.Max(0, k.t-t0)
	if dur >= d.g.cfg.CarryMinDuration && d.ready(model.MechCarry, k.t) {
		fEnd := k.f
		fAfter := &s.frames[s.next(k.i, 0.80)]
		opp := s.team.Opponent()
		ourAfter, oppAfter := s.teamBallDist(fAfter, s.team), s.teamBallDist(fAfter, opp)
		held := d.carryMinOpp < 900 && ourAfter <= oppAfter+80
		lost := oppAfter+120 < ourAfter
		oppGoal := s.team.OppGoalY()
		created := math.Abs(fAfter.Ball.Pos.Y-oppGoal) < math.Abs(fEnd.Ball.Pos.Y-oppGoal)
		q := 0.35 + 0.25*model.Clamp01(dur/2.4) + 0.20*b2f(held, 1, 0.35) + 0.20*b2f(created, 1, 0.30)
		if lost {
			q -= 0.30
		}
		q = model.Clamp01(q)
		reason := "carry lost value before creating threat"
		if q >= 0.5 {
			reason = "carry kept control and progressed play"
		}
		d.emit(model.MechCarry, t0, q, reason, k.t)
	}
	d.carrying = false
	d.carryStart = 0
	d.carryMinOpp = model.FarAway
}
