package stream

import (
	"errors"
	"math"
	"testing"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/model"
)

const me = "me"

var restBall = model.Vec3{Z: model.BallRestZ}

// makeCar returns a grounded blue car with half a tank.
func makeCar(name string, pos, vel model.Vec3) model.PlayerState {
	return model.PlayerState{
		Name:     name,
		Team:     model.TeamBlue,
		Pos:      pos,
		Vel:      vel,
		Quat:     model.IdentityQuat,
		Boost:    50,
		OnGround: true,
	}
}

func makeFrame(idx int, t float64, ball model.BallState, players ...model.PlayerState) model.Frame {
	return model.Frame{Index: idx, T: t, Ball: ball, Players: players}
}

// buildDriveBy drives a car at 1400 uu/s along +y past a resting ball,
// offset laterally by lateral, from y=-1500 until y=+600.
func buildDriveBy(lateral float64) []model.Frame {
	const speed = 1400.0
	var frames []model.Frame
	for i := 0; ; i++ {
		t := float64(i) * model.DefaultDT
		y := -1500 + speed*t
		if y > 600 {
			break
		}
		car := makeCar(me, model.Vec3{X: lateral, Y: y, Z: 17}, model.Vec3{Y: speed})
		frames = append(frames, makeFrame(i, t, model.BallState{Pos: restBall, Quat: model.IdentityQuat}, car))
	}
	return frames
}

func runAll(t *testing.T, e *Engine, frames []model.Frame) []model.Event {
	t.Helper()
	var out []model.Event
	for i := range frames {
		evs, err := e.Update(&frames[i], me)
		if err != nil {
			t.Fatalf("Update frame %d: %v", i, err)
		}
		out = append(out, evs...)
	}
	return out
}

func whiffs(evs []model.Event) []model.Event {
	var out []model.Event
	for _, e := range evs {
		if e.Type == model.EventWhiff {
			out = append(out, e)
		}
	}
	return out
}

// ---- Whiff tests ----

func TestWhiff_CloseMissEmitsOnce(t *testing.T) {
	e := New(config.Default().Stream)
	got := whiffs(runAll(t, e, buildDriveBy(300)))
	if len(got) != 1 {
		t.Fatalf("whiffs: got %d, want 1", len(got))
	}
	w := got[0]
	if w.Distance <= 185 || w.Distance > 420 {
		t.Errorf("whiff distance %.2f outside close-miss band", w.Distance)
	}
	if w.Opportunity < 0.52 {
		t.Errorf("opportunity %.3f below minimum", w.Opportunity)
	}
	if want := model.Round(0.5+0.5*w.Opportunity, 3); math.Abs(w.Confidence-want) > 1e-3 {
		t.Errorf("confidence %.3f, want %.3f", w.Confidence, want)
	}
	snap, _ := e.Snapshot(me)
	if len(whiffs(snap.Events)) != 1 {
		t.Errorf("snapshot whiffs: got %d, want 1", len(whiffs(snap.Events)))
	}
	if snap.Current.WhiffEventsRecent != 1 {
		t.Errorf("WhiffEventsRecent: got %d, want 1", snap.Current.WhiffEventsRecent)
	}
}

func TestWhiff_WidePassIsNotAnAttempt(t *testing.T) {
	e := New(config.Default().Stream)
	if got := whiffs(runAll(t, e, buildDriveBy(800))); len(got) != 0 {
		t.Errorf("whiffs: got %d, want 0 for a pass outside the close-miss band", len(got))
	}
}

func TestWhiff_TouchBandClears(t *testing.T) {
	frames := buildDriveBy(100)
	// Ball gets struck once the car is level with it.
	for i := range frames {
		car := frames[i].Players[0]
		if car.Pos.Y >= 0 {
			frames[i].Ball.Vel = model.Vec3{Y: 2000}
		}
	}
	e := New(config.Default().Stream)
	if got := whiffs(runAll(t, e, frames)); len(got) != 0 {
		t.Errorf("whiffs: got %d, want 0 inside the touch band", len(got))
	}
}

func TestWhiff_ReportedSelfTouchClears(t *testing.T) {
	frames := buildDriveBy(300)
	for i := range frames {
		if frames[i].Players[0].Pos.Y >= 0 {
			frames[i].Ball.LatestTouch = &model.Touch{Player: me, Time: frames[i].T}
			break
		}
	}
	e := New(config.Default().Stream)
	if got := whiffs(runAll(t, e, frames)); len(got) != 0 {
		t.Errorf("whiffs: got %d, want 0 after a reported touch", len(got))
	}
}

func TestWhiff_DistanceAlwaysInBand(t *testing.T) {
	cfg := config.Default().Stream
	for _, lateral := range []float64{0, 50, 150, 190, 250, 350, 419, 500, 900} {
		e := New(cfg)
		for _, w := range whiffs(runAll(t, e, buildDriveBy(lateral))) {
			if w.Distance <= cfg.WhiffTouchSuppress || w.Distance > cfg.WhiffCloseMiss {
				t.Errorf("lateral %.0f: whiff at distance %.2f", lateral, w.Distance)
			}
		}
	}
}

// ---- Hesitation tests ----

func TestHesitationScore_RangeAndAirborne(t *testing.T) {
	e := New(config.Default().Stream)
	for i := 0; i < 600; i++ {
		ft := float64(i) * model.DefaultDT
		// Wobbling approach that sometimes leaves the ground.
		pos := model.Vec3{X: 400 * math.Sin(ft), Y: -1200 + 150*math.Cos(2*ft), Z: 17}
		vel := model.Vec3{X: 400 * math.Cos(ft), Y: -300 * math.Sin(2*ft)}
		car := makeCar(me, pos, vel)
		if i%90 > 70 {
			car.OnGround = false
			car.Pos.Z = 120
		}
		f := makeFrame(i, ft, model.BallState{Pos: restBall}, car)
		if _, err := e.Update(&f, me); err != nil {
			t.Fatalf("Update: %v", err)
		}
		s, ok := e.LastSample(me)
		if !ok {
			t.Fatal("no sample after update")
		}
		if s.HesitationScore < 0 || s.HesitationScore > 1 {
			t.Fatalf("frame %d: hesitation score %.4f outside [0,1]", i, s.HesitationScore)
		}
		if !car.OnGround && s.HesitationScore != 0 {
			t.Fatalf("frame %d: airborne hesitation score %.4f, want 0", i, s.HesitationScore)
		}
	}
}

func TestHesitationScore_StationaryUnderThreat(t *testing.T) {
	tr := newTracker(config.Default().Stream, me)
	tr.prevDist = 0
	g := frameGeom{now: 5, speed: 0, toward: 0, lateral: 0, accel: 0, self: makeCar(me, model.Vec3{}, model.Vec3{})}

	// progress 1, turning 0, accel 180/380, full threat.
	want := 0.45 + 0.25*(180.0/380.0)
	if got := tr.hesitationScore(g, true, true); math.Abs(got-want) > 1e-9 {
		t.Errorf("score: got %.6f, want %.6f", got, want)
	}
	if got := tr.hesitationScore(g, true, false); got != 0 {
		t.Errorf("score without pressure: got %.4f, want 0", got)
	}
	g.airborne = true
	if got := tr.hesitationScore(g, true, true); got != 0 {
		t.Errorf("airborne score: got %.4f, want 0", got)
	}
	g.airborne = false
	tr.recovery.lastLanding = 4.7
	if got := tr.hesitationScore(g, true, true); got != 0 {
		t.Errorf("score inside landing grace: got %.4f, want 0", got)
	}
}

func TestHesitation_CooldownBlocksRetrigger(t *testing.T) {
	cfg := config.Default().Stream
	tr := newTracker(cfg, me)

	// Score swings across entry and exit every 50ms for two seconds.
	var times []float64
	for i := 0; i <= 40; i++ {
		now := float64(i) / 20
		score := 0.3
		if i%2 == 0 {
			score = 0.9
		}
		if ev, ok := tr.stepHesitation(now, score, true, "", cfg.HesitationEnter); ok {
			times = append(times, ev.Time)
		}
	}
	if len(times) != 2 || times[0] != 0 || times[1] != 1.5 {
		t.Fatalf("hesitation events at %v, want [0 1.5]", times)
	}
	if got := tr.c.SuppressedHesitationCooldown; got != 19 {
		t.Errorf("SuppressedHesitationCooldown: got %d, want 19", got)
	}
}

func TestHesitation_OscillatingApproachRespectsCooldown(t *testing.T) {
	cfg := config.Default().Stream
	e := New(cfg)
	var hes []float64
	for i := 0; i < 120; i++ {
		vel := model.Vec3{X: 300}
		if i%2 == 1 {
			vel = model.Vec3{Y: 950}
		}
		car := makeCar(me, model.Vec3{Y: -500, Z: 17}, vel)
		f := makeFrame(i, float64(i)*model.DefaultDT, model.BallState{Pos: restBall}, car)
		evs, err := e.Update(&f, me)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		for _, ev := range evs {
			if ev.Type == model.EventHesitation {
				hes = append(hes, ev.Time)
			}
		}
	}
	if len(hes) > 2 {
		t.Fatalf("hesitation events in 2s: got %d (%v), want at most 2", len(hes), hes)
	}
	for i := 1; i < len(hes); i++ {
		if gap := hes[i] - hes[i-1]; gap < cfg.HesitationCooldown-1e-3 {
			t.Errorf("hesitation gap %.3fs below cooldown %.1fs", gap, cfg.HesitationCooldown)
		}
	}
}

// ---- Whiff suppression tests ----

// closingMiss returns a tracker holding a finished attack window that emits
// a whiff at t=10 when nothing suppresses it, and the matching geometry.
func closingMiss() (*tracker, frameGeom) {
	tr := newTracker(config.Default().Stream, me)
	tr.attack = attackMachine{
		phase:         attacking,
		start:         9,
		startDist:     1200,
		minDist:       300,
		closingFrames: 30,
		nearFrames:    20,
		intentFrames:  40,
	}
	g := frameGeom{
		now:        10,
		self:       makeCar(me, model.Vec3{X: 300, Y: 100, Z: 17}, model.Vec3{Y: 1400}),
		ball:       model.BallState{Pos: restBall},
		speed:      1400,
		dist:       320,
		toward:     -400,
		movingAway: true,
		near:       others{ballDist: model.FarAway, selfDist: model.FarAway},
	}
	return tr, g
}

func TestFinalizeWhiff_BaselineEmits(t *testing.T) {
	tr, g := closingMiss()
	ev, ok := tr.finalizeWhiff(g, false)
	if !ok {
		t.Fatal("baseline window did not emit a whiff")
	}
	if ev.Distance != 300 || ev.Opportunity != 1 {
		t.Errorf("whiff: distance %.1f opportunity %.3f, want 300 and 1", ev.Distance, ev.Opportunity)
	}
	if tr.lastWhiff != 10 {
		t.Errorf("lastWhiff: got %.1f, want 10", tr.lastWhiff)
	}
}

func TestFinalizeWhiff_Suppressions(t *testing.T) {
	cases := []struct {
		name         string
		mutate       func(tr *tracker, g *frameGeom)
		otherTouched bool
		counter      func(c model.StreamCounters) int
	}{
		{
			name: "contested touch",
			mutate: func(tr *tracker, g *frameGeom) {
				tr.contest = contestMemory{time: 9.9, confidence: 0.5, minDist: 300}
			},
			counter: func(c model.StreamCounters) int { return c.ContestSuppressedWhiffs },
		},
		{
			name: "flip commit while disengaging",
			mutate: func(tr *tracker, g *frameGeom) {
				tr.attack.hadFlip = true
				g.toward = 200
			},
			counter: func(c model.StreamCounters) int { return c.SuppressedWhiffFlipCommit },
		},
		{
			name: "fast mutual disengage",
			mutate: func(tr *tracker, g *frameGeom) {
				g.ballSpeed = 1500
			},
			counter: func(c model.StreamCounters) int { return c.SuppressedWhiffDisengage },
		},
		{
			name: "bump intent",
			mutate: func(tr *tracker, g *frameGeom) {
				g.near = others{ballDist: 900, selfDist: 300, towardSelf: 250}
			},
			counter: func(c model.StreamCounters) int { return c.SuppressedWhiffBumpIntent },
		},
		{
			name:         "opponent touched first",
			mutate:       func(tr *tracker, g *frameGeom) {},
			otherTouched: true,
			counter:      func(c model.StreamCounters) int { return c.SuppressedWhiffOpponentTouch },
		},
		{
			name: "cooldown",
			mutate: func(tr *tracker, g *frameGeom) {
				tr.lastWhiff = 9.5
			},
			counter: func(c model.StreamCounters) int { return c.SuppressedWhiffCooldown },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, g := closingMiss()
			tc.mutate(tr, &g)
			if _, ok := tr.finalizeWhiff(g, tc.otherTouched); ok {
				t.Fatal("whiff emitted, want suppressed")
			}
			if got := tc.counter(tr.c); got != 1 {
				t.Errorf("counter: got %d, want 1", got)
			}
			if len(tr.events) != 0 {
				t.Errorf("event buffer: got %d events, want 0", len(tr.events))
			}
		})
	}
}

func TestFinalizeWhiff_ClearMissUnderContest(t *testing.T) {
	tr, g := closingMiss()
	tr.contest = contestMemory{time: 9.9, confidence: 0.5, minDist: 350}
	tr.attack.minDist = 350
	tr.attack.hadFlip = true

	ev, ok := tr.finalizeWhiff(g, false)
	if !ok {
		t.Fatal("clear flip miss under contest was suppressed")
	}
	if ev.Reason != "flip_miss" || ev.ContestConfidence != 0.5 {
		t.Errorf("whiff: reason %q contest %.2f, want flip_miss and 0.5", ev.Reason, ev.ContestConfidence)
	}
	if tr.c.ClearMissUnderContest != 1 || tr.c.ContestSuppressedWhiffs != 0 {
		t.Errorf("contest counters: clear %d suppressed %d, want 1 and 0",
			tr.c.ClearMissUnderContest, tr.c.ContestSuppressedWhiffs)
	}
}

// ---- Engine contract tests ----

func TestUpdate_NonMonotonicRejected(t *testing.T) {
	e := New(config.Default().Stream)
	car := makeCar(me, model.Vec3{Y: -3000}, model.Vec3{})
	f1 := makeFrame(0, 1.0, model.BallState{Pos: restBall}, car)
	if _, err := e.Update(&f1, me); err != nil {
		t.Fatalf("first update: %v", err)
	}
	for _, ts := range []float64{1.0, 0.5} {
		f := makeFrame(1, ts, model.BallState{Pos: restBall}, car)
		if _, err := e.Update(&f, me); !errors.Is(err, ErrNonMonotonic) {
			t.Errorf("t=%.1f: got err %v, want ErrNonMonotonic", ts, err)
		}
	}
	snap, _ := e.Snapshot(me)
	if snap.Current.Counters.TotalFrames != 1 {
		t.Errorf("TotalFrames after rejected frames: got %d, want 1", snap.Current.Counters.TotalFrames)
	}
}

func TestUpdate_MissingPlayerIsNoop(t *testing.T) {
	e := New(config.Default().Stream)
	f := makeFrame(0, 0, model.BallState{Pos: restBall}, makeCar("someone_else", model.Vec3{}, model.Vec3{}))
	evs, err := e.Update(&f, me)
	if err != nil || evs != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", evs, err)
	}
	if len(e.Players()) != 0 {
		t.Errorf("Players: got %v, want none", e.Players())
	}
	if _, ok := e.Snapshot(me); ok {
		t.Error("Snapshot reported an untracked player")
	}
}

func TestBoost_WastedWhenIdle(t *testing.T) {
	e := New(config.Default().Stream)
	for i, boost := range []float64{50, 40, 40} {
		car := makeCar(me, model.Vec3{Y: -4000}, model.Vec3{})
		car.Boost = boost
		f := makeFrame(i, float64(i)*0.1, model.BallState{Pos: restBall}, car)
		if _, err := e.Update(&f, me); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	snap, _ := e.Snapshot(me)
	c := snap.Current.Counters
	if c.TotalBoostUsed != 10 || c.WastedBoost != 10 {
		t.Errorf("boost used/wasted: got %.1f/%.1f, want 10/10", c.TotalBoostUsed, c.WastedBoost)
	}
	if snap.Current.BoostWastePct != 100 {
		t.Errorf("BoostWastePct: got %.2f, want 100", snap.Current.BoostWastePct)
	}
}

func TestHistory_PrunedToWindow(t *testing.T) {
	e := New(config.Default().Stream)
	for i := 0; i < 15*60; i++ {
		car := makeCar(me, model.Vec3{Y: -4000}, model.Vec3{})
		f := makeFrame(i, float64(i)*model.DefaultDT, model.BallState{Pos: restBall}, car)
		if _, err := e.Update(&f, me); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	snap, _ := e.Snapshot(me)
	speed := snap.History[SeriesSpeed]
	if len(speed) == 0 {
		t.Fatal("empty speed history")
	}
	last := speed[len(speed)-1].T
	if span := last - speed[0].T; span > 10 {
		t.Errorf("history spans %.2fs, want <= 10s", span)
	}
	if snap.Current.Counters.TotalFrames != 15*60 {
		t.Errorf("TotalFrames: got %d, want %d", snap.Current.Counters.TotalFrames, 15*60)
	}
	for _, name := range Series {
		if len(snap.History[name]) != len(speed) {
			t.Errorf("series %s has %d points, want %d", name, len(snap.History[name]), len(speed))
		}
	}
}

func TestEventBuffer_DropsOldest(t *testing.T) {
	cfg := config.Default().Stream
	cfg.EventBuffer = 3
	tr := newTracker(cfg, me)
	for i := 0; i < 5; i++ {
		tr.push(model.Event{Time: float64(i), Type: model.EventWhiff})
	}
	if len(tr.events) != 3 {
		t.Fatalf("buffer length: got %d, want 3", len(tr.events))
	}
	if tr.events[0].Time != 2 || tr.events[2].Time != 4 {
		t.Errorf("buffer times: got %.0f..%.0f, want 2..4", tr.events[0].Time, tr.events[2].Time)
	}
}

func TestRecovery_OpensOnLandingAndClosesWhenPlayable(t *testing.T) {
	r := newRecoveryMachine()
	steps := []struct {
		now      float64
		airborne bool
		playable bool
	}{
		{0.0, true, false},
		{0.1, true, false},
		{0.2, false, false},
		{0.3, false, false},
		{0.5, false, true},
	}
	var (
		dur  float64
		done bool
	)
	for _, s := range steps {
		dur, done = r.step(s.now, s.airborne, s.playable, 0.08, 2.5)
		if done && s.now != 0.5 {
			t.Fatalf("recovery closed early at %.1f", s.now)
		}
	}
	if !done || math.Abs(dur-0.3) > 1e-9 {
		t.Errorf("recovery: got (%.3f, %v), want (0.300, true)", dur, done)
	}
	if r.lastLanding != 0.2 {
		t.Errorf("lastLanding: got %.1f, want 0.2", r.lastLanding)
	}
}
