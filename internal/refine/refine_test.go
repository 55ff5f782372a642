package refine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/model"
)

const me = "me"

func newRefiner() *Refiner { return New(config.Default().Refine) }

// buildPass returns 3s of 60Hz frames with the player driving along +y at
// speed, offset laterally by lateral, passing a resting ball at t=1500/speed.
// extra players are moved with the same velocity, offset from the player.
func buildPass(lateral, speed float64, extra map[string]model.Vec3) []model.Frame {
	var frames []model.Frame
	for i := 0; i <= 180; i++ {
		t := float64(i) / 60
		pos := model.Vec3{X: lateral, Y: -1500 + speed*t, Z: 17}
		vel := model.Vec3{Y: speed}
		players := []model.PlayerState{{Name: me, Pos: pos, Vel: vel, Boost: 40, OnGround: true}}
		for name, off := range extra {
			players = append(players, model.PlayerState{Name: name, Team: model.TeamOrange, Pos: pos.Add(off), Vel: vel, OnGround: true})
		}
		frames = append(frames, model.Frame{
			Index:   i,
			T:       t,
			Ball:    model.BallState{Pos: model.Vec3{Z: model.BallRestZ}},
			Players: players,
		})
	}
	return frames
}

// buildHold returns 3s of frames with the player at pos moving at vel.
func buildHold(pos, vel model.Vec3) []model.Frame {
	var frames []model.Frame
	for i := 0; i <= 180; i++ {
		t := float64(i) / 60
		frames = append(frames, model.Frame{
			Index: i,
			T:     t,
			Ball:  model.BallState{Pos: model.Vec3{Z: model.BallRestZ}},
			Players: []model.PlayerState{{
				Name: me, Pos: pos.Add(vel.Scale(t)), Vel: vel, Boost: 40, OnGround: true,
			}},
		})
	}
	return frames
}

func whiff(t float64, reason string) model.Event {
	return model.Event{
		Time:        t,
		Type:        model.EventWhiff,
		Reason:      reason,
		Distance:    310,
		Opportunity: 0.8,
		Confidence:  0.9,
		IntentFlags: []string{"whiff_attempt"},
	}
}

func hesitation(t float64) model.Event {
	return model.Event{
		Time:        t,
		Type:        model.EventHesitation,
		Reason:      "indecision_under_pressure",
		Context:     []string{"pressure"},
		IntentFlags: []string{"hesitation_window"},
	}
}

func checkSum(t *testing.T, res Result, candidates int) {
	t.Helper()
	assert.Equal(t, candidates-len(res.Events), res.Suppressed(), "suppression counts must cover every dropped candidate")
}

// ---- Whiff rules ----

func TestRefine_FlipMissKeptAndDecorated(t *testing.T) {
	timeline := buildPass(300, 1400, nil)
	cands := []model.Event{whiff(1.2, "flip_miss")}

	res := newRefiner().Refine(timeline, me, cands)
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, CommitFlip, ev.CommitSignal)
	assert.Equal(t, DecisionVersion, ev.DecisionVersion)
	assert.Equal(t, 220.0, ev.ContactRadius)
	assert.Less(t, ev.WindowStart, ev.Time)
	assert.Greater(t, ev.WindowEnd, ev.Time)
	assert.Equal(t, []string{"whiff_attempt", "flip"}, ev.IntentFlags)
	assert.Equal(t, 1, res.Diagnostics[DiagCommitDetected])
	assert.Equal(t, 1, res.Diagnostics[DiagGatesPassed])
	checkSum(t, res, len(cands))
}

func TestRefine_NoCommitIsFakeChallenge(t *testing.T) {
	// Slow, grounded, constant-speed roll: no flip, jump or fast close.
	timeline := buildPass(300, 500, nil)
	res := newRefiner().Refine(timeline, me, []model.Event{whiff(3.0, "slow_control_miss")})
	assert.Empty(t, res.Events)
	assert.Equal(t, 1, res.Suppressions[ReasonFakeChallenge])
}

func TestRefine_FastDriveCommit(t *testing.T) {
	timeline := buildPass(300, 1400, nil)
	res := newRefiner().Refine(timeline, me, []model.Event{whiff(1.2, "drive_miss")})
	require.Len(t, res.Events, 1)
	assert.Equal(t, CommitFastDrive, res.Events[0].CommitSignal)
}

func TestRefine_BumpIntent(t *testing.T) {
	// Opponent riding alongside, 400 from the player and well away from the ball.
	timeline := buildPass(300, 1400, map[string]model.Vec3{"opp": {X: 400}})
	res := newRefiner().Refine(timeline, me, []model.Event{whiff(1.2, "flip_miss")})
	assert.Empty(t, res.Events)
	assert.Equal(t, 1, res.Suppressions[ReasonBumpDemoIntent])
}

func TestRefine_ThroughTheBallFailsGates(t *testing.T) {
	timeline := buildPass(0, 1400, nil)
	res := newRefiner().Refine(timeline, me, []model.Event{whiff(1.2, "flip_miss")})
	assert.Empty(t, res.Events)
	assert.Equal(t, 1, res.Suppressions[ReasonMissGatesNotMet])
	assert.Equal(t, 0, res.Diagnostics[DiagGateA])
	assert.Equal(t, 1, res.Diagnostics[DiagGateB])
}

func TestRefine_Cooldown(t *testing.T) {
	timeline := buildPass(300, 1400, nil)
	cands := []model.Event{whiff(1.2, "flip_miss"), whiff(1.5, "flip_miss")}
	res := newRefiner().Refine(timeline, me, cands)
	require.Len(t, res.Events, 1)
	assert.Equal(t, 1.2, res.Events[0].Time)
	assert.Equal(t, 1, res.Suppressions[ReasonCooldown])
	checkSum(t, res, len(cands))
}

func TestRefine_IntentionalReset(t *testing.T) {
	timeline := buildPass(300, 1400, nil)
	// Picks up a pad while driving away from the ball.
	for i := range timeline {
		if timeline[i].T >= 2.0 {
			timeline[i].Players[0].Boost = 100
		}
	}
	cands := []model.Event{whiff(1.2, "flip_miss")}
	res := newRefiner().Refine(timeline, me, cands)
	assert.Empty(t, res.Events)
	assert.Equal(t, 1, res.Suppressions[ReasonIntentionalReset])
	assert.Equal(t, 0, res.Diagnostics[DiagCommitDetected])
	checkSum(t, res, len(cands))
}

func TestRefine_OpponentFirstTouch(t *testing.T) {
	timeline := buildPass(300, 1400, nil)
	// Opponent parked next to the ball sends it away while the player passes.
	for i := range timeline {
		timeline[i].Players = append(timeline[i].Players, model.PlayerState{
			Name: "opp", Team: model.TeamOrange, Pos: model.Vec3{X: -150, Z: 17}, OnGround: true,
		})
		if timeline[i].T >= 1.5 {
			timeline[i].Ball.Vel = model.Vec3{Y: -1500}
		}
	}
	cands := []model.Event{whiff(1.2, "flip_miss")}
	res := newRefiner().Refine(timeline, me, cands)
	assert.Empty(t, res.Events)
	assert.Equal(t, 1, res.Suppressions[ReasonOpponentFirstTouch])
	assert.Equal(t, 0, res.Suppressions[ReasonBumpDemoIntent])
	checkSum(t, res, len(cands))
}

// ---- Hesitation rules ----

func TestRefine_HesitationRules(t *testing.T) {
	cases := []struct {
		name   string
		frames []model.Frame
		want   string
	}{
		{"lateral circling", buildHold(model.Vec3{Y: -1000, Z: 17}, model.Vec3{X: 400}), ReasonRepositioning},
		{"slow on the back wall", buildHold(model.Vec3{Y: -4700, Z: 17}, model.Vec3{Y: 200}), ReasonWallSetup},
		{"parked in midfield", buildHold(model.Vec3{Y: -1500, Z: 17}, model.Vec3{}), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := newRefiner().Refine(tc.frames, me, []model.Event{hesitation(1.0)})
			if tc.want == "" {
				assert.Len(t, res.Events, 1)
				assert.Equal(t, 0, res.Suppressed())
				return
			}
			assert.Empty(t, res.Events)
			assert.Equal(t, 1, res.Suppressions[tc.want])
		})
	}
}

func TestRefine_HesitationCooldown(t *testing.T) {
	timeline := buildHold(model.Vec3{Y: -1500, Z: 17}, model.Vec3{})
	cands := []model.Event{hesitation(1.0), hesitation(1.3), hesitation(2.6)}

	res := newRefiner().Refine(timeline, me, cands)
	require.Len(t, res.Events, 2)
	assert.Equal(t, 1.0, res.Events[0].Time)
	assert.Equal(t, 2.6, res.Events[1].Time)
	assert.Equal(t, 1, res.Suppressions[ReasonCooldown])
	checkSum(t, res, len(cands))
}

// ---- Contract tests ----

func TestRefine_PlayerAbsent(t *testing.T) {
	timeline := buildPass(300, 1400, nil)
	cands := []model.Event{whiff(1.2, "flip_miss"), hesitation(2.0)}
	res := newRefiner().Refine(timeline, "nobody", cands)
	assert.Empty(t, res.Events)
	assert.Equal(t, 2, res.Suppressions[ReasonPlayerAbsent])
	checkSum(t, res, len(cands))

	empty := newRefiner().Refine(nil, me, cands)
	assert.Empty(t, empty.Events)
	checkSum(t, empty, len(cands))
}

func TestRefine_FixedKeys(t *testing.T) {
	res := newRefiner().Refine(nil, me, nil)
	assert.Len(t, res.Suppressions, len(Reasons))
	assert.Len(t, res.Diagnostics, len(Diagnostics))
	assert.NotNil(t, res.Events)
}

func TestRefine_IdempotentAndPure(t *testing.T) {
	timeline := buildPass(300, 1400, nil)
	cands := []model.Event{
		whiff(1.5, "flip_miss"),
		hesitation(0.5),
		whiff(1.2, "flip_miss"),
		whiff(2.5, "drive_miss"),
	}
	before := make([]model.Event, len(cands))
	for i, c := range cands {
		before[i] = c.Clone()
	}

	r := newRefiner()
	first := r.Refine(timeline, me, cands)
	if diff := cmp.Diff(before, cands); diff != "" {
		t.Fatalf("candidates mutated (-before +after):\n%s", diff)
	}
	again := r.Refine(timeline, me, cands)
	if diff := cmp.Diff(first, again); diff != "" {
		t.Errorf("second run differs (-first +again):\n%s", diff)
	}
	refined := r.Refine(timeline, me, first.Events)
	if diff := cmp.Diff(first.Events, refined.Events); diff != "" {
		t.Errorf("refining refined events changed them (-first +refined):\n%s", diff)
	}
	for i := 1; i < len(first.Events); i++ {
		if first.Events[i].Time < first.Events[i-1].Time {
			t.Fatalf("events out of order at %d", i)
		}
	}
	checkSum(t, first, len(cands))
}

// ---- Whiff rate ----

func TestApplyWhiffRate(t *testing.T) {
	var samples []model.MetricSample
	for i := 0; i <= 20; i++ {
		samples = append(samples, model.MetricSample{T: float64(i), WhiffRatePerMin: 99})
	}
	events := []model.Event{whiff(12, "drive_miss"), hesitation(6), whiff(5, "flip_miss")}

	out := ApplyWhiffRate(samples, events, 10)
	require.Len(t, out, len(samples))
	want := map[float64]float64{4: 0, 5: 6, 12: 12, 15: 12, 16: 6, 20: 6}
	for _, s := range out {
		if w, ok := want[s.T]; ok {
			assert.Equal(t, w, s.WhiffRatePerMin, "t=%.0f", s.T)
		}
	}
	assert.Equal(t, 99.0, samples[0].WhiffRatePerMin, "input samples must not change")
}
