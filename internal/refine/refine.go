// Package refine re-examines streaming candidate events with the full
// timeline available, dropping false positives the live pass could not rule
// out without seeing the future.
package refine

import (
	"math"
	"sort"
	"strings"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/model"
)

// DecisionVersion tags every whiff that survives refinement.
const DecisionVersion = "whiff_v2_windowed"

// Suppression reasons.
const (
	ReasonFakeChallenge      = "fake_challenge"
	ReasonBumpDemoIntent     = "bump_demo_intent"
	ReasonIntentionalReset   = "intentional_reset"
	ReasonOpponentFirstTouch = "opponent_first_touch"
	ReasonMissGatesNotMet    = "miss_gates_not_met"
	ReasonCooldown           = "cooldown"
	ReasonRepositioning      = "repositioning"
	ReasonWallSetup          = "wall_setup"
	ReasonSpacingAdjust      = "spacing_adjust"
	ReasonPlayerAbsent       = "player_absent"
)

// Reasons lists every suppression key in report order.
var Reasons = []string{
	ReasonFakeChallenge, ReasonBumpDemoIntent, ReasonIntentionalReset,
	ReasonOpponentFirstTouch, ReasonMissGatesNotMet, ReasonCooldown,
	ReasonRepositioning, ReasonWallSetup, ReasonSpacingAdjust, ReasonPlayerAbsent,
}

// Diagnostic counters.
const (
	DiagCommitDetected = "commit_detected"
	DiagGateA          = "gate_a"
	DiagGateB          = "gate_b"
	DiagGateC          = "gate_c"
	DiagGatesPassed    = "gates_passed"
)

// Diagnostics lists every diagnostic key.
var Diagnostics = []string{DiagCommitDetected, DiagGateA, DiagGateB, DiagGateC, DiagGatesPassed}

// Commit tags.
const (
	CommitFlip      = "flip"
	CommitJump      = "jump"
	CommitFastDrive = "fast_close_drive"
)

// Result is the outcome of one refinement pass. The suppression counts
// always sum to len(candidates) - len(Events).
type Result struct {
	Events       []model.Event
	Suppressions map[string]int
	Diagnostics  map[string]int
}

func newResult() Result {
	r := Result{
		Suppressions: make(map[string]int, len(Reasons)),
		Diagnostics:  make(map[string]int, len(Diagnostics)),
	}
	for _, k := range Reasons {
		r.Suppressions[k] = 0
	}
	for _, k := range Diagnostics {
		r.Diagnostics[k] = 0
	}
	return r
}

// Suppressed returns the total number of dropped candidates.
func (r Result) Suppressed() int {
	n := 0
	for _, v := range r.Suppressions {
		n += v
	}
	return n
}

// Refiner applies the retrospective rules. It holds no per-call state and is
// safe for concurrent use.
type Refiner struct {
	cfg config.RefineConfig
}

// New returns a Refiner using cfg.
func New(cfg config.RefineConfig) *Refiner {
	return &Refiner{cfg: cfg}
}

// window is the frame neighbourhood of one candidate.
type window struct {
	i0, i1 int // inclusive bounds
	ic     int // nearest frame to the event
	ip     int // frame before the window
}

// Refine filters candidates for player against timeline. Inputs are not
// modified; events are processed and returned in time order.
func (r *Refiner) Refine(timeline []model.Frame, player string, candidates []model.Event) Result {
	res := newResult()
	if len(candidates) == 0 {
		res.Events = []model.Event{}
		return res
	}
	if !present(timeline, player) {
		res.Suppressions[ReasonPlayerAbsent] = len(candidates)
		res.Events = []model.Event{}
		return res
	}

	ordered := make([]model.Event, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time < ordered[j].Time })

	times := model.Times(timeline)
	lastWhiff, lastHesitation := math.Inf(-1), math.Inf(-1)
	kept := make([]model.Event, 0, len(ordered))
	for _, ev := range ordered {
		w := r.windowFor(times, ev.Time)
		var reason, commit string
		switch ev.Type {
		case model.EventWhiff:
			commit = commitSignal(&timeline[w.ic], &timeline[w.ip], player, ev.Reason, r.cfg)
			reason = r.judgeWhiff(timeline, player, w, commit, ev.Time-lastWhiff, res.Diagnostics)
		case model.EventHesitation:
			reason = r.judgeHesitation(timeline, player, w, ev.Time-lastHesitation)
		}
		if reason != "" {
			res.Suppressions[reason]++
			continue
		}

		out := ev.Clone()
		if ev.Type == model.EventWhiff {
			out.WindowStart = times[w.i0]
			out.WindowEnd = times[w.i1]
			out.ContactRadius = r.cfg.ContactRadius
			out.CommitSignal = commit
			out.DecisionVersion = DecisionVersion
			if commit != "" && !contains(out.IntentFlags, commit) {
				out.IntentFlags = append(out.IntentFlags, commit)
			}
			lastWhiff = ev.Time
		} else if ev.Type == model.EventHesitation {
			lastHesitation = ev.Time
		}
		kept = append(kept, out)
	}
	res.Events = kept
	return res
}

func (r *Refiner) windowFor(times []float64, t float64) window {
	i0 := sort.SearchFloat64s(times, t-r.cfg.WindowPre)
	i1 := sort.SearchFloat64s(times, t+r.cfg.WindowPost)
	if i1 > len(times)-1 {
		i1 = len(times) - 1
	}
	if i0 > len(times)-1 {
		i0 = len(times) - 1
	}
	if i1 < i0 {
		i1 = i0
	}
	return window{i0: i0, i1: i1, ic: nearestIndex(times, t), ip: max(0, i0-1)}
}

// judgeWhiff returns the first matching suppression reason, or "" to keep.
// sinceLast is the time since the last kept whiff.
func (r *Refiner) judgeWhiff(timeline []model.Frame, player string, w window, commit string, sinceLast float64, diag map[string]int) string {
	cfg := r.cfg
	f0, f1, fp := &timeline[w.ic], &timeline[w.i1], &timeline[w.ip]
	d0 := f0.BallDist(player)
	d1 := f1.BallDist(player)
	movingAway := d1-d0 > cfg.MovingAwayDelta
	otherSelf, otherBall := nearestOther(f0, player)
	_, otherBallNext := nearestOther(f1, player)

	switch {
	case commit == "":
		return ReasonFakeChallenge
	case otherSelf < cfg.BumpSelfToOtherMax && otherBall > cfg.BumpOtherToBallMin:
		return ReasonBumpDemoIntent
	case movingAway && boostOf(f1, player)-boostOf(f0, player) > cfg.ResetBoostGain:
		return ReasonIntentionalReset
	case movingAway && otherBallNext+cfg.OppTouchLead < d1 && f1.Ball.Speed()-fp.Ball.Speed() > cfg.OppTouchBallJump:
		return ReasonOpponentFirstTouch
	}

	diag[DiagCommitDetected]++
	dmin := minBallDist(timeline, w.i0, w.i1, player)
	gateA := dmin > cfg.ContactRadius
	gateB := d1-dmin > cfg.GateRebound
	gateC := movingAway && dmin > cfg.TouchRadius && speedOf(f1, player) > cfg.GateMinSpeed
	gates := 0
	for name, ok := range map[string]bool{DiagGateA: gateA, DiagGateB: gateB, DiagGateC: gateC} {
		if ok {
			diag[name]++
			gates++
		}
	}
	switch {
	case gates < cfg.GatesRequired:
		return ReasonMissGatesNotMet
	case sinceLast < cfg.Cooldown:
		return ReasonCooldown
	}
	diag[DiagGatesPassed]++
	return ""
}

// judgeHesitation mirrors judgeWhiff for hesitations. sinceLast is the time
// since the last kept hesitation.
func (r *Refiner) judgeHesitation(timeline []model.Frame, player string, w window, sinceLast float64) string {
	cfg := r.cfg
	f0, f1 := &timeline[w.ic], &timeline[w.i1]
	d0 := f0.BallDist(player)
	d1 := f1.BallDist(player)
	p0, _ := f0.Player(player)
	speed := p0.Speed()
	_, otherBall := nearestOther(f0, player)
	wallSetup := math.Abs(p0.Pos.Y) > cfg.SetupWallY || p0.Pos.Z > cfg.SetupMinZ

	switch {
	case lateralSpeed(f0, p0) > cfg.RepositionLateral && speed > cfg.RepositionSpeed && d1-d0 < cfg.RepositionMaxRetreat:
		return ReasonRepositioning
	case wallSetup && speed < cfg.SetupMaxSpeed:
		return ReasonWallSetup
	case d1-d0 > cfg.MovingAwayDelta && otherBall+cfg.SpacingOppLead < d0 && speed > cfg.SpacingMinSpeed:
		return ReasonSpacingAdjust
	case sinceLast < cfg.HesitationCooldown:
		return ReasonCooldown
	}
	return ""
}

// commitSignal reports how the player committed to the ball around the
// event, or "" when there was no commitment at all.
func commitSignal(start, prev *model.Frame, player, reason string, cfg config.RefineConfig) string {
	if strings.Contains(strings.ToLower(reason), CommitFlip) {
		return CommitFlip
	}
	p0, _ := start.Player(player)
	pp, _ := prev.Player(player)
	if p0.DoubleJumped || p0.AngVel.Norm() > cfg.CommitFlipAngSpeed {
		return CommitFlip
	}
	if p0.Jumped || p0.Vel.Z > cfg.CommitJumpVelZ || p0.Pos.Z-pp.Pos.Z > cfg.CommitJumpRise {
		return CommitJump
	}
	if p0.Speed() > cfg.CommitDriveSpeed && prev.BallDist(player)-start.BallDist(player) > cfg.CommitDriveGain {
		return CommitFastDrive
	}
	return ""
}

// ApplyWhiffRate returns a copy of samples with WhiffRatePerMin recomputed
// from the whiffs in events, counting those in [t-window, t].
func ApplyWhiffRate(samples []model.MetricSample, events []model.Event, window float64) []model.MetricSample {
	out := make([]model.MetricSample, len(samples))
	copy(out, samples)
	var whiffs []float64
	for _, e := range events {
		if e.Type == model.EventWhiff {
			whiffs = append(whiffs, e.Time)
		}
	}
	sort.Float64s(whiffs)
	perMin := 60 / math.Max(1e-6, window)

	j := 0
	for i := range out {
		t := out[i].T
		for j < len(whiffs) && whiffs[j] < t-window {
			j++
		}
		k := j
		for k < len(whiffs) && whiffs[k] <= t {
			k++
		}
		out[i].WhiffRatePerMin = float64(k-j) * perMin
	}
	return out
}

// ---- Frame helpers ----

func present(timeline []model.Frame, player string) bool {
	for i := range timeline {
		if _, ok := timeline[i].Player(player); ok {
			return true
		}
	}
	return false
}

func nearestIndex(times []float64, t float64) int {
	if len(times) == 0 {
		return 0
	}
	i := sort.SearchFloat64s(times, t)
	if i <= 0 {
		return 0
	}
	if i >= len(times) {
		return len(times) - 1
	}
	if math.Abs(times[i]-t) < math.Abs(times[i-1]-t) {
		return i
	}
	return i - 1
}

// nearestOther returns the distances from the closest other car to the
// player and to the ball. Both are FarAway when the player is missing.
func nearestOther(f *model.Frame, player string) (toSelf, toBall float64) {
	toSelf, toBall = model.FarAway, model.FarAway
	self, ok := f.Player(player)
	if !ok {
		return
	}
	for _, p := range f.Players {
		if p.Name == player {
			continue
		}
		toSelf = math.Min(toSelf, p.Pos.DistTo(self.Pos))
		toBall = math.Min(toBall, p.Pos.DistTo(f.Ball.Pos))
	}
	return
}

func minBallDist(timeline []model.Frame, i0, i1 int, player string) float64 {
	out := model.FarAway
	for i := i0; i <= i1; i++ {
		out = math.Min(out, timeline[i].BallDist(player))
	}
	return out
}

func boostOf(f *model.Frame, player string) float64 {
	p, _ := f.Player(player)
	return p.Boost
}

func speedOf(f *model.Frame, player string) float64 {
	p, _ := f.Player(player)
	return p.Speed()
}

func lateralSpeed(f *model.Frame, p model.PlayerState) float64 {
	to := f.Ball.Pos.Sub(p.Pos)
	if to.Norm() <= 1e-6 {
		return 0
	}
	toward := p.Vel.Dot(to.Unit())
	speed := p.Speed()
	return math.Sqrt(math.Max(0, speed*speed-toward*toward))
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
