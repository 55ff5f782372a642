package stream

import (
	"math"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/model"
)

// Fixed shape constants of the scoring curves.
const (
	closingSlack = 4.0
	awaySlack    = 6.0

	progressFullToward = 900.0
	turningMinSpeed    = 350.0
	accelPenaltyBase   = 180.0
	accelPenaltySpan   = 380.0

	contestFlipMissDist = 320.0
	contestJumpMissDist = 300.0
	contestMinProgress  = 100.0

	flipCommitToward  = 120.0
	slowControlSpeed  = 420.0
	slowControlToward = 260.0
	lowSpeedContext   = 600.0
	airborneContextZ  = 120.0
	intentToward      = 140.0
	intentSpeed       = 160.0
	frameSeconds      = 0.016
)

// tracker is the full streaming state of one player.
type tracker struct {
	cfg  config.StreamConfig
	name string

	started     bool
	prevT       float64
	prevBallVel model.Vec3
	prevDist    float64
	prevSpeed   float64

	c        model.StreamCounters
	samples  []model.MetricSample
	events   []model.Event
	last     model.MetricSample
	hasLast  bool
	hes      hesitationMachine
	attack   attackMachine
	contest  contestMemory
	boost    boostMachine
	recovery recoveryMachine

	lastWhiff      float64
	lastTouch      float64
	lastHesitation float64
}

func newTracker(cfg config.StreamConfig, name string) *tracker {
	t := &tracker{
		cfg:       cfg,
		name:      name,
		prevDist:  model.FarAway,
		contest:   contestMemory{time: -999, minDist: model.FarAway},
		recovery:  newRecoveryMachine(),
		lastWhiff:      -999,
		lastTouch:      -999,
		lastHesitation: -999,
	}
	t.attack.reset()
	return t
}

// others summarises the closest other car, regardless of team.
type others struct {
	ballDist   float64
	selfDist   float64
	towardSelf float64
}

func nearestOthers(f *model.Frame, self model.PlayerState) others {
	o := others{ballDist: model.FarAway, selfDist: model.FarAway}
	for _, p := range f.Players {
		if p.Name == self.Name {
			continue
		}
		if d := p.Pos.DistTo(f.Ball.Pos); d < o.ballDist {
			o.ballDist = d
		}
		if d := p.Pos.DistTo(self.Pos); d < o.selfDist {
			o.selfDist = d
			u := p.Pos.Sub(self.Pos).Unit()
			o.towardSelf = self.Vel.Dot(u) - p.Vel.Dot(u)
		}
	}
	return o
}

func (t *tracker) selfTouched(b model.BallState, now float64) bool {
	lt := b.LatestTouch
	if lt == nil || lt.Player != t.name {
		return false
	}
	age := now - lt.Time
	return age >= 0 && age <= t.cfg.WhiffRecentTouch
}

func (t *tracker) otherTouched(b model.BallState, now float64) bool {
	lt := b.LatestTouch
	if lt == nil || lt.Player == "" || lt.Player == t.name {
		return false
	}
	age := now - lt.Time
	return age >= 0 && age <= t.cfg.OppFirstTouchWindow
}

// frameGeom is the per-frame derived geometry shared by the sub-machines.
type frameGeom struct {
	now        float64
	dt         float64
	self       model.PlayerState
	ball       model.BallState
	speed      float64
	dist       float64
	toward     float64
	lateral    float64
	ballSpeed  float64
	accel      float64
	closing    bool
	movingAway bool
	airborne   bool
	near       others
}

func (t *tracker) geometry(f *model.Frame, self model.PlayerState) frameGeom {
	g := frameGeom{
		now:      f.T,
		dt:       model.DefaultDT,
		self:     self,
		ball:     f.Ball,
		speed:    self.Speed(),
		dist:     self.Pos.DistTo(f.Ball.Pos),
		airborne: !self.OnGround,
	}
	if t.started {
		g.dt = math.Max(1e-5, g.now-t.prevT)
	}
	g.toward = self.Vel.Dot(f.Ball.Pos.Sub(self.Pos).Unit())
	g.lateral = math.Sqrt(math.Max(0, g.speed*g.speed-g.toward*g.toward))
	g.ballSpeed = f.Ball.Speed()
	g.near = nearestOthers(f, self)
	if t.started {
		g.accel = (g.speed - t.prevSpeed) / g.dt
	}
	g.closing = g.dist+closingSlack < t.prevDist
	g.movingAway = g.dist > t.prevDist+awaySlack
	return g
}

// step consumes one frame and returns the events emitted on it.
func (t *tracker) step(f *model.Frame, self model.PlayerState) []model.Event {
	cfg := t.cfg
	g := t.geometry(f, self)
	var emitted []model.Event

	// ---- Activity and pressure ----
	t.c.TotalFrames++
	active := g.speed > cfg.ActiveSpeed || g.dist < cfg.ActiveDistance
	pressureRaw := g.dist < cfg.PressureDistance || (g.closing && g.dist < cfg.PressureClosingDistance)
	intent := g.toward > cfg.PressureMinToward ||
		(g.closing && g.speed > cfg.PressureMinClosingSpeed) ||
		g.dist < cfg.PressureNearDistance
	pressure := pressureRaw && intent && !self.Demolished
	if pressureRaw && !pressure {
		t.c.PressureGatedFrames++
	}
	if active {
		t.c.ActiveFrames++
	}
	if pressure {
		t.c.PressureFrames++
	}

	playable := g.speed > cfg.RecoverySpeed || g.toward > cfg.RecoveryToward
	if d, done := t.recovery.step(g.now, g.airborne, playable, cfg.RecoveryMinAir, cfg.RecoveryTimeout); done {
		t.c.RecoveryCount++
		t.c.RecoveryTotalTime += d
	}

	// ---- Hesitation ----
	score := t.hesitationScore(g, active, pressure)
	enter := cfg.HesitationEnter
	if g.toward > cfg.HesitationBonusToward || g.closing {
		enter += cfg.HesitationEnterBonus
	}
	suppression := ""
	switch {
	case pressure && g.dist < cfg.RepositionClosingDist && g.lateral > cfg.RepositionMinLateral &&
		g.accel > cfg.RepositionMaxDecel && g.speed > cfg.RepositionMinSpeed:
		t.c.SuppressedHesitationReposition++
		score *= cfg.RepositionFactor
		suppression = "repositioning"
	case pressure && math.Abs(self.Pos.Y) > cfg.SetupWallY && g.speed < cfg.SetupMaxSpeed && g.toward > cfg.SetupMinToward:
		t.c.SuppressedHesitationSetup++
		score *= cfg.SetupFactor
		suppression = "wall_setup"
	case pressure && g.movingAway && g.dist > cfg.SpacingMinDist && g.speed > cfg.SpacingMinSpeed && g.toward > cfg.SpacingMinToward:
		t.c.SuppressedHesitationSpacing++
		score *= cfg.SpacingFactor
		suppression = "spacing_adjust"
	}
	if pressure && score >= cfg.HesitationFrame && score >= enter-cfg.HesitationFrameSlack {
		t.c.HesitationFrames++
	}
	if ev, ok := t.stepHesitation(g.now, score, pressure, suppression, enter); ok {
		emitted = append(emitted, ev)
	}

	// ---- Supersonic ----
	if g.speed > cfg.SupersonicSpeed {
		t.c.SupersonicFrames++
		if pressure || g.toward > cfg.UsefulSupersonicToward {
			t.c.UsefulSupersonicFrames++
		}
	}

	// ---- Boost ----
	if used := t.boost.drop(self.Boost); used > 0 {
		t.c.TotalBoostUsed += used
		if pressure || g.toward > cfg.BoostUsefulToward || g.accel > cfg.BoostUsefulAccel {
			t.c.UsefulBoost += used
		} else {
			t.c.WastedBoost += used
		}
		if g.closing {
			t.c.ApproachBoost += used
		}
	}
	if t.started {
		t.c.ApproachProgress += math.Max(0, t.prevDist-g.dist)
	}

	// ---- Whiff attack window ----
	ballAccel := g.ball.Vel.Sub(t.prevBallVel).Norm() / math.Max(g.dt, 1e-6)
	ballHit := ballAccel > cfg.BallHitAccel
	t.stepAttack(g)

	selfTouched := t.selfTouched(g.ball, g.now)
	otherTouched := t.otherTouched(g.ball, g.now)
	if ballHit && t.attack.active() && !selfTouched && t.attack.minDist <= cfg.ContestMinAttackDist {
		t.noteContest(g)
	}
	switch {
	case selfTouched:
		t.lastTouch = g.now
		t.attack.reset()
	case ballHit && t.attack.active() && t.attack.minDist < cfg.WhiffTouchSuppress:
		t.lastTouch = g.now
		t.attack.reset()
	}

	if t.attack.active() {
		timedOut := g.now-t.attack.start > cfg.WhiffMaxApproach
		disengaged := g.movingAway && t.attack.closingFrames > 0
		if timedOut || disengaged {
			if ev, ok := t.finalizeWhiff(g, otherTouched); ok {
				emitted = append(emitted, ev)
			}
			t.attack.reset()
		}
	}

	// ---- Sample ----
	t.record(g.now, g.speed, score)

	t.started = true
	t.prevT = g.now
	t.prevBallVel = g.ball.Vel
	t.prevDist = g.dist
	t.prevSpeed = g.speed
	t.boost.commit(self.Boost)
	return emitted
}

func (t *tracker) hesitationScore(g frameGeom, active, pressure bool) float64 {
	cfg := t.cfg
	if !active || !pressure || g.airborne {
		return 0
	}
	if g.now-t.recovery.lastLanding <= cfg.HesitationGrace {
		return 0
	}
	progress := 1 - model.Clamp01(math.Max(0, g.toward)/progressFullToward)
	turning := model.Clamp01(g.lateral / math.Max(turningMinSpeed, g.speed))
	accel := model.Clamp01((accelPenaltyBase - g.accel) / accelPenaltySpan)
	threat := model.Clamp01((cfg.PressureDistance - t.prevDist) / cfg.PressureDistance)

	w := cfg.HesitationWeights
	score := w.Progress*progress + w.Turning*turning + w.Accel*accel
	score *= 0.6 + 0.4*threat
	if g.self.Boost < cfg.LowBoost && g.toward > cfg.LowBoostAdvanceToward {
		score *= cfg.LowBoostFactor
	}
	return model.Clamp01(score)
}

func (t *tracker) stepHesitation(now, score float64, pressure bool, suppression string, enter float64) (model.Event, bool) {
	if !pressure {
		if t.hes.phase == hesitationStreak {
			t.hes.end(now)
		}
		return model.Event{}, false
	}
	var (
		ev      model.Event
		emitted bool
	)
	if t.hes.phase == hesitationIdle && score >= enter {
		t.hes.phase = hesitationStreak
		t.hes.start = now
		if now-t.lastHesitation < t.cfg.HesitationCooldown {
			// Streak is still tracked for the max-streak stat, it just doesn't emit.
			t.c.SuppressedHesitationCooldown++
		} else {
			ev = t.hesitationEvent(now, score, suppression)
			t.push(ev)
			t.lastHesitation = now
			emitted = true
		}
	}
	if t.hes.phase == hesitationStreak && score <= t.cfg.HesitationExit {
		t.hes.end(now)
	}
	return ev, emitted
}

func (t *tracker) hesitationEvent(now, score float64, suppression string) model.Event {
	ctx := []string{"pressure"}
	if suppression != "" {
		ctx = append(ctx, "suppression_override="+suppression)
	}
	return model.Event{
		Time:              model.Round(now, 3),
		Type:              model.EventHesitation,
		Reason:            "indecision_under_pressure",
		Distance:          model.Round(t.prevDist, 2),
		Confidence:        model.Round(score, 3),
		Opportunity:       model.Round(score, 3),
		Context:           ctx,
		IntentFlags:       []string{"hesitation_window"},
		SuppressionReason: suppression,
	}
}

func (t *tracker) stepAttack(g frameGeom) {
	cfg := t.cfg
	a := &t.attack
	if !a.active() {
		byClosing := g.closing && g.dist < cfg.WhiffApproachStart
		byNear := g.dist < cfg.WhiffNear && g.speed > cfg.WhiffNearMinSpeed
		byAir := g.airborne && g.dist < cfg.WhiffAirStart && g.self.Vel.Z > cfg.JumpVelZ
		if byClosing || byNear || byAir {
			a.begin(g.now, g.dist)
		}
	}
	if !a.active() {
		return
	}
	a.minDist = math.Min(a.minDist, g.dist)
	if g.closing {
		a.closingFrames++
	}
	if g.dist <= cfg.WhiffNear {
		a.nearFrames++
	}
	if math.Abs(g.toward) > intentToward || g.speed > intentSpeed || g.airborne {
		a.intentFrames++
	}
	if g.airborne && g.self.Vel.Z > cfg.JumpVelZ {
		a.hadJump = true
	}
	if g.airborne && g.self.AngVel.Norm() > cfg.FlipAngVel && g.speed > cfg.FlipMinSpeed {
		a.hadFlip = true
	}
}

func (t *tracker) noteContest(g frameGeom) {
	cfg := t.cfg
	if g.near.ballDist > cfg.ContestBallRadius || g.near.selfDist > cfg.ContestPlayerRadius {
		return
	}
	ballFactor := model.Clamp01((cfg.ContestBallRadius - g.near.ballDist) / cfg.ContestBallRadius)
	selfFactor := model.Clamp01((cfg.ContestPlayerRadius - g.near.selfDist) / cfg.ContestPlayerRadius)
	conf := 0.55*ballFactor + 0.45*selfFactor
	if conf < cfg.ContestMinConfidence {
		return
	}
	t.contest = contestMemory{time: g.now, confidence: conf, minDist: t.attack.minDist}
}

// finalizeWhiff decides whether the closing attack window was a miss. The
// caller resets the window afterwards.
func (t *tracker) finalizeWhiff(g frameGeom, otherTouched bool) (model.Event, bool) {
	cfg := t.cfg
	a := t.attack
	if g.now-t.lastTouch <= cfg.WhiffRecentTouch {
		return model.Event{}, false
	}
	if a.minDist > cfg.WhiffCloseMiss || a.minDist <= cfg.WhiffTouchSuppress {
		return model.Event{}, false
	}

	duration := math.Max(1e-6, g.now-a.start)
	progress := math.Max(0, a.startDist-a.minDist)
	jumpedOver := a.hadJump && g.self.Pos.Z > g.ball.Pos.Z+cfg.JumpOverZMargin

	contested := t.contest.recent(g.now, cfg.ContestWindow)
	if contested {
		clearMiss := (a.hadFlip && a.minDist > contestFlipMissDist) ||
			(jumpedOver && a.minDist > contestJumpMissDist) ||
			(progress < contestMinProgress && g.movingAway)
		if !clearMiss {
			t.c.ContestSuppressedWhiffs++
			return model.Event{}, false
		}
		t.c.ClearMissUnderContest++
	}

	w := cfg.OpportunityWeights
	opportunity := w.Progress*model.Clamp01(progress/240) +
		w.Near*model.Clamp01(float64(a.nearFrames)*frameSeconds/0.24) +
		w.Intent*model.Clamp01(float64(a.intentFrames)*frameSeconds/0.30) +
		w.Duration*model.Clamp01(duration/0.40)
	if opportunity < cfg.WhiffOpportunityMin {
		return model.Event{}, false
	}

	switch {
	case a.hadFlip && g.movingAway && g.toward > flipCommitToward:
		t.c.SuppressedWhiffFlipCommit++
		return model.Event{}, false
	case g.movingAway && g.speed >= cfg.DisengageSpeedMin && g.ballSpeed >= cfg.DisengageBallSpeedMin &&
		a.minDist > cfg.DisengageMinDist:
		t.c.SuppressedWhiffDisengage++
		return model.Event{}, false
	case g.near.selfDist < cfg.BumpSelfToOtherMax && g.near.ballDist > cfg.BumpOtherToBallMin &&
		g.near.towardSelf > cfg.BumpMinToward && g.movingAway:
		t.c.SuppressedWhiffBumpIntent++
		return model.Event{}, false
	case otherTouched && g.movingAway:
		t.c.SuppressedWhiffOpponentTouch++
		return model.Event{}, false
	case g.now-t.lastWhiff <= cfg.WhiffCooldown:
		t.c.SuppressedWhiffCooldown++
		return model.Event{}, false
	}

	reason := "drive_miss"
	switch {
	case a.hadFlip:
		reason = "flip_miss"
	case jumpedOver:
		reason = "jump_miss"
	case g.speed < slowControlSpeed || g.toward < slowControlToward:
		reason = "slow_control_miss"
	}
	var ctx []string
	if g.speed < lowSpeedContext {
		ctx = append(ctx, "low_speed")
	}
	if g.self.Pos.Z > airborneContextZ {
		ctx = append(ctx, "airborne")
	}
	if contested {
		ctx = append(ctx, "contested_clear_miss")
	}
	if a.hadFlip {
		ctx = append(ctx, "flip_attempt")
	}
	contestConf := 0.0
	if contested {
		contestConf = t.contest.confidence
	}

	ev := model.Event{
		Time:              model.Round(g.now, 3),
		Type:              model.EventWhiff,
		Reason:            reason,
		Distance:          model.Round(a.minDist, 2),
		Opportunity:       model.Round(opportunity, 3),
		Confidence:        model.Round(model.Clamp01(0.5+0.5*opportunity), 3),
		ContestConfidence: model.Round(contestConf, 3),
		Context:           ctx,
		IntentFlags:       []string{"whiff_attempt"},
	}
	t.push(ev)
	t.lastWhiff = g.now
	return ev, true
}

// push appends to the recent-events buffer, dropping the oldest past capacity.
func (t *tracker) push(ev model.Event) {
	t.events = append(t.events, ev)
	if over := len(t.events) - t.cfg.EventBuffer; over > 0 {
		t.events = append(t.events[:0:0], t.events[over:]...)
	}
}

func (t *tracker) countRecent(now float64, typ model.EventType) int {
	cutoff := now - t.cfg.WindowSeconds
	n := 0
	for _, e := range t.events {
		if e.Type == typ && e.Time >= cutoff {
			n++
		}
	}
	return n
}

func (t *tracker) record(now, speed, score float64) {
	c := t.c
	s := model.MetricSample{
		T:                   now,
		Speed:               speed,
		HesitationScore:     score,
		HesitationPct:       100 * float64(c.HesitationFrames) / float64(max(1, c.PressureFrames)),
		BoostWastePct:       100 * c.WastedBoost / math.Max(1e-6, c.TotalBoostUsed),
		SupersonicPct:       100 * float64(c.SupersonicFrames) / float64(max(1, c.TotalFrames)),
		UsefulSupersonicPct: 100 * float64(c.UsefulSupersonicFrames) / float64(max(1, c.SupersonicFrames)),
		PressurePct:         100 * float64(c.PressureFrames) / float64(max(1, c.TotalFrames)),
		WhiffRatePerMin:     float64(t.countRecent(now, model.EventWhiff)) * 60 / math.Max(1e-6, t.cfg.WindowSeconds),
		ApproachEfficiency:  c.ApproachProgress / math.Max(1e-6, c.ApproachBoost),
		RecoveryTimeAvg:     c.RecoveryTotalTime / float64(max(1, c.RecoveryCount)),
	}
	t.samples = append(t.samples, s)
	t.last, t.hasLast = s, true

	drop := 0
	for drop < len(t.samples) && now-t.samples[drop].T > t.cfg.WindowSeconds {
		drop++
	}
	if drop > 0 {
		t.samples = append(t.samples[:0:0], t.samples[drop:]...)
	}
}
