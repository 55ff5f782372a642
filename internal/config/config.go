// Package config holds every tunable threshold of the analysis pipeline.
package config

import (
	"fmt"
)

// Config is the root configuration value. Each component receives its own
// block at construction time so players and sessions never share state.
type Config struct {
	LogLevel string       `koanf:"log_level"`
	Stream   StreamConfig `koanf:"stream"`
	Refine   RefineConfig `koanf:"refine"`
	Grade    GradeConfig  `koanf:"grade"`
}

// HesitationWeights are the blend weights of the hesitation score.
type HesitationWeights struct {
	Progress float64 `koanf:"progress"`
	Turning  float64 `koanf:"turning"`
	Accel    float64 `koanf:"accel"`
}

// OpportunityWeights are the blend weights of the whiff opportunity score.
type OpportunityWeights struct {
	Progress float64 `koanf:"progress"`
	Near     float64 `koanf:"near"`
	Intent   float64 `koanf:"intent"`
	Duration float64 `koanf:"duration"`
}

// StreamConfig tunes the live, no-lookahead engine.
type StreamConfig struct {
	WindowSeconds float64 `koanf:"window_s"`
	EventBuffer   int     `koanf:"event_buffer"`

	SupersonicSpeed        float64 `koanf:"supersonic_speed"`
	UsefulSupersonicToward float64 `koanf:"useful_supersonic_toward"`
	BallHitAccel           float64 `koanf:"ball_hit_accel"`

	ActiveSpeed             float64 `koanf:"active_speed"`
	ActiveDistance          float64 `koanf:"active_distance"`
	PressureDistance        float64 `koanf:"pressure_distance"`
	PressureClosingDistance float64 `koanf:"pressure_closing_distance"`
	PressureMinToward       float64 `koanf:"pressure_min_toward"`
	PressureNearDistance    float64 `koanf:"pressure_near_distance"`
	PressureMinClosingSpeed float64 `koanf:"pressure_min_closing_speed"`

	HesitationEnter       float64           `koanf:"hesitation_enter"`
	HesitationExit        float64           `koanf:"hesitation_exit"`
	HesitationFrame       float64           `koanf:"hesitation_frame"`
	HesitationFrameSlack  float64           `koanf:"hesitation_frame_slack"`
	HesitationGrace       float64           `koanf:"hesitation_grace_s"`
	HesitationEnterBonus  float64           `koanf:"hesitation_enter_bonus"`
	HesitationBonusToward float64           `koanf:"hesitation_bonus_toward"`
	HesitationCooldown    float64           `koanf:"hesitation_cooldown_s"`
	HesitationWeights     HesitationWeights `koanf:"hesitation_weights"`
	LowBoost              float64           `koanf:"low_boost"`
	LowBoostAdvanceToward float64           `koanf:"low_boost_advance_toward"`
	LowBoostFactor        float64           `koanf:"low_boost_factor"`
	RepositionMinLateral  float64           `koanf:"reposition_min_lateral"`
	RepositionMaxDecel    float64           `koanf:"reposition_max_decel"`
	RepositionClosingDist float64           `koanf:"reposition_closing_dist"`
	RepositionMinSpeed    float64           `koanf:"reposition_min_speed"`
	RepositionFactor      float64           `koanf:"reposition_factor"`
	SetupWallY            float64           `koanf:"setup_wall_y"`
	SetupMaxSpeed         float64           `koanf:"setup_max_speed"`
	SetupMinToward        float64           `koanf:"setup_min_toward"`
	SetupFactor           float64           `koanf:"setup_factor"`
	SpacingMinDist        float64           `koanf:"spacing_min_dist"`
	SpacingMinSpeed       float64           `koanf:"spacing_min_speed"`
	SpacingMinToward      float64           `koanf:"spacing_min_toward"`
	SpacingFactor         float64           `koanf:"spacing_factor"`

	BoostUsefulToward float64 `koanf:"boost_useful_toward"`
	BoostUsefulAccel  float64 `koanf:"boost_useful_accel"`

	RecoveryMinAir  float64 `koanf:"recovery_min_air_s"`
	RecoverySpeed   float64 `koanf:"recovery_speed"`
	RecoveryToward  float64 `koanf:"recovery_toward"`
	RecoveryTimeout float64 `koanf:"recovery_timeout_s"`

	WhiffApproachStart    float64            `koanf:"whiff_approach_start"`
	WhiffNear             float64            `koanf:"whiff_near"`
	WhiffNearMinSpeed     float64            `koanf:"whiff_near_min_speed"`
	WhiffAirStart         float64            `koanf:"whiff_air_start"`
	WhiffCloseMiss        float64            `koanf:"whiff_close_miss"`
	WhiffTouchSuppress    float64            `koanf:"whiff_touch_suppress"`
	WhiffMaxApproach      float64            `koanf:"whiff_max_approach_s"`
	WhiffCooldown         float64            `koanf:"whiff_cooldown_s"`
	WhiffRecentTouch      float64            `koanf:"whiff_recent_touch_s"`
	WhiffOpportunityMin   float64            `koanf:"whiff_opportunity_min"`
	OpportunityWeights    OpportunityWeights `koanf:"opportunity_weights"`
	JumpOverZMargin       float64            `koanf:"jump_over_z_margin"`
	JumpVelZ              float64            `koanf:"jump_vel_z"`
	FlipAngVel            float64            `koanf:"flip_ang_vel"`
	FlipMinSpeed          float64            `koanf:"flip_min_speed"`
	DisengageSpeedMin     float64            `koanf:"disengage_speed_min"`
	DisengageBallSpeedMin float64            `koanf:"disengage_ball_speed_min"`
	DisengageMinDist      float64            `koanf:"disengage_min_dist"`
	BumpSelfToOtherMax    float64            `koanf:"bump_self_to_other_max"`
	BumpOtherToBallMin    float64            `koanf:"bump_other_to_ball_min"`
	BumpMinToward         float64            `koanf:"bump_min_toward"`
	OppFirstTouchWindow   float64            `koanf:"opp_first_touch_window_s"`

	ContestWindow        float64 `koanf:"contest_window_s"`
	ContestBallRadius    float64 `koanf:"contest_ball_radius"`
	ContestPlayerRadius  float64 `koanf:"contest_player_radius"`
	ContestMinAttackDist float64 `koanf:"contest_min_attack_dist"`
	ContestMinConfidence float64 `koanf:"contest_min_confidence"`
}

// RefineConfig tunes the retrospective refiner.
type RefineConfig struct {
	WindowPre     float64 `koanf:"window_pre_s"`
	WindowPost    float64 `koanf:"window_post_s"`
	ContactRadius float64 `koanf:"contact_radius"`
	TouchRadius   float64 `koanf:"touch_radius"`
	Cooldown      float64 `koanf:"cooldown_s"`

	HesitationCooldown float64 `koanf:"hesitation_cooldown_s"`

	MovingAwayDelta float64 `koanf:"moving_away_delta"`

	CommitFlipAngSpeed float64 `koanf:"commit_flip_ang_speed"`
	CommitJumpVelZ     float64 `koanf:"commit_jump_vel_z"`
	CommitJumpRise     float64 `koanf:"commit_jump_rise"`
	CommitDriveSpeed   float64 `koanf:"commit_drive_speed"`
	CommitDriveGain    float64 `koanf:"commit_drive_gain"`

	BumpSelfToOtherMax float64 `koanf:"bump_self_to_other_max"`
	BumpOtherToBallMin float64 `koanf:"bump_other_to_ball_min"`
	ResetBoostGain     float64 `koanf:"reset_boost_gain"`
	OppTouchLead       float64 `koanf:"opp_touch_lead"`
	OppTouchBallJump   float64 `koanf:"opp_touch_ball_jump"`

	GateRebound   float64 `koanf:"gate_rebound"`
	GateMinSpeed  float64 `koanf:"gate_min_speed"`
	GatesRequired int     `koanf:"gates_required"`

	RepositionLateral    float64 `koanf:"reposition_lateral"`
	RepositionSpeed      float64 `koanf:"reposition_speed"`
	RepositionMaxRetreat float64 `koanf:"reposition_max_retreat"`
	SetupWallY           float64 `koanf:"setup_wall_y"`
	SetupMinZ            float64 `koanf:"setup_min_z"`
	SetupMaxSpeed        float64 `koanf:"setup_max_speed"`
	SpacingOppLead       float64 `koanf:"spacing_opp_lead"`
	SpacingMinSpeed      float64 `koanf:"spacing_min_speed"`

	WhiffRateWindow float64 `koanf:"whiff_rate_window_s"`
}

// Cooldowns are the per-mechanic re-trigger intervals in seconds.
type Cooldowns struct {
	Shadow        float64 `koanf:"shadow_defense"`
	Challenge     float64 `koanf:"challenge"`
	FiftyFifty    float64 `koanf:"fifty_fifty_control"`
	AerialOffense float64 `koanf:"aerial_offense"`
	AerialDefense float64 `koanf:"aerial_defense"`
	Flick         float64 `koanf:"flicking"`
	Carry         float64 `koanf:"carrying_dribbling"`
}

// GradeConfig tunes mechanic detection and grading.
type GradeConfig struct {
	KickoffCenterMaxDist       float64 `koanf:"kickoff_center_max_dist"`
	KickoffBallSpeedMax        float64 `koanf:"kickoff_ball_speed_max"`
	KickoffWindowTimeout       float64 `koanf:"kickoff_window_timeout_s"`
	KickoffAttemptDist         float64 `koanf:"kickoff_attempt_dist"`
	KickoffAttemptClosingSpeed float64 `koanf:"kickoff_attempt_closing_speed"`
	KickoffAttemptSustain      float64 `koanf:"kickoff_attempt_sustain_s"`
	KickoffTouchMax            float64 `koanf:"kickoff_touch_max_s"`
	KickoffTouchConfidence     float64 `koanf:"kickoff_touch_confidence"`

	TouchRadius      float64   `koanf:"touch_radius"`
	Cooldowns        Cooldowns `koanf:"cooldowns"`
	CarryMinDuration float64   `koanf:"carry_min_duration_s"`

	StabilitySpread    float64 `koanf:"stability_spread"`
	ConfidenceHalfLife float64 `koanf:"confidence_saturation"`
	HintGood           float64 `koanf:"hint_good"`
	HintPriority       float64 `koanf:"hint_priority"`
}

// Default returns the tuned defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Stream: StreamConfig{
			WindowSeconds: 10,
			EventBuffer:   120,

			SupersonicSpeed:        2200,
			UsefulSupersonicToward: 280,
			BallHitAccel:           1500,

			ActiveSpeed:             100,
			ActiveDistance:          2500,
			PressureDistance:        1800,
			PressureClosingDistance: 2400,
			PressureMinToward:       120,
			PressureNearDistance:    800,
			PressureMinClosingSpeed: 600,

			HesitationEnter:       0.72,
			HesitationExit:        0.45,
			HesitationFrame:       0.55,
			HesitationFrameSlack:  0.08,
			HesitationGrace:       0.60,
			HesitationEnterBonus:  0.10,
			HesitationBonusToward: 180,
			HesitationCooldown:    1.5,
			HesitationWeights:     HesitationWeights{Progress: 0.45, Turning: 0.30, Accel: 0.25},
			LowBoost:              8,
			LowBoostAdvanceToward: 180,
			LowBoostFactor:        0.55,
			RepositionMinLateral:  280,
			RepositionMaxDecel:    -260,
			RepositionClosingDist: 1800,
			RepositionMinSpeed:    300,
			RepositionFactor:      0.55,
			SetupWallY:            4300,
			SetupMaxSpeed:         900,
			SetupMinToward:        -120,
			SetupFactor:           0.45,
			SpacingMinDist:        700,
			SpacingMinSpeed:       450,
			SpacingMinToward:      -280,
			SpacingFactor:         0.5,

			BoostUsefulToward: 250,
			BoostUsefulAccel:  120,

			RecoveryMinAir:  0.08,
			RecoverySpeed:   900,
			RecoveryToward:  380,
			RecoveryTimeout: 2.5,

			WhiffApproachStart:    1600,
			WhiffNear:             460,
			WhiffNearMinSpeed:     80,
			WhiffAirStart:         950,
			WhiffCloseMiss:        420,
			WhiffTouchSuppress:    185,
			WhiffMaxApproach:      2.8,
			WhiffCooldown:         0.7,
			WhiffRecentTouch:      0.35,
			WhiffOpportunityMin:   0.52,
			OpportunityWeights:    OpportunityWeights{Progress: 0.35, Near: 0.25, Intent: 0.25, Duration: 0.15},
			JumpOverZMargin:       140,
			JumpVelZ:              250,
			FlipAngVel:            4.5,
			FlipMinSpeed:          280,
			DisengageSpeedMin:     500,
			DisengageBallSpeedMin: 1400,
			DisengageMinDist:      260,
			BumpSelfToOtherMax:    520,
			BumpOtherToBallMin:    700,
			BumpMinToward:         180,
			OppFirstTouchWindow:   0.30,

			ContestWindow:        0.30,
			ContestBallRadius:    380,
			ContestPlayerRadius:  750,
			ContestMinAttackDist: 520,
			ContestMinConfidence: 0.2,
		},
		Refine: RefineConfig{
			WindowPre:     0.4,
			WindowPost:    1.0,
			ContactRadius: 220,
			TouchRadius:   180,
			Cooldown:      0.8,

			HesitationCooldown: 1.5,

			MovingAwayDelta: 180,

			CommitFlipAngSpeed: 4.8,
			CommitJumpVelZ:     240,
			CommitJumpRise:     25,
			CommitDriveSpeed:   800,
			CommitDriveGain:    70,

			BumpSelfToOtherMax: 520,
			BumpOtherToBallMin: 700,
			ResetBoostGain:     8,
			OppTouchLead:       80,
			OppTouchBallJump:   220,

			GateRebound:   140,
			GateMinSpeed:  260,
			GatesRequired: 2,

			RepositionLateral:    260,
			RepositionSpeed:      320,
			RepositionMaxRetreat: 280,
			SetupWallY:           4300,
			SetupMinZ:            260,
			SetupMaxSpeed:        950,
			SpacingOppLead:       120,
			SpacingMinSpeed:      380,

			WhiffRateWindow: 10,
		},
		Grade: GradeConfig{
			KickoffCenterMaxDist:       240,
			KickoffBallSpeedMax:        120,
			KickoffWindowTimeout:       4.0,
			KickoffAttemptDist:         1800,
			KickoffAttemptClosingSpeed: 900,
			KickoffAttemptSustain:      0.25,
			KickoffTouchMax:            2.2,
			KickoffTouchConfidence:     0.55,

			TouchRadius: 260,
			Cooldowns: Cooldowns{
				Shadow:        1.2,
				Challenge:     0.9,
				FiftyFifty:    1.0,
				AerialOffense: 1.8,
				AerialDefense: 1.8,
				Flick:         1.3,
				Carry:         1.0,
			},
			CarryMinDuration: 1.0,

			StabilitySpread:    0.35,
			ConfidenceHalfLife: 6,
			HintGood:           75,
			HintPriority:       60,
		},
	}
}

// Validate rejects configurations whose bands overlap or invert.
func (c Config) Validate() error {
	s := c.Stream
	switch {
	case s.WindowSeconds <= 0:
		return fmt.Errorf("%w: stream.window_s must be positive", ErrInvalidConfig)
	case s.EventBuffer <= 0:
		return fmt.Errorf("%w: stream.event_buffer must be positive", ErrInvalidConfig)
	case s.HesitationExit >= s.HesitationEnter:
		return fmt.Errorf("%w: hesitation exit %.2f must be below enter %.2f", ErrInvalidConfig, s.HesitationExit, s.HesitationEnter)
	case s.WhiffTouchSuppress >= s.WhiffCloseMiss:
		return fmt.Errorf("%w: touch band %.0f must be inside close-miss band %.0f", ErrInvalidConfig, s.WhiffTouchSuppress, s.WhiffCloseMiss)
	case s.WhiffCloseMiss > s.WhiffApproachStart:
		return fmt.Errorf("%w: close-miss band %.0f exceeds attempt band %.0f", ErrInvalidConfig, s.WhiffCloseMiss, s.WhiffApproachStart)
	case s.WhiffMaxApproach <= 0:
		return fmt.Errorf("%w: stream.whiff_max_approach_s must be positive", ErrInvalidConfig)
	case s.WhiffCooldown < 0 || s.HesitationCooldown < 0:
		return fmt.Errorf("%w: stream cooldowns must not be negative", ErrInvalidConfig)
	}
	r := c.Refine
	switch {
	case r.WindowPre < 0 || r.WindowPost <= 0:
		return fmt.Errorf("%w: refine window must be non-negative before and positive after", ErrInvalidConfig)
	case r.GatesRequired < 1 || r.GatesRequired > 3:
		return fmt.Errorf("%w: refine.gates_required must be 1..3, got %d", ErrInvalidConfig, r.GatesRequired)
	case r.WhiffRateWindow <= 0:
		return fmt.Errorf("%w: refine.whiff_rate_window_s must be positive", ErrInvalidConfig)
	case r.Cooldown < 0 || r.HesitationCooldown < 0:
		return fmt.Errorf("%w: refine cooldowns must not be negative", ErrInvalidConfig)
	}
	g := c.Grade
	switch {
	case g.StabilitySpread <= 0:
		return fmt.Errorf("%w: grade.stability_spread must be positive", ErrInvalidConfig)
	case g.ConfidenceHalfLife <= 0:
		return fmt.Errorf("%w: grade.confidence_saturation must be positive", ErrInvalidConfig)
	case g.HintPriority > g.HintGood:
		return fmt.Errorf("%w: grade.hint_priority above grade.hint_good", ErrInvalidConfig)
	}
	return nil
}
