package model

import "math"

// Team is the side a player is on. Team 0 defends the negative-y goal.
type Team int

const (
	TeamBlue   Team = 0
	TeamOrange Team = 1
)

func (t Team) String() string {
	switch t {
	case TeamBlue:
		return "BLUE"
	case TeamOrange:
		return "ORANGE"
	default:
		return "?"
	}
}

// Valid reports whether t is one of the two playing sides.
func (t Team) Valid() bool { return t == TeamBlue || t == TeamOrange }

// Opponent returns the other side.
func (t Team) Opponent() Team {
	if t == TeamOrange {
		return TeamBlue
	}
	return TeamOrange
}

// Field geometry.
const (
	GoalY      = 5120.0
	BallRestZ  = 93.0
	FarAway    = 99999.0
	DefaultDT  = 1.0 / 60.0
	GroundZMax = 35.0
)

// OwnGoalY returns the y coordinate of the goal t defends.
func (t Team) OwnGoalY() float64 {
	if t == TeamOrange {
		return GoalY
	}
	return -GoalY
}

// OppGoalY returns the y coordinate of the goal t attacks.
func (t Team) OppGoalY() float64 { return -t.OwnGoalY() }

// ---- Geometry ----

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3       { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3       { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(k float64) Vec3  { return Vec3{v.X * k, v.Y * k, v.Z * k} }
func (v Vec3) Dot(o Vec3) float64    { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Norm() float64         { return math.Sqrt(v.Dot(v)) }
func (v Vec3) DistTo(o Vec3) float64 { return v.Sub(o).Norm() }

// Unit returns v normalised, or the zero vector when v is (nearly) zero.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n <= 1e-6 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

// Quat is an orientation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat is the neutral orientation.
var IdentityQuat = Quat{W: 1}

// Rotator is the Euler orientation reported alongside the quaternion.
type Rotator struct {
	Pitch, Yaw, Roll float64
}

// ---- Frames ----

// Touch is the simulator's last registered ball touch.
type Touch struct {
	Player string
	Time   float64
}

type BallState struct {
	Pos, Vel, AngVel Vec3
	Rot              Rotator
	Quat             Quat
	LatestTouch      *Touch // nil when the source does not report touches
}

// Speed returns |Vel|.
func (b BallState) Speed() float64 { return b.Vel.Norm() }

type PlayerState struct {
	Name             string
	Team             Team
	Pos, Vel, AngVel Vec3
	Rot              Rotator
	Quat             Quat
	Boost            float64 // 0..100
	Jumped           bool
	DoubleJumped     bool
	OnGround         bool
	Demolished       bool
}

// Speed returns |Vel|.
func (p PlayerState) Speed() float64 { return p.Vel.Norm() }

// Scoreboard is the goal count at a tick.
type Scoreboard struct {
	Blue, Orange int
}

// Frame is one immutable tick of the match.
type Frame struct {
	Index        int
	T            float64
	Ball         BallState
	Players      []PlayerState
	Scores       Scoreboard
	ClockSeconds float64
	Overtime     bool
	KickoffPause bool
}

// Player returns the state of the named player in f.
func (f *Frame) Player(name string) (PlayerState, bool) {
	for i := range f.Players {
		if f.Players[i].Name == name {
			return f.Players[i], true
		}
	}
	return PlayerState{}, false
}

// BallDist returns the distance between the named player and the ball,
// or FarAway when the player is absent.
func (f *Frame) BallDist(name string) float64 {
	p, ok := f.Player(name)
	if !ok {
		return FarAway
	}
	return p.Pos.DistTo(f.Ball.Pos)
}

// Times returns the timestamps of a timeline.
func Times(timeline []Frame) []float64 {
	out := make([]float64, len(timeline))
	for i := range timeline {
		out[i] = timeline[i].T
	}
	return out
}

// ---- Coaching events ----

type EventType string

const (
	EventWhiff      EventType = "whiff"
	EventHesitation EventType = "hesitation"
)

// Event is a whiff or hesitation signal. The window, commit and version
// fields are only populated once an event survives refinement.
type Event struct {
	Time               float64
	Type               EventType
	Reason             string
	Distance           float64
	Opportunity        float64
	Confidence         float64
	Context            []string
	IntentFlags        []string
	ContestConfidence  float64
	SuppressionReason  string
	OpportunityBlocked bool

	WindowStart     float64
	WindowEnd       float64
	ContactRadius   float64
	CommitSignal    string
	DecisionVersion string
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	if e.Context != nil {
		out.Context = append([]string(nil), e.Context...)
	}
	if e.IntentFlags != nil {
		out.IntentFlags = append([]string(nil), e.IntentFlags...)
	}
	return out
}

// MetricSample is the derived per-frame scalar snapshot.
type MetricSample struct {
	T                   float64
	Speed               float64
	HesitationScore     float64
	HesitationPct       float64
	BoostWastePct       float64
	SupersonicPct       float64
	UsefulSupersonicPct float64
	PressurePct         float64
	WhiffRatePerMin     float64
	ApproachEfficiency  float64
	RecoveryTimeAvg     float64
}

// Point is one entry of a per-metric history series.
type Point struct {
	T, V float64
}

// StreamCounters are the cumulative session counters of the streaming engine.
type StreamCounters struct {
	TotalFrames            int
	ActiveFrames           int
	PressureFrames         int
	PressureGatedFrames    int
	HesitationFrames       int
	SupersonicFrames       int
	UsefulSupersonicFrames int

	TotalBoostUsed   float64
	WastedBoost      float64
	UsefulBoost      float64
	ApproachProgress float64
	ApproachBoost    float64

	RecoveryCount     int
	RecoveryTotalTime float64

	ContestSuppressedWhiffs        int
	ClearMissUnderContest          int
	SuppressedWhiffFlipCommit      int
	SuppressedWhiffDisengage       int
	SuppressedWhiffBumpIntent      int
	SuppressedWhiffOpponentTouch   int
	SuppressedWhiffCooldown        int
	SuppressedHesitationReposition int
	SuppressedHesitationSetup      int
	SuppressedHesitationSpacing    int
	SuppressedHesitationCooldown   int
}

// CurrentMetrics is the scalar part of a streaming snapshot.
type CurrentMetrics struct {
	Timestamp              float64
	Speed                  float64
	HesitationScore        float64
	HesitationPct          float64
	BoostWastePct          float64
	SupersonicPct          float64
	UsefulSupersonicPct    float64
	PressurePct            float64
	WhiffRatePerMin        float64
	ApproachEfficiency     float64
	RecoveryTimeAvg        float64
	HesitationStreakMax    float64
	WhiffEventsRecent      int
	HesitationEventsRecent int
	Counters               StreamCounters
}

// ---- Mechanics ----

type MechanicID string

const (
	MechKickoff       MechanicID = "kickoff"
	MechShadow        MechanicID = "shadow_defense"
	MechChallenge     MechanicID = "challenge"
	MechFiftyFifty    MechanicID = "fifty_fifty_control"
	MechAerialOffense MechanicID = "aerial_offense"
	MechAerialDefense MechanicID = "aerial_defense"
	MechFlick         MechanicID = "flicking"
	MechCarry         MechanicID = "carrying_dribbling"
)

// Mechanics is the canonical mechanic order.
var Mechanics = []MechanicID{
	MechKickoff, MechShadow, MechChallenge, MechFiftyFifty,
	MechAerialOffense, MechAerialDefense, MechFlick, MechCarry,
}

var mechanicShort = map[MechanicID]string{
	MechKickoff:       "KO",
	MechShadow:        "SHD",
	MechChallenge:     "CHAL",
	MechFiftyFifty:    "5050",
	MechAerialOffense: "AOF",
	MechAerialDefense: "ADF",
	MechFlick:         "FLK",
	MechCarry:         "DRB",
}

var mechanicTitle = map[MechanicID]string{
	MechKickoff:       "Kickoff",
	MechShadow:        "Shadow Defense",
	MechChallenge:     "Challenge",
	MechFiftyFifty:    "50/50 Control",
	MechAerialOffense: "Aerial Offense",
	MechAerialDefense: "Aerial Defense",
	MechFlick:         "Flicks",
	MechCarry:         "Carries / Dribbles",
}

var mechanicAliases = map[string]MechanicID{
	"flicking_carry_offense": MechFlick,
}

// ParseMechanic maps a stored identifier (including legacy aliases) to its
// canonical MechanicID.
func ParseMechanic(s string) (MechanicID, bool) {
	if id, ok := mechanicAliases[s]; ok {
		return id, true
	}
	id := MechanicID(s)
	_, ok := mechanicTitle[id]
	return id, ok
}

func (m MechanicID) Short() string {
	if s, ok := mechanicShort[m]; ok {
		return s
	}
	return "MECH"
}

func (m MechanicID) Title() string {
	if s, ok := mechanicTitle[m]; ok {
		return s
	}
	return string(m)
}

// QualityLabel buckets a quality score.
type QualityLabel string

const (
	LabelGood    QualityLabel = "good"
	LabelNeutral QualityLabel = "neutral"
	LabelBad     QualityLabel = "bad"
)

// LabelFor returns the label band for quality q.
func LabelFor(q float64) QualityLabel {
	switch {
	case q >= 0.66:
		return LabelGood
	case q < 0.42:
		return LabelBad
	default:
		return LabelNeutral
	}
}

// MechanicEvent is one scored occurrence of a mechanic.
type MechanicEvent struct {
	Mechanic    MechanicID
	Short       string
	Time        float64
	Quality     float64
	Label       QualityLabel
	Reason      string
	Player      string
	HasWindow   bool // kickoff only
	WindowStart float64
	WindowEnd   float64
}

type Evidence struct {
	Time    float64
	Quality float64
	Reason  string
}

// MechanicGrade aggregates every event of one mechanic.
type MechanicGrade struct {
	Mechanic     MechanicID
	Title        string
	Score        float64 // 0..100
	Confidence   float64 // 0..1
	EventCount   int
	GoodCount    int
	NeutralCount int
	BadCount     int
	MeanQuality  float64
	Stability    float64
	Evidence     []Evidence
	Hint         string
}

// MechanicReport is the grading output for one player.
type MechanicReport struct {
	Version     string
	Player      string
	Overall     float64
	TotalFrames int
	EventCount  int
	Grades      []MechanicGrade
	Events      []MechanicEvent
}

// Grade returns the grade of mechanic m.
func (r MechanicReport) Grade(m MechanicID) (MechanicGrade, bool) {
	for _, g := range r.Grades {
		if g.Mechanic == m {
			return g, true
		}
	}
	return MechanicGrade{}, false
}

// ThresholdCheck is one literal trigger condition re-evaluated for an event.
type ThresholdCheck struct {
	Name      string
	Condition string
	Value     any
	Met       bool
}

type BreakdownItem struct {
	Component string
	Weight    float64
}

type CoachingContext struct {
	Role          string
	PressureProxy string
	DistanceBand  string
}

// Explanation is the reconstructed reasoning for one mechanic event.
type Explanation struct {
	OK             bool
	Error          string
	Mechanic       MechanicID
	Title          string
	Short          string
	EventTime      float64
	Quality        float64
	Quality100     float64
	Label          QualityLabel
	Reason         string
	Thresholds     []ThresholdCheck
	Observed       map[string]any
	Breakdown      []BreakdownItem
	Context        CoachingContext
	Hints          []string
	ConfidenceNote string
	Summary        string
}

// ---- Session-level results ----

// RawSession is a decoded timeline file.
type RawSession struct {
	Hash         string
	Path         string
	Frames       []Frame
	Teams        map[string]Team
	SkippedLines int
	// RepairedLines were kept with one or more ill-typed fields zeroed.
	RepairedLines int
}

// Players returns the player names in first-seen order.
func (r *RawSession) Players() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range r.Frames {
		for _, p := range r.Frames[i].Players {
			if p.Name != "" && !seen[p.Name] {
				seen[p.Name] = true
				out = append(out, p.Name)
			}
		}
	}
	return out
}

// Duration returns the time span covered by the session.
func (r *RawSession) Duration() float64 {
	if len(r.Frames) < 2 {
		return 0
	}
	return r.Frames[len(r.Frames)-1].T - r.Frames[0].T
}

// SessionSummary is the stored header row of an analyzed session.
type SessionSummary struct {
	Hash        string
	RunID       string
	Source      string
	AnalyzedAt  string
	FrameCount  int
	DurationS   float64
	BlueScore   int
	OrangeScore int
	Label       string
}

// PlayerAnalysis is the full pipeline output for one player.
type PlayerAnalysis struct {
	Player       string
	Team         Team
	Metrics      CurrentMetrics
	Samples      []MetricSample
	Candidates   []Event
	Events       []Event
	Suppressions map[string]int
	Diagnostics  map[string]int
	Mechanics    MechanicReport
}

// CountEvents returns the number of refined events of type t.
func (p PlayerAnalysis) CountEvents(t EventType) int {
	n := 0
	for _, e := range p.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// SessionAnalysis is the pipeline output for a whole session.
type SessionAnalysis struct {
	Summary SessionSummary
	Players []PlayerAnalysis
}

// PlayerTrendRow is one session of a player's history.
type PlayerTrendRow struct {
	Hash            string
	AnalyzedAt      string
	Label           string
	Player          string
	Team            Team
	Overall         float64
	Whiffs          int
	Hesitations     int
	HesitationPct   float64
	BoostWastePct   float64
	PressurePct     float64
	RecoveryTimeAvg float64
	Scores          map[MechanicID]float64
}
