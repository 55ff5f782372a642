package storage

import (
	"errors"
	"testing"

	"github.com/pable/go-rl-metrics/internal/model"
)

func openMemDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// makeAnalysis builds a one-player session with a whiff, a hesitation, two
// mechanic events and grades for every mechanic.
func makeAnalysis(hash, analyzedAt string, overall float64) *model.SessionAnalysis {
	grades := make([]model.MechanicGrade, 0, len(model.Mechanics))
	for i, m := range model.Mechanics {
		grades = append(grades, model.MechanicGrade{
			Mechanic: m, Title: m.Title(), Score: 40 + float64(i)*5, Confidence: 0.5,
			EventCount: i, MeanQuality: 0.5, Hint: "keep_training",
		})
	}
	return &model.SessionAnalysis{
		Summary: model.SessionSummary{
			Hash: hash, RunID: "run-" + hash, Source: "/tmp/" + hash + ".jsonl.gz",
			AnalyzedAt: analyzedAt, FrameCount: 600, DurationS: 10, BlueScore: 2, OrangeScore: 1,
		},
		Players: []model.PlayerAnalysis{{
			Player: "alice",
			Team:   model.TeamBlue,
			Metrics: model.CurrentMetrics{
				HesitationPct: 12.5, BoostWastePct: 30, PressurePct: 40, RecoveryTimeAvg: 0.8,
				Counters: model.StreamCounters{TotalFrames: 600, RecoveryCount: 3},
			},
			Samples: []model.MetricSample{{T: 0, Speed: 100}, {T: 0.5, Speed: 800}},
			Candidates: make([]model.Event, 4),
			Events: []model.Event{
				{Time: 1.2, Type: model.EventWhiff, Reason: "flip_miss", Context: []string{"pressure", "airborne"}, IntentFlags: []string{"whiff_attempt", "flip"}, CommitSignal: "flip", DecisionVersion: "whiff_v2_windowed"},
				{Time: 4.0, Type: model.EventHesitation, Reason: "indecision_under_pressure"},
			},
			Suppressions: map[string]int{"fake_challenge": 1, "cooldown": 1},
			Mechanics: model.MechanicReport{
				Overall: overall,
				Grades:  grades,
				Events: []model.MechanicEvent{
					{Mechanic: model.MechKickoff, Short: "KO", Time: 1.5, Quality: 0.9, Label: model.LabelGood, Player: "alice", HasWindow: true, WindowEnd: 1.5},
					{Mechanic: model.MechCarry, Short: "DRB", Time: 6, Quality: 0.3, Label: model.LabelBad, Player: "alice"},
				},
			},
		}},
	}
}

func TestSessionSaveAndExists(t *testing.T) {
	db := openMemDB(t)
	if err := db.SaveSession(makeAnalysis("abc123", "2026-01-01T10:00:00Z", 60)); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	exists, err := db.SessionExists("abc123")
	if err != nil {
		t.Fatalf("SessionExists: %v", err)
	}
	if !exists {
		t.Error("expected session to exist after insert")
	}
	if exists, _ := db.SessionExists("nonexistent"); exists {
		t.Error("expected unknown session to not exist")
	}
}

func TestListSessions(t *testing.T) {
	db := openMemDB(t)
	for _, a := range []*model.SessionAnalysis{
		makeAnalysis("h1", "2026-01-01T10:00:00Z", 50),
		makeAnalysis("h2", "2026-02-01T10:00:00Z", 55),
	} {
		if err := db.SaveSession(a); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}
	list, err := db.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 || list[0].Hash != "h2" {
		t.Fatalf("list = %+v, want newest first", list)
	}
	if list[1].RunID != "run-h1" || list[1].BlueScore != 2 || list[1].FrameCount != 600 {
		t.Errorf("session row = %+v", list[1])
	}
}

func TestGetSessionByPrefix(t *testing.T) {
	db := openMemDB(t)
	if err := db.SaveSession(makeAnalysis("deadbeef", "2026-01-01T10:00:00Z", 50)); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	s, err := db.GetSessionByPrefix("dead")
	if err != nil {
		t.Fatalf("GetSessionByPrefix: %v", err)
	}
	if s.Hash != "deadbeef" {
		t.Errorf("hash = %s", s.Hash)
	}
	if _, err := db.GetSessionByPrefix("zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPlayerDetailRoundTrip(t *testing.T) {
	db := openMemDB(t)
	if err := db.SaveSession(makeAnalysis("h1", "2026-01-01T10:00:00Z", 61.5)); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	events, err := db.GetEvents("h1", "alice")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 || events[0].Type != model.EventWhiff || events[0].CommitSignal != "flip" {
		t.Fatalf("events = %+v", events)
	}
	if len(events[0].IntentFlags) != 2 || events[0].IntentFlags[1] != "flip" || len(events[0].Context) != 2 {
		t.Errorf("lists = %v %v", events[0].Context, events[0].IntentFlags)
	}
	if events[1].Context != nil {
		t.Errorf("empty context decoded as %v", events[1].Context)
	}

	grades, err := db.GetMechanicGrades("h1", "alice")
	if err != nil {
		t.Fatalf("GetMechanicGrades: %v", err)
	}
	if len(grades) != len(model.Mechanics) || grades[0].Mechanic != model.MechKickoff {
		t.Fatalf("grades = %+v", grades)
	}
	for i := 1; i < len(grades); i++ {
		if grades[i].Score < grades[i-1].Score {
			t.Errorf("grades not weakest first at %d", i)
		}
	}

	mev, err := db.GetMechanicEvents("h1", "alice")
	if err != nil {
		t.Fatalf("GetMechanicEvents: %v", err)
	}
	if len(mev) != 2 || !mev[0].HasWindow || mev[1].Label != model.LabelBad {
		t.Errorf("mechanic events = %+v", mev)
	}

	sup, err := db.GetSuppressions("h1", "alice")
	if err != nil {
		t.Fatalf("GetSuppressions: %v", err)
	}
	if sup["fake_challenge"] != 1 || sup["cooldown"] != 1 {
		t.Errorf("suppressions = %v", sup)
	}

	samples, err := db.GetStreamMetrics("h1", "alice")
	if err != nil {
		t.Fatalf("GetStreamMetrics: %v", err)
	}
	if len(samples) != 2 || samples[1].Speed != 800 {
		t.Errorf("samples = %+v", samples)
	}

	players, err := db.GetSessionPlayers("h1")
	if err != nil {
		t.Fatalf("GetSessionPlayers: %v", err)
	}
	if len(players) != 1 || players[0].Whiffs != 1 || players[0].Hesitations != 1 || players[0].Overall != 61.5 {
		t.Fatalf("players = %+v", players)
	}
	if players[0].Scores[model.MechCarry] != 75 {
		t.Errorf("carry score = %.1f, want 75", players[0].Scores[model.MechCarry])
	}
}

func TestSaveIdempotency(t *testing.T) {
	db := openMemDB(t)
	a := makeAnalysis("h1", "2026-01-01T10:00:00Z", 50)
	for i := 0; i < 2; i++ {
		if err := db.SaveSession(a); err != nil {
			t.Fatalf("SaveSession #%d: %v", i+1, err)
		}
	}
	_, rows, err := db.QueryRaw("SELECT COUNT(1) FROM events")
	if err != nil {
		t.Fatalf("QueryRaw: %v", err)
	}
	if rows[0][0] != "2" {
		t.Errorf("events after double save = %s, want 2", rows[0][0])
	}
}

func TestDeleteSession(t *testing.T) {
	db := openMemDB(t)
	if err := db.SaveSession(makeAnalysis("h1", "2026-01-01T10:00:00Z", 50)); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := db.DeleteSession("h1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	for _, table := range childTables {
		_, rows, err := db.QueryRaw("SELECT COUNT(1) FROM " + table)
		if err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if rows[0][0] != "0" {
			t.Errorf("%s still has %s rows", table, rows[0][0])
		}
	}
	if err := db.DeleteSession("h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestPlayerTrendAndAverages(t *testing.T) {
	db := openMemDB(t)
	for _, a := range []*model.SessionAnalysis{
		makeAnalysis("h1", "2026-01-01T10:00:00Z", 50),
		makeAnalysis("h2", "2026-02-01T10:00:00Z", 70),
	} {
		if err := db.SaveSession(a); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}
	trend, err := db.PlayerTrend("alice")
	if err != nil {
		t.Fatalf("PlayerTrend: %v", err)
	}
	if len(trend) != 2 || trend[0].Hash != "h1" || trend[1].Overall != 70 {
		t.Fatalf("trend = %+v", trend)
	}

	hashes, err := db.RecentSessionHashes("alice", 1)
	if err != nil {
		t.Fatalf("RecentSessionHashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != "h2" {
		t.Fatalf("recent = %v", hashes)
	}

	avgs, err := db.MechanicAverages("alice", []string{"h1", "h2"})
	if err != nil {
		t.Fatalf("MechanicAverages: %v", err)
	}
	if len(avgs) != len(model.Mechanics) || avgs[0].Mechanic != string(model.MechKickoff) || avgs[0].Sessions != 2 {
		t.Errorf("averages = %+v", avgs)
	}

	reasons, err := db.EventReasons("alice", []string{"h1", "h2"})
	if err != nil {
		t.Fatalf("EventReasons: %v", err)
	}
	if len(reasons) != 2 || reasons[0].Count != 2 {
		t.Errorf("reasons = %+v", reasons)
	}

	ov, err := db.GetOverview()
	if err != nil {
		t.Fatalf("GetOverview: %v", err)
	}
	if ov.TotalSessions != 2 || ov.UniquePlayers != 1 || ov.TotalEvents != 4 || ov.TotalMechanics != 4 {
		t.Errorf("overview = %+v", ov)
	}
}

func TestQueryRaw(t *testing.T) {
	db := openMemDB(t)
	cols, rows, err := db.QueryRaw("SELECT 1 AS one, NULL AS empty, 'x' AS s")
	if err != nil {
		t.Fatalf("QueryRaw: %v", err)
	}
	if len(cols) != 3 || cols[0] != "one" || cols[1] != "empty" {
		t.Errorf("cols = %v", cols)
	}
	if len(rows) != 1 || rows[0][0] != "1" || rows[0][1] != "NULL" || rows[0][2] != "x" {
		t.Errorf("rows = %v", rows)
	}
	if _, _, err := db.QueryRaw("SELECT * FROM missing_table"); err == nil {
		t.Error("expected error for unknown table")
	}
}
