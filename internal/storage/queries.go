package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pable/go-rl-metrics/internal/model"
)

// SessionExists returns true if a session with the given hash is already stored.
func (db *DB) SessionExists(hash string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(1) FROM sessions WHERE hash = ?", hash).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveSession stores a full analysis in one transaction, replacing any
// previous analysis of the same session.
func (db *DB) SaveSession(a *model.SessionAnalysis) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s := a.Summary
	if err := clearChildren(tx, s.Hash); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO sessions(hash, run_id, source, analyzed_at, frame_count, duration_s, blue_score, orange_score, label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Hash, s.RunID, s.Source, s.AnalyzedAt, s.FrameCount, s.DurationS,
		s.BlueScore, s.OrangeScore, s.Label,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i := range a.Players {
		if err := insertPlayer(tx, s.Hash, &a.Players[i]); err != nil {
			return fmt.Errorf("insert player %s: %w", a.Players[i].Player, err)
		}
	}
	return tx.Commit()
}

func insertPlayer(tx *sql.Tx, hash string, p *model.PlayerAnalysis) error {
	m := p.Metrics
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO session_players(
			session_hash, player, team, overall_score, candidate_count, whiffs, hesitations,
			hesitation_pct, hesitation_max_s, boost_waste_pct, supersonic_pct, useful_supersonic_pct,
			pressure_pct, whiff_rate_per_min, approach_efficiency, recovery_time_avg_s,
			recovery_count, total_frames
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		hash, p.Player, int(p.Team), p.Mechanics.Overall, len(p.Candidates),
		p.CountEvents(model.EventWhiff), p.CountEvents(model.EventHesitation),
		m.HesitationPct, m.HesitationStreakMax, m.BoostWastePct, m.SupersonicPct, m.UsefulSupersonicPct,
		m.PressurePct, m.WhiffRatePerMin, m.ApproachEfficiency, m.RecoveryTimeAvg,
		m.Counters.RecoveryCount, m.Counters.TotalFrames,
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO stream_metrics(
			session_hash, player, t, speed, hesitation_score, hesitation_pct, boost_waste_pct,
			supersonic_pct, useful_supersonic_pct, pressure_pct, whiff_rate_per_min,
			approach_efficiency, recovery_time_avg_s
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, s := range p.Samples {
		if _, err := stmt.Exec(hash, p.Player, s.T, s.Speed, s.HesitationScore, s.HesitationPct,
			s.BoostWastePct, s.SupersonicPct, s.UsefulSupersonicPct, s.PressurePct,
			s.WhiffRatePerMin, s.ApproachEfficiency, s.RecoveryTimeAvg); err != nil {
			return err
		}
	}

	evStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO events(
			session_hash, player, seq, t, type, reason, distance, opportunity, confidence,
			context, intent_flags, window_start, window_end, contact_radius, commit_signal, decision_version
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer evStmt.Close()
	for i, e := range p.Events {
		if _, err := evStmt.Exec(hash, p.Player, i, e.Time, string(e.Type), e.Reason,
			e.Distance, e.Opportunity, e.Confidence,
			strings.Join(e.Context, ","), strings.Join(e.IntentFlags, ","),
			e.WindowStart, e.WindowEnd, e.ContactRadius, e.CommitSignal, e.DecisionVersion); err != nil {
			return err
		}
	}

	for reason, n := range p.Suppressions {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO suppressions(session_hash, player, reason, count) VALUES (?,?,?,?)`,
			hash, p.Player, reason, n); err != nil {
			return err
		}
	}

	mStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO mechanic_events(
			session_hash, player, seq, mechanic, short, t, quality, label, reason, actor,
			has_window, window_start, window_end
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer mStmt.Close()
	for i, e := range p.Mechanics.Events {
		if _, err := mStmt.Exec(hash, p.Player, i, string(e.Mechanic), e.Short, e.Time, e.Quality,
			string(e.Label), e.Reason, e.Player, boolInt(e.HasWindow), e.WindowStart, e.WindowEnd); err != nil {
			return err
		}
	}

	gStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO mechanic_grades(
			session_hash, player, mechanic, title, score, confidence, event_count,
			good_count, neutral_count, bad_count, mean_quality, stability, hint
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer gStmt.Close()
	for _, g := range p.Mechanics.Grades {
		if _, err := gStmt.Exec(hash, p.Player, string(g.Mechanic), g.Title, g.Score, g.Confidence,
			g.EventCount, g.GoodCount, g.NeutralCount, g.BadCount, g.MeanQuality, g.Stability, g.Hint); err != nil {
			return err
		}
	}
	return nil
}

const sessionCols = `hash, run_id, source, analyzed_at, frame_count, duration_s, blue_score, orange_score, label`

func scanSession(sc interface{ Scan(...any) error }) (model.SessionSummary, error) {
	var s model.SessionSummary
	err := sc.Scan(&s.Hash, &s.RunID, &s.Source, &s.AnalyzedAt, &s.FrameCount, &s.DurationS,
		&s.BlueScore, &s.OrangeScore, &s.Label)
	return s, err
}

// ListSessions returns all stored sessions, newest first.
func (db *DB) ListSessions() ([]model.SessionSummary, error) {
	rows, err := db.conn.Query(`SELECT ` + sessionCols + ` FROM sessions ORDER BY analyzed_at DESC, hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSessionByPrefix finds the first session whose hash starts with prefix.
func (db *DB) GetSessionByPrefix(prefix string) (*model.SessionSummary, error) {
	s, err := scanSession(db.conn.QueryRow(
		`SELECT `+sessionCols+` FROM sessions WHERE hash LIKE ? ORDER BY hash LIMIT 1`, prefix+"%"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", prefix, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session and everything stored under it.
func (db *DB) DeleteSession(hash string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := clearChildren(tx, hash); err != nil {
		return err
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE hash = ?", hash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %q: %w", hash, ErrNotFound)
	}
	return tx.Commit()
}

var childTables = []string{"session_players", "stream_metrics", "events", "suppressions", "mechanic_events", "mechanic_grades"}

func clearChildren(tx *sql.Tx, hash string) error {
	for _, table := range childTables {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE session_hash = ?", hash); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

const trendCols = `s.hash, s.analyzed_at, s.label, p.player, p.team, p.overall_score, p.whiffs, p.hesitations,
	p.hesitation_pct, p.boost_waste_pct, p.pressure_pct, p.recovery_time_avg_s`

func (db *DB) trendRows(where string, arg string) ([]model.PlayerTrendRow, error) {
	rows, err := db.conn.Query(`
		SELECT `+trendCols+`
		FROM session_players p JOIN sessions s ON s.hash = p.session_hash
		WHERE `+where+`
		ORDER BY s.analyzed_at, s.hash, p.player`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlayerTrendRow
	for rows.Next() {
		var r model.PlayerTrendRow
		var team int
		if err := rows.Scan(&r.Hash, &r.AnalyzedAt, &r.Label, &r.Player, &team, &r.Overall,
			&r.Whiffs, &r.Hesitations, &r.HesitationPct, &r.BoostWastePct, &r.PressurePct,
			&r.RecoveryTimeAvg); err != nil {
			return nil, err
		}
		r.Team = model.Team(team)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		scores, err := db.gradeScores(out[i].Hash, out[i].Player)
		if err != nil {
			return nil, err
		}
		out[i].Scores = scores
	}
	return out, nil
}

// GetSessionPlayers returns the per-player summary rows of one session.
func (db *DB) GetSessionPlayers(hash string) ([]model.PlayerTrendRow, error) {
	return db.trendRows("s.hash = ?", hash)
}

// PlayerTrend returns every stored session of player, oldest first.
func (db *DB) PlayerTrend(player string) ([]model.PlayerTrendRow, error) {
	return db.trendRows("p.player = ?", player)
}

func (db *DB) gradeScores(hash, player string) (map[model.MechanicID]float64, error) {
	rows, err := db.conn.Query(`SELECT mechanic, score FROM mechanic_grades WHERE session_hash = ? AND player = ?`, hash, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.MechanicID]float64)
	for rows.Next() {
		var mech string
		var score float64
		if err := rows.Scan(&mech, &score); err != nil {
			return nil, err
		}
		if id, ok := model.ParseMechanic(mech); ok {
			out[id] = score
		}
	}
	return out, rows.Err()
}

// GetMechanicGrades returns player's grades in a session, weakest first.
func (db *DB) GetMechanicGrades(hash, player string) ([]model.MechanicGrade, error) {
	rows, err := db.conn.Query(`
		SELECT mechanic, title, score, confidence, event_count, good_count, neutral_count, bad_count,
		       mean_quality, stability, hint
		FROM mechanic_grades WHERE session_hash = ? AND player = ?`, hash, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MechanicGrade
	for rows.Next() {
		var g model.MechanicGrade
		var mech string
		if err := rows.Scan(&mech, &g.Title, &g.Score, &g.Confidence, &g.EventCount, &g.GoodCount,
			&g.NeutralCount, &g.BadCount, &g.MeanQuality, &g.Stability, &g.Hint); err != nil {
			return nil, err
		}
		g.Mechanic, _ = model.ParseMechanic(mech)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	order := make(map[model.MechanicID]int, len(model.Mechanics))
	for i, m := range model.Mechanics {
		order[m] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return order[out[i].Mechanic] < order[out[j].Mechanic]
	})
	return out, nil
}

// GetEvents returns player's refined events in a session, in time order.
func (db *DB) GetEvents(hash, player string) ([]model.Event, error) {
	rows, err := db.conn.Query(`
		SELECT t, type, reason, distance, opportunity, confidence, context, intent_flags,
		       window_start, window_end, contact_radius, commit_signal, decision_version
		FROM events WHERE session_hash = ? AND player = ? ORDER BY seq`, hash, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var typ, ctx, flags string
		if err := rows.Scan(&e.Time, &typ, &e.Reason, &e.Distance, &e.Opportunity, &e.Confidence,
			&ctx, &flags, &e.WindowStart, &e.WindowEnd, &e.ContactRadius, &e.CommitSignal,
			&e.DecisionVersion); err != nil {
			return nil, err
		}
		e.Type = model.EventType(typ)
		e.Context = splitList(ctx)
		e.IntentFlags = splitList(flags)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetMechanicEvents returns player's scored mechanic events in a session.
func (db *DB) GetMechanicEvents(hash, player string) ([]model.MechanicEvent, error) {
	rows, err := db.conn.Query(`
		SELECT mechanic, short, t, quality, label, reason, actor, has_window, window_start, window_end
		FROM mechanic_events WHERE session_hash = ? AND player = ? ORDER BY seq`, hash, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MechanicEvent
	for rows.Next() {
		var e model.MechanicEvent
		var mech, label string
		var hasWindow int
		if err := rows.Scan(&mech, &e.Short, &e.Time, &e.Quality, &label, &e.Reason, &e.Player,
			&hasWindow, &e.WindowStart, &e.WindowEnd); err != nil {
			return nil, err
		}
		e.Mechanic, _ = model.ParseMechanic(mech)
		e.Label = model.QualityLabel(label)
		e.HasWindow = hasWindow != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSuppressions returns player's refinement suppression counts in a session.
func (db *DB) GetSuppressions(hash, player string) (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT reason, count FROM suppressions WHERE session_hash = ? AND player = ?`, hash, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[reason] = n
	}
	return out, rows.Err()
}

// GetStreamMetrics returns player's stored metric samples in time order.
func (db *DB) GetStreamMetrics(hash, player string) ([]model.MetricSample, error) {
	rows, err := db.conn.Query(`
		SELECT t, speed, hesitation_score, hesitation_pct, boost_waste_pct, supersonic_pct,
		       useful_supersonic_pct, pressure_pct, whiff_rate_per_min, approach_efficiency,
		       recovery_time_avg_s
		FROM stream_metrics WHERE session_hash = ? AND player = ? ORDER BY t`, hash, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var s model.MetricSample
		if err := rows.Scan(&s.T, &s.Speed, &s.HesitationScore, &s.HesitationPct, &s.BoostWastePct,
			&s.SupersonicPct, &s.UsefulSupersonicPct, &s.PressurePct, &s.WhiffRatePerMin,
			&s.ApproachEfficiency, &s.RecoveryTimeAvg); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
