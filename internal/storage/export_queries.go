package storage

import (
	"strings"
)

// Overview holds store-wide counts for the summary command.
type Overview struct {
	TotalSessions  int
	UniquePlayers  int
	TotalFrames    int
	TotalEvents    int
	TotalMechanics int
	Earliest       string
	Latest         string
}

// PlayerActivity is one row of the most-active-players listing.
type PlayerActivity struct {
	Player     string
	Sessions   int
	AvgOverall float64
	Whiffs     int
}

// MechanicAverage is one mechanic's grade averaged over several sessions.
type MechanicAverage struct {
	Mechanic      string
	Title         string
	Sessions      int
	AvgScore      float64
	AvgConfidence float64
	Events        int
	Good          int
	Bad           int
}

// EventReasonCount counts refined events by type and reason.
type EventReasonCount struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// GetOverview returns store-wide counts.
func (db *DB) GetOverview() (Overview, error) {
	var ov Overview
	err := db.conn.QueryRow(`
		SELECT COUNT(1), COALESCE(SUM(frame_count), 0),
		       COALESCE(MIN(analyzed_at), ''), COALESCE(MAX(analyzed_at), '')
		FROM sessions`).Scan(&ov.TotalSessions, &ov.TotalFrames, &ov.Earliest, &ov.Latest)
	if err != nil {
		return ov, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(DISTINCT player) FROM session_players`).Scan(&ov.UniquePlayers); err != nil {
		return ov, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(1) FROM events`).Scan(&ov.TotalEvents); err != nil {
		return ov, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(1) FROM mechanic_events`).Scan(&ov.TotalMechanics); err != nil {
		return ov, err
	}
	return ov, nil
}

// GetTopPlayers returns the players with the most stored sessions.
func (db *DB) GetTopPlayers(limit int) ([]PlayerActivity, error) {
	rows, err := db.conn.Query(`
		SELECT player, COUNT(1), AVG(overall_score), SUM(whiffs)
		FROM session_players
		GROUP BY player
		ORDER BY COUNT(1) DESC, player
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayerActivity
	for rows.Next() {
		var p PlayerActivity
		if err := rows.Scan(&p.Player, &p.Sessions, &p.AvgOverall, &p.Whiffs); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentSessionHashes returns the hashes of player's latest sessions, newest first.
func (db *DB) RecentSessionHashes(player string, limit int) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT s.hash
		FROM session_players p JOIN sessions s ON s.hash = p.session_hash
		WHERE p.player = ?
		ORDER BY s.analyzed_at DESC, s.hash
		LIMIT ?`, player, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MechanicAverages averages player's grades over the given sessions, weakest
// mechanic first.
func (db *DB) MechanicAverages(player string, hashes []string) ([]MechanicAverage, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(hashes)+1)
	args = append(args, player)
	for _, h := range hashes {
		args = append(args, h)
	}
	rows, err := db.conn.Query(`
		SELECT mechanic, MAX(title), COUNT(1), AVG(score), AVG(confidence),
		       SUM(event_count), SUM(good_count), SUM(bad_count)
		FROM mechanic_grades
		WHERE player = ? AND session_hash IN (`+placeholders(len(hashes))+`)
		GROUP BY mechanic
		ORDER BY AVG(score), mechanic`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MechanicAverage
	for rows.Next() {
		var m MechanicAverage
		if err := rows.Scan(&m.Mechanic, &m.Title, &m.Sessions, &m.AvgScore, &m.AvgConfidence,
			&m.Events, &m.Good, &m.Bad); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// EventReasons counts player's refined events by type and reason over the
// given sessions, most frequent first.
func (db *DB) EventReasons(player string, hashes []string) ([]EventReasonCount, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(hashes)+1)
	args = append(args, player)
	for _, h := range hashes {
		args = append(args, h)
	}
	rows, err := db.conn.Query(`
		SELECT type, reason, COUNT(1)
		FROM events
		WHERE player = ? AND session_hash IN (`+placeholders(len(hashes))+`)
		GROUP BY type, reason
		ORDER BY COUNT(1) DESC, type, reason`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventReasonCount
	for rows.Next() {
		var r EventReasonCount
		if err := rows.Scan(&r.Type, &r.Reason, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// placeholders returns a comma-separated string of n "?" for SQL IN clauses,
// e.g. placeholders(3) → "?,?,?".
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
