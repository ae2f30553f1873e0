package fingerprintdb

// LocationRecord is one classification result kept for later review.
type LocationRecord struct {
	SphereID    string  `json:"sphere_id"`
	LocationID  string  `json:"location_id,omitempty"`
	Known       bool    `json:"known"`
	Confidence  float64 `json:"confidence"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// RecordLocation appends one result to the location history.
func (db *DB) RecordLocation(r LocationRecord) error {
	var loc any
	if r.LocationID != "" {
		loc = r.LocationID
	}
	_, err := db.Exec(
		`INSERT INTO location_history (sphere_id, location_id, known, confidence, timestamp_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		r.SphereID, loc, r.Known, r.Confidence, r.TimestampMs,
	)
	return err
}

// RecentLocations returns up to limit results for a sphere, newest first.
func (db *DB) RecentLocations(sphereID string, limit int) ([]LocationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT sphere_id, COALESCE(location_id, ''), known, confidence, timestamp_ms
		FROM location_history
		WHERE sphere_id = ?
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT ?`, sphereID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocationRecord
	for rows.Next() {
		var r LocationRecord
		if err := rows.Scan(&r.SphereID, &r.LocationID, &r.Known, &r.Confidence, &r.TimestampMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneLocations deletes history older than cutoffMs and returns how many
// rows went.
func (db *DB) PruneLocations(cutoffMs int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM location_history WHERE timestamp_ms < ?`, cutoffMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
