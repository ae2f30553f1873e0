package fingerprintdb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
)

// Record is one stored fingerprint row.
type Record struct {
	SphereID    string
	LocationID  string
	Fingerprint *fingerprint.Fingerprint
}

// SaveFingerprint upserts fp under (sphereID, locationID). Both the text
// export and the compact binary form are stored. Every save moves the row
// to the end of the load order, matching the in-memory store sequence.
func (db *DB) SaveFingerprint(sphereID, locationID string, fp *fingerprint.Fingerprint) error {
	text, err := fp.MarshalText()
	if err != nil {
		return fmt.Errorf("failed to export fingerprint: %w", err)
	}
	blob, err := fp.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO fingerprints (
			sphere_id, location_id, fingerprint, fingerprint_blob,
			beacon_count, sample_count, finalized_at_ms, updated_at, stored_seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP,
			(SELECT COALESCE(MAX(stored_seq), 0) + 1 FROM fingerprints))
		ON CONFLICT(sphere_id, location_id) DO UPDATE SET
			fingerprint      = excluded.fingerprint,
			fingerprint_blob = excluded.fingerprint_blob,
			beacon_count     = excluded.beacon_count,
			sample_count     = excluded.sample_count,
			finalized_at_ms  = excluded.finalized_at_ms,
			updated_at       = CURRENT_TIMESTAMP,
			stored_seq       = excluded.stored_seq`,
		sphereID, locationID, string(text), blob,
		len(fp.BeaconIDs()), fp.SampleCount(), fp.FinalizedAtMs(),
	)
	if err != nil {
		return fmt.Errorf("failed to save fingerprint %s/%s: %w", sphereID, locationID, err)
	}
	return nil
}

// GetFingerprint loads one fingerprint. It returns (nil, false, nil) when
// the key is absent.
func (db *DB) GetFingerprint(sphereID, locationID string) (*fingerprint.Fingerprint, bool, error) {
	var text string
	var blob []byte
	err := db.QueryRow(
		`SELECT fingerprint, fingerprint_blob FROM fingerprints WHERE sphere_id = ? AND location_id = ?`,
		sphereID, locationID,
	).Scan(&text, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fp, err := decode(text, blob)
	if err != nil {
		return nil, false, fmt.Errorf("fingerprint %s/%s: %w", sphereID, locationID, err)
	}
	return fp, true, nil
}

// DeleteFingerprint removes one row and reports whether it existed.
func (db *DB) DeleteFingerprint(sphereID, locationID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM fingerprints WHERE sphere_id = ? AND location_id = ?`, sphereID, locationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteSphere removes every row of a sphere and returns how many there
// were.
func (db *DB) DeleteSphere(sphereID string) (int64, error) {
	res, err := db.Exec(`DELETE FROM fingerprints WHERE sphere_id = ?`, sphereID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearFingerprints removes every row.
func (db *DB) ClearFingerprints() (int64, error) {
	res, err := db.Exec(`DELETE FROM fingerprints`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Fingerprints loads every stored fingerprint in the order it was last
// saved. A row that
// fails to decode aborts the load with an error wrapping
// fingerprint.ErrMalformed.
func (db *DB) Fingerprints() ([]Record, error) {
	rows, err := db.Query(`
		SELECT sphere_id, location_id, fingerprint, fingerprint_blob
		FROM fingerprints
		ORDER BY stored_seq, sphere_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var text string
		var blob []byte
		if err := rows.Scan(&r.SphereID, &r.LocationID, &text, &blob); err != nil {
			return nil, err
		}
		r.Fingerprint, err = decode(text, blob)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s/%s: %w", r.SphereID, r.LocationID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// decode prefers the binary form and falls back to the text export.
func decode(text string, blob []byte) (*fingerprint.Fingerprint, error) {
	if len(blob) > 0 {
		fp, err := fingerprint.ParseBinary(blob)
		if err == nil {
			return fp, nil
		}
		monitoring.Logf("[fingerprintdb] binary fingerprint unreadable, using text form: %v", err)
	}
	return fingerprint.Parse(text)
}

// Importer receives fingerprints restored from the database.
type Importer interface {
	ImportFingerprint(sphereID, locationID string, fp *fingerprint.Fingerprint) error
}

// LoadInto imports every stored fingerprint into imp, oldest save first,
// and returns how many were imported.
func (db *DB) LoadInto(imp Importer) (int, error) {
	records, err := db.Fingerprints()
	if err != nil {
		return 0, err
	}
	for i, r := range records {
		if err := imp.ImportFingerprint(r.SphereID, r.LocationID, r.Fingerprint); err != nil {
			return i, fmt.Errorf("failed to import %s/%s: %w", r.SphereID, r.LocationID, err)
		}
	}
	return len(records), nil
}
