// Package fingerprint owns RSSI fingerprints of physical locations: their
// collection from live measurements, their summary statistics, their
// exported form, and the process-wide store keyed by sphere and location.
//
// Sequencing problems (finalizing an empty fingerprint, starting twice) are
// reported as Status values. Corrupted exported data is reported as an
// error wrapping ErrMalformed.
//
// No SQL or transport code is allowed in this package; durable storage is
// the caller's job (see internal/fingerprintdb).
package fingerprint
