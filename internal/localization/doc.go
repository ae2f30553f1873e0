// Package localization is the caller-facing engine: it owns the fingerprint
// store, the collector and at most one localization session.
//
// A session buffers live measurements fed through Track and classifies them
// on a fixed interval, delivering one LocationUpdate per sphere per cycle to
// the session callback on the engine's worker goroutine. Cycles that cannot
// keep up are skipped, never queued.
//
// Starting a session while one is active stops the old one first.
// StopLocalization waits for a callback already in flight to return, and no
// callback starts after it returns. Callbacks must therefore not call
// StartLocalization or StopLocalization synchronously.
package localization
