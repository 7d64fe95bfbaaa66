// Package market persists the marketplace data model: document lots and their
// chunks, checkers, submissions, payouts, and escrow records, backed by SQLite.
//
// The package holds data and transitions only, no business policy. Every
// mutation of chunk ownership state is a conditional UPDATE (compare-and-set on
// the current status and, where relevant, lease holder), which is what makes
// concurrent claims, lease sweeps, and submissions safe without any in-process
// locking. Payout uniqueness per chunk is enforced by the schema, not
// application logic, so crash-recovery replays cannot double-pay.
package market
