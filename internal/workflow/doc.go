// Package workflow hosts the daemon's background loops. The sweep loop
// reclaims expired chunk leases; the settlement loop confirms escrow locks,
// pays pending payouts in batches, and returns unspent escrow when lots
// close. Loops back off to the error retry interval after a failed
// iteration.
package workflow
