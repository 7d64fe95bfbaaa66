// Package chain provides the on-chain gateway used for escrow settlement and
// checker payouts. The production client speaks JSON-RPC to an
// Ethereum-compatible node; tests use the in-memory Fake.
package chain
