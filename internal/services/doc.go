// Package services defines shared utilities consumed by the market workflows
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp lot, chunk, and checker identifiers plus
//     correlation IDs for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into retryable and terminal categories and drive API status mapping.
//
// Use these helpers when wiring new market logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
