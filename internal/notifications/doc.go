// Package notifications delivers status callbacks to the external checking
// gateway. The gateway is an outside collaborator; callbacks are fire and
// forget, and a missing gateway URL degrades to a noop service so callers
// never need nil checks.
package notifications
