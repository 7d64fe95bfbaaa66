// Package logging constructs the zap loggers used across the daemon and CLI.
//
// Loggers honor the [logging] configuration section for level and format and
// tee output to stdout plus a rotating file under the log directory. Components
// attach themselves with logger.With(zap.String("component", ...)) so daemon
// logs remain attributable.
package logging
