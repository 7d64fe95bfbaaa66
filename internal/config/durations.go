package config

import "time"

// Interval values in the TOML file are whole seconds. These helpers convert
// them at the call sites that need time.Duration.

func (c Chain) RequestTimeoutDuration() time.Duration { return seconds(c.RequestTimeout) }

func (c Chain) ConfirmTimeoutDuration() time.Duration { return seconds(c.ConfirmTimeout) }

func (c Chain) ConfirmIntervalDuration() time.Duration { return seconds(c.ConfirmInterval) }

func (c Callbacks) RequestTimeoutDuration() time.Duration { return seconds(c.RequestTimeout) }

func (w Workflow) SweepIntervalDuration() time.Duration { return seconds(w.SweepInterval) }

func (w Workflow) SettleIntervalDuration() time.Duration { return seconds(w.SettleInterval) }

func (w Workflow) ErrorRetryDuration() time.Duration { return seconds(w.ErrorRetryInterval) }

func (m Market) LeaseDuration() time.Duration { return time.Duration(m.LeaseMinutes) * time.Minute }

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
