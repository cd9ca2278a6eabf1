package resilience

import "time"

// PollSchedule is the bounded exponential backoff used when polling a
// generation job within a single advance call. Repeated exhaustion is a
// transient condition retried on the caller's next advance, not a failure.
type PollSchedule struct {
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// DefaultPollSchedule polls for roughly a minute before yielding back to the
// caller: 2s, 3s, 4.5s, ... capped at 15s, 8 attempts.
func DefaultPollSchedule() PollSchedule {
	return PollSchedule{
		BaseDelay:   2 * time.Second,
		Multiplier:  1.5,
		MaxDelay:    15 * time.Second,
		MaxAttempts: 8,
	}
}

func (p PollSchedule) withDefaults() PollSchedule {
	def := DefaultPollSchedule()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

// Delay returns the sleep before poll attempt n (0-based).
func (p PollSchedule) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt n (0-based) is past the attempt cap.
func (p PollSchedule) Exhausted(attempt int) bool {
	p = p.withDefaults()
	return attempt >= p.MaxAttempts
}
