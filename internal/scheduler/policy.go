package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var defaultSpecs = map[Frequency]string{
	Hourly: "@every 1h",
	Daily:  "@every 24h",
	Weekly: "@every 168h",
}

var demoSpecs = map[Frequency]string{
	Hourly: "@every 1m",
	Daily:  "@every 5m",
	Weekly: "@every 15m",
}

// FrequencyPolicy resolves a frequency to the cron schedule that drives its timer.
type FrequencyPolicy struct {
	specs     map[Frequency]string
	schedules map[Frequency]cron.Schedule
}

func DefaultPolicy() *FrequencyPolicy {
	p, err := NewFrequencyPolicy(defaultSpecs)
	if err != nil {
		panic(err)
	}
	return p
}

// DemoPolicy compresses the frequencies to minutes for demos.
func DemoPolicy() *FrequencyPolicy {
	p, err := NewFrequencyPolicy(demoSpecs)
	if err != nil {
		panic(err)
	}
	return p
}

// NewFrequencyPolicy parses standard cron specs or descriptors. Missing
// frequencies fall back to the defaults.
func NewFrequencyPolicy(specs map[Frequency]string) (*FrequencyPolicy, error) {
	merged := make(map[Frequency]string, len(frequencies))
	schedules := make(map[Frequency]cron.Schedule, len(frequencies))
	for _, f := range frequencies {
		spec := specs[f]
		if spec == "" {
			spec = defaultSpecs[f]
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("frequency %s: parse %q: %w", f, spec, err)
		}
		merged[f] = spec
		schedules[f] = sched
	}
	p := &FrequencyPolicy{specs: merged, schedules: schedules}
	if err := p.validateOrder(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPolicyFromSchedules builds a policy from ready-made schedules.
func NewPolicyFromSchedules(schedules map[Frequency]cron.Schedule) (*FrequencyPolicy, error) {
	p := &FrequencyPolicy{specs: map[Frequency]string{}, schedules: map[Frequency]cron.Schedule{}}
	for _, f := range frequencies {
		sched, ok := schedules[f]
		if !ok || sched == nil {
			return nil, fmt.Errorf("frequency %s: schedule missing", f)
		}
		p.schedules[f] = sched
		p.specs[f] = "custom"
	}
	if err := p.validateOrder(); err != nil {
		return nil, err
	}
	return p, nil
}

var orderReference = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (p *FrequencyPolicy) validateOrder() error {
	prev := time.Duration(0)
	for i, f := range frequencies {
		period := nominalPeriod(p.schedules[f])
		if period <= 0 {
			return fmt.Errorf("frequency %s never fires", f)
		}
		if i > 0 && period <= prev {
			return fmt.Errorf("frequency %s (%s) must be longer than %s (%s)", f, period, frequencies[i-1], prev)
		}
		prev = period
	}
	return nil
}

func nominalPeriod(s cron.Schedule) time.Duration {
	first := s.Next(orderReference)
	if first.IsZero() {
		return 0
	}
	second := s.Next(first)
	if second.IsZero() {
		return 0
	}
	return second.Sub(first)
}

func (p *FrequencyPolicy) Schedule(f Frequency) (cron.Schedule, error) {
	sched, ok := p.schedules[f]
	if !ok {
		return nil, fmt.Errorf("frequency %q is invalid", f)
	}
	return sched, nil
}

// Specs returns the configured spec per frequency.
func (p *FrequencyPolicy) Specs() map[Frequency]string {
	out := make(map[Frequency]string, len(p.specs))
	for k, v := range p.specs {
		out[k] = v
	}
	return out
}
