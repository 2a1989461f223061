package cycle

import "time"

// Schedule sets the pause between cycles. Hours are UTC and the active
// window includes both ends.
type Schedule struct {
	ActiveStartHour int           `yaml:"active_start_hour" json:"active_start_hour"`
	ActiveEndHour   int           `yaml:"active_end_hour" json:"active_end_hour"`
	ActiveInterval  time.Duration `yaml:"active_interval" json:"active_interval"`
	IdleInterval    time.Duration `yaml:"idle_interval" json:"idle_interval"`
	ErrorInterval   time.Duration `yaml:"error_interval" json:"error_interval"`
}

func DefaultSchedule() Schedule {
	return Schedule{
		ActiveStartHour: 8,
		ActiveEndHour:   16,
		ActiveInterval:  5 * time.Minute,
		IdleInterval:    15 * time.Minute,
		ErrorInterval:   time.Minute,
	}
}

// Active reports whether now falls inside the active market window.
func (s Schedule) Active(now time.Time) bool {
	h := now.UTC().Hour()
	return h >= s.ActiveStartHour && h <= s.ActiveEndHour
}

// Next is the pause after a cycle that ended at now.
func (s Schedule) Next(now time.Time, failed bool) time.Duration {
	switch {
	case failed:
		return s.ErrorInterval
	case s.Active(now):
		return s.ActiveInterval
	default:
		return s.IdleInterval
	}
}

// Timeframe is one candle series fetched for every instrument.
type Timeframe struct {
	Key         string `yaml:"key" json:"key"`
	Granularity string `yaml:"granularity" json:"granularity"`
	Count       int    `yaml:"count" json:"count"`
}

// DefaultTimeframes covers a day of M15, two days of H1 and five of H4.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Key: "m15", Granularity: "M15", Count: 96},
		{Key: "h1", Granularity: "H1", Count: 48},
		{Key: "h4", Granularity: "H4", Count: 30},
	}
}
