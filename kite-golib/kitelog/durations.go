package kitelog

import (
	"time"

	"go.uber.org/zap"
)

type duration struct {
	name     string
	duration time.Duration
}

// Durations tracks durations
type Durations []duration

// Record records a duration
func (t *Durations) Record(name string, d time.Duration) {
	*t = append(*t, duration{name, d})
}

// Since records the time elapsed since start
func (t *Durations) Since(name string, start time.Time) {
	t.Record(name, time.Since(start))
}

// Total sums the recorded durations with the given name
func (t Durations) Total(name string) time.Duration {
	var total time.Duration
	for _, entry := range t {
		if entry.name == name {
			total += entry.duration
		}
	}
	return total
}

// Fields returns one zap field per recorded name, summing repeated names, in first-seen order.
func (t Durations) Fields() []zap.Field {
	var names []string
	totals := make(map[string]time.Duration)
	for _, entry := range t {
		if _, ok := totals[entry.name]; !ok {
			names = append(names, entry.name)
		}
		totals[entry.name] += entry.duration
	}
	fields := make([]zap.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, zap.Duration(name, totals[name]))
	}
	return fields
}

// Flush writes the recorded durations to the logger and resets the tracker
func (t *Durations) Flush(l *zap.Logger, msg string) {
	OrNop(l).Debug(msg, t.Fields()...)
	*t = nil
}
