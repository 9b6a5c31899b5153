// Package common provides shared timing helpers.
package common

import (
	"fmt"
	"time"
)

// Timer measures a single named duration.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer creates a new timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration { return t.duration }

// Name returns the timer name (empty string if unnamed).
func (t *Timer) Name() string { return t.name }

func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return t.duration.String()
}

// Stages records consecutive named laps of one processing call, e.g.
// preprocess, inference, postprocess, decode.
type Stages struct {
	start time.Time
	last  time.Time
	laps  map[string]time.Duration
	order []string
}

// NewStages starts a lap recorder.
func NewStages() *Stages {
	now := time.Now()
	return &Stages{start: now, last: now, laps: make(map[string]time.Duration)}
}

// Lap closes the current stage under name and starts the next one. Repeated
// names accumulate.
func (s *Stages) Lap(name string) time.Duration {
	now := time.Now()
	d := now.Sub(s.last)
	s.last = now
	if _, ok := s.laps[name]; !ok {
		s.order = append(s.order, name)
	}
	s.laps[name] += d
	return d
}

// Get returns the accumulated duration of a stage.
func (s *Stages) Get(name string) time.Duration { return s.laps[name] }

// Total returns the time since NewStages.
func (s *Stages) Total() time.Duration { return time.Since(s.start) }

// Millis returns every stage in milliseconds, keyed by name.
func (s *Stages) Millis() map[string]float64 {
	out := make(map[string]float64, len(s.laps))
	for _, name := range s.order {
		out[name] = float64(s.laps[name].Microseconds()) / 1000
	}
	return out
}
