package log

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Step statuses recorded in a run event.
const (
	StepApplied  = "applied"
	StepReverted = "reverted"
	StepFailed   = "failed"
)

// Step is one migration executed during a run.
type Step struct {
	MigrationID string
	Direction   string
	Batches     int
	Duration    time.Duration
	Err         error
}

func (s Step) status() string {
	switch {
	case s.Err != nil:
		return StepFailed
	case s.Direction == "down":
		return StepReverted
	default:
		return StepApplied
	}
}

// Event is a wide event describing one migration run: every migration it
// executed, the errors it hit and free-form attributes such as the target.
type Event struct {
	mu sync.Mutex

	name     string
	started  time.Time
	level    slog.Level
	duration time.Duration
	attrs    map[string]any
	steps    []stepRecord
	errors   []string
	counts   map[string]int
}

// NewEvent creates a new wide event.
func NewEvent(name string) *Event {
	return &Event{
		name:    name,
		started: time.Now(),
		level:   slog.LevelDebug,
		attrs:   map[string]any{},
		counts:  map[string]int{},
	}
}

func (e *Event) raise(level slog.Level) {
	if level > e.level {
		e.level = level
	}
}

// AddAttrs adds attributes to event data.
func (e *Event) AddAttrs(attrs map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	maps.Copy(e.attrs, attrs)
}

// AddStep records an executed migration. A successful step raises the event to
// info, a failed one to error.
func (e *Event) AddStep(step Step) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := step.status()
	rec := stepRecord{
		at:          time.Now(),
		migrationID: step.MigrationID,
		direction:   step.Direction,
		status:      status,
		batches:     step.Batches,
		duration:    step.Duration,
	}
	if step.Err != nil {
		rec.err = step.Err.Error()
		e.raise(slog.LevelError)
	} else {
		e.raise(slog.LevelInfo)
	}

	e.steps = append(e.steps, rec)
	e.counts[status]++
}

// AddError records a run-level error and raises the event to error.
func (e *Event) AddError(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.raise(slog.LevelError)
	e.errors = append(e.errors, err.Error())
}

// Finish stores the run duration.
func (e *Event) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.duration = time.Since(e.started)
}

// HasErrors reports whether the run failed, either as a whole or in a step.
func (e *Event) HasErrors() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.errors) > 0 || e.counts[StepFailed] > 0
}

// Count returns the number of steps with the given status.
func (e *Event) Count(status string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.counts[status]
}

// Changed returns how many migrations the run applied or reverted.
func (e *Event) Changed() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.counts[StepApplied] + e.counts[StepReverted]
}

// Duration returns the run duration set by Finish.
func (e *Event) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.duration
}

// Level returns the event level.
func (e *Event) Level() slog.Level {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.level
}

// Name returns the event name.
func (e *Event) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.name
}

// Attr returns an event attribute by key.
func (e *Event) Attr(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	value, ok := e.attrs[key]
	return value, ok
}

// ToAttrs converts the event to slog attributes: the builtin ones first, then
// the custom attributes sorted by key. Custom keys that collide with builtin
// ones are dropped.
func (e *Event) ToAttrs() []slog.Attr {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps := make([]map[string]any, 0, len(e.steps))
	for _, s := range e.steps {
		steps = append(steps, s.toMap())
	}

	attrs := []slog.Attr{
		slog.String("name", e.name),
		slog.Time("startedAt", e.started),
		slog.Duration("duration", e.duration),
		slog.Int(StepApplied, e.counts[StepApplied]),
		slog.Int(StepReverted, e.counts[StepReverted]),
		slog.Int(StepFailed, e.counts[StepFailed]),
		slog.Any("steps", steps),
		slog.Any("errors", slices.Clone(e.errors)),
	}

	builtin := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		builtin[a.Key] = true
	}

	for _, key := range slices.Sorted(maps.Keys(e.attrs)) {
		if !builtin[key] {
			attrs = append(attrs, slog.Any(key, e.attrs[key]))
		}
	}

	return attrs
}

type stepRecord struct {
	at          time.Time
	migrationID string
	direction   string
	status      string
	batches     int
	duration    time.Duration
	err         string
}

func (r stepRecord) toMap() map[string]any {
	m := map[string]any{
		"at":          r.at,
		"migrationId": r.migrationID,
		"direction":   r.direction,
		"status":      r.status,
		"batches":     r.batches,
		"duration":    r.duration.String(),
	}
	if r.err != "" {
		m["error"] = r.err
	}
	return m
}
