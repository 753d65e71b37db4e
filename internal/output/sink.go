// Package output drives the three colour channels of the light.
package output

import (
	"sync"

	"github.com/rs/zerolog"

	"rgblight/internal/core"
)

// Sink accepts one intensity per colour channel. Implementations must not
// block: the state lock is held while Write runs.
type Sink interface {
	Write(c core.Color)
}

// Recorder keeps the last colour written and counts writes.
type Recorder struct {
	mu     sync.Mutex
	last   core.Color
	writes int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Write(c core.Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = c
	r.writes++
}

// Last returns the most recently written colour.
func (r *Recorder) Last() core.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Writes returns the number of Write calls so far.
func (r *Recorder) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// logSink logs colour changes at debug level for hosts without PWM outputs.
type logSink struct {
	logger zerolog.Logger
	last   core.Color
	wrote  bool
}

// NewLogSink returns a Sink that only logs changes.
func NewLogSink(logger zerolog.Logger) Sink {
	return &logSink{logger: logger}
}

func (l *logSink) Write(c core.Color) {
	if l.wrote && c == l.last {
		return
	}
	l.last, l.wrote = c, true
	l.logger.Debug().Uints16("rgb", c[:]).Msg("Output changed")
}
