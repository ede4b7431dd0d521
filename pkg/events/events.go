// Package events carries notifications from the sync engine to whatever is
// presenting them. Notifications never affect the outcome of a sync.
package events

import (
	goSync "sync"

	"github.com/sirupsen/logrus"
)

// Progress reports how many items of a phase have been handled.
type Progress struct {
	Phase     string
	Processed int
	Total     int
}

// Entry is a single notable action taken by the engine.
type Entry struct {
	Level   logrus.Level
	Message string
	Fields  logrus.Fields
}

// Sink receives progress and log notifications. Implementations must be safe
// for concurrent use because transfers report from multiple goroutines.
type Sink interface {
	Progress(Progress)
	Log(Entry)
}

// Debug reports a debug level entry to the sink.
func Debug(sink Sink, msg string, fields logrus.Fields) {
	sink.Log(Entry{Level: logrus.DebugLevel, Message: msg, Fields: fields})
}

// Info reports an info level entry to the sink.
func Info(sink Sink, msg string, fields logrus.Fields) {
	sink.Log(Entry{Level: logrus.InfoLevel, Message: msg, Fields: fields})
}

// Warn reports a warning to the sink. If err is non-nil, it's attached under
// the standard logrus error key.
func Warn(sink Sink, err error, msg string, fields logrus.Fields) {
	if err != nil {
		withErr := logrus.Fields{logrus.ErrorKey: err}
		for k, v := range fields {
			withErr[k] = v
		}
		fields = withErr
	}
	sink.Log(Entry{Level: logrus.WarnLevel, Message: msg, Fields: fields})
}

// LogrusSink writes entries to a logrus logger. Progress is logged at debug
// level.
type LogrusSink struct {
	Logger logrus.FieldLogger
}

func (s LogrusSink) Progress(p Progress) {
	s.Logger.WithFields(logrus.Fields{
		"phase":     p.Phase,
		"processed": p.Processed,
		"total":     p.Total,
	}).Debug("Progress")
}

func (s LogrusSink) Log(e Entry) {
	entry := s.Logger.WithFields(e.Fields)
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		entry.Error(e.Message)
	case logrus.WarnLevel:
		entry.Warn(e.Message)
	case logrus.InfoLevel:
		entry.Info(e.Message)
	default:
		entry.Debug(e.Message)
	}
}

// Discard drops every notification.
var Discard Sink = discard{}

type discard struct{}

func (discard) Progress(Progress) {}
func (discard) Log(Entry)         {}

// Multi returns a sink that forwards to each of the given sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Progress(p Progress) {
	for _, s := range m {
		s.Progress(p)
	}
}

func (m multi) Log(e Entry) {
	for _, s := range m {
		s.Log(e)
	}
}

// WithFields returns a sink that adds `fields` to every entry before
// forwarding it. Fields set on the entry itself take precedence.
func WithFields(sink Sink, fields logrus.Fields) Sink {
	return withFields{sink, fields}
}

type withFields struct {
	sink   Sink
	fields logrus.Fields
}

func (w withFields) Progress(p Progress) {
	w.sink.Progress(p)
}

func (w withFields) Log(e Entry) {
	fields := logrus.Fields{}
	for k, v := range w.fields {
		fields[k] = v
	}
	for k, v := range e.Fields {
		fields[k] = v
	}
	e.Fields = fields
	w.sink.Log(e)
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu       goSync.Mutex
	progress []Progress
	entries  []Entry
}

func (r *Recorder) Progress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *Recorder) Log(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// ProgressEvents returns a copy of the recorded progress events.
func (r *Recorder) ProgressEvents() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.progress...)
}

// Entries returns the recorded entries at or above the given severity.
func (r *Recorder) Entries(level logrus.Level) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matching []Entry
	for _, e := range r.entries {
		if e.Level <= level {
			matching = append(matching, e)
		}
	}
	return matching
}

// Warnings returns the recorded warnings and errors.
func (r *Recorder) Warnings() []Entry {
	return r.Entries(logrus.WarnLevel)
}
