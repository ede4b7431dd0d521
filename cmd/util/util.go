// Package util contains helpers shared by the packsync commands.
package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	goSync "sync"
	"time"

	"github.com/buger/goterm"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
)

// exit is mocked out by the unit tests.
var exit = os.Exit

// stderr is mocked out by the unit tests.
var stderr io.Writer = os.Stderr

// HandleFatalError prints the user-facing message for `err` and exits.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs panics before letting them crash the process, so that
// they end up in the log file.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("Unexpected panic")
		panic(r)
	}
}

// ProgressPrinter renders sync progress as a single line that's rewritten
// in place.
type ProgressPrinter struct {
	out io.Writer

	mu       goSync.Mutex
	midLine  bool
	lastLine string
}

// NewProgressPrinter returns a sink that prints progress to `out`. Log
// entries are left to the logger.
func NewProgressPrinter(out io.Writer) *ProgressPrinter {
	return &ProgressPrinter{out: out}
}

func (pp *ProgressPrinter) Progress(p events.Progress) {
	line := fmt.Sprintf("%s: %d/%d", p.Phase, p.Processed, p.Total)
	if width := goterm.Width(); width > 0 && len(line) > width {
		line = line[:width]
	}

	color := goterm.YELLOW
	done := p.Processed >= p.Total
	if done {
		color = goterm.GREEN
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()
	if line == pp.lastLine {
		return
	}
	pp.lastLine = line

	fmt.Fprint(pp.out, goterm.ResetLine(goterm.Color(line, color)))
	pp.midLine = !done
	if done {
		fmt.Fprintln(pp.out)
	}
}

// Log ends any partially drawn progress line so that the log output that
// follows starts on its own line.
func (pp *ProgressPrinter) Log(e events.Entry) {
	if e.Level > log.GetLevel() {
		return
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.midLine {
		fmt.Fprintln(pp.out)
		pp.midLine = false
		pp.lastLine = ""
	}
}

// Spinner prints a message followed by an animated indicator until it's
// stopped.
type Spinner struct {
	out   io.Writer
	msg   string
	tick  time.Duration
	clock clockwork.Clock

	stop chan struct{}
	done chan struct{}
}

// NewSpinner creates a spinner. Run must be called to start it.
func NewSpinner(out io.Writer, msg string) *Spinner {
	return &Spinner{
		out:   out,
		msg:   msg,
		tick:  250 * time.Millisecond,
		clock: clockwork.NewRealClock(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run draws the spinner until Stop is called.
func (s *Spinner) Run() {
	defer close(s.done)

	frames := []string{"|", "/", "-", "\\"}
	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Fprint(s.out, goterm.ResetLine(
			fmt.Sprintf("%s %s", s.msg, frames[i%len(frames)])))
		select {
		case <-ticker.Chan():
		case <-s.stop:
			fmt.Fprintln(s.out, goterm.ResetLine(s.msg))
			return
		}
	}
}

// Stop stops the spinner and waits for its final line to be printed.
func (s *Spinner) Stop() {
	close(s.stop)
	<-s.done
}
