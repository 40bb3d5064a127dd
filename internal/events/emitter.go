package events

import (
	"fmt"
	"io"
	"vastfeedback/internal/components/assert"
	"vastfeedback/internal/components/telemetry"
)

const (
	report_emitter_send = "emitter.send"
)

// Sink receives the events of one run, in order, from a single producer.
type Sink interface {
	Send(e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event) error

func (f SinkFunc) Send(e Event) error {
	return f(e)
}

// WriterSink writes events as NDJSON lines, flushing after every line when the
// writer supports it (http.ResponseWriter does).
type WriterSink struct {
	w   io.Writer
	err error
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Send writes one line, after the first failed write every Send fails with the same error.
func (s *WriterSink) Send(e Event) error {
	if s.err != nil {
		return s.err
	}
	line, err := Encode(e)
	if err != nil {
		return err
	}
	_, err = s.w.Write(line)
	if err != nil {
		s.err = err
		return err
	}
	if flusher, ok := s.w.(interface{ Flush() }); ok {
		flusher.Flush()
	}
	return nil
}

// Emitter is the producer side of a run's event stream, it also accumulates
// the run's log history returned by the terminal events.
//
// Once the sink fails the emitter is closed and drops every further event.
type Emitter struct {
	sink     Sink
	tel      telemetry.API
	logs     []string
	progress map[Step]int
	closed   bool
	finished bool
}

func NewEmitter(sink Sink, tel telemetry.API) *Emitter {
	assert.NotNil(sink, "sink")
	assert.NotNil(tel, "telemetry")

	return &Emitter{
		sink:     sink,
		tel:      telemetry.NewScopedAPI("events", tel),
		logs:     []string{},
		progress: map[Step]int{},
	}
}

func (e *Emitter) send(ev Event) {
	if e.closed || e.finished {
		return
	}
	err := e.sink.Send(ev)
	if err != nil {
		e.closed = true
		e.tel.ReportWarning(report_emitter_send, fmt.Errorf("consumer gone: %w", err), string(ev.Type()))
	}
}

// Closed reports whether the consumer went away.
func (e *Emitter) Closed() bool {
	return e.closed
}

// Logf appends a line to the log history, nothing is sent.
func (e *Emitter) Logf(format string, args ...any) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

// AppendLog appends text to the last line of the log history.
func (e *Emitter) AppendLog(text string) {
	if len(e.logs) == 0 {
		e.logs = append(e.logs, text)
		return
	}
	e.logs[len(e.logs)-1] += text
}

// Logs returns a copy of the log history.
func (e *Emitter) Logs() []string {
	return append([]string{}, e.logs...)
}

// Status sends a status event. Progress of a step never goes backwards, a lower
// value than previously sent for the step is raised to it.
func (e *Emitter) Status(s Status) {
	if s.Progress != nil {
		last, seen := e.progress[s.Step]
		if seen && *s.Progress < last {
			s.Progress = Int(last)
		}
		e.progress[s.Step] = *s.Progress
	}
	e.send(s)
}

// LoggedStatus sends the status message as a log event, then the status itself.
func (e *Emitter) LoggedStatus(s Status) {
	if s.Message != "" {
		e.send(Log{Message: s.Message})
	}
	e.Status(s)
}

// NeedRatings ends the stream asking the client for per-record ratings.
func (e *Emitter) NeedRatings(faculties []Faculty) {
	e.send(NeedRatings{Faculties: faculties})
	e.finished = true
}

// Done ends the stream successfully.
func (e *Emitter) Done(failed int) {
	e.send(Done{Logs: e.Logs(), Failed: failed})
	e.finished = true
}

// Fail ends the stream with a fatal error.
func (e *Emitter) Fail(err error) {
	e.Logf(" An error occurred: %s", err.Error())
	e.send(Error{Message: err.Error(), Logs: e.Logs()})
	e.finished = true
}
