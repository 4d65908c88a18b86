package progress

import "context"

// Sink consumes batches of activity events. Consume may be called repeatedly
// and must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}

// Recorder is an Emitter that keeps events in memory.
type Recorder struct {
	events chan Event
}

// NewRecorder buffers up to size events; further events are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	select {
	case r.events <- evt:
	default:
	}
}

// Drain returns every buffered event.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case evt := <-r.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}
