package progress

import "sync"

// EventType names a topic on a Bus, mirroring the original's
// FFmpegEvent.PROGRESS_EVENT / OUTPUT_EVENT constants.
type EventType string

const (
	ProgressEvent EventType = "progress"
	OutputEvent   EventType = "output"
)

// Event is one notification published to a Bus.
type Event struct {
	Type EventType
	Data interface{}
}

// Bus is a minimal topic-keyed pub/sub used to fan a single Parser's
// output out to however many observers a rendition's Controller needs,
// without those observers depending on each other. The pipeline Controller
// subscribes only the Rendition Runner's progress callback; nothing
// subscribes to output-file events.
type Bus struct {
	mu        sync.RWMutex
	observers map[EventType][]func(Event)
}

func NewBus() *Bus {
	return &Bus{observers: map[EventType][]func(Event){}}
}

// Subscribe registers fn to be called for every future Publish of
// eventType. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[eventType] = append(b.observers[eventType], fn)
	idx := len(b.observers[eventType]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.observers[eventType]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := append([]func(Event){}, b.observers[event.Type]...)
	b.mu.RUnlock()

	for _, fn := range subs {
		if fn != nil {
			fn(event)
		}
	}
}

// Attach wires a Parser's callbacks to publish onto this Bus, so callers
// that only need pub/sub semantics don't have to set OnProgress/
// OnOutputFile directly.
func (b *Bus) Attach(p *Parser) {
	p.OnProgress = func(percent float64) {
		b.Publish(Event{Type: ProgressEvent, Data: percent})
	}
	p.OnOutputFile = func(path string) {
		b.Publish(Event{Type: OutputEvent, Data: path})
	}
}
