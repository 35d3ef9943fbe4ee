package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
)

// BusConfig is the configuration for the progress bus.
type BusConfig struct {
	// SubscriberBuffer is the number of events buffered per subscriber before
	// the oldest ones are dropped.
	SubscriberBuffer int
	Logger           log.Logger
}

func (c *BusConfig) defaults() error {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "eventbus.Bus"})
	return nil
}

// Bus is the per-job progress event distribution mechanism.
//
// Publishing never blocks on slow observers: each subscriber owns a bounded
// queue, and when it overflows the oldest events are replaced by a single
// events-dropped marker. For one job, every subscriber sees events in strictly
// increasing sequence order.
type Bus struct {
	mu      sync.Mutex
	topics  map[string]*topic
	bufSize int
	logger  log.Logger
}

// NewBus creates a new progress bus.
func NewBus(cfg BusConfig) (*Bus, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Bus{
		topics:  map[string]*topic{},
		bufSize: cfg.SubscriberBuffer,
		logger:  cfg.Logger,
	}, nil
}

type topic struct {
	mu     sync.Mutex
	seq    uint64
	nextID int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	mu           sync.Mutex
	queue        []model.ProgressEvent
	maxQueue     int
	dropped      int
	firstDropped uint64
	closed       bool

	wake chan struct{}
	done chan struct{}
	out  chan model.ProgressEvent
	once sync.Once
}

func (b *Bus) topicFor(jobID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: map[int]*subscriber{}}
		b.topics[jobID] = t
	}
	return t
}

// Publish assigns the next sequence number of the job's stream to the event
// and fans it out. It never blocks on subscribers.
func (b *Bus) Publish(jobID string, event model.ProgressEvent) model.ProgressEvent {
	t := b.topicFor(jobID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		b.logger.Warningf("Dropping event for closed job stream %s", jobID)
		return event
	}

	t.seq++
	event.JobID = jobID
	event.Sequence = t.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, s := range t.subs {
		s.enqueue(event)
	}

	return event
}

// Subscribe registers a new subscriber for the job's stream. Delivery starts
// at the next published event. The returned cancel func must be called to
// release the subscription; the channel is closed afterwards (or when the job
// stream is closed).
func (b *Bus) Subscribe(jobID string) (<-chan model.ProgressEvent, func()) {
	t := b.topicFor(jobID)

	s := &subscriber{
		maxQueue: b.bufSize,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan model.ProgressEvent),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	t.nextID++
	id := t.nextID
	t.subs[id] = s
	t.mu.Unlock()

	go s.pump()

	cancel := func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
		s.stop()
	}

	return s.out, cancel
}

// Close terminates the job's stream: every subscriber channel is drained and
// closed, and later subscriptions get an already closed channel.
func (b *Bus) Close(jobID string) {
	b.mu.Lock()
	t, ok := b.topics[jobID]
	if ok {
		delete(b.topics, jobID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.closed = true
	subs := t.subs
	t.subs = map[int]*subscriber{}
	t.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
}

func (s *subscriber) enqueue(event model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.queue) >= s.maxQueue {
		oldest := s.queue[0]
		s.queue = s.queue[1:]
		if s.dropped == 0 {
			s.firstDropped = oldest.Sequence
		}
		s.dropped++
	}
	s.queue = append(s.queue, event)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// finish marks the subscriber for orderly shutdown: already queued events are
// still delivered, then the channel closes.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop terminates the subscriber immediately.
func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()

		// Drops always precede the remaining queue, the marker goes first.
		if s.dropped > 0 {
			marker := model.ProgressEvent{
				Kind:      model.EventDropped,
				Sequence:  s.firstDropped,
				Dropped:   s.dropped,
				Timestamp: time.Now().UTC(),
			}
			if len(s.queue) > 0 {
				marker.JobID = s.queue[0].JobID
			}
			s.dropped = 0
			s.mu.Unlock()

			select {
			case s.out <- marker:
			case <-s.done:
				return
			}
			continue
		}

		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- event:
			case <-s.done:
				return
			}
			continue
		}

		closed := s.closed
		s.mu.Unlock()

		if closed {
			return
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
